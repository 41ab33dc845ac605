package simulation

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobanos/some-platformer/internal/logging"
)

// StepFunc advances the simulation by one tick.
type StepFunc func(tick uint64)

// LoopOption customises a Loop.
type LoopOption func(*Loop)

// WithTickMonitor records every tick duration into monitor.
func WithTickMonitor(monitor *TickMonitor) LoopOption {
	return func(l *Loop) {
		if monitor != nil {
			l.monitor = monitor
		}
	}
}

// WithLoopLogger overrides the logger used for frame diagnostics.
func WithLoopLogger(logger *logging.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.log = logger
		}
	}
}

// WithDiagnosticEvery logs frame timing every n ticks. Zero disables it.
func WithDiagnosticEvery(n int) LoopOption {
	return func(l *Loop) {
		if n >= 0 {
			l.diagnosticEvery = uint64(n)
		}
	}
}

// WithLoopClock replaces time.Now for measuring ticks.
func WithLoopClock(now func() time.Time) LoopOption {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// Loop drives the game at a fixed tick rate on a dedicated OS thread. A tick
// that overruns its budget is followed immediately by the next one; missed
// ticks are never replayed.
type Loop struct {
	step            time.Duration
	stepFunc        StepFunc
	monitor         *TickMonitor
	log             *logging.Logger
	diagnosticEvery uint64
	now             func() time.Time
	ticks           atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop configures a loop that targets the provided ticks per second.
func NewLoop(targetHz float64, step StepFunc, opts ...LoopOption) *Loop {
	if targetHz <= 0 {
		targetHz = 60
	}
	if step == nil {
		step = func(uint64) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	l := &Loop{
		step:            interval,
		stepFunc:        step,
		log:             logging.L(),
		diagnosticEvery: 200,
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.monitor == nil {
		l.monitor = NewTickMonitor(interval)
	}
	l.log = l.log.With(logging.String("component", "loop"))
	return l
}

// Run ticks on the calling goroutine until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	timer := time.NewTimer(l.step)
	defer timer.Stop()

	l.log.Info("game loop started", logging.Duration("budget", l.step))
	for tick := uint64(0); ; tick++ {
		if ctx.Err() != nil {
			l.log.Info("game loop stopped", logging.Uint64("ticks", tick))
			return nil
		}

		//1.- Run exactly one step and measure it.
		start := l.now()
		l.stepFunc(tick)
		elapsed := l.now().Sub(start)
		l.ticks.Store(tick + 1)

		//2.- Record timing, warn on overruns and emit the periodic diagnostic.
		if l.monitor.Observe(elapsed) {
			l.log.Warn("tick overran budget",
				logging.Uint64("frame", tick),
				logging.Duration("took", elapsed),
				logging.Duration("budget", l.step),
			)
		}
		if l.diagnosticEvery > 0 && tick%l.diagnosticEvery == 0 {
			l.logFrame(tick, elapsed)
		}

		//3.- Sleep whatever is left of the budget, or go straight on.
		remaining := l.step - elapsed
		if remaining <= 0 {
			continue
		}
		timer.Reset(remaining)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

func (l *Loop) logFrame(tick uint64, elapsed time.Duration) {
	percent := (1 - float64(elapsed)/float64(l.step)) * 100
	mode := "idle"
	if percent < 0 {
		percent = -percent
		mode = "over"
	}
	l.log.Info("frame timing",
		logging.Uint64("frame", tick),
		logging.Duration("took", elapsed),
		logging.Float64("percent", percent),
		logging.String("mode", mode),
	)
}

// Start runs the loop on a new goroutine until ctx is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = l.Run(ctx)
	}(l.done)
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// StepDuration exposes the configured tick budget.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}

// Ticks reports how many steps have completed.
func (l *Loop) Ticks() uint64 { return l.ticks.Load() }

// Monitor returns the tick monitor fed by the loop.
func (l *Loop) Monitor() *TickMonitor { return l.monitor }
