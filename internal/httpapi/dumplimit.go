package httpapi

import (
	"sync"
	"time"

	"github.com/gobanos/some-platformer/internal/config"
)

// DumpGate decides whether a replay dump may start now. When it refuses, it
// reports how long the caller should wait before retrying.
type DumpGate interface {
	Reserve() (retryAfter time.Duration, ok bool)
}

// DumpLimiter admits at most DumpBurst replay dumps inside any sliding
// DumpWindow.
type DumpLimiter struct {
	window time.Duration
	burst  int
	clock  func() time.Time

	mu      sync.Mutex
	granted []time.Time
}

// NewDumpLimiter builds a limiter from the replay dump settings. A zero window
// or burst admits every request.
func NewDumpLimiter(cfg config.ReplayConfig, clock func() time.Time) *DumpLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &DumpLimiter{window: cfg.DumpWindow, burst: cfg.DumpBurst, clock: clock}
}

// Reserve records a dump when one is available.
func (l *DumpLimiter) Reserve() (time.Duration, bool) {
	if l == nil || l.window <= 0 || l.burst <= 0 {
		return 0, true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	//1.- Forget grants that have slid out of the window.
	cutoff := now.Add(-l.window)
	kept := l.granted[:0]
	for _, at := range l.granted {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	l.granted = kept
	if len(l.granted) >= l.burst {
		//2.- The oldest grant is the first to leave the window.
		return l.granted[0].Add(l.window).Sub(now), false
	}
	l.granted = append(l.granted, now)
	return 0, true
}

// retryAfterSeconds renders a wait as a Retry-After value, rounding up.
func retryAfterSeconds(wait time.Duration) int {
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
