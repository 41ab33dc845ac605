// Command some-platformer runs the authoritative game server: a fixed-rate
// simulation loop fed by TCP and WebSocket clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gobanos/some-platformer/internal/config"
	"github.com/gobanos/some-platformer/internal/ecs"
	"github.com/gobanos/some-platformer/internal/health"
	"github.com/gobanos/some-platformer/internal/httpapi"
	"github.com/gobanos/some-platformer/internal/logging"
	"github.com/gobanos/some-platformer/internal/physics"
	"github.com/gobanos/some-platformer/internal/protocol"
	"github.com/gobanos/some-platformer/internal/registry"
	"github.com/gobanos/some-platformer/internal/replay"
	"github.com/gobanos/some-platformer/internal/server"
	"github.com/gobanos/some-platformer/internal/session"
	"github.com/gobanos/some-platformer/internal/simulation"
)

const (
	shutdownTimeout = 5 * time.Second
	retentionEvery  = 10 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("server exited with error", logging.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("server stopped")
	_ = logger.Sync()
}

// readiness backs /readyz: the process is ready until a component fails.
type readiness struct {
	started time.Time
	failure atomic.Pointer[error]
}

func (r *readiness) fail(err error) {
	if err != nil {
		r.failure.CompareAndSwap(nil, &err)
	}
}

func (r *readiness) StartupError() error {
	if err := r.failure.Load(); err != nil {
		return *err
	}
	return nil
}

func (r *readiness) Uptime() time.Duration { return time.Since(r.started) }

// run wires every component and blocks until ctx is cancelled or one of them
// fails. A stopped game loop cancels everything else.
func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	codec, err := protocol.Lookup(cfg.Framing, cfg.Encoding, cfg.MaxFrameBytes)
	if err != nil {
		return err
	}
	state := &readiness{started: time.Now()}

	//1.- Build the simulation: registry, inbox, seeded world and game.
	peers := registry.New(logger)
	inbox := simulation.NewInbox()
	world := ecs.NewWorld(physics.Vec2{X: cfg.GravityX, Y: cfg.GravityY}, nil, nil)
	level := ecs.SeedLevel(world)
	logger.Info("level seeded",
		logging.Uint64("player", uint64(level.Player)),
		logging.Uint64("block", uint64(level.Block)),
		logging.Uint64("ground", uint64(level.Ground)),
	)

	gameOpts := []simulation.GameOption{simulation.WithGameLogger(logger)}
	var journal *replay.Journal
	if cfg.Replay.Dir != "" {
		journal, err = replay.NewJournal(cfg.Replay.Dir, replay.Options{
			Codec:    codec.String(),
			TickRate: cfg.TickRate,
			GravityX: cfg.GravityX,
			GravityY: cfg.GravityY,
		})
		if err != nil {
			return fmt.Errorf("open replay journal: %w", err)
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Warn("replay journal close failed", logging.Error(err))
			}
		}()
		logger.Info("replay journal enabled", logging.String("bundle", journal.Directory()))
		gameOpts = append(gameOpts, simulation.WithJournal(journal, uint64(cfg.Replay.FrameEvery)))
	}
	game := simulation.NewGame(inbox, peers, world, gameOpts...)
	loop := simulation.NewLoop(float64(cfg.TickRate), game.Step,
		simulation.WithLoopLogger(logger),
		simulation.WithDiagnosticEvery(cfg.DiagnosticEvery),
	)

	//2.- Any session that finds the inbox closed takes the whole process down.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	metrics := session.NewMetrics()
	srv := server.New(peers, inbox,
		server.WithCodec(codec),
		server.WithMaxClients(cfg.MaxClients),
		server.WithWriteTimeout(cfg.WriteTimeout),
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithAllowedOrigins(cfg.AllowedOrigins),
		server.WithFatal(func(err error) { cancel(err) }),
	)

	g, gctx := errgroup.WithContext(ctx)
	guard := func(name string, fn func() error) {
		g.Go(func() error {
			if err := fn(); err != nil {
				state.fail(err)
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	guard("game loop", func() error {
		//3.- Closing the inbox tells live sessions the loop is gone.
		defer inbox.Close()
		return loop.Run(gctx)
	})
	guard("tcp server", func() error {
		logger.Info("game clients", logging.String("url", listenerURL("tcp", cfg.Address, "")))
		return srv.ListenAndServe(gctx, cfg.Address)
	})

	var retention *replay.Retention
	if journal != nil {
		retention = replay.NewRetention(cfg.Replay.Dir, replay.RetentionPolicy{
			MaxBundles: cfg.Replay.MaxBundles,
			MaxAge:     cfg.Replay.MaxAge,
		}, logger, journal.Directory())
		g.Go(func() error {
			retention.Run(gctx, retentionEvery)
			return nil
		})
	}

	if cfg.HTTPAddress != "" {
		handlers := httpapi.Options{
			Logger:      logger,
			Readiness:   state,
			Peers:       peers.Stats,
			Sessions:    metrics.Snapshot,
			Ticks:       loop.Monitor().Snapshot,
			Game:        game.Stats,
			Inbox:       inbox.Stats,
			AdminToken:  cfg.AdminToken,
			DumpLimiter: httpapi.NewDumpLimiter(cfg.Replay, nil),
		}
		if journal != nil {
			handlers.Replay = journal
			handlers.ReplayStats = journal.Stats
		}
		if retention != nil {
			handlers.StorageStats = retention.Stats
		}
		mux := http.NewServeMux()
		mux.Handle("/ws", srv.WebSocketHandler(gctx))
		httpapi.NewHandlerSet(handlers).Register(mux)
		guard("http server", func() error {
			logger.Info("websocket clients", logging.String("url", listenerURL("ws", cfg.HTTPAddress, "/ws")))
			//1.- Upgraded connections outlive http.Server.Shutdown, so drain them explicitly.
			defer srv.DrainWebSockets()
			return serveHTTP(gctx, cfg.HTTPAddress, logging.HTTPTraceMiddleware(logger)(mux))
		})
	}

	if cfg.GRPCAddress != "" {
		probe := health.New(health.WithLogger(logger), health.WithSharedSecret(cfg.GRPCSecret))
		probe.SetServing(true)
		guard("grpc health", func() error {
			return probe.ListenAndServe(gctx, cfg.GRPCAddress)
		})
	}

	err = g.Wait()
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
