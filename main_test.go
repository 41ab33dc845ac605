package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gobanos/some-platformer/internal/config"
	"github.com/gobanos/some-platformer/internal/logging"
	"github.com/gobanos/some-platformer/internal/replay"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Address:         "127.0.0.1:0",
		MaxClients:      4,
		TickRate:        120,
		DiagnosticEvery: 0,
		Framing:         config.DefaultFraming,
		Encoding:        config.DefaultEncoding,
		MaxFrameBytes:   config.DefaultMaxFrameBytes,
		WriteTimeout:    time.Second,
		GravityY:        config.DefaultGravityY,
		Replay: config.ReplayConfig{
			Dir:        t.TempDir(),
			FrameEvery: 2,
			MaxBundles: 3,
			DumpWindow: time.Minute,
			DumpBurst:  1,
		},
	}
}

func TestRunStopsCleanlyAndLeavesReadableBundle(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	//1.- Let the loop tick for a while, then cancel like a SIGTERM would.
	if err := run(ctx, cfg, logging.NewTestLogger()); err != nil {
		t.Fatalf("run: %v", err)
	}

	entries, err := os.ReadDir(cfg.Replay.Dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one replay bundle, got %v (err=%v)", entries, err)
	}
	bundle, err := replay.Open(filepath.Join(cfg.Replay.Dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	if bundle.Header.TickRate != 120 || bundle.Header.Codec == "" {
		t.Fatalf("unexpected header %+v", bundle.Header)
	}
	if len(bundle.Frames) == 0 {
		t.Fatal("expected journaled frames after ticking")
	}
	for _, frame := range bundle.Frames {
		if frame.Tick%2 != 0 {
			t.Fatalf("frame recorded off cadence at tick %d", frame.Tick)
		}
	}
}

func TestRunRejectsUnknownCodec(t *testing.T) {
	cfg := testConfig(t)
	cfg.Encoding = "xml"
	if err := run(context.Background(), cfg, logging.NewTestLogger()); err == nil {
		t.Fatal("expected unknown encoding to fail before anything starts")
	}
}

func TestReadinessKeepsFirstFailure(t *testing.T) {
	state := &readiness{started: time.Now().Add(-time.Minute)}
	if state.StartupError() != nil {
		t.Fatal("expected ready state before any failure")
	}
	first := errors.New("listen tcp: address in use")
	state.fail(first)
	state.fail(errors.New("later"))
	state.fail(nil)
	if !errors.Is(state.StartupError(), first) {
		t.Fatalf("expected first failure retained, got %v", state.StartupError())
	}
	if state.Uptime() < time.Minute {
		t.Fatalf("unexpected uptime %v", state.Uptime())
	}
}
