package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobanos/some-platformer/internal/client"
	"github.com/gobanos/some-platformer/internal/ecs"
	"github.com/gobanos/some-platformer/internal/logging"
	"github.com/gobanos/some-platformer/internal/physics"
	"github.com/gobanos/some-platformer/internal/protocol"
	"github.com/gobanos/some-platformer/internal/registry"
	"github.com/gobanos/some-platformer/internal/session"
	"github.com/gobanos/some-platformer/internal/simulation"
)

type stack struct {
	ctx     context.Context
	reg     *registry.Registry
	inbox   *simulation.Inbox
	server  *Server
	codec   *protocol.Codec
	addr    string
	metrics *session.Metrics
}

func startStack(t *testing.T, opts ...Option) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	st := &stack{
		ctx:     ctx,
		reg:     registry.New(logging.NewTestLogger()),
		inbox:   simulation.NewInbox(),
		codec:   protocol.NewCodec(protocol.LengthPrefixed{}, protocol.JSON{}, 0),
		metrics: session.NewMetrics(),
	}
	world := ecs.NewWorld(physics.Vec2{Y: 9.81}, nil, nil)
	ecs.SeedLevel(world)
	game := simulation.NewGame(st.inbox, st.reg, world, simulation.WithGameLogger(logging.NewTestLogger()))
	loop := simulation.NewLoop(120, game.Step, simulation.WithLoopLogger(logging.NewTestLogger()))
	loop.Start(ctx)

	opts = append([]Option{
		WithLogger(logging.NewTestLogger()),
		WithCodec(st.codec),
		WithMetrics(st.metrics),
		WithWriteTimeout(time.Second),
	}, opts...)
	st.server = New(st.reg, st.inbox, opts...)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	st.addr = ln.Addr().String()
	served := make(chan error, 1)
	go func() { served <- st.server.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		if err := <-served; err != nil {
			t.Errorf("serve: %v", err)
		}
		loop.Stop()
		st.inbox.Close()
	})
	return st
}

func (st *stack) dial(t *testing.T) *client.Client {
	t.Helper()
	c, err := client.Dial(st.ctx, st.addr, st.codec)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func expectServerTest(t *testing.T, c *client.Client) {
	t.Helper()
	if err := c.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	msg, err := c.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if _, ok := msg.(protocol.ServerTest); !ok {
		t.Fatalf("expected ServerTest, got %T", msg)
	}
}

func expectSilence(t *testing.T, c *client.Client) {
	t.Helper()
	if err := c.SetReadDeadline(time.Now().Add(150 * time.Millisecond)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	msg, err := c.Next()
	var netErr net.Error
	if err == nil || !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected no message, got %v (%v)", msg, err)
	}
}

func TestTestMessageReachesOnlyOtherClients(t *testing.T) {
	st := startStack(t)
	a := st.dial(t)
	b := st.dial(t)
	waitFor(t, "two sessions", func() bool { return st.reg.Len() == 2 })

	if err := a.SendTest(); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectServerTest(t, b)
	expectSilence(t, a)
}

func TestPingIsAnsweredBySession(t *testing.T) {
	st := startStack(t)
	a := st.dial(t)
	waitFor(t, "session", func() bool { return st.reg.Len() == 1 })
	before := st.inbox.Stats().Enqueued

	if err := a.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	pong, rtt, err := a.Ping(nil)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if pong.Server.Before(pong.Client) || rtt < 0 {
		t.Fatalf("unexpected pong %+v rtt %v", pong, rtt)
	}
	if after := st.inbox.Stats().Enqueued; after != before {
		t.Fatalf("ping must bypass the inbox, enqueued %d -> %d", before, after)
	}
}

func TestDisconnectRemovesPeerBeforeNextBroadcast(t *testing.T) {
	st := startStack(t)
	a := st.dial(t)
	b := st.dial(t)
	waitFor(t, "two sessions", func() bool { return st.reg.Len() == 2 })

	_ = b.Close()
	waitFor(t, "deregistration", func() bool { return st.reg.Len() == 1 })

	if err := a.SendTest(); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "broadcast", func() bool { return st.reg.Stats().Broadcasts == 1 })
	if stats := st.reg.Stats(); stats.Deliveries != 0 || stats.Dropped != 0 {
		t.Fatalf("departed peer must not be targeted, got %+v", stats)
	}
	waitFor(t, "clean close counted", func() bool { return st.metrics.Snapshot().Clean == 1 })
}

func TestWebSocketAndTCPShareTheGame(t *testing.T) {
	st := startStack(t)
	httpServer := httptest.NewServer(st.server.WebSocketHandler(st.ctx))
	t.Cleanup(httpServer.Close)

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	ws, err := client.DialWebSocket(st.ctx, url, st.codec, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	tcp := st.dial(t)
	waitFor(t, "two sessions", func() bool { return st.reg.Len() == 2 })

	if err := ws.SendTest(); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectServerTest(t, tcp)

	if err := tcp.SendTest(); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectServerTest(t, ws)
}

func TestDrainWebSocketsWaitsAndRefusesUpgrades(t *testing.T) {
	st := startStack(t)
	sessionCtx, endSessions := context.WithCancel(st.ctx)
	defer endSessions()
	httpServer := httptest.NewServer(st.server.WebSocketHandler(sessionCtx))
	t.Cleanup(httpServer.Close)
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http")

	ws, err := client.DialWebSocket(st.ctx, url, st.codec, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	waitFor(t, "websocket session", func() bool { return st.reg.Len() == 1 })

	drained := make(chan struct{})
	go func() {
		st.server.DrainWebSockets()
		close(drained)
	}()

	//1.- Draining refuses new upgrades while the live session keeps it blocked.
	waitFor(t, "upgrade refusal", func() bool {
		late, err := client.DialWebSocket(st.ctx, url, st.codec, nil)
		if err == nil {
			_ = late.Close()
			return false
		}
		return true
	})
	select {
	case <-drained:
		t.Fatal("drain returned while a websocket session was live")
	default:
	}

	endSessions()
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not return after sessions ended")
	}
	waitFor(t, "deregistration", func() bool { return st.reg.Len() == 0 })
}

func TestMaxClientsRefusesExtraConnections(t *testing.T) {
	st := startStack(t, WithMaxClients(1))
	st.dial(t)
	waitFor(t, "first session", func() bool { return st.reg.Len() == 1 })

	extra := st.dial(t)
	if err := extra.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	if _, err := extra.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected refused connection to be closed, got %v", err)
	}
	if st.metrics.Snapshot().Refused != 1 {
		t.Fatal("expected refusal to be counted")
	}
}

func TestStoppedGameEscalates(t *testing.T) {
	var (
		mu     sync.Mutex
		reason error
	)
	st := startStack(t, WithFatal(func(err error) {
		mu.Lock()
		reason = err
		mu.Unlock()
	}))
	a := st.dial(t)
	waitFor(t, "session", func() bool { return st.reg.Len() == 1 })

	st.inbox.Close()
	if err := a.SendTest(); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "escalation", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errors.Is(reason, simulation.ErrStopped)
	})
}

func TestCheckOrigin(t *testing.T) {
	s := New(registry.New(logging.NewTestLogger()), simulation.NewInbox(),
		WithLogger(logging.NewTestLogger()),
		WithAllowedOrigins([]string{"https://play.example"}),
	)
	allowed := httptest.NewRequest("GET", "/ws", nil)
	allowed.Header.Set("Origin", "https://PLAY.example")
	denied := httptest.NewRequest("GET", "/ws", nil)
	denied.Header.Set("Origin", "https://evil.example")

	if !s.checkOrigin(allowed) {
		t.Fatal("expected configured origin to pass")
	}
	if s.checkOrigin(denied) {
		t.Fatal("expected unknown origin to be rejected")
	}
}
