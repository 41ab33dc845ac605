// Package server accepts client connections over TCP and WebSocket and runs a
// session for each one.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobanos/some-platformer/internal/logging"
	"github.com/gobanos/some-platformer/internal/protocol"
	"github.com/gobanos/some-platformer/internal/registry"
	"github.com/gobanos/some-platformer/internal/session"
	"github.com/gobanos/some-platformer/internal/simulation"
)

// ErrTooManyClients is reported when MaxClients sessions are already live.
var ErrTooManyClients = errors.New("too many clients")

// ErrDraining is reported to websocket upgrades that arrive during shutdown.
var ErrDraining = errors.New("server is shutting down")

// Option customises a Server.
type Option func(*Server)

// WithCodec selects the wire codec handed to every session.
func WithCodec(codec *protocol.Codec) Option {
	return func(s *Server) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// WithMaxClients bounds concurrent sessions across transports. Zero disables the limit.
func WithMaxClients(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		}
	}
}

// WithWriteTimeout bounds each session write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = timeout
	}
}

// WithLogger overrides the server logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithMetrics shares a metrics tracker with every session.
func WithMetrics(metrics *session.Metrics) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithAllowedOrigins restricts WebSocket upgrades to the listed origins.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.origins = append([]string(nil), origins...)
	}
}

// WithFatal installs the callback invoked when a session reports that the game
// loop has stopped. The process is expected to shut down.
func WithFatal(fatal func(error)) Option {
	return func(s *Server) {
		if fatal != nil {
			s.fatal = fatal
		}
	}
}

// Server owns the transport listeners and the sessions they spawn.
type Server struct {
	peers        *registry.Registry
	inbox        *simulation.Inbox
	codec        *protocol.Codec
	writeTimeout time.Duration
	log          *logging.Logger
	metrics      *session.Metrics
	origins      []string
	fatal        func(error)
	slots        chan struct{}
	sessions     sync.WaitGroup
	fatalOnce    sync.Once

	wsMu       sync.Mutex
	wsClosed   bool
	wsSessions sync.WaitGroup
}

// New constructs a server that registers sessions with peers and forwards
// their messages into inbox.
func New(peers *registry.Registry, inbox *simulation.Inbox, opts ...Option) *Server {
	s := &Server{
		peers: peers,
		inbox: inbox,
		codec: protocol.NewCodec(nil, nil, 0),
		log:   logging.L(),
		fatal: func(error) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = s.log.With(logging.String("component", "server"))
	return s
}

// Metrics returns the shared session metrics, which may be nil.
func (s *Server) Metrics() *session.Metrics { return s.metrics }

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled, then waits for
// every session it started to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("listening", logging.String("addr", ln.Addr().String()), logging.String("codec", s.codec.String()))
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.sessions.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.log.Warn("accept timeout", logging.Error(err))
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.start(ctx, registry.PeerID(conn.RemoteAddr().String()), conn)
	}
}

// start runs a session on its own goroutine if a client slot is free.
func (s *Server) start(ctx context.Context, id registry.PeerID, conn net.Conn) {
	if !s.acquire() {
		s.refuse(id, conn)
		return
	}
	s.sessions.Add(1)
	go func() {
		defer s.sessions.Done()
		defer s.release()
		s.run(ctx, id, conn)
	}()
}

func (s *Server) run(ctx context.Context, id registry.PeerID, conn io.ReadWriteCloser) {
	sess := session.New(id, conn, s.peers, s.inbox,
		session.WithCodec(s.codec),
		session.WithWriteTimeout(s.writeTimeout),
		session.WithLogger(s.log),
		session.WithMetrics(s.metrics),
	)
	if err := sess.Run(ctx); errors.Is(err, simulation.ErrStopped) {
		s.fatalOnce.Do(func() {
			s.log.Error("game loop stopped while sessions were live", logging.Error(err))
			s.fatal(err)
		})
	}
}

func (s *Server) acquire() bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Server) release() {
	if s.slots != nil {
		<-s.slots
	}
}

func (s *Server) refuse(id registry.PeerID, conn net.Conn) {
	s.metrics.Refused()
	s.log.Warn("connection refused", logging.String("peer", string(id)), logging.Error(ErrTooManyClients))
	_ = conn.Close()
}

// enterWebSocket counts a websocket session unless draining has begun.
func (s *Server) enterWebSocket() bool {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if s.wsClosed {
		return false
	}
	s.wsSessions.Add(1)
	return true
}

// DrainWebSockets refuses further websocket upgrades and blocks until the
// live websocket sessions have ended. TCP sessions are awaited by Serve.
func (s *Server) DrainWebSockets() {
	s.wsMu.Lock()
	s.wsClosed = true
	s.wsMu.Unlock()
	s.wsSessions.Wait()
}
