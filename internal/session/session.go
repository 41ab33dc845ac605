// Package session runs one connected client: it decodes inbound frames,
// answers pings, forwards everything else to the game loop and writes queued
// server messages back to the socket.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gobanos/some-platformer/internal/logging"
	"github.com/gobanos/some-platformer/internal/protocol"
	"github.com/gobanos/some-platformer/internal/registry"
	"github.com/gobanos/some-platformer/internal/simulation"
)

// errPeerClosed ends the session group when the client hangs up cleanly.
var errPeerClosed = errors.New("peer closed the connection")

// Peers is the registry surface a session needs.
type Peers interface {
	Register(id registry.PeerID) (*registry.Outbox, error)
	Remove(id registry.PeerID) bool
}

// Forwarder accepts client messages for the game loop.
type Forwarder interface {
	Push(in simulation.Inbound) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Option customises a Session.
type Option func(*Session)

// WithCodec selects the wire codec.
func WithCodec(codec *protocol.Codec) Option {
	return func(s *Session) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// WithWriteTimeout bounds each socket write when the transport supports deadlines.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		s.writeTimeout = timeout
	}
}

// WithClock overrides the time source used to stamp pongs.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the session logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithMetrics records lifecycle and traffic counters.
func WithMetrics(metrics *Metrics) Option {
	return func(s *Session) {
		s.metrics = metrics
	}
}

// Session is the per-connection actor.
type Session struct {
	id           registry.PeerID
	sessionID    string
	conn         io.ReadWriteCloser
	peers        Peers
	inbox        Forwarder
	codec        *protocol.Codec
	writeTimeout time.Duration
	now          func() time.Time
	log          *logging.Logger
	metrics      *Metrics
}

// New constructs a session for conn identified by id.
func New(id registry.PeerID, conn io.ReadWriteCloser, peers Peers, inbox Forwarder, opts ...Option) *Session {
	s := &Session{
		id:        id,
		sessionID: uuid.NewString(),
		conn:      conn,
		peers:     peers,
		inbox:     inbox,
		codec:     protocol.NewCodec(nil, nil, 0),
		now:       time.Now,
		log:       logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = s.log.With(
		logging.String("component", "session"),
		logging.String("peer", string(id)),
		logging.String("session_id", s.sessionID),
	)
	return s
}

// ID returns the peer identity.
func (s *Session) ID() registry.PeerID { return s.id }

// Run serves the connection until the peer disconnects, an error occurs or ctx
// is cancelled. The registry entry, the outbox and the transport are released
// exactly once on every path. A clean disconnect or shutdown returns nil.
func (s *Session) Run(ctx context.Context) error {
	outbox, err := s.peers.Register(s.id)
	if err != nil {
		_ = s.conn.Close()
		s.metrics.Refused()
		s.log.Warn("session refused", logging.Error(err))
		return fmt.Errorf("register %s: %w", s.id, err)
	}
	s.metrics.opening(s.id)
	deregister := sync.OnceFunc(func() {
		s.peers.Remove(s.id)
		s.metrics.forget(s.id)
	})
	defer func() {
		deregister()
		outbox.Close()
		_ = s.conn.Close()
	}()
	s.log.Info("session opened", logging.String("codec", s.codec.String()))

	group, groupCtx := errgroup.WithContext(ctx)
	//1.- Closing the transport is the only way to unblock a pending Read.
	stop := context.AfterFunc(groupCtx, func() { _ = s.conn.Close() })
	defer stop()

	group.Go(func() error {
		//2.- Leave the registry as soon as input ends so no broadcast targets us.
		defer deregister()
		return s.readLoop(outbox)
	})
	group.Go(func() error {
		return s.writeLoop(groupCtx, outbox)
	})

	err = group.Wait()
	switch {
	case errors.Is(err, errPeerClosed):
		s.metrics.finished(true)
		s.log.Info("session closed")
		return nil
	case ctx.Err() != nil:
		s.metrics.finished(true)
		s.log.Info("session closed by shutdown")
		return nil
	case errors.Is(err, simulation.ErrStopped):
		s.metrics.finished(false)
		s.log.Error("game loop unavailable", logging.Error(err))
		return err
	default:
		s.metrics.finished(false)
		s.log.Warn("session failed", logging.Error(err))
		return err
	}
}

func (s *Session) readLoop(outbox *registry.Outbox) error {
	decoder := s.codec.ClientDecoder(&countingReader{r: s.conn, session: s})
	for {
		msg, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			return errPeerClosed
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.metrics.observe(s.id, Traffic{FramesIn: 1})

		switch m := msg.(type) {
		case protocol.Ping:
			//1.- Pings never reach the game loop; answer on our own outbox.
			if err := outbox.Push(protocol.Pong{Client: m.Timestamp, Server: s.now()}); err != nil {
				return fmt.Errorf("queue pong: %w", err)
			}
		default:
			if err := s.inbox.Push(simulation.Inbound{Message: msg, From: s.id}); err != nil {
				return err
			}
		}
	}
}

func (s *Session) writeLoop(ctx context.Context, outbox *registry.Outbox) error {
	var (
		batch []protocol.Server
		buf   []byte
		err   error
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-outbox.Ready():
		}

		//1.- Drain everything queued and encode it into one write.
		batch = outbox.Drain(batch[:0])
		buf = buf[:0]
		for _, msg := range batch {
			buf, err = s.codec.AppendServer(buf, msg)
			if err != nil {
				return err
			}
		}
		frames := len(batch)
		clear(batch)
		if len(buf) == 0 {
			continue
		}

		//2.- Bound the write so a stalled client cannot pin the goroutine forever.
		if d, ok := s.conn.(writeDeadliner); ok && s.writeTimeout > 0 {
			_ = d.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		n, err := s.conn.Write(buf)
		s.metrics.observe(s.id, Traffic{BytesOut: int64(n), FramesOut: int64(frames)})
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
}

type countingReader struct {
	r       io.Reader
	session *Session
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.session.metrics.observe(c.session.id, Traffic{BytesIn: int64(n)})
	}
	return n, err
}
