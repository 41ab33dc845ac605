package simulation

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gobanos/some-platformer/internal/protocol"
	"github.com/gobanos/some-platformer/internal/queue"
	"github.com/gobanos/some-platformer/internal/registry"
)

// ErrStopped is returned to sessions once the game loop no longer accepts input.
var ErrStopped = errors.New("simulation stopped")

// Inbound is a client message tagged with the peer that sent it.
type Inbound struct {
	Message protocol.Client
	From    registry.PeerID
}

// InboxStats reports inbox throughput.
type InboxStats struct {
	Enqueued uint64
	Drained  uint64
	Pending  int
}

// Inbox funnels every session's client messages to the game loop.
type Inbox struct {
	q        *queue.Queue[Inbound]
	enqueued atomic.Uint64
	drained  atomic.Uint64
}

// NewInbox constructs an open inbox.
func NewInbox() *Inbox {
	return &Inbox{q: queue.New[Inbound]()}
}

// Push forwards a message to the loop. It never blocks.
func (i *Inbox) Push(in Inbound) error {
	if err := i.q.Push(in); err != nil {
		return fmt.Errorf("forward %s from %s: %w", in.Message.Kind(), in.From, ErrStopped)
	}
	i.enqueued.Add(1)
	return nil
}

// Drain appends everything pending to dst without blocking.
func (i *Inbox) Drain(dst []Inbound) []Inbound {
	before := len(dst)
	dst = i.q.Drain(dst)
	i.drained.Add(uint64(len(dst) - before))
	return dst
}

// Ready fires after a push the loop has not drained yet.
func (i *Inbox) Ready() <-chan struct{} { return i.q.Ready() }

// Close rejects further pushes with ErrStopped.
func (i *Inbox) Close() { i.q.Close() }

// Stats returns the current counters.
func (i *Inbox) Stats() InboxStats {
	return InboxStats{
		Enqueued: i.enqueued.Load(),
		Drained:  i.drained.Load(),
		Pending:  i.q.Len(),
	}
}
