package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/gobanos/some-platformer/internal/logging"
	"github.com/gobanos/some-platformer/internal/protocol"
	"github.com/gobanos/some-platformer/internal/queue"
)

// ErrDuplicatePeer is returned when an identity is already bound to a live session.
var ErrDuplicatePeer = errors.New("peer already registered")

// PeerID identifies a live connection, typically its remote address.
type PeerID string

// Outbox is the per-peer server→client queue. The session owns it; the registry
// only pushes onto it.
type Outbox = queue.Queue[protocol.Server]

// Stats summarises broadcast activity for monitoring endpoints.
type Stats struct {
	Peers      int
	Broadcasts int64
	Deliveries int64
	Dropped    int64
}

// Registry maps live peers to their outboxes.
type Registry struct {
	mu         sync.Mutex
	peers      map[PeerID]*Outbox
	log        *logging.Logger
	broadcasts int64
	deliveries int64
	dropped    int64
}

// New constructs an empty registry.
func New(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.L()
	}
	return &Registry{
		peers: make(map[PeerID]*Outbox),
		log:   logger.With(logging.String("component", "registry")),
	}
}

// Register creates a fresh outbox for id and returns it to the caller, who
// becomes its only consumer.
func (r *Registry) Register(id PeerID) (*Outbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.peers[id]; exists {
		return nil, ErrDuplicatePeer
	}
	outbox := queue.New[protocol.Server]()
	r.peers[id] = outbox
	return outbox, nil
}

// Remove deletes the entry for id. Removing an absent id is a no-op.
func (r *Registry) Remove(id PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

// Send enqueues msg for a single peer.
func (r *Registry) Send(id PeerID, msg protocol.Server) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	outbox, ok := r.peers[id]
	if !ok {
		return false
	}
	if err := outbox.Push(msg); err != nil {
		r.dropped++
		return false
	}
	r.deliveries++
	return true
}

// BroadcastExcept enqueues msg for every registered peer other than excluded
// and returns how many peers accepted it. A peer whose outbox is already closed
// is departing; its copy is dropped.
func (r *Registry) BroadcastExcept(msg protocol.Server, excluded PeerID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	//1.- Hold the lock for the whole fan-out; pushes never block.
	r.broadcasts++
	delivered := 0
	for id, outbox := range r.peers {
		if id == excluded {
			continue
		}
		if err := outbox.Push(msg); err != nil {
			r.dropped++
			r.log.Debug("dropping broadcast for departing peer",
				logging.String("peer", string(id)),
				logging.String("kind", msg.Kind().String()),
			)
			continue
		}
		delivered++
	}
	r.deliveries += int64(delivered)
	return delivered
}

// Len reports the number of registered peers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[id]
	return ok
}

// IDs returns the registered identities in sorted order.
func (r *Registry) IDs() []PeerID {
	r.mu.Lock()
	ids := make([]PeerID, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Stats returns a copy of the broadcast counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Peers:      len(r.peers),
		Broadcasts: r.broadcasts,
		Deliveries: r.deliveries,
		Dropped:    r.dropped,
	}
}
