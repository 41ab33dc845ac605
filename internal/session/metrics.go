package session

import (
	"sync"
	"sync/atomic"

	"github.com/gobanos/some-platformer/internal/registry"
)

// Traffic accumulates byte and frame counters.
type Traffic struct {
	BytesIn   int64
	BytesOut  int64
	FramesIn  int64
	FramesOut int64
}

func (t *Traffic) add(o Traffic) {
	t.BytesIn += o.BytesIn
	t.BytesOut += o.BytesOut
	t.FramesIn += o.FramesIn
	t.FramesOut += o.FramesOut
}

// MetricsSnapshot is a point-in-time copy of the session counters.
type MetricsSnapshot struct {
	Active  int64
	Opened  int64
	Clean   int64
	Failed  int64
	Refused int64
	Total   Traffic
	PerPeer map[registry.PeerID]Traffic
}

// Metrics tracks session lifecycle and traffic counters for monitoring endpoints.
type Metrics struct {
	active  atomic.Int64
	opened  atomic.Int64
	clean   atomic.Int64
	failed  atomic.Int64
	refused atomic.Int64

	mu    sync.RWMutex
	total Traffic
	peers map[registry.PeerID]*Traffic
}

// NewMetrics constructs an empty metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{peers: make(map[registry.PeerID]*Traffic)}
}

func (m *Metrics) opening(id registry.PeerID) {
	if m == nil {
		return
	}
	m.opened.Add(1)
	m.active.Add(1)
	m.mu.Lock()
	m.peers[id] = &Traffic{}
	m.mu.Unlock()
}

func (m *Metrics) finished(clean bool) {
	if m == nil {
		return
	}
	m.active.Add(-1)
	if clean {
		m.clean.Add(1)
	} else {
		m.failed.Add(1)
	}
}

// Refused counts a connection turned away before its session started.
func (m *Metrics) Refused() {
	if m == nil {
		return
	}
	m.refused.Add(1)
}

// observe adds a traffic delta for a peer.
func (m *Metrics) observe(id registry.PeerID, delta Traffic) {
	if m == nil {
		return
	}
	//1.- Update the per-peer gauge while the peer is live and the totals always.
	m.mu.Lock()
	if peer := m.peers[id]; peer != nil {
		peer.add(delta)
	}
	m.total.add(delta)
	m.mu.Unlock()
}

// forget removes the per-peer gauge for a disconnected peer. Totals are kept.
func (m *Metrics) forget(id registry.PeerID) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.peers, id)
	m.mu.Unlock()
}

// Snapshot copies the counters so handlers can iterate safely.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	snapshot := MetricsSnapshot{
		Active:  m.active.Load(),
		Opened:  m.opened.Load(),
		Clean:   m.clean.Load(),
		Failed:  m.failed.Load(),
		Refused: m.refused.Load(),
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot.Total = m.total
	if len(m.peers) > 0 {
		snapshot.PerPeer = make(map[registry.PeerID]Traffic, len(m.peers))
		for id, traffic := range m.peers {
			snapshot.PerPeer[id] = *traffic
		}
	}
	return snapshot
}
