package simulation

import (
	"fmt"
	"sync/atomic"

	"github.com/gobanos/some-platformer/internal/ecs"
	"github.com/gobanos/some-platformer/internal/logging"
	"github.com/gobanos/some-platformer/internal/protocol"
	"github.com/gobanos/some-platformer/internal/registry"
)

// Broadcaster fans server messages out to connected peers.
type Broadcaster interface {
	BroadcastExcept(msg protocol.Server, excluded registry.PeerID) int
}

// Journal records what the game observed each tick.
type Journal interface {
	RecordMessage(tick uint64, from registry.PeerID, msg protocol.Client) error
	RecordFrame(tick uint64, entities []ecs.EntitySnapshot) error
}

// GameStats summarises dispatcher activity.
type GameStats struct {
	Ticks    uint64
	Messages uint64
	Relayed  uint64
}

// GameOption customises a Game.
type GameOption func(*Game)

// WithGameLogger overrides the logger used for dispatch diagnostics.
func WithGameLogger(logger *logging.Logger) GameOption {
	return func(g *Game) {
		if logger != nil {
			g.log = logger
		}
	}
}

// WithJournal records every drained message and periodic world frames.
func WithJournal(journal Journal, frameEvery uint64) GameOption {
	return func(g *Game) {
		g.journal = journal
		if frameEvery == 0 {
			frameEvery = 1
		}
		g.frameEvery = frameEvery
	}
}

// Game applies client input to the world once per tick.
type Game struct {
	inbox      *Inbox
	peers      Broadcaster
	world      *ecs.World
	log        *logging.Logger
	journal    Journal
	frameEvery uint64
	pending    []Inbound

	ticks    atomic.Uint64
	messages atomic.Uint64
	relayed  atomic.Uint64
}

// NewGame wires the dispatcher to its inbox, peer registry and world.
func NewGame(inbox *Inbox, peers Broadcaster, world *ecs.World, opts ...GameOption) *Game {
	g := &Game{
		inbox: inbox,
		peers: peers,
		world: world,
		log:   logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.log = g.log.With(logging.String("component", "game"))
	return g
}

// Step drains the inbox, dispatches every message, then advances the world once.
func (g *Game) Step(tick uint64) {
	//1.- Take everything queued so far; later arrivals wait for the next tick.
	g.pending = g.inbox.Drain(g.pending[:0])
	for _, in := range g.pending {
		g.dispatch(tick, in)
	}
	clear(g.pending)

	//2.- Run the system pipeline exactly once.
	g.world.Advance()
	for _, event := range g.world.Collision().Events() {
		g.log.Debug("contact",
			logging.String("kind", event.Kind.String()),
			logging.Uint64("a", uint64(event.A)),
			logging.Uint64("b", uint64(event.B)),
		)
	}

	if g.journal != nil && tick%g.frameEvery == 0 {
		if err := g.journal.RecordFrame(tick, g.world.Snapshot()); err != nil {
			g.log.Warn("journal frame failed", logging.Uint64("tick", tick), logging.Error(err))
		}
	}
	g.ticks.Add(1)
}

func (g *Game) dispatch(tick uint64, in Inbound) {
	g.messages.Add(1)
	g.log.Debug("game got message", logging.String("kind", in.Message.Kind().String()), logging.String("peer", string(in.From)))
	if g.journal != nil {
		if err := g.journal.RecordMessage(tick, in.From, in.Message); err != nil {
			g.log.Warn("journal message failed", logging.Uint64("tick", tick), logging.Error(err))
		}
	}
	switch in.Message.(type) {
	case protocol.ClientTest:
		delivered := g.peers.BroadcastExcept(protocol.ServerTest{}, in.From)
		g.relayed.Add(uint64(delivered))
	case protocol.Ping:
		panic(fmt.Sprintf("ping from %s reached the game loop; sessions answer pings directly", in.From))
	default:
		panic(fmt.Sprintf("unhandled client message %T from %s", in.Message, in.From))
	}
}

// World exposes the simulated world to loop-goroutine callers.
func (g *Game) World() *ecs.World { return g.world }

// Stats returns dispatcher counters. Safe from any goroutine.
func (g *Game) Stats() GameStats {
	return GameStats{
		Ticks:    g.ticks.Load(),
		Messages: g.messages.Load(),
		Relayed:  g.relayed.Load(),
	}
}
