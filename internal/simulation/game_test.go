package simulation

import (
	"errors"
	"testing"
	"time"

	"github.com/gobanos/some-platformer/internal/ecs"
	"github.com/gobanos/some-platformer/internal/logging"
	"github.com/gobanos/some-platformer/internal/physics"
	"github.com/gobanos/some-platformer/internal/protocol"
	"github.com/gobanos/some-platformer/internal/registry"
)

type recordingJournal struct {
	messages []registry.PeerID
	frames   []uint64
}

func (j *recordingJournal) RecordMessage(_ uint64, from registry.PeerID, _ protocol.Client) error {
	j.messages = append(j.messages, from)
	return nil
}

func (j *recordingJournal) RecordFrame(tick uint64, _ []ecs.EntitySnapshot) error {
	j.frames = append(j.frames, tick)
	return nil
}

func newTestGame(t *testing.T, opts ...GameOption) (*Game, *Inbox, *registry.Registry) {
	t.Helper()
	inbox := NewInbox()
	peers := registry.New(logging.NewTestLogger())
	world := ecs.NewWorld(physics.Vec2{Y: 9.81}, nil, nil)
	opts = append([]GameOption{WithGameLogger(logging.NewTestLogger())}, opts...)
	return NewGame(inbox, peers, world, opts...), inbox, peers
}

func TestStepRelaysTestToEveryoneElse(t *testing.T) {
	game, inbox, peers := newTestGame(t)
	a, _ := peers.Register("a")
	b, _ := peers.Register("b")

	if err := inbox.Push(Inbound{Message: protocol.ClientTest{}, From: "a"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	game.Step(0)

	if a.Len() != 0 {
		t.Fatal("author must not receive its own test")
	}
	got := b.Drain(nil)
	if len(got) != 1 {
		t.Fatalf("expected one message for b, got %d", len(got))
	}
	if _, ok := got[0].(protocol.ServerTest); !ok {
		t.Fatalf("expected ServerTest, got %T", got[0])
	}
	stats := game.Stats()
	if stats.Ticks != 1 || stats.Messages != 1 || stats.Relayed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if inbox.Stats().Drained != 1 {
		t.Fatalf("expected the inbox to be drained, got %+v", inbox.Stats())
	}
}

func TestStepAdvancesWorldOncePerTick(t *testing.T) {
	game, _, _ := newTestGame(t)
	game.Step(0)
	game.Step(1)
	if n := game.World().Advances(); n != 2 {
		t.Fatalf("expected two advances, got %d", n)
	}
}

func TestStepPanicsOnPing(t *testing.T) {
	game, inbox, _ := newTestGame(t)
	_ = inbox.Push(Inbound{Message: protocol.Ping{Timestamp: time.Now()}, From: "a"})
	defer func() {
		if recover() == nil {
			t.Fatal("expected ping to panic inside the game loop")
		}
	}()
	game.Step(0)
}

func TestStepJournalsMessagesAndFrames(t *testing.T) {
	journal := &recordingJournal{}
	game, inbox, _ := newTestGame(t, WithJournal(journal, 2))
	ecs.SeedLevel(game.World())
	_ = inbox.Push(Inbound{Message: protocol.ClientTest{}, From: "solo"})

	for tick := uint64(0); tick < 4; tick++ {
		game.Step(tick)
	}
	if len(journal.messages) != 1 || journal.messages[0] != "solo" {
		t.Fatalf("unexpected journaled messages %v", journal.messages)
	}
	if len(journal.frames) != 2 || journal.frames[1] != 2 {
		t.Fatalf("expected frames on even ticks, got %v", journal.frames)
	}
}

func TestInboxClosedReturnsErrStopped(t *testing.T) {
	inbox := NewInbox()
	inbox.Close()
	err := inbox.Push(Inbound{Message: protocol.ClientTest{}, From: "late"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if inbox.Stats().Enqueued != 0 {
		t.Fatal("rejected push must not be counted")
	}
}
