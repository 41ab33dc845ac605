package ecs

import (
	"testing"
	"time"

	"github.com/gobanos/some-platformer/internal/collision"
	"github.com/gobanos/some-platformer/internal/physics"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func TestGravityThenMovement(t *testing.T) {
	clock := newFakeClock()
	world := NewWorld(physics.Vec2{X: 1, Y: 10}, clock.Now, nil)
	falling := world.Spawn(Bundle{
		Transform:       &Transform{Position: physics.Vec2{X: 5, Y: 5}},
		Moving:          &Moving{Velocity: physics.Vec2{X: 2, Y: 0}},
		GravityAffected: true,
	})

	clock.Advance(500 * time.Millisecond)
	world.Advance()

	if dt := world.DeltaTime().Seconds(); dt != 0.5 {
		t.Fatalf("expected dt 0.5s, got %v", dt)
	}
	//1.- Horizontal gravity is flat, vertical gravity is scaled by dt.
	moving, _ := world.Moving(falling)
	if moving.Velocity != (physics.Vec2{X: 3, Y: 5}) {
		t.Fatalf("unexpected velocity %+v", moving.Velocity)
	}
	//2.- Movement sees the post-gravity velocity, unscaled.
	transform, _ := world.Transform(falling)
	if transform.Position != (physics.Vec2{X: 8, Y: 10}) {
		t.Fatalf("unexpected position %+v", transform.Position)
	}
	if world.Advances() != 1 {
		t.Fatalf("expected one advance, got %d", world.Advances())
	}
}

func TestSystemsOnlyJoinMatchingComponents(t *testing.T) {
	clock := newFakeClock()
	world := NewWorld(physics.Vec2{Y: 10}, clock.Now, nil)
	drifting := world.Spawn(Bundle{
		Transform: &Transform{},
		Moving:    &Moving{Velocity: physics.Vec2{X: 1}},
	})
	markerOnly := world.Spawn(Bundle{Transform: &Transform{}, GravityAffected: true})
	velocityOnly := world.Spawn(Bundle{Moving: &Moving{}, GravityAffected: true})

	clock.Advance(time.Second)
	world.Advance()

	if m, _ := world.Moving(drifting); m.Velocity != (physics.Vec2{X: 1}) {
		t.Fatalf("gravity must skip entities without the marker, got %+v", m.Velocity)
	}
	if tr, _ := world.Transform(drifting); tr.Position != (physics.Vec2{X: 1}) {
		t.Fatalf("expected drifting entity to move, got %+v", tr.Position)
	}
	if tr, _ := world.Transform(markerOnly); tr.Position != (physics.Vec2{}) {
		t.Fatalf("marker without velocity must not move, got %+v", tr.Position)
	}
	if m, _ := world.Moving(velocityOnly); m.Velocity != (physics.Vec2{Y: 10}) {
		t.Fatalf("expected gravity on transform-less entity, got %+v", m.Velocity)
	}
	if _, ok := world.Transform(velocityOnly); ok {
		t.Fatal("expected no transform to be created")
	}
}

func TestCollisionSystemSyncsPosesBeforeUpdate(t *testing.T) {
	clock := newFakeClock()
	world := NewWorld(physics.Vec2{}, clock.Now, nil)
	level := SeedLevel(world)
	player, _ := world.Collider(level.Player)
	block, _ := world.Collider(level.Block)

	world.Advance()
	if n := len(world.Collision().ContactsWith(player.Handle)); n != 0 {
		t.Fatalf("expected no contact at spawn, got %d", n)
	}

	//1.- Drop the player onto the block in a single tick.
	world.SetVelocity(level.Player, physics.Vec2{Y: 300})
	world.Advance()

	pose, _ := world.Collision().Pose(player.Handle)
	if pose.Position != (physics.Vec2{X: 100, Y: 400}) {
		t.Fatalf("index pose not synced, got %+v", pose.Position)
	}
	contacts := world.Collision().ContactsWith(player.Handle)
	if len(contacts) != 1 {
		t.Fatalf("expected one contact, got %+v", contacts)
	}
	if c := contacts[0]; c.A != block.Handle && c.B != block.Handle {
		t.Fatalf("expected contact with block, got %+v", c)
	}
	events := world.Collision().Events()
	if len(events) != 1 || events[0].Kind != collision.ContactStarted {
		t.Fatalf("expected started event, got %+v", events)
	}
}

func TestDespawnRemovesEverything(t *testing.T) {
	world := NewWorld(physics.Vec2{}, nil, nil)
	e := SpawnPlayer(world, physics.Vec2{X: 1, Y: 2})
	c, ok := world.Collider(e)
	if !ok || world.Collision().Len() != 1 {
		t.Fatal("expected player to own a collider")
	}
	if !world.Despawn(e) {
		t.Fatal("expected despawn to succeed")
	}
	if world.Len() != 0 || world.IsGravityAffected(e) {
		t.Fatal("expected components removed")
	}
	if _, ok := world.Collision().Pose(c.Handle); ok {
		t.Fatal("expected collision object removed")
	}
	if world.Despawn(e) {
		t.Fatal("expected second despawn to be a no-op")
	}
	//1.- Handles are never reused.
	if next := SpawnTestBlock(world, physics.Vec2{}); next == e {
		t.Fatal("expected a fresh entity id")
	}
}

func TestSnapshotCopiesComponents(t *testing.T) {
	world := NewWorld(physics.Vec2{}, nil, nil)
	level := SeedLevel(world)
	snap := world.Snapshot()
	if len(snap) != 3 || snap[0].Entity != level.Player {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !snap[0].GravityAffected || snap[0].Moving == nil || snap[0].Collider == nil {
		t.Fatalf("player snapshot missing components: %+v", snap[0])
	}
	if snap[2].Collider != nil || snap[2].Moving != nil {
		t.Fatalf("ground must be transform only: %+v", snap[2])
	}
	snap[0].Transform.Position.X = -1
	if tr, _ := world.Transform(level.Player); tr.Position.X != 100 {
		t.Fatal("snapshot mutation leaked into world")
	}
}
