package ecs

import (
	"time"

	"github.com/gobanos/some-platformer/internal/collision"
	"github.com/gobanos/some-platformer/internal/physics"
)

// Entity is an opaque handle. Values are never reused within a process.
type Entity uint64

// Transform positions an entity in the world. Position is the centre of the
// entity's rectangle.
type Transform struct {
	Position physics.Vec2
	Rotation float64
	Size     physics.Vec2
}

// Pose converts the transform into the collision index representation.
func (t Transform) Pose() physics.Pose {
	return physics.Pose{Position: t.Position, Rotation: t.Rotation}
}

// Rect returns the top-left corner and size of the entity's rectangle.
func (t Transform) Rect() (x, y, w, h float64) {
	return t.Position.X - t.Size.X/2, t.Position.Y - t.Size.Y/2, t.Size.X, t.Size.Y
}

// Moving carries a per-tick velocity.
type Moving struct {
	Velocity physics.Vec2
}

// Collider binds an entity to an object in the collision index.
type Collider struct {
	Handle collision.Handle
}

// Bundle lists the components of an entity to spawn. Nil fields are omitted.
type Bundle struct {
	Transform       *Transform
	Moving          *Moving
	GravityAffected bool
	Collider        *Collider
}

// DeltaTime is the elapsed time between the two most recent advances.
type DeltaTime struct {
	Elapsed time.Duration
	last    time.Time
}

// Seconds returns the elapsed time in seconds.
func (d DeltaTime) Seconds() float64 { return d.Elapsed.Seconds() }

func (d *DeltaTime) update(now time.Time) {
	if d.last.IsZero() || now.Before(d.last) {
		d.Elapsed = 0
	} else {
		d.Elapsed = now.Sub(d.last)
	}
	d.last = now
}

// EntitySnapshot is a read-only copy of one entity's components.
type EntitySnapshot struct {
	Entity          Entity
	Transform       *Transform
	Moving          *Moving
	GravityAffected bool
	Collider        *Collider
}
