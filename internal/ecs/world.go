// Package ecs stores the simulated entities as component maps and advances
// them through the gravity, movement and collision systems.
package ecs

import (
	"sort"
	"time"

	"github.com/gobanos/some-platformer/internal/collision"
	"github.com/gobanos/some-platformer/internal/physics"
)

// World owns every entity and component. It is not safe for concurrent use;
// only the game loop goroutine touches it.
type World struct {
	gravity   physics.Vec2
	clock     func() time.Time
	delta     DeltaTime
	index     *collision.World
	groups    *collision.Table
	next      Entity
	advances  uint64
	transform map[Entity]*Transform
	moving    map[Entity]*Moving
	gravityOn map[Entity]struct{}
	collider  map[Entity]Collider
	alive     map[Entity]struct{}
}

// NewWorld constructs an empty world. A nil clock uses time.Now and a nil index
// creates one with the default margin.
func NewWorld(gravity physics.Vec2, clock func() time.Time, index *collision.World) *World {
	if clock == nil {
		clock = time.Now
	}
	if index == nil {
		index = collision.NewWorld(collision.DefaultMargin)
	}
	w := &World{
		gravity:   gravity,
		clock:     clock,
		index:     index,
		groups:    collision.NewTable(),
		transform: make(map[Entity]*Transform),
		moving:    make(map[Entity]*Moving),
		gravityOn: make(map[Entity]struct{}),
		collider:  make(map[Entity]Collider),
		alive:     make(map[Entity]struct{}),
	}
	w.delta.update(clock())
	return w
}

// Collision exposes the index so prefabs can register shapes.
func (w *World) Collision() *collision.World { return w.index }

// CollisionGroups returns the shared groups for a collision layer.
func (w *World) CollisionGroups(layer collision.Layer) collision.Groups {
	return w.groups.Groups(layer)
}

// Gravity returns the gravity vector applied by the gravity system.
func (w *World) Gravity() physics.Vec2 { return w.gravity }

// DeltaTime returns the value computed by the last Advance.
func (w *World) DeltaTime() DeltaTime { return w.delta }

// Advances counts completed pipeline runs.
func (w *World) Advances() uint64 { return w.advances }

// Len returns the number of live entities.
func (w *World) Len() int { return len(w.alive) }

// Spawn creates an entity carrying the bundle's components.
func (w *World) Spawn(b Bundle) Entity {
	w.next++
	e := w.next
	w.alive[e] = struct{}{}
	if b.Transform != nil {
		t := *b.Transform
		w.transform[e] = &t
	}
	if b.Moving != nil {
		m := *b.Moving
		w.moving[e] = &m
	}
	if b.GravityAffected {
		w.gravityOn[e] = struct{}{}
	}
	if b.Collider != nil {
		w.collider[e] = *b.Collider
	}
	return e
}

// Despawn removes an entity and its collision object.
func (w *World) Despawn(e Entity) bool {
	if _, ok := w.alive[e]; !ok {
		return false
	}
	if c, ok := w.collider[e]; ok {
		w.index.Remove(c.Handle)
	}
	delete(w.alive, e)
	delete(w.transform, e)
	delete(w.moving, e)
	delete(w.gravityOn, e)
	delete(w.collider, e)
	return true
}

// Transform returns a copy of the entity's transform.
func (w *World) Transform(e Entity) (Transform, bool) {
	t, ok := w.transform[e]
	if !ok {
		return Transform{}, false
	}
	return *t, true
}

// SetTransform replaces the entity's transform if it has one.
func (w *World) SetTransform(e Entity, t Transform) bool {
	current, ok := w.transform[e]
	if !ok {
		return false
	}
	*current = t
	return true
}

// Moving returns a copy of the entity's moving component.
func (w *World) Moving(e Entity) (Moving, bool) {
	m, ok := w.moving[e]
	if !ok {
		return Moving{}, false
	}
	return *m, true
}

// SetVelocity replaces the velocity of a moving entity.
func (w *World) SetVelocity(e Entity, v physics.Vec2) bool {
	m, ok := w.moving[e]
	if !ok {
		return false
	}
	m.Velocity = v
	return true
}

// IsGravityAffected reports whether the entity carries the gravity marker.
func (w *World) IsGravityAffected(e Entity) bool {
	_, ok := w.gravityOn[e]
	return ok
}

// Collider returns the entity's collider.
func (w *World) Collider(e Entity) (Collider, bool) {
	c, ok := w.collider[e]
	return c, ok
}

// Advance refreshes the delta time and runs the systems once in their fixed order.
func (w *World) Advance() {
	w.delta.update(w.clock())
	for _, system := range pipeline {
		system(w)
	}
	w.advances++
}

// Snapshot copies every entity's components ordered by entity.
func (w *World) Snapshot() []EntitySnapshot {
	out := make([]EntitySnapshot, 0, len(w.alive))
	for e := range w.alive {
		snap := EntitySnapshot{Entity: e}
		if t, ok := w.transform[e]; ok {
			copied := *t
			snap.Transform = &copied
		}
		if m, ok := w.moving[e]; ok {
			copied := *m
			snap.Moving = &copied
		}
		_, snap.GravityAffected = w.gravityOn[e]
		if c, ok := w.collider[e]; ok {
			copied := c
			snap.Collider = &copied
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out
}
