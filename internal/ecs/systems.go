package ecs

import "github.com/gobanos/some-platformer/internal/physics"

type system func(*World)

// pipeline runs in order every Advance.
var pipeline = []system{gravitySystem, movementSystem, collisionSystem}

// gravitySystem accelerates entities that are both moving and gravity affected.
func gravitySystem(w *World) {
	dt := w.delta.Seconds()
	for e := range w.gravityOn {
		m, ok := w.moving[e]
		if !ok {
			continue
		}
		m.Velocity = physics.ApplyGravity(m.Velocity, w.gravity, dt)
	}
}

// movementSystem applies each velocity to its transform once per tick.
func movementSystem(w *World) {
	for e, m := range w.moving {
		t, ok := w.transform[e]
		if !ok {
			continue
		}
		pose := physics.Translate(t.Pose(), m.Velocity)
		t.Position = pose.Position
	}
}

// collisionSystem pushes every collider pose into the index, then updates it once.
func collisionSystem(w *World) {
	for e, c := range w.collider {
		t, ok := w.transform[e]
		if !ok {
			continue
		}
		// Despawn removes both sides together so the handle is always live.
		_ = w.index.SetPose(c.Handle, t.Pose())
	}
	w.index.Update()
}
