package ecs

import (
	"github.com/gobanos/some-platformer/internal/collision"
	"github.com/gobanos/some-platformer/internal/physics"
)

// DefaultEntitySize is the width and height of the stock player and block.
var DefaultEntitySize = physics.Vec2{X: 32, Y: 32}

// SpawnPlayer adds a gravity-affected, colliding player at position.
func SpawnPlayer(w *World, position physics.Vec2) Entity {
	return spawnSolid(w, position, true)
}

// SpawnTestBlock adds a static colliding block at position.
func SpawnTestBlock(w *World, position physics.Vec2) Entity {
	return spawnSolid(w, position, false)
}

// SpawnGround adds a purely visual tile without a collider.
func SpawnGround(w *World, position, size physics.Vec2) Entity {
	return w.Spawn(Bundle{Transform: &Transform{Position: position, Size: size}})
}

func spawnSolid(w *World, position physics.Vec2, dynamic bool) Entity {
	transform := Transform{Position: position, Size: DefaultEntitySize}
	//1.- Register the shape first so the collider handle exists before the entity.
	handle := w.Collision().Add(
		collision.Cuboid{HalfExtents: DefaultEntitySize},
		transform.Pose(),
		w.CollisionGroups(collision.LayerNormal),
	)
	bundle := Bundle{Transform: &transform, Collider: &Collider{Handle: handle}}
	if dynamic {
		bundle.Moving = &Moving{}
		bundle.GravityAffected = true
	}
	return w.Spawn(bundle)
}

// Level lists the entities created by SeedLevel.
type Level struct {
	Player Entity
	Block  Entity
	Ground Entity
}

// SeedLevel populates the stock level: a player above a test block plus one ground tile.
func SeedLevel(w *World) Level {
	return Level{
		Player: SpawnPlayer(w, physics.Vec2{X: 100, Y: 100}),
		Block:  SpawnTestBlock(w, physics.Vec2{X: 100, Y: 400}),
		Ground: SpawnGround(w, physics.Vec2{}, DefaultEntitySize),
	}
}
