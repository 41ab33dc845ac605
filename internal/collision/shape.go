package collision

import "github.com/gobanos/some-platformer/internal/physics"

// Shape describes collision geometry in local space.
type Shape interface {
	// Bounds returns the world-space bounding box at the given pose.
	Bounds(pose physics.Pose) physics.AABB
}

// Cuboid is a box described by its half extents.
type Cuboid struct {
	HalfExtents physics.Vec2
}

// Bounds implements Shape.
func (c Cuboid) Bounds(pose physics.Pose) physics.AABB {
	return physics.BoxAABB(pose, c.HalfExtents)
}
