package physics

import "math"

// Vec2 is a lightweight 2D vector in world units (y grows downwards).
type Vec2 struct {
	X float64
	Y float64
}

// Add returns v+o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }

// Sub returns v-o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }

// Scale returns v*s.
func (v Vec2) Scale(s float64) Vec2 { return Vec2{X: v.X * s, Y: v.Y * s} }

// Len returns the Euclidean length.
func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

// Pose is a position plus a rotation in radians.
type Pose struct {
	Position Vec2
	Rotation float64
}

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min Vec2
	Max Vec2
}

// Overlaps reports whether the boxes intersect, touching edges included.
func (b AABB) Overlaps(o AABB) bool {
	return b.Min.X <= o.Max.X && o.Min.X <= b.Max.X && b.Min.Y <= o.Max.Y && o.Min.Y <= b.Max.Y
}

// Loosen grows the box by margin on every side.
func (b AABB) Loosen(margin float64) AABB {
	return AABB{
		Min: Vec2{X: b.Min.X - margin, Y: b.Min.Y - margin},
		Max: Vec2{X: b.Max.X + margin, Y: b.Max.Y + margin},
	}
}

// BoxAABB bounds a box of the given half extents rotated by pose.
func BoxAABB(pose Pose, half Vec2) AABB {
	//1.- Project the rotated half extents onto both axes.
	c := math.Abs(math.Cos(pose.Rotation))
	s := math.Abs(math.Sin(pose.Rotation))
	ext := Vec2{X: half.X*c + half.Y*s, Y: half.X*s + half.Y*c}
	return AABB{Min: pose.Position.Sub(ext), Max: pose.Position.Add(ext)}
}
