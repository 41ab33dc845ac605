package physics

import "math"

// ApplyGravity adds gravity to a velocity. The vertical component is scaled by
// dt while the horizontal component is applied as a flat per-tick step.
func ApplyGravity(velocity, gravity Vec2, dt float64) Vec2 {
	velocity.X += gravity.X
	velocity.Y += gravity.Y * dt
	return velocity
}

// Translate moves a pose by one tick's worth of velocity, unscaled by time.
func Translate(pose Pose, velocity Vec2) Pose {
	pose.Position = pose.Position.Add(velocity)
	return pose
}

// WrapAngle normalizes an angle to the [-pi, pi) range.
func WrapAngle(angle float64) float64 {
	//1.- Use math.Mod to keep values bounded across many integration steps.
	wrapped := math.Mod(angle+math.Pi, 2*math.Pi)
	if wrapped < 0 {
		wrapped += 2 * math.Pi
	}
	return wrapped - math.Pi
}
