package physics

import (
	"math"
	"testing"
)

func TestApplyGravityScalesOnlyVertical(t *testing.T) {
	got := ApplyGravity(Vec2{X: 1, Y: 2}, Vec2{X: 0.5, Y: 10}, 0.25)
	if got.X != 1.5 {
		t.Fatalf("expected horizontal gravity unscaled, got %v", got.X)
	}
	if got.Y != 4.5 {
		t.Fatalf("expected vertical gravity scaled by dt, got %v", got.Y)
	}
}

func TestTranslateIgnoresRotation(t *testing.T) {
	pose := Translate(Pose{Position: Vec2{X: 3, Y: 4}, Rotation: 1}, Vec2{X: -1, Y: 2})
	if pose.Position != (Vec2{X: 2, Y: 6}) || pose.Rotation != 1 {
		t.Fatalf("unexpected pose %+v", pose)
	}
}

func TestWrapAngleStaysInRange(t *testing.T) {
	for _, angle := range []float64{0, math.Pi, -math.Pi, 3 * math.Pi, -7.5, 100} {
		wrapped := WrapAngle(angle)
		if wrapped < -math.Pi || wrapped >= math.Pi {
			t.Fatalf("angle %v wrapped out of range: %v", angle, wrapped)
		}
		if math.Abs(math.Sin(wrapped)-math.Sin(angle)) > 1e-9 {
			t.Fatalf("angle %v changed direction: %v", angle, wrapped)
		}
	}
}

func TestBoxAABBRotated(t *testing.T) {
	box := BoxAABB(Pose{Position: Vec2{X: 10, Y: 10}, Rotation: math.Pi / 2}, Vec2{X: 4, Y: 1})
	//1.- A quarter turn swaps the extents.
	if math.Abs(box.Min.X-9) > 1e-9 || math.Abs(box.Max.Y-14) > 1e-9 {
		t.Fatalf("unexpected box %+v", box)
	}
	if !box.Overlaps(AABB{Min: Vec2{X: 10.5, Y: 13}, Max: Vec2{X: 20, Y: 20}}) {
		t.Fatal("expected overlap")
	}
	if box.Overlaps(AABB{Min: Vec2{X: 11.5, Y: 0}, Max: Vec2{X: 20, Y: 5}}) {
		t.Fatal("expected no overlap")
	}
}
