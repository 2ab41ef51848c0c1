// Package geom holds the world-space vector type shared by the movement core.
//
// The simulation plane is X/Z; Y is kept so positions can round-trip through
// hosts that work in full 3D, but the core never reads it for distances.
package geom

import (
	"fmt"
	"math"
)

// Epsilon is the tolerance used by Eq and by Normalize's zero check.
const Epsilon = 1e-9

// Vec3 is a world position or a local offset.
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// V is shorthand for Vec3{X: x, Y: y, Z: z}.
func V(x, y, z float64) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

// XZ builds a ground-plane vector.
func XZ(x, z float64) Vec3 {
	return Vec3{X: x, Z: z}
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", v.X, v.Y, v.Z)
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Mul scales the vector by s.
func (v Vec3) Mul(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// LenSqr avoids the square root; use it for comparisons.
func (v Vec3) LenSqr() float64 {
	return v.Dot(v)
}

func (v Vec3) Len() float64 {
	return math.Sqrt(v.LenSqr())
}

// Normalize returns the unit vector, or the zero vector when v is
// effectively zero.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l < Epsilon {
		return Vec3{}
	}
	return v.Mul(1 / l)
}

// DistanceTo is the ground-plane (X/Z) distance between two points.
func (v Vec3) DistanceTo(o Vec3) float64 {
	return math.Hypot(v.X-o.X, v.Z-o.Z)
}

// Flat drops the Y component.
func (v Vec3) Flat() Vec3 {
	return Vec3{X: v.X, Z: v.Z}
}

// IsZero reports whether every component is within Epsilon of zero.
func (v Vec3) IsZero() bool {
	return v.Eq(Vec3{})
}

// Eq compares component-wise with Epsilon tolerance.
func (v Vec3) Eq(o Vec3) bool {
	return math.Abs(v.X-o.X) <= Epsilon &&
		math.Abs(v.Y-o.Y) <= Epsilon &&
		math.Abs(v.Z-o.Z) <= Epsilon
}

// Lerp moves from v toward target by fraction t in [0, 1].
func (v Vec3) Lerp(target Vec3, t float64) Vec3 {
	return v.Add(target.Sub(v).Mul(t))
}

// MoveToward steps from v toward target by at most maxStep on the ground
// plane, never overshooting.
func (v Vec3) MoveToward(target Vec3, maxStep float64) Vec3 {
	d := v.DistanceTo(target)
	if d <= maxStep || d < Epsilon {
		return Vec3{X: target.X, Y: v.Y, Z: target.Z}
	}
	dir := target.Sub(v).Flat().Mul(1 / d)
	return v.Add(dir.Mul(maxStep))
}
