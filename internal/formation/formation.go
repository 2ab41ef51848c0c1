// Package formation maps (formation type, slot index) to a local offset from
// the squad center. Everything here is pure: no state, no randomness.
package formation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Garsondee/squad-formation/internal/geom"
)

// Type identifies the shape of a squad formation.
type Type int

const (
	Line    Type = iota // side-by-side along +X
	Column              // single file along +Z
	Phalanx             // square-ish grid, rows grow with squad size
	Testudo             // phalanx grid packed tighter
	Circle              // concentric rings around the center
)

// ErrUnknownType is returned by ParseType for names it does not recognise.
var ErrUnknownType = errors.New("formation: unknown type")

var typeNames = [...]string{
	Line:    "line",
	Column:  "column",
	Phalanx: "phalanx",
	Testudo: "testudo",
	Circle:  "circle",
}

// Types lists every supported formation in declaration order.
func Types() []Type {
	return []Type{Line, Column, Phalanx, Testudo, Circle}
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "unknown"
	}
	return typeNames[t]
}

// ParseType accepts the lower-case names printed by String.
func ParseType(s string) (Type, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range typeNames {
		if n == name {
			return Type(i), nil
		}
	}
	return Line, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// MarshalText lets Type appear by name in JSON and YAML documents.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Spacing carries the per-archetype spacing knobs. Distances are world units.
type Spacing struct {
	Line    float64 `json:"line" yaml:"line"`
	Column  float64 `json:"column" yaml:"column"`
	Phalanx float64 `json:"phalanx" yaml:"phalanx"`
	Testudo float64 `json:"testudo" yaml:"testudo"`

	// CircleRadius is the radius of the innermost ring; ring k sits at
	// CircleRadius*(k+1).
	CircleRadius float64 `json:"circleRadius" yaml:"circle_radius"`
	// RingCapacity is how many slots the innermost ring holds; ring k holds
	// RingCapacity*(k+1) so outer rings keep roughly the same arc spacing.
	RingCapacity int `json:"ringCapacity" yaml:"ring_capacity"`
}

// DefaultSpacing returns the spacing used when an archetype leaves it unset.
func DefaultSpacing() Spacing {
	return Spacing{
		Line:         1.5,
		Column:       1.5,
		Phalanx:      2.0,
		Testudo:      1.0,
		CircleRadius: 3.0,
		RingCapacity: 8,
	}
}

// Validate reports the first knob outside its range.
func (s Spacing) Validate() error {
	knobs := []struct {
		name string
		v    float64
	}{
		{"line", s.Line},
		{"column", s.Column},
		{"phalanx", s.Phalanx},
		{"testudo", s.Testudo},
		{"circle radius", s.CircleRadius},
	}
	for _, k := range knobs {
		if !(k.v > 0) || math.IsInf(k.v, 0) {
			return fmt.Errorf("formation: %s spacing must be > 0, got %v", k.name, k.v)
		}
	}
	if s.RingCapacity < 1 {
		return fmt.Errorf("formation: ring capacity must be >= 1, got %d", s.RingCapacity)
	}
	return nil
}

// ComputeOffset returns the offset for slot using DefaultSpacing.
func ComputeOffset(t Type, slot int) geom.Vec3 {
	return DefaultSpacing().Offset(t, slot)
}

// Offset returns the local offset of slot relative to the squad center.
// Negative slots are treated as slot 0. Unknown types fall back to Line.
func (s Spacing) Offset(t Type, slot int) geom.Vec3 {
	if slot < 0 {
		slot = 0
	}
	switch t {
	case Column:
		return geom.XZ(0, float64(slot)*s.Column)
	case Phalanx:
		return gridOffset(slot, s.Phalanx)
	case Testudo:
		return gridOffset(slot, s.Testudo)
	case Circle:
		return ringOffset(slot, s.CircleRadius, s.RingCapacity)
	default:
		return geom.XZ(float64(slot)*s.Line, 0)
	}
}

// Offsets returns the offsets for slots 0..count-1.
func (s Spacing) Offsets(t Type, count int) []geom.Vec3 {
	if count <= 0 {
		return nil
	}
	out := make([]geom.Vec3, count)
	for i := range out {
		out[i] = s.Offset(t, i)
	}
	return out
}

// Scale multiplies an offset by tightness. A tightness below 1 pulls the
// slot toward the center; zero collapses it onto the center.
func Scale(offset geom.Vec3, tightness float64) geom.Vec3 {
	return offset.Mul(tightness)
}

// gridOffset fills the grid in square shells. Shell k holds slots k² to
// (k+1)²-1: first column k for rows 0..k, then row k for columns 0..k-1.
// The first n slots always fit a ceil(sqrt(n)) wide square and no two slots
// share a cell.
func gridOffset(slot int, spacing float64) geom.Vec3 {
	k := int(math.Sqrt(float64(slot)))
	for k*k > slot {
		k--
	}
	for (k+1)*(k+1) <= slot {
		k++
	}
	r := slot - k*k
	col, row := k, r
	if r > k {
		col, row = r-k-1, k
	}
	return geom.XZ(float64(col)*spacing, float64(row)*spacing)
}

// ringOffset places slot on the first ring with room for it. Ring k holds
// capacity*(k+1) slots, so slots never share an angle.
func ringOffset(slot int, radius float64, capacity int) geom.Vec3 {
	if capacity < 1 {
		capacity = 1
	}
	ring := 0
	first := 0
	for {
		size := capacity * (ring + 1)
		if slot < first+size {
			step := slot - first
			angle := float64(step) * 2 * math.Pi / float64(size)
			r := radius * float64(ring+1)
			return geom.XZ(math.Cos(angle)*r, math.Sin(angle)*r)
		}
		first += size
		ring++
	}
}

// RingOf returns the 0-based ring index that holds slot in a Circle formation.
func (s Spacing) RingOf(slot int) int {
	if slot < 0 {
		slot = 0
	}
	capacity := s.RingCapacity
	if capacity < 1 {
		capacity = 1
	}
	ring, first := 0, 0
	for slot >= first+capacity*(ring+1) {
		first += capacity * (ring + 1)
		ring++
	}
	return ring
}
