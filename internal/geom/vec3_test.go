package geom

import (
	"math"
	"testing"
)

func TestVec3_Arithmetic(t *testing.T) {
	a := V(1, 2, 3)
	b := V(3, 4, 5)

	tests := []struct {
		name string
		got  Vec3
		want Vec3
	}{
		{"Add", a.Add(b), V(4, 6, 8)},
		{"Sub", a.Sub(b), V(-2, -2, -2)},
		{"Mul", a.Mul(2), V(2, 4, 6)},
		{"Flat", a.Flat(), V(1, 0, 3)},
		{"Lerp half", a.Lerp(b, 0.5), V(2, 3, 4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.got.Eq(tt.want) {
				t.Errorf("got %v; want %v", tt.got, tt.want)
			}
		})
	}
}

func TestVec3_DistanceIgnoresHeight(t *testing.T) {
	a := V(0, 10, 0)
	b := V(3, -5, 4)
	if d := a.DistanceTo(b); math.Abs(d-5) > Epsilon {
		t.Fatalf("expected ground distance 5, got %.6f", d)
	}
}

func TestVec3_NormalizeZero(t *testing.T) {
	if got := (Vec3{}).Normalize(); !got.IsZero() {
		t.Fatalf("normalizing the zero vector should stay zero, got %v", got)
	}
	n := XZ(3, 4).Normalize()
	if math.Abs(n.Len()-1) > 1e-12 {
		t.Fatalf("expected unit length, got %.6f", n.Len())
	}
}

func TestVec3_MoveToward(t *testing.T) {
	start := XZ(0, 0)
	target := XZ(10, 0)

	step := start.MoveToward(target, 4)
	if !step.Eq(XZ(4, 0)) {
		t.Fatalf("expected (4,0,0), got %v", step)
	}
	arrive := start.MoveToward(target, 20)
	if !arrive.Eq(target) {
		t.Fatalf("a long step should land on the target, got %v", arrive)
	}
}

func TestVec3_String(t *testing.T) {
	if got := V(1.234, 0, 5.678).String(); got != "(1.23, 0.00, 5.68)" {
		t.Fatalf("unexpected String(): %q", got)
	}
}
