package squad

import (
	"fmt"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/Garsondee/squad-formation/internal/geom"
)

// Route is a compiled anchor path script. The script reads `t` (seconds
// since the squad started) and assigns the globals `x` and `z`:
//
//	math := import("math")
//	x = 10 * math.cos(t / 4)
//	z = 10 * math.sin(t / 4)
//
// A Route is not safe for concurrent use.
type Route struct {
	src      string
	compiled *tengo.Compiled
}

// CompileRoute compiles src and runs it once at t=0 so scripts that fail at
// run time are rejected at load.
func CompileRoute(src string) (*Route, error) {
	script := tengo.NewScript([]byte(src))
	_ = script.Add("t", 0.0)
	_ = script.Add("x", 0.0)
	_ = script.Add("z", 0.0)
	script.SetImports(stdlib.GetModuleMap(stdlib.AllModuleNames()...))

	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("squad: compile route: %w", err)
	}
	r := &Route{src: src, compiled: compiled}
	if _, err := r.At(0); err != nil {
		return nil, err
	}
	return r, nil
}

// Source returns the script text.
func (r *Route) Source() string { return r.src }

// At evaluates the anchor position at elapsed time t.
func (r *Route) At(t time.Duration) (geom.Vec3, error) {
	if err := r.compiled.Set("t", t.Seconds()); err != nil {
		return geom.Vec3{}, fmt.Errorf("squad: route set t: %w", err)
	}
	if err := r.compiled.Run(); err != nil {
		return geom.Vec3{}, fmt.Errorf("squad: run route at %v: %w", t, err)
	}
	x, z := r.compiled.Get("x"), r.compiled.Get("z")
	if !isNumber(x) || !isNumber(z) {
		return geom.Vec3{}, fmt.Errorf("squad: route at %v: x and z must be numbers, got %s and %s",
			t, x.ValueType(), z.ValueType())
	}
	return geom.XZ(x.Float(), z.Float()), nil
}

func isNumber(v *tengo.Variable) bool {
	switch v.ValueType() {
	case "float", "int":
		return true
	}
	return false
}
