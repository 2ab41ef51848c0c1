package nav

import (
	"math"
	"time"

	"github.com/jakecoffman/cp"
	"go.uber.org/zap"

	"github.com/Garsondee/squad-formation/internal/geom"
)

const (
	agentMass   = 1.0
	agentGroup  = 1
	snapRadius  = 4 // cells searched when a destination lands on a blocked cell
	defaultCell = 1.0
)

// World owns the physics space and every agent in it. Planning and
// integration happen in Step, which must not run concurrently with agent
// calls. Agent calls for distinct agents may run concurrently.
type World struct {
	grid   *Grid
	space  *cp.Space
	agents []*Agent
	log    *zap.Logger
	radius float64
	speed  float64
}

// WorldOption configures a World.
type WorldOption func(*World)

// WithLogger routes planner diagnostics to l.
func WithLogger(l *zap.Logger) WorldOption {
	return func(w *World) {
		if l != nil {
			w.log = l
		}
	}
}

// WithAgentRadius sets the collision radius of agents added afterwards.
func WithAgentRadius(r float64) WorldOption {
	return func(w *World) {
		if r > 0 {
			w.radius = r
		}
	}
}

// WithDefaultSpeed sets the cruising speed of new agents.
func WithDefaultSpeed(s float64) WorldOption {
	return func(w *World) {
		if s > 0 {
			w.speed = s
		}
	}
}

// NewWorld builds a physics space over grid. Obstacles become static boxes
// so agents pushed off their path still cannot walk through them.
func NewWorld(grid *Grid, obstacles []Rect, opts ...WorldOption) *World {
	w := &World{
		grid:   grid,
		space:  cp.NewSpace(),
		log:    zap.NewNop(),
		radius: 0.3,
		speed:  3.5,
	}
	for _, o := range opts {
		o(w)
	}
	w.space.SetGravity(cp.Vector{})
	for _, o := range obstacles {
		bb := cp.BB{L: o.X, B: o.Z, R: o.X + o.W, T: o.Z + o.D}
		shape := cp.NewBox2(w.space.StaticBody, bb, 0)
		shape.SetFriction(0)
		w.space.AddShape(shape)
	}
	return w
}

// NewOpenWorld is a convenience for an obstacle-free square field.
func NewOpenWorld(size float64, opts ...WorldOption) *World {
	g, err := NewGrid(Rect{X: -size / 2, Z: -size / 2, W: size, D: size}, defaultCell, nil, 0)
	if err != nil {
		panic(err)
	}
	return NewWorld(g, nil, opts...)
}

// Grid returns the walkability grid.
func (w *World) Grid() *Grid { return w.grid }

// Agents returns agents in insertion order.
func (w *World) Agents() []*Agent { return w.agents }

// AddAgent places a new agent at pos.
func (w *World) AddAgent(id string, pos geom.Vec3) *Agent {
	body := cp.NewBody(agentMass, cp.MomentForCircle(agentMass, 0, w.radius, cp.Vector{}))
	body.SetPosition(cp.Vector{X: pos.X, Y: pos.Z})
	shape := cp.NewCircle(body, w.radius, cp.Vector{})
	shape.SetFriction(0)
	// Agents share a group so only obstacles push them around.
	shape.SetFilter(cp.ShapeFilter{Group: agentGroup, Categories: ^uint(0), Mask: ^uint(0)})
	w.space.AddBody(body)
	w.space.AddShape(shape)

	a := &Agent{
		id:    id,
		world: w,
		body:  body,
		pos:   pos.Flat(),
		speed: w.speed,
	}
	w.agents = append(w.agents, a)
	return a
}

// Step plans pending paths, steers every agent along its path and
// integrates the physics space by dt.
func (w *World) Step(dt time.Duration) {
	sec := dt.Seconds()
	if sec <= 0 {
		return
	}
	for _, a := range w.agents {
		if a.warped {
			a.body.SetPosition(cp.Vector{X: a.pos.X, Y: a.pos.Z})
			a.warped = false
		}
		if a.pending {
			w.plan(a)
		}
		v := a.steer(sec)
		a.body.SetVelocity(v.X, v.Z)
		a.body.SetAngularVelocity(0)
	}
	w.space.Step(sec)
	for _, a := range w.agents {
		p := a.body.Position()
		v := a.body.Velocity()
		a.pos = geom.XZ(p.X, p.Y)
		a.vel = geom.XZ(v.X, v.Y)
		a.trim()
	}
}

func (w *World) plan(a *Agent) {
	a.pending = false
	goal, ok := w.grid.NearestWalkable(a.dest, snapRadius)
	if !ok {
		w.log.Debug("destination unreachable", zap.String("agent", a.id), zap.Stringer("dest", a.dest))
		a.path = nil
		a.reachable = false
		return
	}
	a.goal = goal
	a.reachable = true
	path := w.grid.FindPath(a.pos, goal)
	if path == nil {
		// Off the grid or boxed in: head straight and let the static
		// bodies stop us.
		w.log.Debug("no path, steering direct",
			zap.String("agent", a.id),
			zap.Stringer("from", a.pos),
			zap.Stringer("to", goal))
		path = []geom.Vec3{goal}
	}
	a.path = path
}

// Agent is one navigating body. It implements movement.Navigator.
type Agent struct {
	id    string
	world *World
	body  *cp.Body

	pos   geom.Vec3
	vel   geom.Vec3
	speed float64

	dest      geom.Vec3
	goal      geom.Vec3
	hasDest   bool
	reachable bool // planning found a walkable goal near dest
	pending   bool
	path      []geom.Vec3
	stopped   bool
	warped    bool
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// SetDestination queues a new destination; the path is planned on the next
// World.Step and PathPending reports true until then.
func (a *Agent) SetDestination(pos geom.Vec3) {
	a.dest = pos.Flat()
	a.hasDest = true
	a.reachable = false
	a.pending = true
	a.path = nil
}

// Destination returns the last destination set.
func (a *Agent) Destination() (geom.Vec3, bool) { return a.dest, a.hasDest }

// PathPending reports whether a path is still being computed.
func (a *Agent) PathPending() bool { return a.pending }

// RemainingDistance is the length of the rest of the current path, or the
// straight distance to the planned goal once the path is used up. It is
// +Inf while planning is pending and for a destination with no walkable
// cell nearby, so such an agent never reads as arrived.
func (a *Agent) RemainingDistance() float64 {
	switch {
	case a.pending:
		return math.Inf(1)
	case len(a.path) > 0:
		return PathLength(a.pos, a.path)
	case !a.hasDest:
		return 0
	case !a.reachable:
		return math.Inf(1)
	default:
		return a.pos.DistanceTo(a.goal)
	}
}

// OnNavigableSurface reports whether the agent stands on a walkable cell.
func (a *Agent) OnNavigableSurface() bool {
	return a.world.grid.Walkable(a.pos)
}

// Velocity returns the velocity after the last step, or zero when stopped.
func (a *Agent) Velocity() geom.Vec3 {
	if a.stopped {
		return geom.Vec3{}
	}
	return a.vel
}

// Position returns the current ground position.
func (a *Agent) Position() geom.Vec3 { return a.pos }

// SetSpeed sets the cruising speed in world units per second.
func (a *Agent) SetSpeed(speed float64) {
	if speed > 0 {
		a.speed = speed
	}
}

// Speed returns the cruising speed.
func (a *Agent) Speed() float64 { return a.speed }

// Warp places the agent at pos and drops any path and destination.
func (a *Agent) Warp(pos geom.Vec3) {
	a.pos = pos.Flat()
	a.vel = geom.Vec3{}
	a.path = nil
	a.hasDest = false
	a.reachable = false
	a.pending = false
	a.warped = true
}

// Stop halts the agent in place; its path is kept for Resume.
func (a *Agent) Stop() { a.stopped = true }

// Resume lets a stopped agent continue along its path.
func (a *Agent) Resume() { a.stopped = false }

// Stopped reports whether Stop is in effect.
func (a *Agent) Stopped() bool { return a.stopped }

// Path returns a copy of the remaining waypoints.
func (a *Agent) Path() []geom.Vec3 {
	out := make([]geom.Vec3, len(a.path))
	copy(out, a.path)
	return out
}

// steer returns the velocity that moves the agent toward its next
// waypoint without overshooting it within one step.
func (a *Agent) steer(sec float64) geom.Vec3 {
	if a.stopped || len(a.path) == 0 {
		return geom.Vec3{}
	}
	next := a.path[0]
	d := a.pos.DistanceTo(next)
	if d < geom.Epsilon {
		return geom.Vec3{}
	}
	speed := math.Min(a.speed, d/sec)
	return next.Sub(a.pos).Flat().Mul(speed / d)
}

// trim drops waypoints the agent has reached.
func (a *Agent) trim() {
	reach := a.world.grid.CellSize() * 0.5
	for len(a.path) > 1 && a.pos.DistanceTo(a.path[0]) < reach {
		a.path = a.path[1:]
	}
	if len(a.path) == 1 && a.pos.DistanceTo(a.path[0]) < 1e-3 {
		a.path = nil
	}
}
