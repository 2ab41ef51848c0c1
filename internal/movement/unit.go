// Package movement is the per-unit movement state machine.
//
// A Unit owns its phase, its standing order, its formation binding and its
// role. An external squad director pushes squad-center, slot-offset and
// leader data in through the binding methods; a scheduler calls Tick once
// per simulation step. Units never talk to each other, so different units
// may tick in parallel as long as the director's pushes for a step finish
// before any unit's Tick for that step starts. A single Unit is not safe for
// concurrent use.
package movement

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/Garsondee/squad-formation/internal/command"
	"github.com/Garsondee/squad-formation/internal/geom"
)

// Binding is the (center, offset) pair that defines a unit's slot.
type Binding struct {
	Center geom.Vec3
	Offset geom.Vec3
	Active bool
}

// ExactPosition is Center+Offset. It is derived on every call and never
// cached, so a center update is visible immediately.
func (b Binding) ExactPosition() geom.Vec3 {
	return b.Center.Add(b.Offset)
}

// Unit is one unit's movement state.
type Unit struct {
	id  string
	cfg Config
	nav Navigator
	rec Recorder
	log *zap.Logger
	rng *rand.Rand

	arbiter *command.Arbiter
	clock   time.Duration
	ticks   int

	slot           int
	explicitLeader bool
	role           Role
	phase          Phase

	order    command.Order
	hasOrder bool
	// direct makes a leader follow its order destination instead of the
	// binding until the next accepted binding push.
	direct bool
	// override is set by OverrideDestination and suspends follower phase
	// logic until the override destination is reached.
	override bool

	binding   Binding
	leaderPos geom.Vec3
	hasLeader bool

	approach     geom.Vec3
	approachFrom geom.Vec3
	approachSet  bool

	locked  bool
	arrived bool
	offMesh bool

	issued    geom.Vec3
	hasIssued bool
	speedMul  float64
}

// Option configures a Unit at construction.
type Option func(*Unit)

// WithRecorder routes unit events to r.
func WithRecorder(r Recorder) Option {
	return func(u *Unit) {
		if r != nil {
			u.rec = r
		}
	}
}

// WithLogger sets the diagnostics logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(u *Unit) {
		if l != nil {
			u.log = l
		}
	}
}

// WithRand sets the source for approach-point jitter.
func WithRand(r *rand.Rand) Option {
	return func(u *Unit) {
		if r != nil {
			u.rng = r
		}
	}
}

// WithExplicitLeader flags the unit as leader regardless of its slot.
func WithExplicitLeader(leader bool) Option {
	return func(u *Unit) { u.explicitLeader = leader }
}

// New creates a unit in DirectMovement at the given squad slot.
func New(id string, slot int, nav Navigator, cfg Config, opts ...Option) (*Unit, error) {
	if nav == nil {
		return nil, fmt.Errorf("movement: unit %s: nil navigator", id)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("unit %s: %w", id, err)
	}
	u := &Unit{
		id:      id,
		cfg:     cfg,
		nav:     nav,
		rec:     nopRecorder{},
		log:     zap.NewNop(),
		rng:     rand.New(rand.NewSource(seedFor(id, slot))), // #nosec G404 -- jitter only
		arbiter: command.NewArbiter(cfg.PriorityDecay),
		slot:    slot,
		phase:   DirectMovement,
	}
	for _, opt := range opts {
		opt(u)
	}
	u.role = ResolveRole(slot, u.explicitLeader)
	u.log = u.log.With(zap.String("unit", id))
	return u, nil
}

func seedFor(id string, slot int) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64()>>1) + int64(slot)
}

// Reinitialize re-resolves the unit's role, e.g. after a leader promotion.
// The unit restarts in DirectMovement; its binding and order are kept.
func (u *Unit) Reinitialize(slot int, explicitLeader bool) {
	prev := u.role
	u.slot = slot
	u.explicitLeader = explicitLeader
	u.role = ResolveRole(slot, explicitLeader)
	u.unlock()
	u.override = false
	u.direct = false
	u.approachSet = false
	u.arrived = false
	u.setPhase(DirectMovement, "reinitialize")
	if prev != u.role {
		u.record("role", "changed", fmt.Sprintf("%s → %s", prev, u.role), float64(slot))
	}
}

// SetConfig swaps in a new archetype config. The standing order survives.
func (u *Unit) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("unit %s: %w", u.id, err)
	}
	u.cfg = cfg
	u.arbiter.SetDecay(cfg.PriorityDecay)
	u.speedMul = 0
	u.hasIssued = false
	return nil
}

// Tick advances the unit by dt of simulation time: priority decay first,
// then one phase evaluation. Nothing in a tick fails; when the navigation
// service cannot place the unit the tick is a no-op.
func (u *Unit) Tick(dt time.Duration) {
	if dt > 0 {
		u.clock += dt
	}
	u.ticks++
	u.arbiter.DecayTick(u.clock)

	if !u.nav.OnNavigableSurface() {
		if !u.offMesh {
			u.offMesh = true
			u.record("nav", "off_mesh", u.nav.Position().String(), 0)
			u.log.Debug("unit off navigable surface, movement suspended",
				zap.Stringer("pos", u.nav.Position()))
		}
		return
	}
	if u.offMesh {
		u.offMesh = false
		u.hasIssued = false
		u.record("nav", "on_mesh", u.nav.Position().String(), 0)
	}
	u.evaluate(true)
}

// evaluate runs at most one phase transition (when transition is set) and
// then drives the navigator for whatever phase the unit ends up in.
func (u *Unit) evaluate(transition bool) {
	if u.role == Leader {
		u.stepLeader()
		return
	}
	u.stepFollower(transition)
}

func (u *Unit) stepLeader() {
	u.setPhase(DirectMovement, "leader")

	var dest geom.Vec3
	switch {
	case u.direct && u.hasOrder:
		dest = u.order.Destination
	case u.binding.Active:
		dest = u.binding.ExactPosition()
	case u.hasOrder:
		dest = u.order.Destination
	default:
		return
	}
	u.steer(dest, 1)
	u.markArrival(u.navArrived())
	if u.arrived && u.override {
		u.override = false
		u.record("command", "override_complete", dest.String(), 0)
	}
}

func (u *Unit) stepFollower(transition bool) {
	if u.override {
		u.setPhase(DirectMovement, "override")
		u.steer(u.order.Destination, 1)
		if u.navArrived() {
			u.markArrival(true)
			u.override = false
			u.record("command", "override_complete", u.order.Destination.String(), 0)
		}
		return
	}

	if !u.binding.Active {
		u.setPhase(DirectMovement, "no_binding")
		if !u.hasOrder {
			return
		}
		u.steer(u.order.Destination, 1)
		u.markArrival(u.navArrived())
		return
	}

	pos := u.nav.Position()
	exact := u.binding.ExactPosition()
	toCenter := pos.DistanceTo(u.binding.Center)
	toExact := pos.DistanceTo(exact)

	if transition {
		u.transition(pos, toCenter, toExact)
	}

	switch u.phase {
	case MoveToLeader:
		u.approachLeader()
	case MoveToFormation:
		u.markArrival(false)
		u.steer(exact, u.cfg.FormationSpeedMultiplier)
	case InFormation:
		u.holdFormation(exact, toExact)
	}
}

// transition applies the follower phase rules. Thresholds are asymmetric:
// MoveToFormation falls back to MoveToLeader only past 1.5× the
// proximity threshold, and InFormation is left only past 2× the stopping
// distance.
func (u *Unit) transition(pos geom.Vec3, toCenter, toExact float64) {
	prox := u.cfg.SquadProximityThreshold
	stop := u.cfg.StoppingDistance

	switch u.phase {
	case DirectMovement:
		if toCenter > prox {
			u.setPhase(MoveToLeader, "far_from_center")
		} else {
			u.setPhase(MoveToFormation, "near_center")
		}
	case MoveToLeader:
		nearLeader := u.hasLeader && pos.DistanceTo(u.leaderPos) <= u.cfg.FormationActivationRadius
		if toCenter <= prox || nearLeader {
			u.setPhase(MoveToFormation, "reached_squad")
		}
	case MoveToFormation:
		if toExact <= stop*1.5 {
			u.setPhase(InFormation, "reached_slot")
		} else if toCenter > prox*1.5 {
			u.setPhase(MoveToLeader, "squad_pulled_away")
		}
	case InFormation:
		if toExact > stop*2 {
			u.setPhase(MoveToFormation, "drifted")
		}
	}
}

func (u *Unit) approachLeader() {
	if !u.approachSet {
		u.approach, u.approachFrom = u.approachPoint()
		u.approachSet = true
		u.markArrival(false)
	}
	u.steer(u.approach, u.cfg.LeaderSpeedMultiplier)
	if u.navArrived() {
		u.markArrival(true)
	}
}

// approachPoint picks a spot near the leader on the side of the unit's slot,
// or a jittered spot when the slot offset gives no direction.
func (u *Unit) approachPoint() (point, leader geom.Vec3) {
	leader = u.binding.Center
	if u.hasLeader {
		leader = u.leaderPos
	}
	dir := u.binding.Offset.Flat().Normalize()
	if !dir.IsZero() {
		return leader.Add(dir.Mul(u.cfg.FormationActivationRadius * 0.8)), leader
	}
	j := u.cfg.ApproachJitter
	jitter := geom.XZ((u.rng.Float64()*2-1)*j, (u.rng.Float64()*2-1)*j)
	return leader.Add(jitter), leader
}

func (u *Unit) holdFormation(exact geom.Vec3, toExact float64) {
	u.markArrival(true)
	if u.locked {
		return
	}
	if toExact <= u.cfg.StoppingDistance {
		u.lock(exact)
		return
	}
	u.steer(exact, u.cfg.FormationSpeedMultiplier)
}

func (u *Unit) lock(exact geom.Vec3) {
	u.nav.Warp(exact)
	u.nav.Stop()
	u.locked = true
	u.issued = exact
	u.hasIssued = true
	u.record("lock", "locked", exact.String(), 0)
}

func (u *Unit) unlock() {
	if !u.locked {
		return
	}
	u.locked = false
	u.hasIssued = false
	u.nav.Resume()
	u.record("lock", "unlocked", "", 0)
}

// steer hands dest to the navigator at BaseSpeed*speedMul. Off the
// navigable surface it does nothing.
func (u *Unit) steer(dest geom.Vec3, speedMul float64) {
	if u.locked || !u.nav.OnNavigableSurface() {
		return
	}
	if speedMul != u.speedMul {
		u.nav.SetSpeed(u.cfg.BaseSpeed * speedMul)
		u.speedMul = speedMul
	}
	if u.hasIssued && u.issued.DistanceTo(dest) <= u.cfg.RepathThreshold {
		return
	}
	u.nav.SetDestination(dest)
	u.issued = dest
	u.hasIssued = true
}

func (u *Unit) navArrived() bool {
	if !u.hasIssued {
		return false
	}
	return !u.nav.PathPending() && u.nav.RemainingDistance() <= u.cfg.StoppingDistance
}

func (u *Unit) markArrival(arrived bool) {
	if arrived && !u.arrived {
		u.record("nav", "arrived", u.phase.String(), u.nav.RemainingDistance())
	}
	u.arrived = arrived
}

func (u *Unit) setPhase(p Phase, reason string) {
	if p == u.phase {
		return
	}
	prev := u.phase
	u.phase = p
	if prev == InFormation {
		u.unlock()
	}
	if p == MoveToLeader || prev == MoveToLeader {
		u.approachSet = false
	}
	if p != InFormation {
		u.arrived = false
	}
	u.record("phase", reason, fmt.Sprintf("%s → %s", prev, p), float64(p))
}

func (u *Unit) record(category, key, value string, num float64) {
	u.rec.Record(Event{
		Tick:     u.ticks,
		Time:     u.clock,
		Unit:     u.id,
		Category: category,
		Key:      key,
		Value:    value,
		NumVal:   num,
	})
}

// ID is the unit's identifier.
func (u *Unit) ID() string { return u.id }

// CurrentPhase is the active movement phase.
func (u *Unit) CurrentPhase() Phase { return u.phase }

// HasArrived reports whether the unit reached what its phase is steering
// for. Squad-level arrival is the conjunction over members.
func (u *Unit) HasArrived() bool { return u.arrived }

// Role is the unit's resolved role.
func (u *Unit) Role() Role { return u.role }

// Slot is the unit's squad slot index.
func (u *Unit) Slot() int { return u.slot }

// Locked reports whether the unit is snapped onto its exact slot.
func (u *Unit) Locked() bool { return u.locked }

// Binding returns the current formation binding.
func (u *Unit) Binding() Binding { return u.binding }

// ExactPosition returns Center+Offset, and false when there is no binding.
func (u *Unit) ExactPosition() (geom.Vec3, bool) {
	return u.binding.ExactPosition(), u.binding.Active
}

// Order returns the standing order, and false if none was ever accepted.
func (u *Unit) Order() (command.Order, bool) { return u.order, u.hasOrder }

// Priority is the arbiter's current priority level.
func (u *Unit) Priority() command.Priority { return u.arbiter.Current() }

// Target is the last destination handed to the navigator.
func (u *Unit) Target() (geom.Vec3, bool) { return u.issued, u.hasIssued }

// Position is the navigator's reported position.
func (u *Unit) Position() geom.Vec3 { return u.nav.Position() }

// Clock is the unit's simulation time.
func (u *Unit) Clock() time.Duration { return u.clock }

// Config returns the active archetype config.
func (u *Unit) Config() Config { return u.cfg }
