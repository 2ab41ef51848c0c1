// Package squad is a reference squad director: it owns a formation anchor,
// pushes bindings and leader positions into member units and schedules their
// ticks.
package squad

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Garsondee/squad-formation/internal/command"
	"github.com/Garsondee/squad-formation/internal/formation"
	"github.com/Garsondee/squad-formation/internal/geom"
	"github.com/Garsondee/squad-formation/internal/movement"
)

var (
	// ErrNoMembers is returned when a squad would be left without units.
	ErrNoMembers = errors.New("squad: no members")
	// ErrUnknownMember is returned for unit ids that are not in the squad.
	ErrUnknownMember = errors.New("squad: unknown member")
)

// DefaultMarchSpeed is the anchor speed in world units per second. It sits
// below BaseSpeed*FormationSpeedMultiplier so followers can keep station.
const DefaultMarchSpeed = 2.5

// Squad groups units under one formation anchor. Members are indexed by
// slot; slot 0 leads.
type Squad struct {
	ID        string
	members   []*movement.Unit
	formation formation.Type
	spacing   formation.Spacing
	// fixedSpacing is set by WithSpacing; otherwise spacing tracks the
	// current leader's config.
	fixedSpacing bool
	tightness    float64

	anchor     geom.Vec3
	target     geom.Vec3
	marchSpeed float64
	route      *Route
	elapsed    time.Duration
	ticks      int

	rec movement.Recorder
	log *zap.Logger
}

// Option configures a Squad.
type Option func(*Squad)

// WithFormation sets the initial formation type.
func WithFormation(t formation.Type) Option {
	return func(sq *Squad) { sq.formation = t }
}

// WithSpacing overrides the spacing taken from the leader's config. The
// override survives config changes on the leader.
func WithSpacing(s formation.Spacing) Option {
	return func(sq *Squad) {
		sq.spacing = s
		sq.fixedSpacing = true
	}
}

// WithTightness scales every slot offset. 1 is the nominal spacing.
func WithTightness(f float64) Option {
	return func(sq *Squad) {
		if f > 0 {
			sq.tightness = f
		}
	}
}

// WithMarchSpeed sets the anchor speed.
func WithMarchSpeed(s float64) Option {
	return func(sq *Squad) {
		if s > 0 {
			sq.marchSpeed = s
		}
	}
}

// WithRoute drives the anchor from a compiled route script instead of
// marching toward a target.
func WithRoute(r *Route) Option {
	return func(sq *Squad) { sq.route = r }
}

// WithRecorder receives squad-level events.
func WithRecorder(r movement.Recorder) Option {
	return func(sq *Squad) {
		if r != nil {
			sq.rec = r
		}
	}
}

// WithLogger routes diagnostics to l.
func WithLogger(l *zap.Logger) Option {
	return func(sq *Squad) {
		if l != nil {
			sq.log = l
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(movement.Event) {}

// New forms a squad. members[0] leads; the anchor starts on its position.
func New(id string, members []*movement.Unit, opts ...Option) (*Squad, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: squad %q", ErrNoMembers, id)
	}
	sq := &Squad{
		ID:         id,
		members:    append([]*movement.Unit(nil), members...),
		formation:  formation.Line,
		spacing:    members[0].Config().Spacing,
		tightness:  1,
		marchSpeed: DefaultMarchSpeed,
		rec:        nopRecorder{},
		log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(sq)
	}
	if err := sq.spacing.Validate(); err != nil {
		return nil, fmt.Errorf("squad %q: %w", id, err)
	}
	for i, u := range sq.members {
		if u.Slot() != i || (i == 0) != (u.Role() == movement.Leader) {
			u.Reinitialize(i, i == 0)
		}
	}
	sq.anchor = sq.members[0].Position().Flat()
	sq.target = sq.anchor
	sq.pushBindings()
	return sq, nil
}

// Members returns the units by slot.
func (sq *Squad) Members() []*movement.Unit { return sq.members }

// Leader returns the slot 0 unit.
func (sq *Squad) Leader() *movement.Unit { return sq.members[0] }

// Anchor returns the squad center.
func (sq *Squad) Anchor() geom.Vec3 { return sq.anchor }

// Target returns where the anchor is marching.
func (sq *Squad) Target() geom.Vec3 { return sq.target }

// Formation returns the current formation type.
func (sq *Squad) Formation() formation.Type { return sq.formation }

// Tightness returns the offset scale.
func (sq *Squad) Tightness() float64 { return sq.tightness }

// Offset returns the scaled slot offset for slot.
func (sq *Squad) Offset(slot int) geom.Vec3 {
	return formation.Scale(sq.spacing.Offset(sq.formation, slot), sq.tightness)
}

// Step advances the anchor by dt and pushes the resulting bindings and the
// leader position to every member. It must run before the members tick.
func (sq *Squad) Step(dt time.Duration) {
	sq.ticks++
	sq.elapsed += dt
	sq.refreshSpacing()
	if sq.route != nil {
		p, err := sq.route.At(sq.elapsed)
		if err != nil {
			sq.log.Warn("route script failed, anchor held",
				zap.String("squad", sq.ID),
				zap.Duration("t", sq.elapsed),
				zap.Error(err))
		} else {
			sq.anchor = p
		}
	} else {
		step := sq.marchSpeed * dt.Seconds() * sq.cohesionSlowdown()
		sq.anchor = sq.anchor.MoveToward(sq.target, step)
	}
	sq.pushBindings()
}

// refreshSpacing picks up the leader's spacing after a config reload or a
// change of leader.
func (sq *Squad) refreshSpacing() {
	if sq.fixedSpacing {
		return
	}
	s := sq.members[0].Config().Spacing
	if s == sq.spacing {
		return
	}
	sq.spacing = s
	sq.log.Debug("squad spacing updated from leader",
		zap.String("squad", sq.ID),
		zap.String("leader", sq.members[0].ID()))
}

func (sq *Squad) pushBindings() {
	leader := sq.members[0].Position()
	for i, u := range sq.members {
		// A member holding a stronger order keeps it until it decays.
		if u.Priority() <= command.Normal {
			u.PushFormationBinding(sq.anchor, sq.Offset(i), command.Normal)
		}
		if i > 0 {
			u.PushLeaderPosition(leader)
		}
	}
}

// MoveTo retargets the anchor and pushes dest to every member at p.
// It returns how many members accepted the order.
func (sq *Squad) MoveTo(dest geom.Vec3, p command.Priority) int {
	sq.target = dest.Flat()
	accepted := 0
	for _, u := range sq.members {
		if u.PushDestination(dest, p) {
			accepted++
		}
	}
	sq.event("move", fmt.Sprintf("%s → %s %s", sq.ID, dest, p), float64(accepted))
	return accepted
}

// SetFormation switches the formation and pushes the new offsets at once.
func (sq *Squad) SetFormation(t formation.Type) {
	if t == sq.formation {
		return
	}
	prev := sq.formation
	sq.formation = t
	sq.event("formation", fmt.Sprintf("%s %s → %s", sq.ID, prev, t), float64(t))
	sq.pushBindings()
}

// SetTightness rescales every offset and pushes the result.
func (sq *Squad) SetTightness(f float64) {
	if f <= 0 || f == sq.tightness {
		return
	}
	sq.tightness = f
	sq.pushBindings()
}

// Promote moves the unit with id into slot 0 and the old leader into the
// vacated slot.
func (sq *Squad) Promote(id string) error {
	i := sq.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %q in squad %q", ErrUnknownMember, id, sq.ID)
	}
	if i == 0 {
		return nil
	}
	sq.members[0], sq.members[i] = sq.members[i], sq.members[0]
	sq.members[0].Reinitialize(0, true)
	sq.members[i].Reinitialize(i, false)
	sq.event("promote", fmt.Sprintf("%s %s leads", sq.ID, id), float64(i))
	sq.pushBindings()
	return nil
}

// Remove drops the unit with id, e.g. when it dies, and closes the ranks.
// Removing the leader promotes the next slot. Removing the last member
// fails with ErrNoMembers.
func (sq *Squad) Remove(id string) error {
	i := sq.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %q in squad %q", ErrUnknownMember, id, sq.ID)
	}
	if len(sq.members) == 1 {
		return fmt.Errorf("%w: cannot remove last member %q of %q", ErrNoMembers, id, sq.ID)
	}
	gone := sq.members[i]
	gone.ClearFormationBinding()
	sq.members = append(sq.members[:i], sq.members[i+1:]...)
	for slot := i; slot < len(sq.members); slot++ {
		sq.members[slot].Reinitialize(slot, slot == 0)
	}
	sq.event("remove", fmt.Sprintf("%s %s", sq.ID, id), float64(i))
	sq.pushBindings()
	return nil
}

// Arrived reports whether the anchor reached its target and every member
// has arrived.
func (sq *Squad) Arrived() bool {
	if sq.route == nil && !sq.anchor.Eq(sq.target) {
		return false
	}
	for _, u := range sq.members {
		if !u.HasArrived() {
			return false
		}
	}
	return true
}

// Spread returns how far the most displaced member is from its exact slot.
func (sq *Squad) Spread() float64 {
	worst := 0.0
	for i, u := range sq.members {
		if d := u.Position().DistanceTo(sq.anchor.Add(sq.Offset(i))); d > worst {
			worst = d
		}
	}
	return worst
}

// cohesionSlowdown holds the anchor back while members are far from their
// slots so the squad is not strung out along the march.
func (sq *Squad) cohesionSlowdown() float64 {
	prox := sq.members[0].Config().SquadProximityThreshold
	spread := sq.Spread()
	switch {
	case spread > 3*prox:
		return 0.0
	case spread > 2*prox:
		return 0.3
	case spread > 1.5*prox:
		return 0.6
	default:
		return 1.0
	}
}

func (sq *Squad) indexOf(id string) int {
	for i, u := range sq.members {
		if u.ID() == id {
			return i
		}
	}
	return -1
}

func (sq *Squad) event(key, value string, num float64) {
	sq.rec.Record(movement.Event{
		Tick:     sq.ticks,
		Time:     sq.elapsed,
		Unit:     "--",
		Category: "squad",
		Key:      key,
		Value:    value,
		NumVal:   num,
	})
	sq.log.Debug("squad "+key, zap.String("squad", sq.ID), zap.String("detail", value))
}
