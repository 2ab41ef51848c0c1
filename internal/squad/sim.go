package squad

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Garsondee/squad-formation/internal/command"
	"github.com/Garsondee/squad-formation/internal/formation"
	"github.com/Garsondee/squad-formation/internal/geom"
	"github.com/Garsondee/squad-formation/internal/movement"
	"github.com/Garsondee/squad-formation/internal/nav"
	"github.com/Garsondee/squad-formation/internal/simlog"
)

// DefaultTimeStep is the tick length used when none is configured.
const DefaultTimeStep = 50 * time.Millisecond

// Sim is a headless simulation: a navigation world, units, squads and a
// scheduler, plus a timeline of orders applied as simulated time passes.
type Sim struct {
	Bounds nav.Rect
	World  *nav.World
	Log    *simlog.Log
	Sched  *Scheduler
	Squads []*Squad

	obstacles []nav.Rect
	cell      float64
	radius    float64
	cfg       movement.Config
	seed      int64
	workers   int
	dt        time.Duration
	logger    *zap.Logger

	units  []*movement.Unit
	byID   map[string]*movement.Unit
	agents map[string]*nav.Agent
	orders []Order
	next   int
	err    error
}

// simOptionKind controls the pass in which an option is applied.
type simOptionKind int

const (
	simOptInfra simOptionKind = iota // bounds, obstacles, seed, config: applied first
	simOptUnit                       // add units: applied after the world is built
	simOptSquad                      // form squads: applied after units exist
)

// SimOption is a builder function applied to a Sim during construction.
type SimOption struct {
	kind simOptionKind
	fn   func(*Sim)
}

// WithBounds sets the playfield.
func WithBounds(r nav.Rect) SimOption {
	return SimOption{simOptInfra, func(s *Sim) { s.Bounds = r }}
}

// WithObstacle adds a blocked rectangle.
func WithObstacle(r nav.Rect) SimOption {
	return SimOption{simOptInfra, func(s *Sim) { s.obstacles = append(s.obstacles, r) }}
}

// WithCellSize sets the navigation grid resolution.
func WithCellSize(c float64) SimOption {
	return SimOption{simOptInfra, func(s *Sim) { s.cell = c }}
}

// WithSeed sets the base seed for per-unit jitter.
func WithSeed(seed int64) SimOption {
	return SimOption{simOptInfra, func(s *Sim) { s.seed = seed }}
}

// WithVerbose enables per-tick verbose logging.
func WithVerbose(v bool) SimOption {
	return SimOption{simOptInfra, func(s *Sim) { s.Log = simlog.New(v) }}
}

// WithLog records into an existing log.
func WithLog(l *simlog.Log) SimOption {
	return SimOption{simOptInfra, func(s *Sim) {
		if l != nil {
			s.Log = l
		}
	}}
}

// WithConfig sets the movement config for units added without one.
func WithConfig(cfg movement.Config) SimOption {
	return SimOption{simOptInfra, func(s *Sim) { s.cfg = cfg }}
}

// WithWorkers bounds the number of units ticking at once.
func WithWorkers(n int) SimOption {
	return SimOption{simOptInfra, func(s *Sim) { s.workers = n }}
}

// WithTimeStep sets the tick length.
func WithTimeStep(dt time.Duration) SimOption {
	return SimOption{simOptInfra, func(s *Sim) {
		if dt > 0 {
			s.dt = dt
		}
	}}
}

// WithSimLogger routes diagnostics from every component to l.
func WithSimLogger(l *zap.Logger) SimOption {
	return SimOption{simOptInfra, func(s *Sim) {
		if l != nil {
			s.logger = l
		}
	}}
}

// WithOrders schedules orders on the timeline.
func WithOrders(orders ...Order) SimOption {
	return SimOption{simOptInfra, func(s *Sim) { s.orders = append(s.orders, orders...) }}
}

// WithUnit adds a unit at pos using the sim-wide config.
func WithUnit(id string, pos geom.Vec3) SimOption {
	return SimOption{simOptUnit, func(s *Sim) { s.addUnit(id, pos, s.cfg) }}
}

// WithUnitConfig adds a unit at pos with its own archetype config.
func WithUnitConfig(id string, pos geom.Vec3, cfg movement.Config) SimOption {
	return SimOption{simOptUnit, func(s *Sim) { s.addUnit(id, pos, cfg) }}
}

// WithSquad groups existing units (by id, in slot order) into a squad.
func WithSquad(id string, unitIDs []string, opts ...Option) SimOption {
	return SimOption{simOptSquad, func(s *Sim) { s.formSquad(id, unitIDs, opts) }}
}

// NewSim constructs a Sim from the given options in three ordered passes:
//  1. Infrastructure (bounds, obstacles, seed, config)
//  2. Build the navigation world
//  3. Units
//  4. Squads
func NewSim(opts ...SimOption) (*Sim, error) {
	s := &Sim{
		Bounds: nav.Rect{X: -50, Z: -50, W: 100, D: 100},
		Log:    simlog.New(false),
		cell:   0.5,
		radius: 0.3,
		cfg:    movement.DefaultConfig(),
		seed:   1,
		dt:     DefaultTimeStep,
		logger: zap.NewNop(),
		byID:   map[string]*movement.Unit{},
		agents: map[string]*nav.Agent{},
	}
	for _, o := range opts {
		if o.kind == simOptInfra {
			o.fn(s)
		}
	}
	grid, err := nav.NewGrid(s.Bounds, s.cell, s.obstacles, s.radius)
	if err != nil {
		return nil, err
	}
	s.World = nav.NewWorld(grid, s.obstacles,
		nav.WithLogger(s.logger.Named("nav")),
		nav.WithAgentRadius(s.radius))
	s.Sched = NewScheduler(s.World, s.workers)

	for _, o := range opts {
		if o.kind == simOptUnit {
			o.fn(s)
		}
	}
	for _, o := range opts {
		if o.kind == simOptSquad {
			o.fn(s)
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	inSquad := map[string]bool{}
	for _, sq := range s.Squads {
		s.Sched.AddSquad(sq)
		for _, u := range sq.Members() {
			inSquad[u.ID()] = true
		}
	}
	for _, u := range s.units {
		if !inSquad[u.ID()] {
			s.Sched.AddUnit(u)
		}
	}
	sort.SliceStable(s.orders, func(i, j int) bool { return s.orders[i].At < s.orders[j].At })
	return s, nil
}

func (s *Sim) addUnit(id string, pos geom.Vec3, cfg movement.Config) {
	if s.err != nil {
		return
	}
	if _, dup := s.byID[id]; dup {
		s.err = fmt.Errorf("squad: duplicate unit %q", id)
		return
	}
	agent := s.World.AddAgent(id, pos)
	agent.SetSpeed(cfg.BaseSpeed)
	rng := rand.New(rand.NewSource(s.seed + int64(len(s.units)))) // #nosec G404 -- jitter only
	u, err := movement.New(id, 0, agent, cfg,
		movement.WithRecorder(s.Log),
		movement.WithLogger(s.logger.Named("unit")),
		movement.WithRand(rng))
	if err != nil {
		s.err = err
		return
	}
	s.units = append(s.units, u)
	s.byID[id] = u
	s.agents[id] = agent
}

func (s *Sim) formSquad(id string, ids []string, opts []Option) {
	if s.err != nil {
		return
	}
	members := make([]*movement.Unit, 0, len(ids))
	for _, uid := range ids {
		u, ok := s.byID[uid]
		if !ok {
			s.err = fmt.Errorf("%w: %q in squad %q", ErrUnknownMember, uid, id)
			return
		}
		members = append(members, u)
	}
	opts = append([]Option{WithRecorder(s.Log), WithLogger(s.logger.Named("squad"))}, opts...)
	sq, err := New(id, members, opts...)
	if err != nil {
		s.err = err
		return
	}
	s.Squads = append(s.Squads, sq)
}

// Unit returns the unit with id.
func (s *Sim) Unit(id string) (*movement.Unit, bool) {
	u, ok := s.byID[id]
	return u, ok
}

// Agent returns the navigation agent of unit id.
func (s *Sim) Agent(id string) (*nav.Agent, bool) {
	a, ok := s.agents[id]
	return a, ok
}

// Squad returns the squad with id.
func (s *Sim) Squad(id string) (*Squad, bool) {
	for _, sq := range s.Squads {
		if sq.ID == id {
			return sq, true
		}
	}
	return nil, false
}

// Units returns every unit in insertion order.
func (s *Sim) Units() []*movement.Unit { return s.units }

// TimeStep returns the tick length.
func (s *Sim) TimeStep() time.Duration { return s.dt }

// CurrentTick returns the number of completed ticks.
func (s *Sim) CurrentTick() int { return s.Sched.Ticks() }

// Step applies due orders and runs one tick.
func (s *Sim) Step(ctx context.Context) error {
	now := s.Sched.Elapsed()
	for s.next < len(s.orders) && s.orders[s.next].At <= now {
		o := s.orders[s.next]
		s.next++
		if err := s.Apply(o); err != nil {
			s.logger.Warn("order failed", zap.Stringer("order", o), zap.Error(err))
			s.Log.Add(s.CurrentTick(), "--", "squad", "order_failed", err.Error(), 0)
		}
	}
	return s.Sched.Tick(ctx, s.dt)
}

// RunTicks advances the simulation n ticks.
func (s *Sim) RunTicks(n int) {
	for i := 0; i < n; i++ {
		_ = s.Step(context.Background())
	}
}

// RunUntil advances the simulation up to maxTicks, stopping early if predicate
// returns true. Returns the tick at which the predicate was satisfied, or -1.
func (s *Sim) RunUntil(predicate func(*Sim) bool, maxTicks int) int {
	for i := 0; i < maxTicks; i++ {
		_ = s.Step(context.Background())
		if predicate(s) {
			return s.CurrentTick()
		}
	}
	return -1
}

// Arrived reports whether every squad has arrived.
func (s *Sim) Arrived() bool {
	for _, sq := range s.Squads {
		if !sq.Arrived() {
			return false
		}
	}
	return true
}

// OrderKind names a timeline order.
type OrderKind int

const (
	OrderMove OrderKind = iota
	OrderFormation
	OrderOverride
	OrderPromote
	OrderRemove
	OrderTightness
)

var orderKindNames = [...]string{"move", "formation", "override", "promote", "remove", "tightness"}

// ErrUnknownOrder is returned for order kinds that do not parse.
var ErrUnknownOrder = errors.New("squad: unknown order kind")

func (k OrderKind) String() string {
	if k < 0 || int(k) >= len(orderKindNames) {
		return "unknown"
	}
	return orderKindNames[k]
}

// ParseOrderKind is the inverse of OrderKind.String.
func ParseOrderKind(s string) (OrderKind, error) {
	for i, n := range orderKindNames {
		if n == s {
			return OrderKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOrder, s)
}

// Order is one timeline entry.
type Order struct {
	At        time.Duration
	Kind      OrderKind
	Squad     string
	Unit      string
	Dest      geom.Vec3
	Priority  command.Priority
	Formation formation.Type
	Value     float64
}

func (o Order) String() string {
	return fmt.Sprintf("%s@%v squad=%s unit=%s", o.Kind, o.At, o.Squad, o.Unit)
}

// Apply executes o now.
func (s *Sim) Apply(o Order) error {
	if o.Kind == OrderOverride {
		u, ok := s.byID[o.Unit]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownMember, o.Unit)
		}
		u.OverrideDestination(o.Dest)
		return nil
	}
	sq, ok := s.Squad(o.Squad)
	if !ok {
		return fmt.Errorf("squad: unknown squad %q", o.Squad)
	}
	switch o.Kind {
	case OrderMove:
		sq.MoveTo(o.Dest, o.Priority)
	case OrderFormation:
		sq.SetFormation(o.Formation)
	case OrderPromote:
		return sq.Promote(o.Unit)
	case OrderRemove:
		return sq.Remove(o.Unit)
	case OrderTightness:
		sq.SetTightness(o.Value)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownOrder, o.Kind)
	}
	return nil
}
