package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Garsondee/squad-formation/internal/command"
	"github.com/Garsondee/squad-formation/internal/formation"
	"github.com/Garsondee/squad-formation/internal/geom"
	"github.com/Garsondee/squad-formation/internal/nav"
	"github.com/Garsondee/squad-formation/internal/squad"
)

// Point is an [x, z] pair on the ground plane.
type Point [2]float64

// Vec3 lifts p to Y=0.
func (p Point) Vec3() geom.Vec3 { return geom.XZ(p[0], p[1]) }

// Scenario describes a headless run: the field, the squads on it and a
// timeline of orders.
type Scenario struct {
	Name      string        `yaml:"name"`
	Seed      int64         `yaml:"seed"`
	Bounds    nav.Rect      `yaml:"bounds"`
	Cell      float64       `yaml:"cell"`
	TimeStep  time.Duration `yaml:"dt"`
	Obstacles []nav.Rect    `yaml:"obstacles"`
	Squads    []SquadSpec   `yaml:"squads"`
	Units     []UnitSpec    `yaml:"units"` // units outside any squad
	Orders    []OrderSpec   `yaml:"orders"`
}

// SquadSpec is one squad. Units are listed in slot order; the first leads.
type SquadSpec struct {
	ID         string     `yaml:"id"`
	Archetype  string     `yaml:"archetype"`
	Formation  string     `yaml:"formation"`
	Tightness  float64    `yaml:"tightness"`
	MarchSpeed float64    `yaml:"march_speed"`
	Route      string     `yaml:"route"`
	Units      []UnitSpec `yaml:"units"`
}

// UnitSpec places one unit.
type UnitSpec struct {
	ID        string `yaml:"id"`
	At        Point  `yaml:"at"`
	Archetype string `yaml:"archetype"` // overrides the squad archetype
}

// OrderSpec is one timeline order.
type OrderSpec struct {
	At        time.Duration `yaml:"at"`
	Kind      string        `yaml:"kind"`
	Squad     string        `yaml:"squad"`
	Unit      string        `yaml:"unit"`
	To        Point         `yaml:"to"`
	Priority  string        `yaml:"priority"`
	Formation string        `yaml:"formation"`
	Value     float64       `yaml:"value"`
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read scenario %s: %w", path, err)
	}
	sc, err := ParseScenario(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario decodes and checks a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("config: unmarshal scenario: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if len(sc.Squads) == 0 && len(sc.Units) == 0 {
		return fmt.Errorf("config: scenario %q has no units", sc.Name)
	}
	squads := map[string]bool{}
	units := map[string]bool{}
	addUnit := func(u UnitSpec) error {
		if u.ID == "" {
			return fmt.Errorf("config: scenario %q: unit without id", sc.Name)
		}
		if units[u.ID] {
			return fmt.Errorf("config: scenario %q: duplicate unit %q", sc.Name, u.ID)
		}
		units[u.ID] = true
		return nil
	}
	for _, s := range sc.Squads {
		if s.ID == "" {
			return fmt.Errorf("config: scenario %q: squad without id", sc.Name)
		}
		if squads[s.ID] {
			return fmt.Errorf("config: scenario %q: duplicate squad %q", sc.Name, s.ID)
		}
		squads[s.ID] = true
		if len(s.Units) == 0 {
			return fmt.Errorf("config: squad %q: %w", s.ID, squad.ErrNoMembers)
		}
		if s.Formation != "" {
			if _, err := formation.ParseType(s.Formation); err != nil {
				return fmt.Errorf("config: squad %q: %w", s.ID, err)
			}
		}
		for _, u := range s.Units {
			if err := addUnit(u); err != nil {
				return err
			}
		}
	}
	for _, u := range sc.Units {
		if err := addUnit(u); err != nil {
			return err
		}
	}
	for i, o := range sc.Orders {
		if _, err := o.toOrder(); err != nil {
			return fmt.Errorf("config: order %d: %w", i, err)
		}
		if o.Squad != "" && !squads[o.Squad] {
			return fmt.Errorf("config: order %d: unknown squad %q", i, o.Squad)
		}
		if o.Unit != "" && !units[o.Unit] {
			return fmt.Errorf("config: order %d: unknown unit %q", i, o.Unit)
		}
	}
	return nil
}

func (o OrderSpec) toOrder() (squad.Order, error) {
	kind, err := squad.ParseOrderKind(o.Kind)
	if err != nil {
		return squad.Order{}, err
	}
	p, err := command.ParsePriority(o.Priority)
	if err != nil {
		return squad.Order{}, err
	}
	out := squad.Order{
		At:       o.At,
		Kind:     kind,
		Squad:    o.Squad,
		Unit:     o.Unit,
		Dest:     o.To.Vec3(),
		Priority: p,
		Value:    o.Value,
	}
	switch kind {
	case squad.OrderFormation:
		t, err := formation.ParseType(o.Formation)
		if err != nil {
			return squad.Order{}, err
		}
		out.Formation = t
	case squad.OrderOverride:
		if o.Unit == "" {
			return squad.Order{}, fmt.Errorf("override needs a unit")
		}
		return out, nil
	case squad.OrderPromote, squad.OrderRemove:
		if o.Unit == "" {
			return squad.Order{}, fmt.Errorf("%s needs a unit", kind)
		}
	case squad.OrderTightness:
		if o.Value <= 0 {
			return squad.Order{}, fmt.Errorf("tightness must be > 0, got %v", o.Value)
		}
	}
	if o.Squad == "" {
		return squad.Order{}, fmt.Errorf("%s needs a squad", kind)
	}
	return out, nil
}

// SimOptions turns the scenario into Sim builder options, resolving
// archetypes and compiling route scripts.
func (sc *Scenario) SimOptions(as Archetypes) ([]squad.SimOption, error) {
	var opts []squad.SimOption
	if sc.Bounds.W > 0 && sc.Bounds.D > 0 {
		opts = append(opts, squad.WithBounds(sc.Bounds))
	}
	if sc.Cell > 0 {
		opts = append(opts, squad.WithCellSize(sc.Cell))
	}
	if sc.TimeStep > 0 {
		opts = append(opts, squad.WithTimeStep(sc.TimeStep))
	}
	if sc.Seed != 0 {
		opts = append(opts, squad.WithSeed(sc.Seed))
	}
	for _, o := range sc.Obstacles {
		opts = append(opts, squad.WithObstacle(o))
	}

	addUnit := func(u UnitSpec, fallback string) error {
		name := u.Archetype
		if name == "" {
			name = fallback
		}
		cfg, err := as.Get(name)
		if err != nil {
			return fmt.Errorf("config: unit %q: %w", u.ID, err)
		}
		opts = append(opts, squad.WithUnitConfig(u.ID, u.At.Vec3(), cfg))
		return nil
	}
	for _, s := range sc.Squads {
		ids := make([]string, 0, len(s.Units))
		for _, u := range s.Units {
			if err := addUnit(u, s.Archetype); err != nil {
				return nil, err
			}
			ids = append(ids, u.ID)
		}
		var sqOpts []squad.Option
		if s.Formation != "" {
			t, err := formation.ParseType(s.Formation)
			if err != nil {
				return nil, fmt.Errorf("config: squad %q: %w", s.ID, err)
			}
			sqOpts = append(sqOpts, squad.WithFormation(t))
		}
		if s.Tightness > 0 {
			sqOpts = append(sqOpts, squad.WithTightness(s.Tightness))
		}
		if s.MarchSpeed > 0 {
			sqOpts = append(sqOpts, squad.WithMarchSpeed(s.MarchSpeed))
		}
		if s.Route != "" {
			r, err := squad.CompileRoute(s.Route)
			if err != nil {
				return nil, fmt.Errorf("config: squad %q: %w", s.ID, err)
			}
			sqOpts = append(sqOpts, squad.WithRoute(r))
		}
		opts = append(opts, squad.WithSquad(s.ID, ids, sqOpts...))
	}
	for _, u := range sc.Units {
		if err := addUnit(u, ""); err != nil {
			return nil, err
		}
	}
	orders := make([]squad.Order, 0, len(sc.Orders))
	for i, o := range sc.Orders {
		ord, err := o.toOrder()
		if err != nil {
			return nil, fmt.Errorf("config: order %d: %w", i, err)
		}
		orders = append(orders, ord)
	}
	if len(orders) > 0 {
		opts = append(opts, squad.WithOrders(orders...))
	}
	return opts, nil
}
