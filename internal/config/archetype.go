// Package config loads unit archetypes and scenarios from disk and watches
// them for changes.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Garsondee/squad-formation/internal/formation"
	"github.com/Garsondee/squad-formation/internal/movement"
)

// ErrUnknownArchetype is returned when a name is not in the archetype set.
var ErrUnknownArchetype = errors.New("config: unknown archetype")

//go:embed schema/archetypes.schema.json
var archetypeSchema string

// Archetype is one named movement profile as it appears on disk. Fields left
// out of the file keep their DefaultConfig values.
type Archetype struct {
	StoppingDistance          float64           `json:"stoppingDistance"`
	SquadProximityThreshold   float64           `json:"squadProximityThreshold"`
	FormationActivationRadius float64           `json:"formationActivationRadius"`
	LeaderSpeedMultiplier     float64           `json:"leaderSpeedMultiplier"`
	FormationSpeedMultiplier  float64           `json:"formationSpeedMultiplier"`
	PriorityDecaySeconds      float64           `json:"priorityDecaySeconds"`
	BaseSpeed                 float64           `json:"baseSpeed"`
	LeaderMoveThreshold       float64           `json:"leaderMoveThreshold"`
	ApproachJitter            float64           `json:"approachJitter"`
	RepathThreshold           float64           `json:"repathThreshold"`
	Spacing                   formation.Spacing `json:"spacing"`
}

// DefaultArchetype mirrors movement.DefaultConfig.
func DefaultArchetype() Archetype {
	return FromMovementConfig(movement.DefaultConfig())
}

// FromMovementConfig converts a runtime config to its file form.
func FromMovementConfig(c movement.Config) Archetype {
	return Archetype{
		StoppingDistance:          c.StoppingDistance,
		SquadProximityThreshold:   c.SquadProximityThreshold,
		FormationActivationRadius: c.FormationActivationRadius,
		LeaderSpeedMultiplier:     c.LeaderSpeedMultiplier,
		FormationSpeedMultiplier:  c.FormationSpeedMultiplier,
		PriorityDecaySeconds:      c.PriorityDecay.Seconds(),
		BaseSpeed:                 c.BaseSpeed,
		LeaderMoveThreshold:       c.LeaderMoveThreshold,
		ApproachJitter:            c.ApproachJitter,
		RepathThreshold:           c.RepathThreshold,
		Spacing:                   c.Spacing,
	}
}

// ToMovementConfig converts to the runtime config and validates it.
func (a Archetype) ToMovementConfig() (movement.Config, error) {
	c := movement.Config{
		StoppingDistance:          a.StoppingDistance,
		SquadProximityThreshold:   a.SquadProximityThreshold,
		FormationActivationRadius: a.FormationActivationRadius,
		LeaderSpeedMultiplier:     a.LeaderSpeedMultiplier,
		FormationSpeedMultiplier:  a.FormationSpeedMultiplier,
		PriorityDecay:             time.Duration(a.PriorityDecaySeconds * float64(time.Second)),
		BaseSpeed:                 a.BaseSpeed,
		LeaderMoveThreshold:       a.LeaderMoveThreshold,
		ApproachJitter:            a.ApproachJitter,
		RepathThreshold:           a.RepathThreshold,
		Spacing:                   a.Spacing,
	}
	if err := c.Validate(); err != nil {
		return movement.Config{}, err
	}
	return c, nil
}

// Archetypes is a validated set of named movement configs.
type Archetypes map[string]movement.Config

// Get returns the config for name. An empty name yields DefaultConfig.
func (as Archetypes) Get(name string) (movement.Config, error) {
	if name == "" {
		return movement.DefaultConfig(), nil
	}
	c, ok := as[name]
	if !ok {
		return movement.Config{}, fmt.Errorf("%w: %q", ErrUnknownArchetype, name)
	}
	return c, nil
}

// Names returns archetype names sorted.
func (as Archetypes) Names() []string {
	names := make([]string, 0, len(as))
	for n := range as {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func compileArchetypeSchema() (*jsonschema.Schema, error) {
	sch, err := jsonschema.CompileString("archetypes.schema.json", archetypeSchema)
	if err != nil {
		return nil, fmt.Errorf("config: compile archetype schema: %w", err)
	}
	return sch, nil
}

// LoadArchetypes reads and validates an archetype file.
func LoadArchetypes(path string) (Archetypes, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read archetypes %s: %w", path, err)
	}
	as, err := ParseArchetypes(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return as, nil
}

// ParseArchetypes validates data against the archetype schema, then decodes
// each archetype over the defaults.
func ParseArchetypes(data []byte) (Archetypes, error) {
	sch, err := compileArchetypeSchema()
	if err != nil {
		return nil, err
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("config: decode archetypes json: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return nil, fmt.Errorf("config: archetype validation failed: %w", err)
	}

	var doc struct {
		Archetypes map[string]json.RawMessage `json:"archetypes"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: unmarshal archetypes: %w", err)
	}
	out := make(Archetypes, len(doc.Archetypes))
	for name, raw := range doc.Archetypes {
		a := DefaultArchetype()
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("config: archetype %q: %w", name, err)
		}
		c, err := a.ToMovementConfig()
		if err != nil {
			return nil, fmt.Errorf("config: archetype %q: %w", name, err)
		}
		out[name] = c
	}
	return out, nil
}
