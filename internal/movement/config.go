package movement

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Garsondee/squad-formation/internal/formation"
)

// ErrInvalidConfig wraps every Config.Validate failure.
var ErrInvalidConfig = errors.New("movement: invalid config")

// Config holds the per-archetype movement knobs. Distances are world units,
// speeds world units per second.
type Config struct {
	// StoppingDistance is the arrival tolerance. InFormation is entered
	// within 1.5× of it, left beyond 2×, and locks within 1×.
	StoppingDistance float64
	// SquadProximityThreshold separates MoveToLeader from MoveToFormation.
	// Falling back to MoveToLeader needs 1.5× of it.
	SquadProximityThreshold float64
	// FormationActivationRadius is how close to the leader a follower must get
	// before it heads for its exact slot.
	FormationActivationRadius float64

	LeaderSpeedMultiplier    float64 // (0, 4]
	FormationSpeedMultiplier float64 // (0, 1]

	PriorityDecay time.Duration

	BaseSpeed float64
	// LeaderMoveThreshold is how far the leader must move before a follower
	// recomputes its approach point.
	LeaderMoveThreshold float64
	// ApproachJitter bounds the random lateral offset used when a follower
	// has no formation offset to approach along.
	ApproachJitter float64
	// RepathThreshold is how far a destination must shift before it is
	// re-sent to the navigation service.
	RepathThreshold float64

	Spacing formation.Spacing
}

// DefaultConfig returns the infantry defaults.
func DefaultConfig() Config {
	return Config{
		StoppingDistance:          0.5,
		SquadProximityThreshold:   8,
		FormationActivationRadius: 5,
		LeaderSpeedMultiplier:     1.5,
		FormationSpeedMultiplier:  0.8,
		PriorityDecay:             3 * time.Second,
		BaseSpeed:                 3.5,
		LeaderMoveThreshold:       0.5,
		ApproachJitter:            1.5,
		RepathThreshold:           0.1,
		Spacing:                   formation.DefaultSpacing(),
	}
}

// Validate checks every knob against its documented range.
func (c Config) Validate() error {
	positive := []struct {
		name string
		v    float64
	}{
		{"stopping distance", c.StoppingDistance},
		{"squad proximity threshold", c.SquadProximityThreshold},
		{"formation activation radius", c.FormationActivationRadius},
		{"base speed", c.BaseSpeed},
		{"leader move threshold", c.LeaderMoveThreshold},
	}
	for _, p := range positive {
		if !(p.v > 0) || math.IsInf(p.v, 0) {
			return fmt.Errorf("%w: %s must be > 0, got %v", ErrInvalidConfig, p.name, p.v)
		}
	}
	if c.ApproachJitter < 0 {
		return fmt.Errorf("%w: approach jitter must be >= 0, got %v", ErrInvalidConfig, c.ApproachJitter)
	}
	if c.RepathThreshold < 0 {
		return fmt.Errorf("%w: repath threshold must be >= 0, got %v", ErrInvalidConfig, c.RepathThreshold)
	}
	if !(c.LeaderSpeedMultiplier > 0 && c.LeaderSpeedMultiplier <= 4) {
		return fmt.Errorf("%w: leader speed multiplier must be in (0, 4], got %v", ErrInvalidConfig, c.LeaderSpeedMultiplier)
	}
	if !(c.FormationSpeedMultiplier > 0 && c.FormationSpeedMultiplier <= 1) {
		return fmt.Errorf("%w: formation speed multiplier must be in (0, 1], got %v", ErrInvalidConfig, c.FormationSpeedMultiplier)
	}
	if c.PriorityDecay <= 0 {
		return fmt.Errorf("%w: priority decay must be > 0, got %v", ErrInvalidConfig, c.PriorityDecay)
	}
	if err := c.Spacing.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
