package movement

import (
	"time"

	"github.com/Garsondee/squad-formation/internal/geom"
)

// Navigator is the path-following service a unit drives. The unit never
// plans paths; it hands over destinations and polls progress. Every method
// must be a cheap synchronous read or write.
type Navigator interface {
	SetDestination(pos geom.Vec3)
	PathPending() bool
	RemainingDistance() float64
	OnNavigableSurface() bool
	Velocity() geom.Vec3
	Position() geom.Vec3
	// SetSpeed sets the cruising speed in world units per second.
	SetSpeed(speed float64)
	// Warp places the agent at pos and drops any path.
	Warp(pos geom.Vec3)
	Stop()
	Resume()
}

// Event is one noteworthy thing a unit did during a tick or a push.
type Event struct {
	Tick     int
	Time     time.Duration
	Unit     string
	Category string // phase, lock, command, nav, binding, role
	Key      string
	Value    string
	NumVal   float64
}

// Recorder receives unit events. Implementations must be safe for
// concurrent use when units tick in parallel.
type Recorder interface {
	Record(Event)
}

type nopRecorder struct{}

func (nopRecorder) Record(Event) {}
