package squad

import (
	"github.com/Garsondee/squad-formation/internal/geom"
)

// Snapshot is a lightweight copy of the simulation state at a tick.
type Snapshot struct {
	Tick   int             `json:"tick"`
	Time   float64         `json:"t"`
	Squads []SquadSnapshot `json:"squads"`
	Units  []UnitSnapshot  `json:"units"`
}

// SquadSnapshot is one squad's state.
type SquadSnapshot struct {
	ID        string    `json:"id"`
	Formation string    `json:"formation"`
	Anchor    geom.Vec3 `json:"anchor"`
	Target    geom.Vec3 `json:"target"`
	Arrived   bool      `json:"arrived"`
}

// UnitSnapshot is one unit's state.
type UnitSnapshot struct {
	ID       string     `json:"id"`
	Squad    string     `json:"squad,omitempty"`
	Slot     int        `json:"slot"`
	Role     string     `json:"role"`
	Phase    string     `json:"phase"`
	Priority string     `json:"priority"`
	Position geom.Vec3  `json:"pos"`
	Exact    *geom.Vec3 `json:"exact,omitempty"`
	Target   *geom.Vec3 `json:"target,omitempty"`
	Arrived  bool       `json:"arrived"`
	Locked   bool       `json:"locked"`
}

// Snapshot returns the current state of all squads and units.
func (s *Sim) Snapshot() Snapshot {
	snap := Snapshot{
		Tick: s.CurrentTick(),
		Time: s.Sched.Elapsed().Seconds(),
	}
	squadOf := map[string]string{}
	for _, sq := range s.Squads {
		snap.Squads = append(snap.Squads, SquadSnapshot{
			ID:        sq.ID,
			Formation: sq.Formation().String(),
			Anchor:    sq.Anchor(),
			Target:    sq.Target(),
			Arrived:   sq.Arrived(),
		})
		for _, u := range sq.Members() {
			squadOf[u.ID()] = sq.ID
		}
	}
	for _, u := range s.units {
		us := UnitSnapshot{
			ID:       u.ID(),
			Squad:    squadOf[u.ID()],
			Slot:     u.Slot(),
			Role:     u.Role().String(),
			Phase:    u.CurrentPhase().String(),
			Priority: u.Priority().String(),
			Position: u.Position(),
			Arrived:  u.HasArrived(),
			Locked:   u.Locked(),
		}
		if p, ok := u.ExactPosition(); ok {
			us.Exact = &p
		}
		if p, ok := u.Target(); ok {
			us.Target = &p
		}
		snap.Units = append(snap.Units, us)
	}
	return snap
}
