package simlog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Garsondee/squad-formation/internal/movement"
)

// UnitStats aggregates one unit's events.
type UnitStats struct {
	Unit              string
	Transitions       int
	Rejected          int
	Locks             int
	FirstInFormation  int // tick, or -1 if never reached
	FinalPhase        movement.Phase
	OffMeshIncidents  int
	OverridesFinished int
}

// Summary is a per-unit digest of a run.
type Summary struct {
	Units []UnitStats
}

// Summarize digests the log per unit, sorted by unit id.
func (l *Log) Summarize() Summary {
	byUnit := map[string]*UnitStats{}
	get := func(id string) *UnitStats {
		s, ok := byUnit[id]
		if !ok {
			s = &UnitStats{Unit: id, FirstInFormation: -1}
			byUnit[id] = s
		}
		return s
	}
	for _, e := range l.Entries() {
		if e.Unit == "" || e.Unit == "--" {
			continue
		}
		s := get(e.Unit)
		switch {
		case e.Category == "phase":
			s.Transitions++
			s.FinalPhase = movement.Phase(e.NumVal)
			if s.FinalPhase == movement.InFormation && s.FirstInFormation < 0 {
				s.FirstInFormation = e.Tick
			}
		case e.Category == "lock" && e.Key == "locked":
			s.Locks++
		case e.Category == "command" && e.Key == "rejected":
			s.Rejected++
		case e.Category == "command" && e.Key == "override_complete":
			s.OverridesFinished++
		case e.Category == "nav" && e.Key == "off_mesh":
			s.OffMeshIncidents++
		}
	}
	out := Summary{Units: make([]UnitStats, 0, len(byUnit))}
	for _, s := range byUnit {
		out.Units = append(out.Units, *s)
	}
	sort.Slice(out.Units, func(i, j int) bool { return out.Units[i].Unit < out.Units[j].Unit })
	return out
}

// Unit returns the stats for id.
func (s Summary) Unit(id string) (UnitStats, bool) {
	for _, u := range s.Units {
		if u.Unit == id {
			return u, true
		}
	}
	return UnitStats{}, false
}

// InFormation counts units that reached InFormation at least once.
func (s Summary) InFormation() int {
	n := 0
	for _, u := range s.Units {
		if u.FirstInFormation >= 0 {
			n++
		}
	}
	return n
}

// String renders the summary as a small table.
func (s Summary) String() string {
	var sb strings.Builder
	sb.WriteString("--- Summary ---\n")
	fmt.Fprintf(&sb, "%-8s %-13s %5s %5s %5s %8s\n", "unit", "phase", "trans", "locks", "rej", "formed@")
	for _, u := range s.Units {
		formed := "-"
		if u.FirstInFormation >= 0 {
			formed = fmt.Sprintf("T=%03d", u.FirstInFormation)
		}
		fmt.Fprintf(&sb, "%-8s %-13s %5d %5d %5d %8s\n",
			u.Unit, u.FinalPhase, u.Transitions, u.Locks, u.Rejected, formed)
	}
	return sb.String()
}
