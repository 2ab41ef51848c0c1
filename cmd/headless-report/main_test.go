package main

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/Garsondee/squad-formation/internal/simlog"
)

func defaultInput(t *testing.T, ticks int) runInput {
	t.Helper()
	sc, as, err := loadInputs("", "")
	if err != nil {
		t.Fatal(err)
	}
	return runInput{scenario: sc, archetypes: as, ticks: ticks, logger: zap.NewNop()}
}

func TestLoadInputs_Default(t *testing.T) {
	sc, as, err := loadInputs("", "")
	if err != nil {
		t.Fatal(err)
	}
	if sc.Name != "column-march" || len(sc.Squads) != 2 {
		t.Fatalf("unexpected built-in scenario: %s with %d squads", sc.Name, len(sc.Squads))
	}
	if len(as) != 0 {
		t.Fatal("no archetype file means no named archetypes")
	}
}

func TestLoadInputs_Files(t *testing.T) {
	testdata := filepath.Join("..", "..", "internal", "config", "testdata")
	sc, as, err := loadInputs(filepath.Join(testdata, "march.yaml"), filepath.Join(testdata, "archetypes.json"))
	if err != nil {
		t.Fatal(err)
	}
	if sc.Name != "march" || len(as) != 3 {
		t.Fatalf("unexpected inputs: %s with %d archetypes", sc.Name, len(as))
	}
	if _, _, err := loadInputs(filepath.Join(t.TempDir(), "missing.yaml"), ""); err == nil {
		t.Fatal("expected an error for a missing scenario")
	}
}

func TestRunScenario_DefaultArrives(t *testing.T) {
	rs, err := runScenario(context.Background(), defaultInput(t, 1600), 1, 42)
	if err != nil {
		t.Fatal(err)
	}
	if rs.arrivalTick < 0 {
		t.Fatalf("squads never arrived: %v", rs.squadArrival)
	}
	for id, tick := range rs.squadArrival {
		if tick < 0 || tick > rs.arrivalTick {
			t.Fatalf("squad %s arrival tick %d inconsistent with overall %d", id, tick, rs.arrivalTick)
		}
	}
	if rs.totalUnits != 8 || rs.formedUnits != rs.totalUnits {
		t.Fatalf("expected all 8 units to reach formation, got %d/%d", rs.formedUnits, rs.totalUnits)
	}
	if rs.transitions == 0 || rs.firstLock < 0 {
		t.Fatalf("expected transitions and locks, got %d transitions first lock %d", rs.transitions, rs.firstLock)
	}
	if rs.ordersFailed != 0 {
		t.Fatalf("built-in orders should all apply, %d failed", rs.ordersFailed)
	}
}

func TestRunScenario_Deterministic(t *testing.T) {
	in := defaultInput(t, 400)
	a, err := runScenario(context.Background(), in, 1, 7)
	if err != nil {
		t.Fatal(err)
	}
	b, err := runScenario(context.Background(), in, 2, 7)
	if err != nil {
		t.Fatal(err)
	}
	if a.summary.String() != b.summary.String() || a.arrivalTick != b.arrivalTick {
		t.Fatalf("same seed should reproduce the run:\n%s\nvs\n%s", a.summary, b.summary)
	}
}

func TestRunScenario_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runScenario(ctx, defaultInput(t, 10), 1, 1); err == nil {
		t.Fatal("expected the canceled context to stop the run")
	}
}

func TestFirstTick(t *testing.T) {
	entries := []simlog.Entry{
		{Tick: 3, Category: "phase", Key: "change", Value: "direct → to_leader"},
		{Tick: 5, Category: "lock", Key: "locked"},
		{Tick: 9, Category: "lock", Key: "locked"},
	}
	if got := firstTick(entries, "lock", "locked", ""); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if got := firstTick(entries, "phase", "change", "to_leader"); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := firstTick(entries, "command", "rejected", ""); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
}

func TestAvgTickString(t *testing.T) {
	if got := avgTickString(nil); got != "n/a" {
		t.Fatalf("expected n/a, got %s", got)
	}
	if got := avgTickString([]int{10, 20}); got != "15.0" {
		t.Fatalf("expected 15.0, got %s", got)
	}
	if got := tickString(-1); got != "never" {
		t.Fatalf("expected never, got %s", got)
	}
	if got := squadArrivals(map[string]int{"b": 4, "a": -1}); got != "a@never,b@T=004" {
		t.Fatalf("unexpected arrivals string %s", got)
	}
}
