package movement

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/Garsondee/squad-formation/internal/command"
	"github.com/Garsondee/squad-formation/internal/formation"
	"github.com/Garsondee/squad-formation/internal/geom"
)

const tick = 50 * time.Millisecond

// fakeNav records every call the unit makes. Position only changes when the
// test moves it or the unit warps it.
type fakeNav struct {
	pos          geom.Vec3
	dest         geom.Vec3
	hasDest      bool
	destinations []geom.Vec3
	pending      bool
	offMesh      bool
	speed        float64
	stopped      bool
	warps        []geom.Vec3
}

func newFakeNav(pos geom.Vec3) *fakeNav { return &fakeNav{pos: pos} }

func (f *fakeNav) SetDestination(p geom.Vec3) {
	f.dest = p
	f.hasDest = true
	f.destinations = append(f.destinations, p)
}
func (f *fakeNav) PathPending() bool { return f.pending }
func (f *fakeNav) RemainingDistance() float64 {
	if !f.hasDest {
		return 0
	}
	return f.pos.DistanceTo(f.dest)
}
func (f *fakeNav) OnNavigableSurface() bool { return !f.offMesh }
func (f *fakeNav) Velocity() geom.Vec3      { return geom.Vec3{} }
func (f *fakeNav) Position() geom.Vec3      { return f.pos }
func (f *fakeNav) SetSpeed(s float64)       { f.speed = s }
func (f *fakeNav) Warp(p geom.Vec3) {
	f.pos = p
	f.dest = p
	f.warps = append(f.warps, p)
}
func (f *fakeNav) Stop()   { f.stopped = true }
func (f *fakeNav) Resume() { f.stopped = false }

type eventLog struct{ events []Event }

func (l *eventLog) Record(e Event) { l.events = append(l.events, e) }

func (l *eventLog) count(category, key string) int {
	n := 0
	for _, e := range l.events {
		if e.Category == category && (key == "" || e.Key == key) {
			n++
		}
	}
	return n
}

func newTestUnit(t *testing.T, slot int, pos geom.Vec3, opts ...Option) (*Unit, *fakeNav, *eventLog) {
	t.Helper()
	nav := newFakeNav(pos)
	log := &eventLog{}
	opts = append([]Option{WithRecorder(log)}, opts...)
	u, err := New("u"+string(rune('0'+slot)), slot, nav, DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return u, nav, log
}

func assertPhase(t *testing.T, u *Unit, want Phase) {
	t.Helper()
	if got := u.CurrentPhase(); got != want {
		t.Fatalf("expected phase %s, got %s", want, got)
	}
}

func assertDest(t *testing.T, nav *fakeNav, want geom.Vec3) {
	t.Helper()
	if !nav.hasDest || !nav.dest.Eq(want) {
		t.Fatalf("expected navigator destination %v, got %v (set=%v)", want, nav.dest, nav.hasDest)
	}
}

func TestResolveRole(t *testing.T) {
	tests := []struct {
		slot     int
		explicit bool
		want     Role
	}{
		{0, false, Leader},
		{0, true, Leader},
		{1, false, Follower},
		{4, true, Leader},
	}
	for _, tt := range tests {
		if got := ResolveRole(tt.slot, tt.explicit); got != tt.want {
			t.Fatalf("ResolveRole(%d, %v) = %s, want %s", tt.slot, tt.explicit, got, tt.want)
		}
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StoppingDistance = 0
	_, err := New("x", 1, newFakeNav(geom.Vec3{}), cfg)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := New("x", 1, nil, DefaultConfig()); err == nil {
		t.Fatal("expected an error for a nil navigator")
	}
}

func TestLeader_DirectDestination(t *testing.T) {
	u, nav, _ := newTestUnit(t, 0, geom.Vec3{})
	if u.Role() != Leader {
		t.Fatalf("slot 0 should lead, got %s", u.Role())
	}
	if !u.PushDestination(geom.XZ(10, 0), command.Normal) {
		t.Fatal("first order should be accepted")
	}
	assertPhase(t, u, DirectMovement)
	assertDest(t, nav, geom.XZ(10, 0))

	u.Tick(tick)
	assertPhase(t, u, DirectMovement)
	if u.HasArrived() {
		t.Fatal("leader 10 units away should not have arrived")
	}

	nav.pos = geom.XZ(9.7, 0)
	u.Tick(tick)
	if !u.HasArrived() {
		t.Fatal("leader within stopping distance with no pending path should have arrived")
	}
}

func TestLeader_PendingPathIsNotArrival(t *testing.T) {
	u, nav, _ := newTestUnit(t, 0, geom.XZ(10, 0))
	nav.pending = true
	u.PushDestination(geom.XZ(10, 0), command.Normal)
	u.Tick(tick)
	if u.HasArrived() {
		t.Fatal("arrival must wait for the path to stop being pending")
	}
	nav.pending = false
	u.Tick(tick)
	if !u.HasArrived() {
		t.Fatal("expected arrival once the path resolved")
	}
}

func TestLeader_TracksBindingAfterDirectOrder(t *testing.T) {
	u, nav, _ := newTestUnit(t, 0, geom.Vec3{})
	u.PushDestination(geom.XZ(50, 0), command.Normal)
	assertDest(t, nav, geom.XZ(50, 0))

	u.PushFormationBinding(geom.XZ(5, 5), geom.Vec3{}, command.Normal)
	assertDest(t, nav, geom.XZ(5, 5))
	assertPhase(t, u, DirectMovement)
}

func TestFollower_ScenarioLineFormation(t *testing.T) {
	u, nav, _ := newTestUnit(t, 1, geom.XZ(-10, 0))
	center := geom.XZ(10, 0)
	offset := formation.ComputeOffset(formation.Line, 1)

	u.PushFormationBinding(center, offset, command.Normal)
	assertPhase(t, u, MoveToLeader)
	// No leader position yet: approach the center along the slot direction.
	assertDest(t, nav, geom.XZ(14, 0))
	if want := 3.5 * 1.5; math.Abs(nav.speed-want) > 1e-9 {
		t.Fatalf("expected leader-boosted speed %.2f, got %.2f", want, nav.speed)
	}

	nav.pos = geom.XZ(3, 0) // 7 from center
	u.Tick(tick)
	assertPhase(t, u, MoveToFormation)
	assertDest(t, nav, geom.XZ(11.5, 0))
	if want := 3.5 * 0.8; math.Abs(nav.speed-want) > 1e-9 {
		t.Fatalf("expected formation speed %.2f, got %.2f", want, nav.speed)
	}

	nav.pos = geom.XZ(12.1, 0) // 0.6 from slot: inside 1.5×stop, outside lock
	u.Tick(tick)
	assertPhase(t, u, InFormation)
	if !u.HasArrived() {
		t.Fatal("InFormation should count as arrived")
	}
	if u.Locked() {
		t.Fatal("0.6 from the slot is outside the lock distance")
	}

	nav.pos = geom.XZ(11.8, 0)
	u.Tick(tick)
	if !u.Locked() {
		t.Fatal("within stopping distance the unit should lock onto its slot")
	}
	if !nav.pos.Eq(geom.XZ(11.5, 0)) || !nav.stopped {
		t.Fatalf("lock should warp to the exact slot and stop the agent, pos=%v stopped=%v", nav.pos, nav.stopped)
	}

	before := len(nav.destinations)
	u.Tick(tick)
	u.Tick(tick)
	if len(nav.destinations) != before {
		t.Fatal("a locked unit must not issue new destinations")
	}
}

func TestFollower_LeaderProximityStartsFormation(t *testing.T) {
	u, nav, _ := newTestUnit(t, 2, geom.XZ(-40, 0))
	u.PushFormationBinding(geom.Vec3{}, geom.XZ(3, 0), command.Normal)
	assertPhase(t, u, MoveToLeader)

	// Leader is out ahead of the center; the unit reaches the leader first.
	u.PushLeaderPosition(geom.XZ(-25, 0))
	nav.pos = geom.XZ(-22, 0) // 22 from center, 3 from leader
	u.Tick(tick)
	assertPhase(t, u, MoveToFormation)
}

func TestFollower_SlotReassignedBreaksFormation(t *testing.T) {
	u, nav, _ := newTestUnit(t, 1, geom.XZ(11.5, 0))
	center := geom.XZ(10, 0)
	u.PushFormationBinding(center, geom.XZ(1.5, 0), command.Normal)
	u.Tick(tick)
	u.Tick(tick)
	assertPhase(t, u, InFormation)
	if !u.Locked() {
		t.Fatal("unit sitting on its slot should be locked")
	}

	u.PushFormationBinding(center, geom.XZ(4.5, 0), command.Normal)
	assertPhase(t, u, MoveToFormation)
	if u.Locked() || nav.stopped {
		t.Fatal("a new slot must release the lock and resume the agent")
	}
	assertDest(t, nav, geom.XZ(14.5, 0))
}

func TestFollower_CriticalOverrideLeavesFormation(t *testing.T) {
	u, nav, log := newTestUnit(t, 1, geom.XZ(1.5, 0))
	u.PushFormationBinding(geom.Vec3{}, geom.XZ(1.5, 0), command.Normal)
	u.Tick(tick)
	u.Tick(tick)
	assertPhase(t, u, InFormation)

	if !u.OverrideDestination(geom.XZ(30, 0)) {
		t.Fatal("critical override must always be accepted")
	}
	assertPhase(t, u, DirectMovement)
	assertDest(t, nav, geom.XZ(30, 0))
	if u.Priority() != command.Critical {
		t.Fatalf("expected standing priority critical, got %s", u.Priority())
	}

	if u.PushFormationBinding(geom.XZ(1, 0), geom.XZ(1.5, 0), command.Normal) {
		t.Fatal("normal binding must be rejected while the critical order is fresh")
	}
	if log.count("command", "rejected") != 1 {
		t.Fatalf("expected one rejected command event, got %d", log.count("command", "rejected"))
	}

	u.Tick(tick)
	assertPhase(t, u, DirectMovement)

	nav.pos = geom.XZ(30, 0)
	u.Tick(tick)
	if !u.HasArrived() {
		t.Fatal("override should report arrival at its destination")
	}
	u.Tick(tick)
	assertPhase(t, u, MoveToLeader) // 30 from the old center
}

func TestFollower_HysteresisPreventsThrash(t *testing.T) {
	u, _, log := newTestUnit(t, 1, geom.Vec3{})
	offset := geom.XZ(1.5, 0)
	prox := DefaultConfig().SquadProximityThreshold

	u.PushFormationBinding(geom.XZ(prox, 0), offset, command.Normal)
	assertPhase(t, u, MoveToFormation)
	transitions := log.count("phase", "")

	// Oscillate around the threshold, inside the 1.5× band.
	for i := 0; i < 20; i++ {
		d := prox + 0.1
		if i%2 == 1 {
			d = prox - 0.1
		}
		u.PushFormationBinding(geom.XZ(d, 0), offset, command.Normal)
		u.Tick(tick)
		assertPhase(t, u, MoveToFormation)
	}
	if got := log.count("phase", ""); got != transitions {
		t.Fatalf("expected no extra transitions inside the band, got %d", got-transitions)
	}

	// Leave the band once, then wobble just inside it.
	u.PushFormationBinding(geom.XZ(prox*1.5+0.5, 0), offset, command.Normal)
	assertPhase(t, u, MoveToLeader)
	for i := 0; i < 10; i++ {
		d := prox*1.5 - 0.5
		if i%2 == 1 {
			d = prox*1.5 + 0.5
		}
		u.PushFormationBinding(geom.XZ(d, 0), offset, command.Normal)
		u.Tick(tick)
		assertPhase(t, u, MoveToLeader)
	}
	if got := log.count("phase", ""); got != transitions+1 {
		t.Fatalf("expected exactly one transition for one crossing, got %d", got-transitions)
	}
}

func TestFollower_IdenticalBindingIsIdempotent(t *testing.T) {
	u, nav, log := newTestUnit(t, 1, geom.XZ(-20, 0))
	u.PushFormationBinding(geom.XZ(5, 0), geom.XZ(1.5, 0), command.Normal)
	phase := u.CurrentPhase()
	events := len(log.events)
	dests := len(nav.destinations)

	if !u.PushFormationBinding(geom.XZ(5, 0), geom.XZ(1.5, 0), command.Normal) {
		t.Fatal("an identical push at the same priority is still accepted")
	}
	if u.CurrentPhase() != phase {
		t.Fatalf("identical push changed phase %s → %s", phase, u.CurrentPhase())
	}
	if len(log.events) != events || len(nav.destinations) != dests {
		t.Fatal("identical push must not record events or re-issue destinations")
	}
}

func TestFollower_MissingBindingUsesRawDestination(t *testing.T) {
	u, nav, _ := newTestUnit(t, 3, geom.Vec3{})
	if !u.PushDestination(geom.XZ(5, 5), command.Normal) {
		t.Fatal("order should be accepted")
	}
	assertPhase(t, u, DirectMovement)
	assertDest(t, nav, geom.XZ(5, 5))
	u.Tick(tick)
	assertPhase(t, u, DirectMovement)
}

func TestFollower_DestinationWithBindingClosesOnLeader(t *testing.T) {
	u, _, _ := newTestUnit(t, 1, geom.XZ(1.5, 0))
	u.PushFormationBinding(geom.Vec3{}, geom.XZ(1.5, 0), command.Normal)
	u.Tick(tick)
	assertPhase(t, u, InFormation)

	u.PushDestination(geom.XZ(40, 0), command.Normal)
	assertPhase(t, u, MoveToLeader)
	if u.HasArrived() {
		t.Fatal("a new destination clears arrival")
	}
}

func TestOffMesh_IsSilentNoOp(t *testing.T) {
	u, nav, log := newTestUnit(t, 0, geom.Vec3{})
	nav.offMesh = true

	if !u.PushDestination(geom.XZ(10, 0), command.Normal) {
		t.Fatal("the order itself is still accepted off the mesh")
	}
	u.Tick(tick)
	u.Tick(tick)
	if len(nav.destinations) != 0 {
		t.Fatalf("no destination may be set off the mesh, got %v", nav.destinations)
	}
	if log.count("nav", "off_mesh") != 1 {
		t.Fatalf("off-mesh should be recorded once, got %d", log.count("nav", "off_mesh"))
	}

	nav.offMesh = false
	u.Tick(tick)
	assertDest(t, nav, geom.XZ(10, 0))
}

func TestPushLeaderPosition_RecomputesApproach(t *testing.T) {
	u, nav, _ := newTestUnit(t, 1, geom.XZ(-30, 0))
	u.PushFormationBinding(geom.Vec3{}, geom.XZ(1.5, 0), command.Normal)
	assertDest(t, nav, geom.XZ(4, 0))

	u.PushLeaderPosition(geom.XZ(0.2, 0)) // below LeaderMoveThreshold
	u.Tick(tick)
	assertDest(t, nav, geom.XZ(4, 0))

	u.PushLeaderPosition(geom.XZ(5, 0))
	if u.HasArrived() {
		t.Fatal("a leader move should clear arrival")
	}
	u.Tick(tick)
	assertDest(t, nav, geom.XZ(9, 0))
}

func TestApproachJitterWithoutOffset(t *testing.T) {
	u, nav, _ := newTestUnit(t, 1, geom.XZ(-30, 0))
	u.PushFormationBinding(geom.Vec3{}, geom.Vec3{}, command.Normal)
	assertPhase(t, u, MoveToLeader)
	j := DefaultConfig().ApproachJitter
	if math.Abs(nav.dest.X) > j || math.Abs(nav.dest.Z) > j {
		t.Fatalf("jittered approach %v should stay within %.1f of the leader", nav.dest, j)
	}
}

func TestForcePhase(t *testing.T) {
	u, _, log := newTestUnit(t, 1, geom.XZ(-30, 0))
	u.PushFormationBinding(geom.Vec3{}, geom.XZ(1.5, 0), command.Normal)
	assertPhase(t, u, MoveToLeader)

	if !u.ForcePhase(InFormation) {
		t.Fatal("forced phase goes through at critical")
	}
	assertPhase(t, u, InFormation)
	if !u.HasArrived() {
		t.Fatal("forcing InFormation marks the unit arrived")
	}
	if !strings.Contains(log.events[len(log.events)-1].Value, "in_formation") {
		t.Fatalf("expected a forced phase event, got %+v", log.events[len(log.events)-1])
	}

	u.Tick(tick)
	assertPhase(t, u, MoveToFormation) // 31.5 from the slot
}

func TestPriorityDecayThroughTicks(t *testing.T) {
	u, _, _ := newTestUnit(t, 0, geom.Vec3{})
	u.OverrideDestination(geom.XZ(5, 0))

	decay := DefaultConfig().PriorityDecay
	steps := int((2*decay)/tick) + 4
	accepted := false
	for i := 0; i < steps && !accepted; i++ {
		u.Tick(tick)
		accepted = u.PushDestination(geom.XZ(1, 1), command.Normal)
	}
	if !accepted {
		t.Fatalf("normal order should be accepted after two decay windows, priority=%s", u.Priority())
	}
	if u.Clock() < 2*decay {
		t.Fatalf("normal accepted too early at %v", u.Clock())
	}
}

func TestReinitialize_PromotesFollower(t *testing.T) {
	u, nav, log := newTestUnit(t, 2, geom.Vec3{})
	u.PushFormationBinding(geom.XZ(20, 0), geom.XZ(3, 0), command.Normal)
	assertPhase(t, u, MoveToLeader)

	u.Reinitialize(0, false)
	if u.Role() != Leader || u.Slot() != 0 {
		t.Fatalf("expected leader at slot 0, got %s at %d", u.Role(), u.Slot())
	}
	if log.count("role", "changed") != 1 {
		t.Fatal("expected a role change event")
	}
	u.PushFormationBinding(geom.XZ(20, 0), geom.Vec3{}, command.Normal)
	assertPhase(t, u, DirectMovement)
	assertDest(t, nav, geom.XZ(20, 0))
}

func TestExactPositionFollowsCenter(t *testing.T) {
	u, _, _ := newTestUnit(t, 1, geom.Vec3{})
	if _, ok := u.ExactPosition(); ok {
		t.Fatal("no binding yet, exact position should be unavailable")
	}
	u.PushFormationBinding(geom.XZ(1, 1), geom.XZ(2, 0), command.Normal)
	u.PushFormationBinding(geom.XZ(4, 1), geom.XZ(2, 0), command.Normal)
	exact, ok := u.ExactPosition()
	if !ok || !exact.Eq(geom.XZ(6, 1)) {
		t.Fatalf("expected exact (6,0,1) after center update, got %v ok=%v", exact, ok)
	}
}

func TestSetConfig(t *testing.T) {
	u, nav, _ := newTestUnit(t, 0, geom.Vec3{})
	u.PushDestination(geom.XZ(10, 0), command.Normal)

	cfg := DefaultConfig()
	cfg.BaseSpeed = 7
	if err := u.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	u.Tick(tick)
	if nav.speed != 7 {
		t.Fatalf("new base speed should reach the navigator, got %.2f", nav.speed)
	}

	cfg.FormationSpeedMultiplier = 2
	if err := u.SetConfig(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
