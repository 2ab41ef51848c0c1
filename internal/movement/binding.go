package movement

import (
	"go.uber.org/zap"

	"github.com/Garsondee/squad-formation/internal/command"
	"github.com/Garsondee/squad-formation/internal/geom"
)

// PushDestination offers a destination order. Accepted orders reset the
// phase (DirectMovement for leaders, MoveToLeader for bound followers) and
// clear arrival. Rejected orders change nothing.
func (u *Unit) PushDestination(dest geom.Vec3, p command.Priority) bool {
	if !u.accept(p, "destination", dest) {
		return false
	}
	u.adoptOrder(dest, p)
	u.override = false
	switch {
	case u.role == Leader:
		u.direct = true
		u.setPhase(DirectMovement, "destination")
	case u.binding.Active:
		u.setPhase(MoveToLeader, "destination")
	default:
		u.setPhase(DirectMovement, "destination")
	}
	u.approachSet = false
	u.evaluate(false)
	return true
}

// PushFormationBinding offers a new squad center and slot offset. An
// accepted push that changes the binding re-evaluates the phase at once so
// the change is visible the same frame. Pushing an identical binding again
// has no effect beyond refreshing the arbiter timer.
func (u *Unit) PushFormationBinding(center, offset geom.Vec3, p command.Priority) bool {
	if !u.accept(p, "binding", center.Add(offset)) {
		return false
	}
	u.direct = false
	u.override = false
	if u.binding.Active && u.binding.Center.Eq(center) && u.binding.Offset.Eq(offset) {
		return true
	}
	if !u.binding.Offset.Eq(offset) {
		u.approachSet = false
		u.record("binding", "offset", offset.String(), offset.Len())
	}
	u.binding = Binding{Center: center, Offset: offset, Active: true}
	u.unlock()
	u.evaluate(true)
	return true
}

// ClearFormationBinding drops the binding, e.g. when the unit leaves its
// squad. Followers fall back to DirectMovement on their raw destination.
func (u *Unit) ClearFormationBinding() {
	if !u.binding.Active {
		return
	}
	u.binding = Binding{}
	u.unlock()
	u.record("binding", "cleared", "", 0)
}

// PushLeaderPosition feeds continuous leader tracking. It bypasses the
// arbiter. A follower closing on the leader recomputes its approach point
// once the leader has moved more than LeaderMoveThreshold from where the
// current approach point was computed.
func (u *Unit) PushLeaderPosition(pos geom.Vec3) {
	u.leaderPos = pos
	u.hasLeader = true
	if u.phase != MoveToLeader || !u.approachSet {
		return
	}
	if pos.DistanceTo(u.approachFrom) > u.cfg.LeaderMoveThreshold {
		u.arrived = false
		u.approachSet = false
	}
}

// OverrideDestination seizes direct control at Critical priority, e.g. for
// a charge. The unit leaves any formation phase immediately and heads
// straight for dest until it arrives or a newer order is accepted.
func (u *Unit) OverrideDestination(dest geom.Vec3) bool {
	if !u.accept(command.Critical, "override", dest) {
		return false
	}
	u.adoptOrder(dest, command.Critical)
	u.override = true
	u.direct = true
	u.setPhase(DirectMovement, "override")
	u.evaluate(false)
	return true
}

// ForcePhase is the corrective-reset entry point. It goes through the
// arbiter at Critical priority, puts the unit in p and lets the regular
// rules take over from the next tick.
func (u *Unit) ForcePhase(p Phase) bool {
	if !u.accept(command.Critical, "force_phase", u.nav.Position()) {
		return false
	}
	u.unlock()
	u.override = false
	u.approachSet = false
	u.setPhase(p, "forced")
	u.arrived = p == InFormation
	return true
}

func (u *Unit) adoptOrder(dest geom.Vec3, p command.Priority) {
	u.order = command.Order{Destination: dest, Priority: p, IssuedAt: u.clock}
	u.hasOrder = true
	u.arrived = false
	u.unlock()
	u.hasIssued = false
}

func (u *Unit) accept(p command.Priority, kind string, at geom.Vec3) bool {
	if u.arbiter.TryAccept(p, u.clock) {
		return true
	}
	u.record("command", "rejected", kind+" "+p.String()+" < "+u.arbiter.Current().String(), float64(p))
	u.log.Debug("order rejected",
		zap.String("kind", kind),
		zap.Stringer("priority", p),
		zap.Stringer("standing", u.arbiter.Current()),
		zap.Stringer("at", at))
	return false
}
