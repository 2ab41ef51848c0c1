package movement

// Phase is one state of the per-unit movement state machine.
type Phase int

const (
	DirectMovement  Phase = iota // heading straight for a destination
	MoveToLeader                 // closing on the leader before taking a slot
	MoveToFormation              // precise approach to the exact slot position
	InFormation                  // arrived; holds or locks onto the slot
)

func (p Phase) String() string {
	switch p {
	case DirectMovement:
		return "direct"
	case MoveToLeader:
		return "to_leader"
	case MoveToFormation:
		return "to_formation"
	case InFormation:
		return "in_formation"
	default:
		return "unknown"
	}
}

// Role decides which movement loop a unit runs.
type Role int

const (
	Follower Role = iota
	Leader
)

func (r Role) String() string {
	if r == Leader {
		return "leader"
	}
	return "follower"
}

// ResolveRole makes slot 0, or any unit the squad explicitly flags, the
// leader. Everyone else follows.
func ResolveRole(slot int, explicitLeader bool) Role {
	if slot == 0 || explicitLeader {
		return Leader
	}
	return Follower
}
