// Package command decides which movement orders a unit obeys.
//
// Orders carry a Priority. The Arbiter remembers the priority of the last
// accepted order and when it was accepted; a newer order only wins if it is at
// least as urgent, or if the standing order has gone stale. Stale priority
// relaxes one level at a time instead of dropping straight back to Low.
package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/Garsondee/squad-formation/internal/geom"
)

// Priority is an ordered urgency level.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority accepts the names printed by String.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "normal", "":
		return Normal, nil
	case "high":
		return High, nil
	case "critical":
		return Critical, nil
	}
	return Normal, fmt.Errorf("command: unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Order is a movement order as the unit remembers it. It is replaced
// wholesale by the next accepted order; there is no queue.
type Order struct {
	Destination geom.Vec3
	Priority    Priority
	IssuedAt    time.Duration
}

// Arbiter gates orders by priority and age. Times are simulation-clock
// offsets, driven by the same tick that evaluates movement phases.
type Arbiter struct {
	decay    time.Duration
	current  Priority
	lastTime time.Duration
}

// NewArbiter returns an arbiter at Low priority whose orders go stale after
// decay.
func NewArbiter(decay time.Duration) *Arbiter {
	return &Arbiter{decay: decay, current: Low}
}

// Current is the priority of the standing order.
func (a *Arbiter) Current() Priority { return a.current }

// LastCommandTime is when the standing priority was last set.
func (a *Arbiter) LastCommandTime() time.Duration { return a.lastTime }

// Decay is the configured staleness window.
func (a *Arbiter) Decay() time.Duration { return a.decay }

// SetDecay changes the staleness window without touching the standing order.
func (a *Arbiter) SetDecay(d time.Duration) { a.decay = d }

// TryAccept reports whether an order at p issued at now may replace the
// standing order. Acceptance adopts p and restarts the age timer; rejection
// changes nothing.
func (a *Arbiter) TryAccept(p Priority, now time.Duration) bool {
	if p < a.current && !a.stale(now) {
		return false
	}
	a.current = p
	a.lastTime = now
	return true
}

// DecayTick steps the standing priority down one level once it has outlived
// the decay window, and restarts the timer so the next step needs another
// full window.
func (a *Arbiter) DecayTick(now time.Duration) {
	if a.current == Low || !a.stale(now) {
		return
	}
	a.current--
	a.lastTime = now
}

// Reset returns the arbiter to Low with the timer at now.
func (a *Arbiter) Reset(now time.Duration) {
	a.current = Low
	a.lastTime = now
}

func (a *Arbiter) stale(now time.Duration) bool {
	return now-a.lastTime > a.decay
}
