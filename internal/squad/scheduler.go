package squad

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Garsondee/squad-formation/internal/movement"
)

// Stepper advances the navigation service after units have ticked.
type Stepper interface {
	Step(dt time.Duration)
}

// Scheduler runs one simulation tick: every squad pushes its bindings, then
// every unit ticks in parallel, then the navigation world steps. Units share
// no mutable state, so the only ordering needed is that director pushes
// finish before the first unit tick.
type Scheduler struct {
	squads  []*Squad
	units   []*movement.Unit
	world   Stepper
	workers int
	ticks   int
	elapsed time.Duration
}

// NewScheduler builds a scheduler. workers <= 0 means GOMAXPROCS.
func NewScheduler(world Stepper, workers int) *Scheduler {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Scheduler{world: world, workers: workers}
}

// AddSquad registers a squad and its members.
func (s *Scheduler) AddSquad(sq *Squad) {
	s.squads = append(s.squads, sq)
	s.units = append(s.units, sq.Members()...)
}

// AddUnit registers a unit that belongs to no squad.
func (s *Scheduler) AddUnit(u *movement.Unit) {
	s.units = append(s.units, u)
}

// Squads returns registered squads.
func (s *Scheduler) Squads() []*Squad { return s.squads }

// Units returns every registered unit.
func (s *Scheduler) Units() []*movement.Unit { return s.units }

// Ticks returns how many ticks have completed.
func (s *Scheduler) Ticks() int { return s.ticks }

// Elapsed returns the simulated time.
func (s *Scheduler) Elapsed() time.Duration { return s.elapsed }

// Tick advances the simulation by dt. It only fails when ctx is done. A
// context already done leaves everything untouched. One cancelled while the
// units tick leaves the squads stepped and only some unit clocks advanced,
// and the world is not stepped.
func (s *Scheduler) Tick(ctx context.Context, dt time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, sq := range s.squads {
		sq.Step(dt)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, u := range s.units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			u.Tick(dt)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if s.world != nil {
		s.world.Step(dt)
	}
	s.ticks++
	s.elapsed += dt
	return nil
}
