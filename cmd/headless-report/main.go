package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Garsondee/squad-formation/internal/config"
	"github.com/Garsondee/squad-formation/internal/simlog"
	"github.com/Garsondee/squad-formation/internal/squad"
	"github.com/Garsondee/squad-formation/internal/telemetry"
)

//go:embed default.yaml
var defaultScenario []byte

type runStats struct {
	runIndex int
	seed     int64

	arrivalTick  int            // all squads arrived, -1 if never
	squadArrival map[string]int // first tick each squad arrived, -1 if never
	firstLock    int
	firstReject  int

	transitions   int
	locks         int
	rejected      int
	overridesDone int
	offMesh       int
	ordersFailed  int
	formedUnits   int
	totalUnits    int

	summary simlog.Summary
}

type runInput struct {
	scenario   *config.Scenario
	archetypes config.Archetypes
	ticks      int
	dt         time.Duration
	verbose    bool
	logger     *zap.Logger
	hub        *telemetry.Hub
	realtime   bool
}

func main() {
	var runs int
	var ticks int
	var seedBase int64
	var seedStep int64
	var scenarioPath string
	var archetypesPath string
	var dt time.Duration
	var verbose bool
	var listen string

	flag.IntVar(&runs, "runs", 3, "number of headless simulation runs")
	flag.IntVar(&ticks, "ticks", 1200, "ticks per run")
	flag.Int64Var(&seedBase, "seed-base", 42, "base RNG seed for run 1")
	flag.Int64Var(&seedStep, "seed-step", 1, "seed increment between runs")
	flag.StringVar(&scenarioPath, "scenario", "", "scenario YAML file (default: built-in column march)")
	flag.StringVar(&archetypesPath, "archetypes", "", "archetype JSON file")
	flag.DurationVar(&dt, "dt", 0, "tick length (default: from scenario)")
	flag.BoolVar(&verbose, "verbose", false, "record verbose movement events and debug logs")
	flag.StringVar(&listen, "listen", "", "serve live snapshots on this address, e.g. :8080")
	flag.Parse()

	if runs <= 0 {
		fmt.Println("error: -runs must be > 0")
		return
	}
	if ticks <= 0 {
		fmt.Println("error: -ticks must be > 0")
		return
	}

	logger := simlog.Must(simlog.NewLogger(verbose))
	defer func() { _ = logger.Sync() }()

	sc, as, err := loadInputs(scenarioPath, archetypesPath)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	in := runInput{
		scenario:   sc,
		archetypes: as,
		ticks:      ticks,
		dt:         dt,
		verbose:    verbose,
		logger:     logger,
	}
	if listen != "" {
		in.hub = telemetry.NewHub(logger.Named("telemetry"))
		in.realtime = true
		go func() {
			if err := telemetry.Serve(ctx, listen, in.hub); err != nil {
				logger.Error("telemetry server stopped", zap.Error(err))
			}
		}()
		fmt.Printf("streaming snapshots on ws://%s/ws\n", listen)
	}

	fmt.Printf("=== Headless Movement Report ===\n")
	fmt.Printf("scenario=%s runs=%d ticks=%d seed_base=%d seed_step=%d\n\n", sc.Name, runs, ticks, seedBase, seedStep)

	all := make([]runStats, 0, runs)
	for i := 0; i < runs; i++ {
		seed := seedBase + int64(i)*seedStep
		stats, err := runScenario(ctx, in, i+1, seed)
		if err != nil {
			fmt.Printf("error: run %d: %v\n", i+1, err)
			return
		}
		all = append(all, stats)
		printRun(stats)
	}

	printAggregate(all)
}

func loadInputs(scenarioPath, archetypesPath string) (*config.Scenario, config.Archetypes, error) {
	var sc *config.Scenario
	var err error
	if scenarioPath == "" {
		sc, err = config.ParseScenario(defaultScenario)
	} else {
		sc, err = config.LoadScenario(scenarioPath)
	}
	if err != nil {
		return nil, nil, err
	}
	as := config.Archetypes{}
	if archetypesPath != "" {
		if as, err = config.LoadArchetypes(archetypesPath); err != nil {
			return nil, nil, err
		}
	}
	return sc, as, nil
}

func runScenario(ctx context.Context, in runInput, runIndex int, seed int64) (runStats, error) {
	// Routes keep interpreter state, so every run compiles its own.
	opts, err := in.scenario.SimOptions(in.archetypes)
	if err != nil {
		return runStats{}, err
	}
	opts = append(opts,
		squad.WithSeed(seed),
		squad.WithVerbose(in.verbose),
		squad.WithSimLogger(in.logger.With(zap.Int("run", runIndex))),
	)
	if in.dt > 0 {
		opts = append(opts, squad.WithTimeStep(in.dt))
	}
	sim, err := squad.NewSim(opts...)
	if err != nil {
		return runStats{}, err
	}

	var pace *time.Ticker
	if in.realtime {
		pace = time.NewTicker(sim.TimeStep())
		defer pace.Stop()
	}

	squadArrival := map[string]int{}
	for _, sq := range sim.Squads {
		squadArrival[sq.ID] = -1
	}
	arrivalTick := -1
	for i := 0; i < in.ticks; i++ {
		if err := sim.Step(ctx); err != nil {
			return runStats{}, err
		}
		tick := sim.CurrentTick()
		for _, sq := range sim.Squads {
			if squadArrival[sq.ID] < 0 && sq.Arrived() {
				squadArrival[sq.ID] = tick
			}
		}
		if arrivalTick < 0 && sim.Arrived() {
			arrivalTick = tick
		}
		if in.hub != nil {
			if err := in.hub.Publish("snapshot", sim.Snapshot()); err != nil {
				in.logger.Warn("publish failed", zap.Error(err))
			}
		}
		if pace != nil {
			select {
			case <-pace.C:
			case <-ctx.Done():
				return runStats{}, ctx.Err()
			}
		}
	}

	entries := sim.Log.Entries()
	sum := sim.Log.Summarize()
	rs := runStats{
		runIndex:      runIndex,
		seed:          seed,
		arrivalTick:   arrivalTick,
		squadArrival:  squadArrival,
		firstLock:     firstTick(entries, "lock", "locked", ""),
		firstReject:   firstTick(entries, "command", "rejected", ""),
		locks:         sim.Log.CountCategory("lock", "locked"),
		rejected:      sim.Log.CountCategory("command", "rejected"),
		overridesDone: sim.Log.CountCategory("command", "override_complete"),
		offMesh:       sim.Log.CountCategory("nav", "off_mesh"),
		ordersFailed:  sim.Log.CountCategory("squad", "order_failed"),
		formedUnits:   sum.InFormation(),
		totalUnits:    len(sim.Units()),
		summary:       sum,
	}
	for _, u := range sum.Units {
		rs.transitions += u.Transitions
	}
	return rs, nil
}

func firstTick(entries []simlog.Entry, category, key, contains string) int {
	for _, e := range entries {
		if e.Category != category || e.Key != key {
			continue
		}
		if contains == "" || strings.Contains(e.Value, contains) {
			return e.Tick
		}
	}
	return -1
}

func printRun(rs runStats) {
	fmt.Printf("--- Run %d (seed=%d) ---\n", rs.runIndex, rs.seed)
	fmt.Printf("arrival: all=%s squads=[%s]\n", tickString(rs.arrivalTick), squadArrivals(rs.squadArrival))
	fmt.Printf("phase_markers: first_lock=%s first_reject=%s\n", tickString(rs.firstLock), tickString(rs.firstReject))
	fmt.Printf("event_totals: transitions=%d locks=%d rejected=%d overrides_done=%d off_mesh=%d orders_failed=%d\n",
		rs.transitions, rs.locks, rs.rejected, rs.overridesDone, rs.offMesh, rs.ordersFailed)
	fmt.Printf("formed_units=%d/%d\n", rs.formedUnits, rs.totalUnits)
	fmt.Print(rs.summary.String())
	fmt.Println()
}

func printAggregate(all []runStats) {
	totalTransitions := 0
	totalLocks := 0
	totalRejected := 0
	totalOffMesh := 0
	arrivals := make([]int, 0, len(all))
	squadTicks := map[string][]int{}
	formedAt := map[string][]int{}

	for _, rs := range all {
		totalTransitions += rs.transitions
		totalLocks += rs.locks
		totalRejected += rs.rejected
		totalOffMesh += rs.offMesh
		if rs.arrivalTick >= 0 {
			arrivals = append(arrivals, rs.arrivalTick)
		}
		for id, tick := range rs.squadArrival {
			if tick >= 0 {
				squadTicks[id] = append(squadTicks[id], tick)
			} else if _, ok := squadTicks[id]; !ok {
				squadTicks[id] = nil
			}
		}
		for _, u := range rs.summary.Units {
			if u.FirstInFormation >= 0 {
				formedAt[u.Unit] = append(formedAt[u.Unit], u.FirstInFormation)
			} else if _, ok := formedAt[u.Unit]; !ok {
				formedAt[u.Unit] = nil
			}
		}
	}

	fmt.Println("=== Aggregate ===")
	fmt.Printf("runs=%d arrived=%d\n", len(all), len(arrivals))
	fmt.Printf("avg_events_per_run: transitions=%.1f locks=%.1f rejected=%.1f off_mesh=%.1f\n",
		avg(totalTransitions, len(all)), avg(totalLocks, len(all)), avg(totalRejected, len(all)), avg(totalOffMesh, len(all)))
	fmt.Printf("avg_arrival_tick: all=%s\n", avgTickString(arrivals))
	for _, id := range sortedKeys(squadTicks) {
		fmt.Printf("  squad %-8s arrival=%s\n", id, avgTickString(squadTicks[id]))
	}

	fmt.Println("\n=== Aggregate Unit Formation ===")
	for _, id := range sortedKeys(formedAt) {
		rate := 0.0
		if len(all) > 0 {
			rate = float64(len(formedAt[id])) / float64(len(all)) * 100
		}
		fmt.Printf("  %-8s formed=%.0f%%  first_in_formation=%s\n", id, rate, avgTickString(formedAt[id]))
	}
}

func avg(sum int, n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

func avgTickString(vals []int) string {
	if len(vals) == 0 {
		return "n/a"
	}
	sum := 0
	for _, v := range vals {
		sum += v
	}
	return fmt.Sprintf("%.1f", float64(sum)/float64(len(vals)))
}

func tickString(t int) string {
	if t < 0 {
		return "never"
	}
	return fmt.Sprintf("T=%03d", t)
}

func squadArrivals(m map[string]int) string {
	if len(m) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(m))
	for _, id := range sortedKeys(m) {
		parts = append(parts, id+"@"+tickString(m[id]))
	}
	return strings.Join(parts, ",")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
