package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"go.uber.org/zap"

	"github.com/Garsondee/squad-formation/internal/command"
	"github.com/Garsondee/squad-formation/internal/config"
	"github.com/Garsondee/squad-formation/internal/formation"
	"github.com/Garsondee/squad-formation/internal/geom"
	"github.com/Garsondee/squad-formation/internal/movement"
	"github.com/Garsondee/squad-formation/internal/squad"
)

const (
	screenW     = 1280
	screenH     = 800
	tps         = 60
	statusTicks = 3 * tps
)

var formationKeys = [...]ebiten.Key{ebiten.Key1, ebiten.Key2, ebiten.Key3, ebiten.Key4, ebiten.Key5}

// Viewer is the ebiten game driving one simulation.
type Viewer struct {
	sim *squad.Sim
	sc  *config.Scenario
	cam camera
	log *zap.Logger

	archetypesPath string
	archetypeOf    map[string]string
	watcher        *config.Watcher

	selected   int
	paused     bool
	speed      float64
	acc        time.Duration
	prevKeys   map[ebiten.Key]bool
	prevRight  bool
	status     string
	statusLeft int
}

// NewViewer builds a viewer for sc. A non-empty archetypesPath is applied
// to live units whenever the watcher reports a change to it.
func NewViewer(sc *config.Scenario, as config.Archetypes, archetypesPath string, w *config.Watcher, log *zap.Logger) (*Viewer, error) {
	opts, err := sc.SimOptions(as)
	if err != nil {
		return nil, err
	}
	opts = append(opts, squad.WithSimLogger(log))
	sim, err := squad.NewSim(opts...)
	if err != nil {
		return nil, err
	}
	return &Viewer{
		sim:            sim,
		sc:             sc,
		cam:            newCamera(sim.Bounds, screenW, screenH, 24),
		log:            log,
		archetypesPath: archetypesPath,
		archetypeOf:    archetypeAssignments(sc),
		watcher:        w,
		speed:          1,
		prevKeys:       map[ebiten.Key]bool{},
	}, nil
}

// archetypeAssignments maps each unit id to the archetype it runs.
func archetypeAssignments(sc *config.Scenario) map[string]string {
	out := map[string]string{}
	for _, s := range sc.Squads {
		for _, u := range s.Units {
			name := u.Archetype
			if name == "" {
				name = s.Archetype
			}
			out[u.ID] = name
		}
	}
	for _, u := range sc.Units {
		out[u.ID] = u.Archetype
	}
	return out
}

// applyArchetypes pushes reloaded configs to live units. Units whose
// archetype is gone keep their current config.
func (v *Viewer) applyArchetypes(as config.Archetypes) (int, error) {
	applied := 0
	var failed []string
	for _, u := range v.sim.Units() {
		cfg, err := as.Get(v.archetypeOf[u.ID()])
		if err != nil {
			failed = append(failed, u.ID())
			continue
		}
		if err := u.SetConfig(cfg); err != nil {
			failed = append(failed, u.ID())
			continue
		}
		applied++
	}
	if len(failed) > 0 {
		return applied, fmt.Errorf("kept previous config for %s", strings.Join(failed, ","))
	}
	return applied, nil
}

func (v *Viewer) pollReload() {
	if v.watcher == nil || v.archetypesPath == "" {
		return
	}
	for {
		select {
		case path, ok := <-v.watcher.Events:
			if !ok {
				v.watcher = nil
				return
			}
			if filepath.Clean(path) != filepath.Clean(v.archetypesPath) {
				continue
			}
			as, err := config.LoadArchetypes(v.archetypesPath)
			if err != nil {
				v.log.Warn("archetype reload rejected", zap.Error(err))
				v.setStatus("reload rejected: " + err.Error())
				continue
			}
			n, err := v.applyArchetypes(as)
			if err != nil {
				v.log.Warn("archetype reload partial", zap.Int("applied", n), zap.Error(err))
			}
			v.setStatus(fmt.Sprintf("reloaded archetypes for %d units", n))
		case err, ok := <-v.watcher.Errors:
			if ok {
				v.log.Warn("watcher error", zap.Error(err))
			}
		default:
			return
		}
	}
}

func (v *Viewer) setStatus(s string) {
	v.status = s
	v.statusLeft = statusTicks
}

func (v *Viewer) selectedSquad() *squad.Squad {
	if len(v.sim.Squads) == 0 {
		return nil
	}
	return v.sim.Squads[v.selected%len(v.sim.Squads)]
}

func (v *Viewer) pressed(cur map[ebiten.Key]bool, k ebiten.Key) bool {
	cur[k] = ebiten.IsKeyPressed(k)
	return cur[k] && !v.prevKeys[k]
}

// Update implements ebiten.Game.
func (v *Viewer) Update() error {
	v.pollReload()
	v.handleInput()
	if v.statusLeft > 0 {
		v.statusLeft--
	}
	if v.paused {
		return nil
	}
	v.acc += time.Duration(v.speed * float64(time.Second) / tps)
	dt := v.sim.TimeStep()
	for v.acc >= dt {
		v.acc -= dt
		if err := v.sim.Step(context.Background()); err != nil {
			return err
		}
	}
	return nil
}

func (v *Viewer) handleInput() {
	cur := map[ebiten.Key]bool{}
	sq := v.selectedSquad()

	// 1-5: formation for the selected squad.
	for i, k := range formationKeys {
		if v.pressed(cur, k) && sq != nil {
			sq.SetFormation(formation.Types()[i])
		}
	}

	// Tab: cycle the selected squad.
	if v.pressed(cur, ebiten.KeyTab) && len(v.sim.Squads) > 0 {
		v.selected = (v.selected + 1) % len(v.sim.Squads)
	}

	// O: critical override for slot 1 to the cursor.
	if v.pressed(cur, ebiten.KeyO) && sq != nil && len(sq.Members()) > 1 {
		mx, my := ebiten.CursorPosition()
		dest := v.cam.toWorld(mx, my)
		u := sq.Members()[1]
		if u.OverrideDestination(dest) {
			v.setStatus(fmt.Sprintf("override %s → %s", u.ID(), dest))
		}
	}

	// C: copy the movement report.
	if v.pressed(cur, ebiten.KeyC) {
		if err := clipboard.WriteAll(v.report()); err != nil {
			v.log.Warn("clipboard write failed", zap.Error(err))
			v.setStatus("clipboard unavailable")
		} else {
			v.setStatus("report copied")
		}
	}

	// Space pauses; , and . change speed.
	if v.pressed(cur, ebiten.KeySpace) {
		v.paused = !v.paused
	}
	if v.pressed(cur, ebiten.KeyComma) && v.speed > 0.25 {
		v.speed /= 2
	}
	if v.pressed(cur, ebiten.KeyPeriod) && v.speed < 8 {
		v.speed *= 2
	}
	v.prevKeys = cur

	// Right click: march the selected squad to the cursor.
	right := ebiten.IsMouseButtonPressed(ebiten.MouseButtonRight)
	if right && !v.prevRight && sq != nil {
		mx, my := ebiten.CursorPosition()
		dest := v.cam.toWorld(mx, my)
		if v.sim.World.Grid().Walkable(dest) {
			n := sq.MoveTo(dest, command.Normal)
			v.setStatus(fmt.Sprintf("%s → %s (%d/%d accepted)", sq.ID, dest, n, len(sq.Members())))
		}
	}
	v.prevRight = right
}

func (v *Viewer) report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "scenario=%s tick=%d t=%.2fs\n", v.sc.Name, v.sim.CurrentTick(), v.sim.Sched.Elapsed().Seconds())
	for _, sq := range v.sim.Squads {
		fmt.Fprintf(&sb, "squad %s formation=%s arrived=%t spread=%.2f\n",
			sq.ID, sq.Formation(), sq.Arrived(), sq.Spread())
	}
	sb.WriteString(v.sim.Log.Summarize().String())
	return sb.String()
}

// Draw implements ebiten.Game.
func (v *Viewer) Draw(screen *ebiten.Image) {
	screen.Fill(backgroundColor)

	b := v.sim.Bounds
	x0, y0 := v.cam.toScreen(geom.XZ(b.X, b.Z))
	vector.FillRect(screen, x0, y0, v.cam.length(b.W), v.cam.length(b.D), fieldColor, false)
	for _, o := range v.sc.Obstacles {
		ox, oy := v.cam.toScreen(geom.XZ(o.X, o.Z))
		vector.FillRect(screen, ox, oy, v.cam.length(o.W), v.cam.length(o.D), obstacleColor, false)
	}

	sel := v.selectedSquad()
	for _, sq := range v.sim.Squads {
		ax, ay := v.cam.toScreen(sq.Anchor())
		vector.StrokeLine(screen, ax-5, ay, ax+5, ay, 1.5, anchorColor, true)
		vector.StrokeLine(screen, ax, ay-5, ax, ay+5, 1.5, anchorColor, true)
		if !sq.Target().Eq(sq.Anchor()) {
			tx, ty := v.cam.toScreen(sq.Target())
			vector.StrokeCircle(screen, tx, ty, 6, 1.5, targetColor, true)
		}
		for _, u := range sq.Members() {
			if p, ok := u.ExactPosition(); ok {
				gx, gy := v.cam.toScreen(p)
				vector.StrokeCircle(screen, gx, gy, v.cam.length(0.3), 1, ghostColor, true)
			}
		}
		if sq == sel {
			lx, ly := v.cam.toScreen(sq.Leader().Position())
			vector.StrokeCircle(screen, lx, ly, v.cam.length(0.3)+7, 1, selectedColor, true)
		}
	}

	r := v.cam.length(0.3)
	for _, u := range v.sim.Units() {
		ux, uy := v.cam.toScreen(u.Position())
		vector.FillCircle(screen, ux, uy, r, phaseColor(u.CurrentPhase()), true)
		if u.Role() == movement.Leader {
			vector.StrokeCircle(screen, ux, uy, r+3, 1.5, leaderRingColor, true)
		}
	}

	hud := fmt.Sprintf("T=%04d  %.1fx  %s", v.sim.CurrentTick(), v.speed, pausedLabel(v.paused))
	if sel != nil {
		hud += fmt.Sprintf("\nsquad %s  %s  tightness %.2f", sel.ID, sel.Formation(), sel.Tightness())
	}
	hud += "\n1-5 formation  Tab squad  RMB move  O override  C copy  Space pause"
	ebitenutil.DebugPrintAt(screen, hud, 8, 6)
	if v.statusLeft > 0 {
		ebitenutil.DebugPrintAt(screen, v.status, 8, screenH-20)
	}
}

// Layout implements ebiten.Game.
func (v *Viewer) Layout(_, _ int) (int, int) { return screenW, screenH }

func pausedLabel(p bool) string {
	if p {
		return "paused"
	}
	return ""
}
