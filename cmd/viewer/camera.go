package main

import (
	"image/color"
	"math"

	"golang.org/x/image/colornames"

	"github.com/Garsondee/squad-formation/internal/geom"
	"github.com/Garsondee/squad-formation/internal/movement"
	"github.com/Garsondee/squad-formation/internal/nav"
)

// camera maps the ground plane onto the window, top-down with +Z pointing
// down the screen.
type camera struct {
	bounds nav.Rect
	scale  float64 // pixels per metre
	offX   float64
	offY   float64
}

func newCamera(bounds nav.Rect, width, height int, margin float64) camera {
	w := float64(width) - 2*margin
	h := float64(height) - 2*margin
	scale := math.Min(w/bounds.W, h/bounds.D)
	return camera{
		bounds: bounds,
		scale:  scale,
		offX:   margin + (w-bounds.W*scale)/2,
		offY:   margin + (h-bounds.D*scale)/2,
	}
}

func (c camera) toScreen(p geom.Vec3) (float32, float32) {
	x := (p.X-c.bounds.X)*c.scale + c.offX
	y := (p.Z-c.bounds.Z)*c.scale + c.offY
	return float32(x), float32(y)
}

func (c camera) toWorld(sx, sy int) geom.Vec3 {
	x := (float64(sx)-c.offX)/c.scale + c.bounds.X
	z := (float64(sy)-c.offY)/c.scale + c.bounds.Z
	return geom.XZ(x, z)
}

func (c camera) length(m float64) float32 { return float32(m * c.scale) }

var (
	backgroundColor = color.RGBA{R: 18, G: 22, B: 18, A: 255}
	fieldColor      = color.RGBA{R: 28, G: 42, B: 28, A: 255}
	obstacleColor   = color.RGBA{R: 70, G: 64, B: 56, A: 255}
	ghostColor      = color.RGBA{R: 220, G: 220, B: 220, A: 110}
	anchorColor     = colornames.Gold
	targetColor     = colornames.Orangered
	leaderRingColor = colornames.White
	selectedColor   = colornames.Yellow
)

func phaseColor(p movement.Phase) color.RGBA {
	switch p {
	case movement.DirectMovement:
		return colornames.Tomato
	case movement.MoveToLeader:
		return colornames.Orange
	case movement.MoveToFormation:
		return colornames.Deepskyblue
	case movement.InFormation:
		return colornames.Limegreen
	default:
		return colornames.Gray
	}
}
