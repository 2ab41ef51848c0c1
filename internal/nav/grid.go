package nav

import (
	"container/heap"
	"errors"
	"fmt"
	"math"

	"github.com/Garsondee/squad-formation/internal/geom"
)

// ErrBadGrid is returned when a grid cannot be built from the given bounds.
var ErrBadGrid = errors.New("nav: bad grid")

// Rect is an axis-aligned area on the ground plane. X/Z is the minimum
// corner, W/D the extent along X and Z.
type Rect struct {
	X float64 `json:"x" yaml:"x"`
	Z float64 `json:"z" yaml:"z"`
	W float64 `json:"w" yaml:"w"`
	D float64 `json:"d" yaml:"d"`
}

// Contains reports whether p lies inside r on the X/Z plane.
func (r Rect) Contains(p geom.Vec3) bool {
	return p.X >= r.X && p.X < r.X+r.W && p.Z >= r.Z && p.Z < r.Z+r.D
}

// Center returns the midpoint of r at Y=0.
func (r Rect) Center() geom.Vec3 {
	return geom.XZ(r.X+r.W/2, r.Z+r.D/2)
}

// Grid is a walkability grid over the X/Z plane where true = blocked.
type Grid struct {
	bounds  Rect
	cell    float64
	cols    int
	rows    int
	blocked []bool
}

// NewGrid builds a grid covering bounds. Every cell overlapping an obstacle
// grown by pad is blocked so paths keep clearance.
func NewGrid(bounds Rect, cell float64, obstacles []Rect, pad float64) (*Grid, error) {
	if !(cell > 0) {
		return nil, fmt.Errorf("%w: cell size must be > 0, got %v", ErrBadGrid, cell)
	}
	if !(bounds.W >= cell && bounds.D >= cell) {
		return nil, fmt.Errorf("%w: bounds %.1fx%.1f smaller than one cell", ErrBadGrid, bounds.W, bounds.D)
	}
	cols := int(bounds.W / cell)
	rows := int(bounds.D / cell)
	g := &Grid{
		bounds:  bounds,
		cell:    cell,
		cols:    cols,
		rows:    rows,
		blocked: make([]bool, cols*rows),
	}
	for _, o := range obstacles {
		g.Block(Rect{X: o.X - pad, Z: o.Z - pad, W: o.W + 2*pad, D: o.D + 2*pad})
	}
	return g, nil
}

// Block marks every cell overlapping r as blocked.
func (g *Grid) Block(r Rect) {
	if r.W <= 0 || r.D <= 0 {
		return
	}
	minX, minZ := g.WorldToCell(geom.XZ(r.X, r.Z))
	// Shave a hair off the far edge so a rect ending exactly on a cell
	// boundary does not claim the next cell.
	maxX, maxZ := g.WorldToCell(geom.XZ(r.X+r.W-1e-9, r.Z+r.D-1e-9))
	minX, minZ = max(0, minX), max(0, minZ)
	maxX, maxZ = min(g.cols-1, maxX), min(g.rows-1, maxZ)
	for cz := minZ; cz <= maxZ; cz++ {
		for cx := minX; cx <= maxX; cx++ {
			g.blocked[cz*g.cols+cx] = true
		}
	}
}

// Bounds returns the covered area.
func (g *Grid) Bounds() Rect { return g.bounds }

// CellSize returns the edge length of one cell.
func (g *Grid) CellSize() float64 { return g.cell }

// Size returns the grid dimensions in cells.
func (g *Grid) Size() (cols, rows int) { return g.cols, g.rows }

// IsBlocked returns true if the cell at (cx, cz) is not walkable.
func (g *Grid) IsBlocked(cx, cz int) bool {
	if cx < 0 || cz < 0 || cx >= g.cols || cz >= g.rows {
		return true
	}
	return g.blocked[cz*g.cols+cx]
}

// Walkable reports whether the cell under p is walkable.
func (g *Grid) Walkable(p geom.Vec3) bool {
	cx, cz := g.WorldToCell(p)
	return !g.IsBlocked(cx, cz)
}

// WorldToCell converts world coordinates to grid cell coordinates.
func (g *Grid) WorldToCell(p geom.Vec3) (int, int) {
	return int(math.Floor((p.X - g.bounds.X) / g.cell)), int(math.Floor((p.Z - g.bounds.Z) / g.cell))
}

// CellToWorld converts grid cell coordinates to the world cell center.
func (g *Grid) CellToWorld(cx, cz int) geom.Vec3 {
	return geom.XZ(
		g.bounds.X+float64(cx)*g.cell+g.cell/2,
		g.bounds.Z+float64(cz)*g.cell+g.cell/2,
	)
}

// NearestWalkable returns the center of the walkable cell closest to p,
// searching outward ring by ring up to radius cells. ok is false when
// nothing walkable is in reach.
func (g *Grid) NearestWalkable(p geom.Vec3, radius int) (geom.Vec3, bool) {
	cx, cz := g.WorldToCell(p)
	if !g.IsBlocked(cx, cz) {
		return p, true
	}
	for r := 1; r <= radius; r++ {
		best, bestD := geom.Vec3{}, math.Inf(1)
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				if max(abs(dx), abs(dz)) != r || g.IsBlocked(cx+dx, cz+dz) {
					continue
				}
				c := g.CellToWorld(cx+dx, cz+dz)
				if d := c.DistanceTo(p); d < bestD {
					best, bestD = c, d
				}
			}
		}
		if !math.IsInf(bestD, 1) {
			return best, true
		}
	}
	return geom.Vec3{}, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// --- A* pathfinding ---

type pathNode struct {
	cx, cz int
	g, h   float64
	parent *pathNode
	index  int // heap index
}

type openList []*pathNode

func (ol openList) Len() int { return len(ol) }
func (ol openList) Less(i, j int) bool {
	fi, fj := ol[i].g+ol[i].h, ol[j].g+ol[j].h
	if fi != fj {
		return fi < fj
	}
	return ol[i].h < ol[j].h
}
func (ol openList) Swap(i, j int) { ol[i], ol[j] = ol[j], ol[i]; ol[i].index = i; ol[j].index = j }
func (ol *openList) Push(x any)   { n := x.(*pathNode); n.index = len(*ol); *ol = append(*ol, n) }
func (ol *openList) Pop() any {
	old := *ol
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*ol = old[:len(old)-1]
	return n
}

var dirs = [8][2]int{
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
	{1, 1}, {1, -1}, {-1, 1}, {-1, -1},
}

// FindPath returns world waypoints from `from` to `to`, ending exactly on
// `to`. The start cell is not included. Returns nil if either end is blocked
// or no path exists.
func (g *Grid) FindPath(from, to geom.Vec3) []geom.Vec3 {
	scx, scz := g.WorldToCell(from)
	gcx, gcz := g.WorldToCell(to)

	if g.IsBlocked(scx, scz) || g.IsBlocked(gcx, gcz) {
		return nil
	}
	if scx == gcx && scz == gcz {
		return []geom.Vec3{to.Flat()}
	}

	key := func(cx, cz int) int { return cz*g.cols + cx }
	heuristic := func(ax, az, bx, bz int) float64 {
		dx := math.Abs(float64(ax - bx))
		dz := math.Abs(float64(az - bz))
		return dx + dz + (math.Sqrt2-2)*math.Min(dx, dz)
	}

	start := &pathNode{cx: scx, cz: scz, h: heuristic(scx, scz, gcx, gcz)}
	ol := &openList{start}
	heap.Init(ol)

	closed := make(map[int]bool)
	best := make(map[int]*pathNode)
	best[key(scx, scz)] = start

	for ol.Len() > 0 {
		cur := heap.Pop(ol).(*pathNode)
		if cur.cx == gcx && cur.cz == gcz {
			return g.buildPath(cur, to)
		}
		k := key(cur.cx, cur.cz)
		if closed[k] {
			continue
		}
		closed[k] = true

		for _, d := range dirs {
			nx, nz := cur.cx+d[0], cur.cz+d[1]
			if g.IsBlocked(nx, nz) {
				continue
			}
			// No diagonal corner-cutting through blocked cells.
			if d[0] != 0 && d[1] != 0 {
				if g.IsBlocked(cur.cx+d[0], cur.cz) || g.IsBlocked(cur.cx, cur.cz+d[1]) {
					continue
				}
			}
			nk := key(nx, nz)
			if closed[nk] {
				continue
			}
			cost := 1.0
			if d[0] != 0 && d[1] != 0 {
				cost = math.Sqrt2
			}
			ng := cur.g + cost
			if prev, ok := best[nk]; ok && ng >= prev.g {
				continue
			}
			node := &pathNode{cx: nx, cz: nz, g: ng, h: heuristic(nx, nz, gcx, gcz), parent: cur}
			best[nk] = node
			heap.Push(ol, node)
		}
	}
	return nil
}

func (g *Grid) buildPath(end *pathNode, goal geom.Vec3) []geom.Vec3 {
	var cells [][2]int
	for n := end; n.parent != nil; n = n.parent {
		cells = append(cells, [2]int{n.cx, n.cz})
	}
	// Reverse
	for i, j := 0, len(cells)-1; i < j; i, j = i+1, j-1 {
		cells[i], cells[j] = cells[j], cells[i]
	}
	path := make([]geom.Vec3, 0, len(cells))
	for i, c := range cells {
		// Drop interior waypoints that continue the same heading.
		if i > 0 && i < len(cells)-1 {
			p, n := cells[i-1], cells[i+1]
			if c[0]-p[0] == n[0]-c[0] && c[1]-p[1] == n[1]-c[1] {
				continue
			}
		}
		path = append(path, g.CellToWorld(c[0], c[1]))
	}
	path[len(path)-1] = goal.Flat()
	return path
}

// PathLength sums the polyline from `from` through every waypoint.
func PathLength(from geom.Vec3, path []geom.Vec3) float64 {
	total := 0.0
	prev := from
	for _, p := range path {
		total += prev.DistanceTo(p)
		prev = p
	}
	return total
}
