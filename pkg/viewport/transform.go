// Package viewport maps between screen pixels and grid cells under pan and cursor-anchored zoom.
//
// The mapping is axis aligned with a uniform scale:
//
//	screen = grid*scale + offset
//	grid   = (screen - offset) / scale
package viewport

import (
	"fmt"
	"math"

	"github.com/astromechza/pixel-place/pkg/grid"
)

// State is a copy of the transform parameters.
type State struct {
	Scale   float64
	OffsetX float64
	OffsetY float64
}

// Transform owns the screen/grid mapping. Scale always stays within [min, max].
type Transform struct {
	state    State
	min, max float64
}

// New returns a transform at scale 1 (clamped into range) with no offset.
func New(scaleMin, scaleMax float64) (*Transform, error) {
	if !(scaleMin > 0) || math.IsInf(scaleMax, 0) || scaleMax < scaleMin {
		return nil, fmt.Errorf("invalid scale range [%v, %v]", scaleMin, scaleMax)
	}
	t := &Transform{min: scaleMin, max: scaleMax}
	t.state.Scale = t.clamp(1)
	return t, nil
}

func (t *Transform) State() State {
	return t.state
}

func (t *Transform) Scale() float64 {
	return t.state.Scale
}

func (t *Transform) Range() (float64, float64) {
	return t.min, t.max
}

// Pan translates the offset by a screen-space delta. Panning is unbounded.
func (t *Transform) Pan(dx, dy float64) {
	t.state.OffsetX += dx
	t.state.OffsetY += dy
}

// ZoomAt multiplies the scale by factor, clamped to the allowed range, while keeping the grid
// point under the anchor fixed on screen. The offset correction uses the ratio actually applied
// after clamping. Non-positive or non-finite factors are ignored. It returns false when the
// transform did not change.
func (t *Transform) ZoomAt(anchorX, anchorY, factor float64) bool {
	if !(factor > 0) || math.IsInf(factor, 0) {
		return false
	}
	oldScale := t.state.Scale
	newScale := t.clamp(oldScale * factor)
	if newScale == oldScale {
		return false
	}
	ratio := newScale / oldScale
	t.state.Scale = newScale
	t.state.OffsetX = anchorX - (anchorX-t.state.OffsetX)*ratio
	t.state.OffsetY = anchorY - (anchorY-t.state.OffsetY)*ratio
	return true
}

// ToScreen returns the screen position of the top-left corner of a cell.
func (t *Transform) ToScreen(c grid.Coord) (float64, float64) {
	return float64(c.X)*t.state.Scale + t.state.OffsetX, float64(c.Y)*t.state.Scale + t.state.OffsetY
}

// ToGrid returns the possibly fractional grid position under a screen point.
func (t *Transform) ToGrid(sx, sy float64) (float64, float64) {
	return (sx - t.state.OffsetX) / t.state.Scale, (sy - t.state.OffsetY) / t.state.Scale
}

// CellAt returns the cell containing a screen point.
func (t *Transform) CellAt(sx, sy float64) grid.Coord {
	gx, gy := t.ToGrid(sx, sy)
	return grid.Coord{X: int(math.Floor(gx)), Y: int(math.Floor(gy))}
}

// Visible returns the inclusive cell bounds covering a width x height screen, clipped to a
// size x size grid. ok is false when no cell of the grid is on screen.
func (t *Transform) Visible(width, height float64, size int) (lo, hi grid.Coord, ok bool) {
	minX, minY := t.ToGrid(0, 0)
	maxX, maxY := t.ToGrid(width, height)
	if size <= 0 {
		return lo, hi, false
	}
	last := float64(size - 1)
	lo = grid.Coord{X: clampCell(math.Floor(minX), last), Y: clampCell(math.Floor(minY), last)}
	hi = grid.Coord{X: clampCell(math.Ceil(maxX), last), Y: clampCell(math.Ceil(maxY), last)}
	if maxX < 0 || maxY < 0 || minX >= float64(size) || minY >= float64(size) {
		return lo, hi, false
	}
	return lo, hi, true
}

func (t *Transform) clamp(s float64) float64 {
	return math.Max(t.min, math.Min(t.max, s))
}

// clampCell clamps before converting so far-off offsets cannot overflow int.
func clampCell(v, last float64) int {
	return int(math.Max(0, math.Min(last, v)))
}
