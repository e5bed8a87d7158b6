// Package render redraws the visible part of the grid onto a raster surface.
package render

import (
	"github.com/astromechza/pixel-place/pkg/grid"
	"github.com/astromechza/pixel-place/pkg/viewport"
)

// Surface is a raster drawing target.
type Surface interface {
	Size() (width, height float64)
	Clear(background grid.Color)
	FillRect(x, y, w, h float64, color grid.Color)
}

// Stats describes one render pass.
type Stats struct {
	// Visible cells in the clipped rectangle.
	Visible int
	// Drawn cells, ie: painted cells that were on screen.
	Drawn int
}

// Loop draws cache contents through the viewport. It keeps no state between passes.
type Loop struct {
	cache      *grid.Cache
	view       *viewport.Transform
	surface    Surface
	size       int
	background grid.Color
}

func NewLoop(cache *grid.Cache, view *viewport.Transform, surface Surface, size int, background grid.Color) *Loop {
	return &Loop{cache: cache, view: view, surface: surface, size: size, background: background}
}

func (l *Loop) Surface() Surface {
	return l.surface
}

// Render clears the surface and draws every painted cell inside the visible rectangle.
// Unpainted cells are left as background.
func (l *Loop) Render() Stats {
	l.surface.Clear(l.background)
	width, height := l.surface.Size()
	lo, hi, ok := l.view.Visible(width, height, l.size)
	if !ok {
		return Stats{}
	}
	stats := Stats{Visible: (hi.X - lo.X + 1) * (hi.Y - lo.Y + 1)}
	scale := l.view.Scale()

	draw := func(c grid.Coord, color grid.Color) {
		x, y := l.view.ToScreen(c)
		l.surface.FillRect(x, y, scale, scale, color)
		stats.Drawn++
	}

	// Walk whichever is smaller: the sparse cache or the visible rectangle.
	if l.cache.Len() < stats.Visible {
		l.cache.Range(func(c grid.Coord, color grid.Color) bool {
			if c.X >= lo.X && c.X <= hi.X && c.Y >= lo.Y && c.Y <= hi.Y {
				draw(c, color)
			}
			return true
		})
		return stats
	}
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			c := grid.Coord{X: x, Y: y}
			if color, ok := l.cache.ColorAt(c); ok {
				draw(c, color)
			}
		}
	}
	return stats
}
