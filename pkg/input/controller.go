// Package input turns pointer and wheel gestures into viewport changes and paint requests.
package input

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/astromechza/pixel-place/pkg/grid"
	"github.com/astromechza/pixel-place/pkg/viewport"
)

// Sink receives paint requests. The local cache is not touched; the server echo does that.
type Sink interface {
	Paint(c grid.Coord, color grid.Color) error
}

type Options struct {
	// GridSize bounds paint targets to [0, GridSize) on both axes.
	GridSize int
	// ZoomStep is the scale factor applied per wheel tick.
	ZoomStep float64
	// DragThreshold is the distance in screen pixels a pointer may travel from its down
	// position before the gesture counts as a drag and the trailing click no longer paints.
	// A negative value never suppresses the click.
	DragThreshold float64
	Logger        *slog.Logger
}

// Controller is the gesture state machine: Idle until a pointer goes down, Dragging until it
// goes up or leaves. Wheel and click are accepted in either state.
type Controller struct {
	view  *viewport.Transform
	sink  Sink
	opts  Options
	color grid.Color

	dragging     bool
	dragged      bool
	downX, downY float64
	lastX, lastY float64
}

func NewController(view *viewport.Transform, sink Sink, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{view: view, sink: sink, opts: opts}
}

func (c *Controller) SetColor(color grid.Color) {
	c.color = color
}

func (c *Controller) Color() grid.Color {
	return c.color
}

func (c *Controller) Dragging() bool {
	return c.dragging
}

func (c *Controller) PointerDown(x, y float64) {
	c.dragging = true
	c.dragged = false
	c.downX, c.downY = x, y
	c.lastX, c.lastY = x, y
}

// PointerMove pans by the distance moved since the last event while dragging. It returns true
// when the viewport changed.
func (c *Controller) PointerMove(x, y float64) bool {
	if !c.dragging {
		return false
	}
	dx, dy := x-c.lastX, y-c.lastY
	c.lastX, c.lastY = x, y
	if c.opts.DragThreshold >= 0 && math.Hypot(x-c.downX, y-c.downY) > c.opts.DragThreshold {
		c.dragged = true
	}
	if dx == 0 && dy == 0 {
		return false
	}
	c.view.Pan(dx, dy)
	return true
}

func (c *Controller) PointerUp() {
	c.dragging = false
}

func (c *Controller) PointerLeave() {
	c.dragging = false
	c.dragged = false
}

// Wheel zooms in for negative deltaY and out for positive, anchored at the pointer. A zero
// delta has no direction and is ignored. It returns true when the viewport changed.
func (c *Controller) Wheel(x, y, deltaY float64) bool {
	switch {
	case deltaY < 0:
		return c.view.ZoomAt(x, y, c.opts.ZoomStep)
	case deltaY > 0:
		return c.view.ZoomAt(x, y, 1/c.opts.ZoomStep)
	default:
		return false
	}
}

// Click paints the cell under the pointer with the current colour. Targets outside the grid,
// clicks while the pointer is still down and clicks ending a drag are discarded. It returns
// whether a paint request was sent.
func (c *Controller) Click(x, y float64) (bool, error) {
	if c.dragging {
		c.opts.Logger.Debug("click while dragging, not painting", "x", x, "y", y)
		return false, nil
	}
	if c.dragged {
		c.dragged = false
		c.opts.Logger.Debug("click ends a drag, not painting", "x", x, "y", y)
		return false, nil
	}
	cell := c.view.CellAt(x, y)
	if !cell.In(c.opts.GridSize) {
		return false, nil
	}
	if err := c.sink.Paint(cell, c.color); err != nil {
		return false, fmt.Errorf("failed to send paint request: %w", err)
	}
	return true, nil
}
