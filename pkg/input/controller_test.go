package input

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/pixel-place/pkg/grid"
	"github.com/astromechza/pixel-place/pkg/viewport"
)

type paint struct {
	coord grid.Coord
	color grid.Color
}

type recordingSink struct {
	sent []paint
	err  error
}

func (s *recordingSink) Paint(c grid.Coord, color grid.Color) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, paint{c, color})
	return nil
}

func newController(t *testing.T, threshold float64) (*Controller, *viewport.Transform, *recordingSink) {
	t.Helper()
	view, err := viewport.New(0.1, 10)
	require.NoError(t, err)
	sink := &recordingSink{}
	c := NewController(view, sink, Options{GridSize: 1000, ZoomStep: 1.1, DragThreshold: threshold})
	c.SetColor("#FF0000")
	return c, view, sink
}

func TestController_ClickPaintsCell(t *testing.T) {
	c, view, sink := newController(t, 4)
	view.ZoomAt(0, 0, 4)
	view.Pan(100, 50)

	// (5, 5) spans screen [120, 124) x [70, 74).
	c.PointerDown(121, 72)
	c.PointerUp()
	painted, err := c.Click(121, 72)

	require.NoError(t, err)
	assert.True(t, painted)
	assert.Equal(t, []paint{{grid.Coord{X: 5, Y: 5}, "#FF0000"}}, sink.sent)
}

func TestController_ClickOutsideGridIgnored(t *testing.T) {
	c, view, sink := newController(t, 4)

	view.Pan(10, 0)
	painted, err := c.Click(5, 5) // grid x -5
	require.NoError(t, err)
	assert.False(t, painted)

	painted, err = c.Click(1010.5, 5) // grid x 1000
	require.NoError(t, err)
	assert.False(t, painted)

	assert.Empty(t, sink.sent)
}

func TestController_DragPans(t *testing.T) {
	c, view, _ := newController(t, 4)

	assert.False(t, c.PointerMove(10, 10), "moves while idle do not pan")
	c.PointerDown(10, 10)
	assert.True(t, c.Dragging())
	assert.True(t, c.PointerMove(15, 12))
	assert.True(t, c.PointerMove(30, 2))
	assert.False(t, c.PointerMove(30, 2))
	c.PointerUp()
	assert.False(t, c.Dragging())
	assert.False(t, c.PointerMove(100, 100))

	assert.Equal(t, viewport.State{Scale: 1, OffsetX: 20, OffsetY: -8}, view.State())
}

func TestController_DragSuppressesTrailingClick(t *testing.T) {
	c, _, sink := newController(t, 4)

	c.PointerDown(100, 100)
	c.PointerMove(150, 100)
	c.PointerUp()
	painted, err := c.Click(150, 100)
	require.NoError(t, err)
	assert.False(t, painted)

	// Suppression lasts for exactly one click.
	painted, err = c.Click(150, 100)
	require.NoError(t, err)
	assert.True(t, painted)
	assert.Len(t, sink.sent, 1)
}

func TestController_ClickWhileDraggingIgnored(t *testing.T) {
	c, _, sink := newController(t, -1)

	c.PointerDown(100, 100)
	painted, err := c.Click(100, 100)
	require.NoError(t, err)
	assert.False(t, painted)
	assert.True(t, c.Dragging())

	c.PointerUp()
	painted, err = c.Click(100, 100)
	require.NoError(t, err)
	assert.True(t, painted)
	assert.Len(t, sink.sent, 1)
}

func TestController_SmallJitterStillPaints(t *testing.T) {
	c, _, sink := newController(t, 4)

	c.PointerDown(100, 100)
	c.PointerMove(102, 101)
	c.PointerUp()
	painted, err := c.Click(102, 101)
	require.NoError(t, err)
	assert.True(t, painted)
	assert.Equal(t, grid.Coord{X: 100, Y: 100}, sink.sent[0].coord)
}

func TestController_NegativeThresholdAlwaysPaints(t *testing.T) {
	c, _, sink := newController(t, -1)

	c.PointerDown(100, 100)
	c.PointerMove(300, 300)
	c.PointerUp()
	painted, err := c.Click(300, 300)
	require.NoError(t, err)
	assert.True(t, painted)
	assert.Len(t, sink.sent, 1)
}

func TestController_LeaveEndsDrag(t *testing.T) {
	c, view, _ := newController(t, 4)

	c.PointerDown(0, 0)
	c.PointerMove(10, 0)
	c.PointerLeave()
	assert.False(t, c.Dragging())
	assert.False(t, c.PointerMove(50, 0))
	assert.Equal(t, 10.0, view.State().OffsetX)
}

func TestController_WheelZoomsAtPointer(t *testing.T) {
	c, view, _ := newController(t, 4)

	bx, by := view.ToGrid(200, 300)
	assert.True(t, c.Wheel(200, 300, -120))
	assert.InDelta(t, 1.1, view.Scale(), 1e-12)
	gx, gy := view.ToGrid(200, 300)
	assert.InDelta(t, bx, gx, 1e-9)
	assert.InDelta(t, by, gy, 1e-9)

	assert.True(t, c.Wheel(200, 300, 120))
	assert.InDelta(t, 1.0, view.Scale(), 1e-12)

	assert.False(t, c.Wheel(200, 300, 0))
}

func TestController_WheelDuringDragKeepsDragging(t *testing.T) {
	c, _, _ := newController(t, 4)
	c.PointerDown(0, 0)
	c.Wheel(0, 0, -1)
	assert.True(t, c.Dragging())
}

func TestController_SinkError(t *testing.T) {
	c, _, sink := newController(t, 4)
	sink.err = errors.New("closed")

	painted, err := c.Click(1, 1)
	assert.False(t, painted)
	assert.ErrorIs(t, err, sink.err)
}
