package session

import (
	"github.com/astromechza/pixel-place/pkg/grid"
)

// Event is anything the session loop can process. Events are applied one at a time, in order.
type Event interface {
	isEvent()
}

// InitialSnapshot carries the full set of painted cells sent when a connection opens.
type InitialSnapshot struct {
	Entries []grid.Entry
}

// PixelUpdate carries one accepted write.
type PixelUpdate struct {
	Entry grid.Entry
}

type PointerDown struct{ X, Y float64 }

type PointerMove struct{ X, Y float64 }

type PointerUp struct{ X, Y float64 }

type PointerLeave struct{}

// Wheel zooms in for negative DeltaY and out for positive, anchored at (X, Y).
type Wheel struct{ X, Y, DeltaY float64 }

type Click struct{ X, Y float64 }

type SetColor struct{ Color grid.Color }

// Resize changes the viewing area; the drawing surface follows at the configured fraction.
type Resize struct{ Width, Height int }

// SaveFrame writes the current surface as a PNG if the surface supports it. Done, when set,
// receives the result.
type SaveFrame struct {
	Path string
	Done chan<- error
}

func (InitialSnapshot) isEvent() {}
func (PixelUpdate) isEvent()     {}
func (PointerDown) isEvent()     {}
func (PointerMove) isEvent()     {}
func (PointerUp) isEvent()       {}
func (PointerLeave) isEvent()    {}
func (Wheel) isEvent()           {}
func (Click) isEvent()           {}
func (SetColor) isEvent()        {}
func (Resize) isEvent()          {}
func (SaveFrame) isEvent()       {}
