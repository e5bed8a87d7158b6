// Package protocol defines the JSON messages exchanged between canvas clients and the relay.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types.
const (
	TypeInitial      = "initial"
	TypePixelUpdated = "pixel_updated"
	TypeUpdatePixel  = "update_pixel"
)

var ErrUnknownType = errors.New("unknown message type")

// BaseMessage lets us route JSON messages by type before decoding the rest.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

type Pixel struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
}

// InitialMsg carries every previously painted cell. Sent once per connection.
type InitialMsg struct {
	Type string  `json:"type"`
	Data []Pixel `json:"data"`
}

func NewInitial(pixels []Pixel) InitialMsg {
	if pixels == nil {
		pixels = []Pixel{}
	}
	return InitialMsg{Type: TypeInitial, Data: pixels}
}

// PixelUpdatedMsg announces an accepted write, including the sender's own.
type PixelUpdatedMsg struct {
	Type string `json:"type"`
	Data Pixel  `json:"data"`
}

func NewPixelUpdated(p Pixel) PixelUpdatedMsg {
	return PixelUpdatedMsg{Type: TypePixelUpdated, Data: p}
}

// UpdatePixelMsg is a client's request to paint one cell.
type UpdatePixelMsg struct {
	Type  string `json:"type"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
}

func NewUpdatePixel(x, y int, color string) UpdatePixelMsg {
	return UpdatePixelMsg{Type: TypeUpdatePixel, X: x, Y: y, Color: color}
}

func (m UpdatePixelMsg) Pixel() Pixel {
	return Pixel{X: m.X, Y: m.Y, Color: m.Color}
}

// Decode parses a frame into one of the message structs based on its type.
func Decode(b []byte) (any, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message type: %w", err)
	}
	var out any
	switch base.Type {
	case TypeInitial:
		out = &InitialMsg{}
	case TypePixelUpdated:
		out = &PixelUpdatedMsg{}
	case TypeUpdatePixel:
		out = &UpdatePixelMsg{}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, base.Type)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", base.Type, err)
	}
	return out, nil
}
