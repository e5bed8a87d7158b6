// Package session wires the grid cache, viewport, render loop and input controller into one
// single-threaded event loop bound to a server connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/astromechza/pixel-place/pkg/config"
	"github.com/astromechza/pixel-place/pkg/grid"
	"github.com/astromechza/pixel-place/pkg/input"
	"github.com/astromechza/pixel-place/pkg/protocol"
	"github.com/astromechza/pixel-place/pkg/render"
	"github.com/astromechza/pixel-place/pkg/viewport"
)

var (
	ErrDisconnected = errors.New("disconnected")
	ErrNotConnected = errors.New("not connected")
)

// Sender delivers outbound messages to the server.
type Sender interface {
	Send(msg protocol.UpdatePixelMsg) error
}

type resizer interface {
	Resize(width, height int)
}

type pngSaver interface {
	SavePNG(path string) error
}

// Session holds all client state for one canvas. It survives reconnects: each call to Serve
// binds it to a new connection and the next snapshot merges into the existing cache.
type Session struct {
	cfg    config.Config
	cache  *grid.Cache
	view   *viewport.Transform
	loop   *render.Loop
	input  *input.Controller
	sender Sender
	events chan Event

	logger  *slog.Logger
	surface render.Surface
	onFrame func(render.Stats)
}

type Option func(*Session)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithSurface replaces the default in-memory image surface.
func WithSurface(surface render.Surface) Option {
	return func(s *Session) {
		s.surface = surface
	}
}

// WithFrameHook is called after every render pass.
func WithFrameHook(fn func(render.Stats)) Option {
	return func(s *Session) {
		s.onFrame = fn
	}
}

func New(cfg config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &Session{cfg: cfg, events: make(chan Event, 256), logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	cacheOpts := []grid.Option{grid.WithLogger(s.logger)}
	if cfg.StrictBounds {
		cacheOpts = append(cacheOpts, grid.WithStrictBounds(cfg.GridSize))
	}
	s.cache = grid.NewCache(cacheOpts...)

	view, err := viewport.New(cfg.ScaleMin, cfg.ScaleMax)
	if err != nil {
		return nil, fmt.Errorf("failed to create viewport: %w", err)
	}
	s.view = view

	if s.surface == nil {
		w, h := cfg.SurfaceSize()
		s.surface = render.NewImageSurface(w, h, s.logger)
	}
	s.loop = render.NewLoop(s.cache, s.view, s.surface, cfg.GridSize, grid.Color(cfg.Background))
	s.input = input.NewController(s.view, s, input.Options{
		GridSize:      cfg.GridSize,
		ZoomStep:      cfg.ZoomStep,
		DragThreshold: cfg.DragThreshold,
		Logger:        s.logger,
	})
	s.input.SetColor(grid.Color(cfg.InitialColor))
	return s, nil
}

func (s *Session) Cache() *grid.Cache {
	return s.cache
}

func (s *Session) View() *viewport.Transform {
	return s.view
}

func (s *Session) Surface() render.Surface {
	return s.surface
}

func (s *Session) Color() grid.Color {
	return s.input.Color()
}

// Post queues an event for the loop. It blocks while the queue is full.
func (s *Session) Post(ctx context.Context, ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Paint sends a set-cell request over the current connection. The cache is left alone until
// the server echoes the write back.
func (s *Session) Paint(c grid.Coord, color grid.Color) error {
	if s.sender == nil {
		return ErrNotConnected
	}
	return s.sender.Send(protocol.NewUpdatePixel(c.X, c.Y, string(color)))
}

// Render redraws the surface from the current cache and viewport.
func (s *Session) Render() render.Stats {
	stats := s.loop.Render()
	if s.onFrame != nil {
		s.onFrame(stats)
	}
	return stats
}

// Dispatch applies one event synchronously and redraws if anything visible changed.
func (s *Session) Dispatch(ev Event) error {
	switch e := ev.(type) {
	case InitialSnapshot:
		n := s.cache.ApplySnapshot(e.Entries)
		s.logger.Info("applied snapshot", "cells", n, "cached", s.cache.Len())
		s.Render()
	case PixelUpdate:
		if s.cache.ApplyUpdate(e.Entry.Coord, e.Entry.Color) {
			s.Render()
		}
	case PointerDown:
		s.input.PointerDown(e.X, e.Y)
	case PointerMove:
		if s.input.PointerMove(e.X, e.Y) {
			s.Render()
		}
	case PointerUp:
		if s.input.PointerMove(e.X, e.Y) {
			s.Render()
		}
		s.input.PointerUp()
	case PointerLeave:
		s.input.PointerLeave()
	case Wheel:
		if s.input.Wheel(e.X, e.Y, e.DeltaY) {
			s.Render()
		}
	case Click:
		if _, err := s.input.Click(e.X, e.Y); err != nil {
			return err
		}
	case SetColor:
		s.input.SetColor(e.Color)
	case Resize:
		return s.resize(e)
	case SaveFrame:
		err := s.saveFrame(e.Path)
		if e.Done != nil {
			e.Done <- err
		}
		return err
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
	return nil
}

func (s *Session) resize(e Resize) error {
	r, ok := s.surface.(resizer)
	if !ok {
		return fmt.Errorf("surface %T cannot be resized", s.surface)
	}
	next := s.cfg
	next.ViewWidth, next.ViewHeight = e.Width, e.Height
	if err := next.Validate(); err != nil {
		return fmt.Errorf("failed to resize: %w", err)
	}
	s.cfg = next
	r.Resize(s.cfg.SurfaceSize())
	s.Render()
	return nil
}

func (s *Session) saveFrame(path string) error {
	saver, ok := s.surface.(pngSaver)
	if !ok {
		return fmt.Errorf("surface %T cannot save frames", s.surface)
	}
	return saver.SavePNG(path)
}
