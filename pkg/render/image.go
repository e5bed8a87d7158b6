package render

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/colornames"

	"github.com/astromechza/pixel-place/pkg/grid"
)

// ImageSurface is an in-memory raster surface backed by a gg context.
type ImageSurface struct {
	dc      *gg.Context
	palette map[grid.Color]color.Color
	bad     map[grid.Color]struct{}
	logger  *slog.Logger
}

func NewImageSurface(width, height int, logger *slog.Logger) *ImageSurface {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageSurface{
		dc:      gg.NewContext(width, height),
		palette: make(map[grid.Color]color.Color),
		bad:     make(map[grid.Color]struct{}),
		logger:  logger,
	}
}

func (s *ImageSurface) Size() (float64, float64) {
	return float64(s.dc.Width()), float64(s.dc.Height())
}

// Resize replaces the backing image. The caller is expected to render again.
func (s *ImageSurface) Resize(width, height int) {
	s.dc = gg.NewContext(width, height)
}

func (s *ImageSurface) Clear(background grid.Color) {
	c, ok := s.resolve(background)
	if !ok {
		c = color.White
	}
	s.dc.SetColor(c)
	s.dc.Clear()
}

func (s *ImageSurface) FillRect(x, y, w, h float64, col grid.Color) {
	c, ok := s.resolve(col)
	if !ok {
		return
	}
	s.dc.SetColor(c)
	s.dc.DrawRectangle(x, y, w, h)
	s.dc.Fill()
}

func (s *ImageSurface) Image() image.Image {
	return s.dc.Image()
}

func (s *ImageSurface) SavePNG(path string) error {
	if err := s.dc.SavePNG(path); err != nil {
		return fmt.Errorf("failed to save frame: %w", err)
	}
	return nil
}

func (s *ImageSurface) EncodePNG(w io.Writer) error {
	return s.dc.EncodePNG(w)
}

func (s *ImageSurface) resolve(col grid.Color) (color.Color, bool) {
	if c, ok := s.palette[col]; ok {
		return c, true
	}
	if _, ok := s.bad[col]; ok {
		return nil, false
	}
	c, ok := ParseColor(string(col))
	if !ok {
		s.bad[col] = struct{}{}
		s.logger.Debug("skipping unparseable colour", "color", col)
		return nil, false
	}
	s.palette[col] = c
	return c, true
}

// ParseColor understands #rgb, #rrggbb, #rrggbbaa and CSS colour names.
func ParseColor(raw string) (color.Color, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "#") {
		c, ok := colornames.Map[strings.ToLower(raw)]
		return c, ok
	}
	hex := raw[1:]
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, false
	}
	switch len(hex) {
	case 3:
		r, g, b := uint8(v>>8&0xf), uint8(v>>4&0xf), uint8(v&0xf)
		return color.NRGBA{R: r * 17, G: g * 17, B: b * 17, A: 0xff}, true
	case 6:
		return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, true
	case 8:
		return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, true
	default:
		return nil, false
	}
}
