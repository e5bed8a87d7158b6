// Package config loads the canvas tuning constants. Every field has a default so a config file
// only needs the values it changes.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	GridSize int     `yaml:"grid_size"`
	ScaleMin float64 `yaml:"scale_min"`
	ScaleMax float64 `yaml:"scale_max"`
	ZoomStep float64 `yaml:"zoom_step"`
	// DragThreshold in screen pixels. Negative means a drag never suppresses the trailing click.
	DragThreshold float64 `yaml:"drag_threshold"`

	// Surface is sized to SurfaceFraction of the viewing area.
	ViewWidth       int     `yaml:"view_width"`
	ViewHeight      int     `yaml:"view_height"`
	SurfaceFraction float64 `yaml:"surface_fraction"`

	Background   string `yaml:"background"`
	InitialColor string `yaml:"initial_color"`
	StrictBounds bool   `yaml:"strict_bounds"`
}

func Default() Config {
	return Config{
		GridSize:        1000,
		ScaleMin:        0.1,
		ScaleMax:        10,
		ZoomStep:        1.1,
		DragThreshold:   4,
		ViewWidth:       1000,
		ViewHeight:      750,
		SurfaceFraction: 0.8,
		Background:      "#FFFFFF",
		InitialColor:    "#000000",
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.GridSize <= 0 {
		errs = append(errs, fmt.Errorf("grid_size must be positive, got %d", c.GridSize))
	}
	if c.ScaleMin <= 0 || c.ScaleMax < c.ScaleMin {
		errs = append(errs, fmt.Errorf("scale range [%v, %v] is invalid", c.ScaleMin, c.ScaleMax))
	}
	if c.ZoomStep <= 1 {
		errs = append(errs, fmt.Errorf("zoom_step must be greater than 1, got %v", c.ZoomStep))
	}
	if c.ViewWidth <= 0 || c.ViewHeight <= 0 {
		errs = append(errs, fmt.Errorf("view size %dx%d is invalid", c.ViewWidth, c.ViewHeight))
	}
	if c.SurfaceFraction <= 0 || c.SurfaceFraction > 1 {
		errs = append(errs, fmt.Errorf("surface_fraction must be in (0, 1], got %v", c.SurfaceFraction))
	}
	return errors.Join(errs...)
}

// SurfaceSize is the drawing surface size in pixels, at least 1x1.
func (c Config) SurfaceSize() (int, int) {
	w := int(float64(c.ViewWidth) * c.SurfaceFraction)
	h := int(float64(c.ViewHeight) * c.SurfaceFraction)
	return max(w, 1), max(h, 1)
}
