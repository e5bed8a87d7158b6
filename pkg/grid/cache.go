// Package grid holds the client's view of the shared canvas: the last known colour of every cell
// the server has told us about.
package grid

import (
	"log/slog"
)

// Coord addresses one cell. It is comparable so it is used directly as a map key.
type Coord struct {
	X, Y int
}

// In reports whether the coordinate lies inside a size x size grid.
func (c Coord) In(size int) bool {
	return c.X >= 0 && c.X < size && c.Y >= 0 && c.Y < size
}

// Color is an opaque colour value as sent by the server. The cache never interprets it.
type Color string

// Entry is one painted cell.
type Entry struct {
	Coord Coord
	Color Color
}

// Cache maps cells to their last received colour. Absent cells have never been painted.
// Entries are only ever added or overwritten.
type Cache struct {
	cells  map[Coord]Color
	size   int
	strict bool
	logger *slog.Logger
}

type Option func(*Cache)

// WithStrictBounds drops entries outside a size x size grid instead of storing them.
func WithStrictBounds(size int) Option {
	return func(c *Cache) {
		c.size = size
		c.strict = true
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func NewCache(opts ...Option) *Cache {
	c := &Cache{cells: make(map[Coord]Color), logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ApplySnapshot merges a bulk snapshot into the cache and returns how many entries were stored.
func (c *Cache) ApplySnapshot(entries []Entry) int {
	stored := 0
	for _, e := range entries {
		if c.accept(e.Coord) {
			c.cells[e.Coord] = e.Color
			stored++
		}
	}
	return stored
}

// ApplyUpdate upserts a single cell. It returns false if the entry was dropped.
func (c *Cache) ApplyUpdate(coord Coord, color Color) bool {
	if !c.accept(coord) {
		return false
	}
	c.cells[coord] = color
	return true
}

// ColorAt returns the cell colour and whether the cell has ever been painted.
func (c *Cache) ColorAt(coord Coord) (Color, bool) {
	color, ok := c.cells[coord]
	return color, ok
}

func (c *Cache) Len() int {
	return len(c.cells)
}

// Range calls fn for every stored entry in no particular order until fn returns false.
func (c *Cache) Range(fn func(Coord, Color) bool) {
	for coord, color := range c.cells {
		if !fn(coord, color) {
			return
		}
	}
}

func (c *Cache) accept(coord Coord) bool {
	if !c.strict || coord.In(c.size) {
		return true
	}
	c.logger.Warn("dropping out of range cell", "x", coord.X, "y", coord.Y, "size", c.size)
	return false
}
