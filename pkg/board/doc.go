// Package board keeps the authoritative canvas as an automerge document so every accepted write
// is a change in the document history.
package board

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/pixel-place/pkg/protocol"
)

const pixelsKey = "pixels"

var ErrOutOfBounds = errors.New("cell out of bounds")

// Doc is a size x size canvas. It is not safe for concurrent use.
type Doc struct {
	doc  *automerge.Doc
	size int
}

func New(size int) (*Doc, error) {
	return wrap(automerge.New(), size)
}

// Load restores a document produced by Save.
func Load(raw []byte, size int) (*Doc, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	return wrap(doc, size)
}

func wrap(doc *automerge.Doc, size int) (*Doc, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid board size %d", size)
	}
	v, err := doc.Path(pixelsKey).Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read pixels: %w", err)
	}
	if v.Kind() == automerge.KindVoid {
		if err := doc.Path(pixelsKey).Set(automerge.NewMap()); err != nil {
			return nil, fmt.Errorf("failed to create pixels: %w", err)
		}
		if _, err := doc.Commit("create board"); err != nil {
			return nil, fmt.Errorf("failed to commit: %w", err)
		}
	}
	return &Doc{doc: doc, size: size}, nil
}

func (d *Doc) Size() int {
	return d.size
}

// Set paints one cell and commits it as its own change.
func (d *Doc) Set(x, y int, color string) error {
	if x < 0 || x >= d.size || y < 0 || y >= d.size {
		return fmt.Errorf("%w: (%d, %d)", ErrOutOfBounds, x, y)
	}
	k := key(x, y)
	if err := d.doc.Path(pixelsKey, k).Set(color); err != nil {
		return fmt.Errorf("failed to set %s: %w", k, err)
	}
	if _, err := d.doc.Commit(k + " " + color); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Pixels lists every painted cell.
func (d *Doc) Pixels() ([]protocol.Pixel, error) {
	m := d.doc.Path(pixelsKey).Map()
	keys, err := m.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list pixels: %w", err)
	}
	out := make([]protocol.Pixel, 0, len(keys))
	for _, k := range keys {
		x, y, ok := parseKey(k)
		if !ok {
			continue
		}
		v, err := m.Get(k)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", k, err)
		}
		if v.Kind() != automerge.KindStr {
			continue
		}
		out = append(out, protocol.Pixel{X: x, Y: y, Color: v.Str()})
	}
	return out, nil
}

func (d *Doc) Save() []byte {
	return d.doc.Save()
}

// Automerge exposes the underlying document for history inspection.
func (d *Doc) Automerge() *automerge.Doc {
	return d.doc
}

func key(x, y int) string {
	return strconv.Itoa(x) + "," + strconv.Itoa(y)
}

func parseKey(k string) (int, int, bool) {
	xs, ys, ok := strings.Cut(k, ",")
	if !ok {
		return 0, 0, false
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return 0, 0, false
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}
