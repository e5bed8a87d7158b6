package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/astromechza/pixel-place/pkg/board"
	"github.com/astromechza/pixel-place/pkg/grid"
	"github.com/astromechza/pixel-place/pkg/protocol"
	"github.com/astromechza/pixel-place/pkg/render"
	"github.com/astromechza/pixel-place/pkg/viewport"
	"github.com/astromechza/pixel-place/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	sizeVar := flag.Int("size", 1000, "the board width and height in cells")
	limitVar := flag.Int("history-limit", 0, "only include the most recent changes in the graph, 0 for all")
	pngVar := flag.String("png", "", "also render the board to this png")
	pxVar := flag.Int("png-size", 1000, "width and height of the png in pixels")
	bgVar := flag.String("background", "#FFFFFF", "png background colour")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the file to read")
	}
	buff, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	doc, err := board.Load(buff, *sizeVar)
	if err != nil {
		return err
	}
	buff = nil

	pixels, err := doc.Pixels()
	if err != nil {
		return err
	}
	slog.Info("loaded board", "pixels", len(pixels), "heads", doc.Automerge().Heads())

	changes, err := doc.Automerge().Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	for i, change := range changes {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "msg", change.Message())
	}

	if err := viz.WriteDot(os.Stdout, doc.Automerge(), *limitVar); err != nil {
		return err
	}

	if *pngVar != "" {
		if err := renderPNG(pixels, *sizeVar, *pxVar, grid.Color(*bgVar), *pngVar); err != nil {
			return err
		}
		slog.Info("rendered board", "path", *pngVar)
	}
	return nil
}

// renderPNG draws the whole board scaled to fit a px x px image.
func renderPNG(pixels []protocol.Pixel, size, px int, background grid.Color, path string) error {
	if px <= 0 {
		return fmt.Errorf("invalid png size %d", px)
	}
	cache := grid.NewCache()
	entries := make([]grid.Entry, 0, len(pixels))
	for _, p := range pixels {
		entries = append(entries, grid.Entry{Coord: grid.Coord{X: p.X, Y: p.Y}, Color: grid.Color(p.Color)})
	}
	cache.ApplySnapshot(entries)

	fit := float64(px) / float64(size)
	view, err := viewport.New(fit, fit)
	if err != nil {
		return err
	}
	surface := render.NewImageSurface(px, px, slog.Default())
	stats := render.NewLoop(cache, view, surface, size, background).Render()
	slog.Info("drew cells", "visible", stats.Visible, "drawn", stats.Drawn)
	return surface.SavePNG(path)
}
