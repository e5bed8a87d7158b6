package viz

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// recentChanges returns at most limit of the latest changes. A non-positive limit keeps all.
func recentChanges(doc *automerge.Doc, limit int) ([]*automerge.Change, error) {
	changes, err := doc.Changes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate changes: %w", err)
	}
	if limit > 0 && len(changes) > limit {
		changes = changes[len(changes)-limit:]
	}
	return changes, nil
}

func label(change *automerge.Change) string {
	return fmt.Sprintf("%s %s@%d %s", change.Hash().String()[:8], change.ActorID(), change.ActorSeq(), change.Message())
}

// RenderHistoryToSvg draws the latest board changes and their dependencies as an SVG graph.
func RenderHistoryToSvg(doc *automerge.Doc, limit int, outputPath string) error {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	changes, err := recentChanges(doc, limit)
	if err != nil {
		return err
	}

	nodeMap := make(map[string]*cgraph.Node)
	edgeCounter := 0
	for _, change := range changes {
		n, err := graph.CreateNode(change.Hash().String())
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(label(change))
		nodeMap[n.Name()] = n

		for _, hash := range change.Dependencies() {
			dep, ok := nodeMap[hash.String()]
			if !ok {
				continue
			}
			edgeCounter++
			if _, err := graph.CreateEdge(strconv.Itoa(edgeCounter), dep, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	if err := os.WriteFile(outputPath, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

func RenderHistoryToTemp(doc *automerge.Doc, limit int) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := RenderHistoryToSvg(doc, limit, tf); err != nil {
		return "", err
	}
	return tf, nil
}

// WriteDot prints the history as a graphviz digraph without needing the graphviz renderer.
func WriteDot(w io.Writer, doc *automerge.Doc, limit int) error {
	changes, err := recentChanges(doc, limit)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(changes))
	if _, err := fmt.Fprintln(w, `digraph "history" {`); err != nil {
		return err
	}
	for _, change := range changes {
		h := change.Hash().String()
		seen[h] = true
		if _, err := fmt.Fprintf(w, "    %q [label=%q]\n", h, label(change)); err != nil {
			return err
		}
		for _, dep := range change.Dependencies() {
			if !seen[dep.String()] {
				continue
			}
			if _, err := fmt.Fprintf(w, "    %q -> %q\n", dep.String(), h); err != nil {
				return err
			}
		}
	}
	_, err = fmt.Fprintln(w, "}")
	return err
}
