package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/pixel-place/pkg/board"
	"github.com/astromechza/pixel-place/pkg/protocol"
)

// Mirror keeps a local replica of one board in step with a relay.
type Mirror struct {
	base   *url.URL
	id     string
	size   int
	logger *slog.Logger

	mu  sync.Mutex
	doc *board.Doc
}

// NewMirror replicates board id from the relay at base, an http url. doc may be a replica from an
// earlier run, or nil to start from the relay's latest save.
func NewMirror(base *url.URL, id string, size int, doc *board.Doc, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{base: base, id: id, size: size, doc: doc, logger: logger}
}

// Fetch downloads the latest save if there is no replica yet.
func (m *Mirror) Fetch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc != nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.base.JoinPath("boards", m.id, "latest").String(), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read body from get: %w", err)
	}
	doc, err := board.Load(raw, m.size)
	if err != nil {
		return err
	}
	m.doc = doc
	m.logger.Info("established base doc", "board", m.id, "heads", doc.Automerge().Heads())
	return nil
}

// Run fetches the base doc and then syncs, reconnecting every second, until ctx ends.
func (m *Mirror) Run(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		if err := m.connectAndSync(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("failed to sync", "board", m.id, "err", err)
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			m.logger.Info("stopping mirror", "board", m.id)
			return
		}
	}
}

func (m *Mirror) connectAndSync(ctx context.Context) error {
	if err := m.Fetch(ctx); err != nil {
		return err
	}
	u := m.base.JoinPath("boards", m.id, "sync")
	u.Scheme = "ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()
	m.mu.Lock()
	doc := m.doc
	m.mu.Unlock()
	peer, err := board.NewPeer(&m.mu, doc, false)
	if err != nil {
		return err
	}
	if err := Sync(ctx, conn, peer, m.logger); err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}
	return nil
}

// Save returns the replica's automerge save, or nil before the first fetch.
func (m *Mirror) Save() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return nil
	}
	return m.doc.Save()
}

func (m *Mirror) Pixels() ([]protocol.Pixel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return nil, nil
	}
	return m.doc.Pixels()
}
