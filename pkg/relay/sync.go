package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/pixel-place/pkg/board"
)

const syncInterval = time.Second

// Sync runs an automerge sync conversation over conn until either side fails or ctx ends. Pending
// messages go out on every tick and straight after anything is received.
func Sync(ctx context.Context, conn *websocket.Conn, peer *board.Peer, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	kick := make(chan struct{}, 1)
	readErr := make(chan error, 1)
	go func() {
		defer cancel()
		for {
			mt, p, err := conn.ReadMessage()
			if err != nil {
				readErr <- fmt.Errorf("failed to read message: %w", err)
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			if err := peer.Receive(p); err != nil {
				readErr <- err
				return
			}
			select {
			case kick <- struct{}{}:
			default:
			}
		}
	}()

	t := time.NewTicker(syncInterval)
	defer t.Stop()
	for {
		msgs, err := peer.Generate()
		if err != nil {
			_ = conn.Close()
			return err
		}
		for _, msg := range msgs {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				_ = conn.Close()
				return fmt.Errorf("failed to write message: %w", err)
			}
			logger.Debug("sent sync message", "bytes", len(msg))
		}
		select {
		case <-t.C:
		case <-kick:
		case <-ctx.Done():
			_ = conn.Close()
			select {
			case err := <-readErr:
				return err
			default:
				return ctx.Err()
			}
		}
	}
}

// serveSync lets a mirror replicate a board. The relay side is read-only: a mirror that tries to
// push its own changes is disconnected.
func (s *Server) serveSync(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["board"]
	r, err := s.hub.room(id)
	if err != nil {
		s.writeError(writer, err)
		return
	}
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	s.logger.Info("mirror connected", "board", id, "remote", request.RemoteAddr)
	peer, err := board.NewPeer(&r.mu, r.doc, true)
	if err != nil {
		s.logger.Error("failed to start sync", "board", id, "err", err)
		return
	}
	if err := Sync(request.Context(), conn, peer, s.logger); err != nil {
		s.logger.Info("mirror disconnected", "board", id, "remote", request.RemoteAddr, "err", err)
	}
}
