package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

type Server struct {
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub) *Server {
	return &Server{
		hub:    hub,
		logger: hub.opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			s.logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).Path("/boards").HandlerFunc(s.listBoards)
	r.Methods(http.MethodGet).Path("/boards/{board}/latest").HandlerFunc(s.getLatest)
	r.Methods(http.MethodGet).Path("/boards/{board}/pixels").HandlerFunc(s.getPixels)
	r.Methods(http.MethodGet).Path("/boards/{board}/ws").HandlerFunc(s.serveBoard)
	r.Methods(http.MethodGet).Path("/boards/{board}/sync").HandlerFunc(s.serveSync)
	return r
}

func (s *Server) listBoards(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(map[string]interface{}{"boards": s.hub.Boards()}); err != nil {
		s.logger.Error("failed to write out", "err", err)
	}
}

func (s *Server) getLatest(writer http.ResponseWriter, request *http.Request) {
	raw, err := s.hub.Save(mux.Vars(request)["board"])
	if err != nil {
		s.writeError(writer, err)
		return
	}
	writer.Header().Add("Content-Type", "application/octet-stream")
	if _, err := writer.Write(raw); err != nil {
		s.logger.Error("failed to write out", "err", err)
	}
}

func (s *Server) getPixels(writer http.ResponseWriter, request *http.Request) {
	pixels, err := s.hub.Pixels(mux.Vars(request)["board"])
	if err != nil {
		s.writeError(writer, err)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(pixels); err != nil {
		s.logger.Error("failed to write out", "err", err)
	}
}

func (s *Server) writeError(writer http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnknownBoard) {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	s.logger.Error("request failed", "err", err)
	writer.WriteHeader(http.StatusInternalServerError)
}

func (s *Server) serveBoard(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["board"]
	if _, err := s.hub.room(id); err != nil {
		s.writeError(writer, err)
		return
	}
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	c := &client{remote: request.RemoteAddr, send: make(chan []byte, sendBuffer)}
	r, err := s.hub.join(id, c)
	if err != nil {
		s.logger.Error("failed to join", "board", id, "err", err)
		return
	}
	defer s.hub.leave(r, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.writePump(ctx, cancel, conn, c)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("connection dropped", "board", id, "remote", c.remote, "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		s.hub.handle(r, c, msg)
		if ctx.Err() != nil {
			return
		}
	}
}

// writePump is the only writer on conn. It ends when the send channel is closed, a write fails
// or the reader is done.
func (s *Server) writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *client) {
	defer cancel()
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case b, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				_ = conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = conn.Close()
				return
			}
		case <-t.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
