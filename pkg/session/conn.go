package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/pixel-place/pkg/grid"
	"github.com/astromechza/pixel-place/pkg/protocol"
)

const writeWait = 5 * time.Second

// Transport is a bidirectional message channel to the server.
type Transport interface {
	Sender
	Receive() ([]byte, error)
	Close() error
}

// WSConn is a Transport over a websocket. Receive must only be called from one goroutine and
// Send from one other.
type WSConn struct {
	conn *websocket.Conn
	once sync.Once
}

func Dial(ctx context.Context, url string) (*WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return &WSConn{conn: conn}, nil
}

func (c *WSConn) Receive() ([]byte, error) {
	for {
		mt, p, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		switch mt {
		case websocket.TextMessage, websocket.BinaryMessage:
			return p, nil
		default:
		}
	}
}

func (c *WSConn) Send(msg protocol.UpdatePixelMsg) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *WSConn) Close() error {
	var err error
	c.once.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

// Serve runs the event loop against one connection until the context ends or the connection
// drops. Inbound frames and posted input events are applied strictly one at a time on the
// calling goroutine. A dropped connection returns an error wrapping ErrDisconnected.
func (s *Session) Serve(ctx context.Context, t Transport) error {
	s.sender = t
	done := make(chan struct{})
	readErr := make(chan error, 1)
	defer func() {
		close(done)
		_ = t.Close()
		s.sender = nil
	}()

	go func() {
		for {
			raw, err := t.Receive()
			if err != nil {
				readErr <- err
				return
			}
			ev, err := decodeEvent(raw)
			if err != nil {
				s.logger.Warn("dropping inbound frame", "err", err)
				continue
			}
			select {
			case s.events <- ev:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case ev := <-s.events:
			if err := s.Dispatch(ev); err != nil {
				s.logger.Warn("failed to handle event", "event", fmt.Sprintf("%T", ev), "err", err)
			}
		case err := <-readErr:
			s.drain()
			return fmt.Errorf("%w: %w", ErrDisconnected, err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drain applies every event already queued. The reader has stopped, so frames received before the
// disconnect are all in the queue.
func (s *Session) drain() {
	for {
		select {
		case ev := <-s.events:
			if err := s.Dispatch(ev); err != nil {
				s.logger.Warn("failed to handle event", "event", fmt.Sprintf("%T", ev), "err", err)
			}
		default:
			return
		}
	}
}

var errUnexpectedMessage = errors.New("unexpected message")

func decodeEvent(raw []byte) (Event, error) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case *protocol.InitialMsg:
		entries := make([]grid.Entry, 0, len(m.Data))
		for _, p := range m.Data {
			entries = append(entries, pixelEntry(p))
		}
		return InitialSnapshot{Entries: entries}, nil
	case *protocol.PixelUpdatedMsg:
		return PixelUpdate{Entry: pixelEntry(m.Data)}, nil
	default:
		return nil, fmt.Errorf("%w %T", errUnexpectedMessage, msg)
	}
}

func pixelEntry(p protocol.Pixel) grid.Entry {
	return grid.Entry{Coord: grid.Coord{X: p.X, Y: p.Y}, Color: grid.Color(p.Color)}
}
