// Package relay is the server side of the canvas: it owns each board document, fans accepted
// writes out to every connected client and backs boards up to sqlite.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/astromechza/pixel-place/pkg/board"
	"github.com/astromechza/pixel-place/pkg/protocol"
)

const sendBuffer = 256

var ErrUnknownBoard = errors.New("unknown board")

type HubOptions struct {
	GridSize int
	// Store is optional; without it boards only live in memory.
	Store *Store
	// Audit is optional.
	Audit  *AuditLog
	Logger *slog.Logger
}

// Hub holds the boards and their connected clients.
type Hub struct {
	opts      HubOptions
	validator *protocol.Validator

	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	id      string
	mu      sync.Mutex
	doc     *board.Doc
	clients map[*client]struct{}
}

type client struct {
	remote string
	send   chan []byte
}

func NewHub(opts HubOptions) (*Hub, error) {
	if opts.GridSize <= 0 {
		return nil, fmt.Errorf("invalid grid size %d", opts.GridSize)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, err
	}
	return &Hub{opts: opts, validator: v, rooms: make(map[string]*room)}, nil
}

// Open loads every stored board and creates any of ids that do not exist yet.
func (h *Hub) Open(ctx context.Context, ids ...string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.opts.Store != nil {
		saved, err := h.opts.Store.LoadAll(ctx)
		if err != nil {
			return err
		}
		for id, raw := range saved {
			doc, err := board.Load(raw, h.opts.GridSize)
			if err != nil {
				return fmt.Errorf("failed to load board %s: %w", id, err)
			}
			h.rooms[id] = newRoom(id, doc)
			h.opts.Logger.Info("loaded board", "board", id)
		}
	}
	for _, id := range ids {
		if _, ok := h.rooms[id]; ok {
			continue
		}
		doc, err := board.New(h.opts.GridSize)
		if err != nil {
			return err
		}
		if h.opts.Store != nil {
			if err := h.opts.Store.Ensure(ctx, id, doc.Save()); err != nil {
				return err
			}
		}
		h.rooms[id] = newRoom(id, doc)
		h.opts.Logger.Info("created board", "board", id)
	}
	return nil
}

func newRoom(id string, doc *board.Doc) *room {
	return &room{id: id, doc: doc, clients: make(map[*client]struct{})}
}

func (h *Hub) room(id string) (*room, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownBoard, id)
	}
	return r, nil
}

func (h *Hub) Boards() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Pixels returns the current snapshot of a board.
func (h *Hub) Pixels(id string) ([]protocol.Pixel, error) {
	r, err := h.room(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Pixels()
}

// Save returns the automerge save of a board.
func (h *Hub) Save(id string) ([]byte, error) {
	r, err := h.room(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Save(), nil
}

// WithDoc runs fn while holding the board lock.
func (h *Hub) WithDoc(id string, fn func(*board.Doc) error) error {
	r, err := h.room(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.doc)
}

// join registers a client and queues the initial snapshot ahead of any later broadcast.
func (h *Hub) join(id string, c *client) (*room, error) {
	r, err := h.room(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	pixels, err := r.doc.Pixels()
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(protocol.NewInitial(pixels))
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	r.clients[c] = struct{}{}
	c.send <- b
	h.opts.Logger.Info("client joined", "board", id, "remote", c.remote, "cells", len(pixels), "clients", len(r.clients))
	return r, nil
}

func (h *Hub) leave(r *room, c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
		h.opts.Logger.Info("client left", "board", r.id, "remote", c.remote, "clients", len(r.clients))
	}
}

// handle applies one inbound frame. Frames that are not a valid update_pixel inside the grid
// are dropped.
func (h *Hub) handle(r *room, c *client, raw []byte) {
	base, err := protocol.DecodeBase(raw)
	if err != nil || base.Type != protocol.TypeUpdatePixel {
		h.opts.Logger.Warn("dropping frame", "board", r.id, "remote", c.remote, "type", base.Type, "err", err)
		return
	}
	if err := h.validator.Validate(base.Type, raw); err != nil {
		h.opts.Logger.Warn("dropping invalid frame", "board", r.id, "remote", c.remote, "err", err)
		return
	}
	var msg protocol.UpdatePixelMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.opts.Logger.Warn("dropping frame", "board", r.id, "remote", c.remote, "err", err)
		return
	}
	if err := h.apply(r, msg.Pixel()); err != nil {
		h.opts.Logger.Warn("rejected write", "board", r.id, "remote", c.remote, "err", err)
		return
	}
	if h.opts.Audit != nil {
		if err := h.opts.Audit.Write(AuditEntry{
			Time: time.Now().UTC(), Board: r.id, Remote: c.remote, X: msg.X, Y: msg.Y, Color: msg.Color,
		}); err != nil {
			h.opts.Logger.Error("failed to write audit entry", "err", err)
		}
	}
}

// apply commits the write and broadcasts it to every client of the room, the writer included.
// Clients that cannot keep up are disconnected.
func (h *Hub) apply(r *room, p protocol.Pixel) error {
	b, err := json.Marshal(protocol.NewPixelUpdated(p))
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.doc.Set(p.X, p.Y, p.Color); err != nil {
		return err
	}
	for cl := range r.clients {
		select {
		case cl.send <- b:
		default:
			delete(r.clients, cl)
			close(cl.send)
			h.opts.Logger.Warn("dropping slow client", "board", r.id, "remote", cl.remote)
		}
	}
	return nil
}

// BackupAll writes every changed board to the store.
func (h *Hub) BackupAll(ctx context.Context) {
	if h.opts.Store == nil {
		return
	}
	for _, id := range h.Boards() {
		raw, err := h.Save(id)
		if err != nil {
			h.opts.Logger.Error("failed to save board", "board", id, "err", err)
			continue
		}
		if changed, err := h.opts.Store.Backup(ctx, id, raw); err != nil {
			h.opts.Logger.Error("failed to backup board in database", "board", id, "err", err)
		} else if changed {
			h.opts.Logger.Info("backed up", "board", id, "bytes", len(raw))
		}
	}
}

// RunBackups backs boards up on every tick until the context ends.
func (h *Hub) RunBackups(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			h.BackupAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}
