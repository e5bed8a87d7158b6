package session

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/pixel-place/pkg/config"
	"github.com/astromechza/pixel-place/pkg/grid"
	"github.com/astromechza/pixel-place/pkg/protocol"
	"github.com/astromechza/pixel-place/pkg/render"
)

type fakeTransport struct {
	in        chan []byte
	sent      chan protocol.UpdatePixelMsg
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		sent:   make(chan protocol.UpdatePixelMsg, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Receive() ([]byte, error) {
	select {
	case raw, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return raw, nil
	case <-f.closed:
		return nil, errors.New("closed")
	}
}

func (f *fakeTransport) Send(msg protocol.UpdatePixelMsg) error {
	f.sent <- msg
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	s, err := New(config.Default(), opts...)
	require.NoError(t, err)
	return s
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.ZoomStep = 0.5
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestDispatch_SnapshotThenRender(t *testing.T) {
	var frames []render.Stats
	s := newSession(t, WithFrameHook(func(st render.Stats) { frames = append(frames, st) }))

	require.NoError(t, s.Dispatch(InitialSnapshot{Entries: []grid.Entry{{Coord: grid.Coord{X: 0, Y: 0}, Color: "#000000"}}}))

	require.Len(t, frames, 1)
	assert.Equal(t, 1, frames[0].Drawn)
	_, ok := s.Cache().ColorAt(grid.Coord{X: 0, Y: 1})
	assert.False(t, ok)

	require.NoError(t, s.Dispatch(PixelUpdate{Entry: grid.Entry{Coord: grid.Coord{X: 0, Y: 1}, Color: "#FF0000"}}))
	require.Len(t, frames, 2)
	assert.Equal(t, 2, frames[1].Drawn)
}

func TestDispatch_GesturesRedraw(t *testing.T) {
	renders := 0
	s := newSession(t, WithFrameHook(func(render.Stats) { renders++ }))

	require.NoError(t, s.Dispatch(PointerDown{X: 10, Y: 10}))
	require.NoError(t, s.Dispatch(PointerMove{X: 20, Y: 30}))
	require.NoError(t, s.Dispatch(PointerUp{X: 25, Y: 30}))
	require.NoError(t, s.Dispatch(PointerMove{X: 90, Y: 90}))
	assert.Equal(t, 2, renders)
	assert.Equal(t, 15.0, s.View().State().OffsetX)
	assert.Equal(t, 20.0, s.View().State().OffsetY)

	require.NoError(t, s.Dispatch(Wheel{X: 100, Y: 100, DeltaY: -1}))
	assert.Equal(t, 3, renders)
	assert.InDelta(t, 1.1, s.View().Scale(), 1e-12)

	require.NoError(t, s.Dispatch(PointerLeave{}))
	require.NoError(t, s.Dispatch(SetColor{Color: "#00FF00"}))
	assert.Equal(t, grid.Color("#00FF00"), s.Color())
	assert.Equal(t, 3, renders)
}

func TestDispatch_ClickWithoutConnection(t *testing.T) {
	s := newSession(t)
	err := s.Dispatch(Click{X: 1, Y: 1})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDispatch_ResizeAndSaveFrame(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Dispatch(Resize{Width: 100, Height: 50}))
	w, h := s.Surface().Size()
	assert.Equal(t, 80.0, w)
	assert.Equal(t, 40.0, h)

	assert.Error(t, s.Dispatch(Resize{Width: 0, Height: 50}))
	w, _ = s.Surface().Size()
	assert.Equal(t, 80.0, w)

	done := make(chan error, 1)
	path := filepath.Join(t.TempDir(), "frame.png")
	require.NoError(t, s.Dispatch(SaveFrame{Path: path, Done: done}))
	assert.NoError(t, <-done)
	assert.FileExists(t, path)
}

func TestServe_ClickSendsOneMessageAndWaitsForEcho(t *testing.T) {
	frames := make(chan render.Stats, 16)
	s := newSession(t, WithFrameHook(func(st render.Stats) { frames <- st }))
	tr := newFakeTransport()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, tr) }()

	tr.in <- []byte(`{"type":"initial","data":[{"x":0,"y":0,"color":"#000000"}]}`)
	select {
	case st := <-frames:
		assert.Equal(t, 1, st.Drawn)
	case <-time.After(5 * time.Second):
		t.Fatal("snapshot never rendered")
	}
	require.NoError(t, s.Post(ctx, SetColor{Color: "#FF0000"}))
	require.NoError(t, s.Post(ctx, Click{X: 5.5, Y: 5.5}))
	require.NoError(t, s.Post(ctx, Click{X: -0.5, Y: 5.5}))
	require.NoError(t, s.Post(ctx, Click{X: 1000.5, Y: 5.5}))

	select {
	case msg := <-tr.sent:
		assert.Equal(t, protocol.UpdatePixelMsg{Type: "update_pixel", X: 5, Y: 5, Color: "#FF0000"}, msg)
	case <-time.After(5 * time.Second):
		t.Fatal("no outbound message")
	}

	// Drain the loop before inspecting state.
	done := make(chan error, 1)
	require.NoError(t, s.Post(ctx, SaveFrame{Path: filepath.Join(t.TempDir(), "f.png"), Done: done}))
	require.NoError(t, <-done)
	cancel()
	assert.ErrorIs(t, <-served, context.Canceled)

	assert.Empty(t, tr.sent, "out of bounds clicks send nothing")
	_, painted := s.Cache().ColorAt(grid.Coord{X: 5, Y: 5})
	assert.False(t, painted, "cache waits for the server echo")
	_, ok := s.Cache().ColorAt(grid.Coord{X: 0, Y: 0})
	assert.True(t, ok)
}

func TestServe_EchoUpdatesCache(t *testing.T) {
	s := newSession(t)
	tr := newFakeTransport()
	tr.in <- []byte(`{"type":"pixel_updated","data":{"x":5,"y":5,"color":"#FF0000"}}`)
	tr.in <- []byte(`garbage`)
	tr.in <- []byte(`{"type":"pixel_updated","data":{"x":5,"y":5,"color":"#00FF00"}}`)
	close(tr.in)

	err := s.Serve(context.Background(), tr)
	assert.ErrorIs(t, err, ErrDisconnected)

	assert.Empty(t, s.events, "frames queued before the disconnect are applied")
	color, ok := s.Cache().ColorAt(grid.Coord{X: 5, Y: 5})
	assert.True(t, ok)
	assert.Equal(t, grid.Color("#00FF00"), color)
}

func TestDecodeEvent_RejectsOutboundType(t *testing.T) {
	_, err := decodeEvent([]byte(`{"type":"update_pixel","x":1,"y":1,"color":"#000"}`))
	assert.ErrorIs(t, err, errUnexpectedMessage)
}

func TestParseScript(t *testing.T) {
	steps, err := ParseScript(strings.NewReader(`
# paint one cell then pan away
color #FF0000
down 10 10
move 20 10
up 20 10
click 5.5 5.5
wheel 100 100 -1
leave
resize 640 480
wait 250ms
frame out.png
`))
	require.NoError(t, err)
	require.Len(t, steps, 10)
	assert.Equal(t, SetColor{Color: "#FF0000"}, steps[0].Event)
	assert.Equal(t, 3, steps[0].Line)
	assert.Equal(t, PointerDown{X: 10, Y: 10}, steps[1].Event)
	assert.Equal(t, PointerMove{X: 20, Y: 10}, steps[2].Event)
	assert.Equal(t, PointerUp{X: 20, Y: 10}, steps[3].Event)
	assert.Equal(t, Click{X: 5.5, Y: 5.5}, steps[4].Event)
	assert.Equal(t, Wheel{X: 100, Y: 100, DeltaY: -1}, steps[5].Event)
	assert.Equal(t, PointerLeave{}, steps[6].Event)
	assert.Equal(t, Resize{Width: 640, Height: 480}, steps[7].Event)
	assert.Nil(t, steps[8].Event)
	assert.Equal(t, 250*time.Millisecond, steps[8].Wait)
	assert.Equal(t, SaveFrame{Path: "out.png"}, steps[9].Event)
}

func TestParseScript_Errors(t *testing.T) {
	for _, bad := range []string{"jump 1 2", "down 1", "click a b", "wait soon", "resize 1 x"} {
		_, err := ParseScript(strings.NewReader(bad))
		assert.Error(t, err, bad)
	}
}
