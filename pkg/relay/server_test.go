package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/pixel-place/pkg/board"
	"github.com/astromechza/pixel-place/pkg/config"
	"github.com/astromechza/pixel-place/pkg/protocol"
	"github.com/astromechza/pixel-place/pkg/render"
	"github.com/astromechza/pixel-place/pkg/session"
)

func newTestServer(t *testing.T, store *Store, audit *AuditLog) (*Hub, *httptest.Server) {
	t.Helper()
	hub, err := NewHub(HubOptions{GridSize: 1000, Store: store, Audit: audit})
	require.NoError(t, err)
	require.NoError(t, hub.Open(context.Background(), "default"))
	srv := httptest.NewServer(NewServer(hub).Handler())
	t.Cleanup(srv.Close)
	return hub, srv
}

func wsURL(srv *httptest.Server, board string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/boards/" + board + "/ws"
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "default"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

func TestServer_BroadcastsAcceptedWrites(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "place.sqlite3"))
	require.NoError(t, err)
	defer store.Close()
	hub, srv := newTestServer(t, store, nil)

	c1, c2 := dial(t, srv), dial(t, srv)
	var initial protocol.InitialMsg
	readJSON(t, c1, &initial)
	assert.Equal(t, protocol.NewInitial(nil), initial)
	readJSON(t, c2, &initial)

	require.NoError(t, c1.WriteJSON(protocol.NewUpdatePixel(5, 5, "#FF0000")))
	for _, c := range []*websocket.Conn{c1, c2} {
		var got protocol.PixelUpdatedMsg
		readJSON(t, c, &got)
		assert.Equal(t, protocol.NewPixelUpdated(protocol.Pixel{X: 5, Y: 5, Color: "#FF0000"}), got)
	}

	// Rejected frames are never echoed.
	require.NoError(t, c1.WriteJSON(protocol.NewUpdatePixel(1000, 5, "#FF0000")))
	require.NoError(t, c1.WriteMessage(websocket.TextMessage, []byte(`{"type":"update_pixel","x":"1"}`)))
	require.NoError(t, c1.WriteMessage(websocket.TextMessage, []byte(`{"type":"initial","data":[]}`)))
	require.NoError(t, c1.WriteJSON(protocol.NewUpdatePixel(1, 1, "blue")))
	var got protocol.PixelUpdatedMsg
	readJSON(t, c2, &got)
	assert.Equal(t, protocol.Pixel{X: 1, Y: 1, Color: "blue"}, got.Data)

	resp, err := http.Get(srv.URL + "/boards/default/pixels")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pixels []protocol.Pixel
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pixels))
	assert.ElementsMatch(t, []protocol.Pixel{{X: 5, Y: 5, Color: "#FF0000"}, {X: 1, Y: 1, Color: "blue"}}, pixels)

	// A late joiner gets everything in its snapshot.
	c3 := dial(t, srv)
	readJSON(t, c3, &initial)
	assert.ElementsMatch(t, pixels, initial.Data)

	hub.BackupAll(context.Background())
	saved, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	reloaded, err := NewHub(HubOptions{GridSize: 1000, Store: store})
	require.NoError(t, err)
	require.NoError(t, reloaded.Open(context.Background()))
	assert.Contains(t, saved, "default")
	restored, err := reloaded.Pixels("default")
	require.NoError(t, err)
	assert.ElementsMatch(t, pixels, restored)
}

func TestServer_UnknownBoard(t *testing.T) {
	_, srv := newTestServer(t, nil, nil)

	for _, path := range []string{"/boards/nope/pixels", "/boards/nope/latest"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "nope"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/boards")
	require.NoError(t, err)
	defer resp.Body.Close()
	var listed struct {
		Boards []string `json:"boards"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	assert.Equal(t, []string{"default"}, listed.Boards)
}

func TestServer_SessionRoundTrip(t *testing.T) {
	_, srv := newTestServer(t, nil, NewAuditLog(t.TempDir()))

	frames := make(chan render.Stats, 16)
	s, err := session.New(config.Default(), session.WithFrameHook(func(st render.Stats) { frames <- st }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn, err := session.Dial(ctx, wsURL(srv, "default"))
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, conn) }()

	nextFrame := func() render.Stats {
		select {
		case st := <-frames:
			return st
		case <-time.After(5 * time.Second):
			t.Fatal("no frame rendered")
			return render.Stats{}
		}
	}
	assert.Equal(t, 0, nextFrame().Drawn, "empty snapshot")

	require.NoError(t, s.Post(ctx, session.SetColor{Color: "#FF0000"}))
	require.NoError(t, s.Post(ctx, session.Click{X: 5.5, Y: 5.5}))
	assert.Equal(t, 1, nextFrame().Drawn, "server echo painted the cell")

	cancel()
	assert.ErrorIs(t, <-served, context.Canceled)
}

func TestMirror_ReplicatesBoard(t *testing.T) {
	hub, srv := newTestServer(t, nil, nil)
	c := dial(t, srv)
	var initial protocol.InitialMsg
	readJSON(t, c, &initial)

	require.NoError(t, c.WriteJSON(protocol.NewUpdatePixel(7, 8, "#123456")))
	var echo protocol.PixelUpdatedMsg
	readJSON(t, c, &echo)

	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	m := NewMirror(base, "default", 1000, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	matches := func() bool {
		want, err := hub.Pixels("default")
		if err != nil {
			return false
		}
		got, err := m.Pixels()
		if err != nil || len(got) != len(want) {
			return false
		}
		seen := make(map[protocol.Pixel]bool, len(got))
		for _, p := range got {
			seen[p] = true
		}
		for _, p := range want {
			if !seen[p] {
				return false
			}
		}
		return true
	}
	assert.Eventually(t, matches, 5*time.Second, 20*time.Millisecond)

	// Later writes arrive over the open sync connection.
	require.NoError(t, c.WriteJSON(protocol.NewUpdatePixel(9, 9, "#654321")))
	readJSON(t, c, &echo)
	assert.Eventually(t, matches, 5*time.Second, 20*time.Millisecond)
	assert.NotEmpty(t, m.Save())
}

func TestSync_RejectsMirrorWrites(t *testing.T) {
	hub, srv := newTestServer(t, nil, nil)
	raw, err := hub.Save("default")
	require.NoError(t, err)
	local, err := board.Load(raw, 1000)
	require.NoError(t, err)
	require.NoError(t, local.Set(3, 3, "#FFFFFF"))

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/boards/default/sync", nil)
	require.NoError(t, err)
	defer conn.Close()
	peer, err := board.NewPeer(new(sync.Mutex), local, false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = Sync(ctx, conn, peer, slog.Default())
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded, "relay should hang up on the mirror")

	pixels, err := hub.Pixels("default")
	require.NoError(t, err)
	assert.Empty(t, pixels)
}
