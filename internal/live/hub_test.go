package live

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pagegraph/internal/engine"
	"github.com/roach88/pagegraph/internal/ir"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Enqueue(ev engine.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev.Kind.String()+" "+ev.ID)
	return true
}

func (s *recordingSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func newTestHub(t *testing.T, opts ...Option) (*Hub, *recordingSink, string) {
	t.Helper()
	sink := &recordingSink{}
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	hub := NewHub(sink, opts...)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, sink, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string) *websocket.Conn {
	t.Helper()
	before := hub.Clients()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Clients() == before+1 }, time.Second, time.Millisecond)
	return conn
}

func sendPath(t *testing.T, conn *websocket.Conn, typ, path string) {
	t.Helper()
	payload, err := json.Marshal(path)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Type: typ, Payload: payload}))
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_PathActivation(t *testing.T) {
	hub, sink, url := newTestHub(t)
	conn := dial(t, hub, url)

	sendPath(t, conn, TypeRegisterPath, "/a/")
	sendPath(t, conn, TypeRegisterPath, "/a/")
	sendPath(t, conn, TypeRegisterPath, "/b/")
	sendPath(t, conn, TypeUnregisterPath, "/b/")
	sendPath(t, conn, TypeRegisterPath, "/c/")

	want := []string{
		"path-activated /a/",
		"path-deactivated /a/",
		"path-activated /b/",
		"path-deactivated /b/",
		"path-activated /c/",
	}
	require.Eventually(t, func() bool { return len(sink.Events()) == len(want) }, time.Second, time.Millisecond)
	assert.Equal(t, want, sink.Events())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, "path-deactivated /c/", sink.Events()[len(want)], "disconnect releases the active path")
}

func TestHub_IdleClients(t *testing.T) {
	tests := []struct {
		name        string
		reading     bool
		wantEvents  []string
		wantClients int
	}{
		{
			name:        "answering pings keeps the path active",
			reading:     true,
			wantEvents:  []string{"path-activated /a/"},
			wantClients: 1,
		},
		{
			name:        "silent client is dropped",
			wantEvents:  []string{"path-activated /a/", "path-deactivated /a/"},
			wantClients: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, sink, url := newTestHub(t, WithPongWait(200*time.Millisecond))
			conn := dial(t, hub, url)
			sendPath(t, conn, TypeRegisterPath, "/a/")

			if tt.reading {
				// The client answers pings from inside its read loop.
				go func() {
					for {
						if _, _, err := conn.ReadMessage(); err != nil {
							return
						}
					}
				}()
			}

			time.Sleep(700 * time.Millisecond)
			require.Eventually(t, func() bool { return hub.Clients() == tt.wantClients }, time.Second, time.Millisecond)
			assert.Equal(t, tt.wantEvents, sink.Events())
		})
	}
}

func TestHub_Results(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, hub, url)

	result := ir.QueryResult{Data: ir.Object{"title": ir.String("Hi")}}

	tests := []struct {
		id       string
		wantType string
	}{
		{id: "/a/", wantType: TypePageQueryResult},
		{id: "sq--nav", wantType: TypeStaticQueryResult},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			hub.EmitResult(tt.id, "hash", result)

			msg := readMessage(t, conn)
			assert.Equal(t, tt.wantType, msg.Type)

			var payload QueryResult
			require.NoError(t, json.Unmarshal(msg.Payload, &payload))
			assert.Equal(t, tt.id, payload.ID)
			assert.JSONEq(t, `{"data":{"title":"Hi"}}`, string(payload.Result))
		})
	}
}

func TestHub_GetDataForPath(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, hub, url)

	hub.EmitResult("/a/", "hash", ir.QueryResult{Data: ir.Object{"n": ir.Int(1)}})
	readMessage(t, conn)

	sendPath(t, conn, TypeGetDataForPath, "/a/")
	msg := readMessage(t, conn)
	assert.Equal(t, TypePageQueryResult, msg.Type)
	assert.JSONEq(t, `{"id":"/a/","result":{"data":{"n":1}}}`, string(msg.Payload))

	sendPath(t, conn, TypeGetDataForPath, "/missing/")
	msg = readMessage(t, conn)
	assert.JSONEq(t, `{"id":"/missing/","result":null}`, string(msg.Payload))
}

func TestHub_Errors(t *testing.T) {
	hub, _, url := newTestHub(t)

	hub.EmitError("/a/", []ir.QueryError{{Message: "boom", File: "src/a.js"}})

	// Clients that connect later still see the outstanding error.
	conn := dial(t, hub, url)
	msg := readMessage(t, conn)
	assert.Equal(t, TypeOverlayError, msg.Type)
	assert.JSONEq(t, `{"id":"/a/","message":"src/a.js: boom"}`, string(msg.Payload))

	hub.EmitResult("/a/", "hash", ir.QueryResult{Data: ir.Object{}})
	msg = readMessage(t, conn)
	assert.Equal(t, TypeOverlayError, msg.Type)
	assert.JSONEq(t, `{"id":"/a/"}`, string(msg.Payload), "success clears the overlay")

	msg = readMessage(t, conn)
	assert.Equal(t, TypePageQueryResult, msg.Type)
}

func TestHub_Evict(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, hub, url)

	hub.Evict("/never-emitted/")
	hub.EmitResult("/a/", "hash", ir.QueryResult{Data: ir.Object{}})
	hub.Evict("/a/")

	assert.Equal(t, TypePageQueryResult, readMessage(t, conn).Type)
	msg := readMessage(t, conn)
	assert.Equal(t, TypeInvalidate, msg.Type)
	assert.JSONEq(t, `["/a/"]`, string(msg.Payload))
}

func TestFormatErrors(t *testing.T) {
	got := formatErrors([]ir.QueryError{
		{Message: "first", File: "a.js", Codeframe: "> 1 | x"},
		{Message: "second"},
	})
	assert.Equal(t, "a.js: first\n\n> 1 | x\n\nsecond", got)
}

func TestSinkFunc(t *testing.T) {
	var got []engine.Event
	var sink Sink = SinkFunc(func(ev engine.Event) bool {
		got = append(got, ev)
		return len(got) < 2
	})

	assert.True(t, sink.Enqueue(engine.PathActivated("/a/")))
	assert.False(t, sink.Enqueue(engine.PathDeactivated("/a/")))
	require.Len(t, got, 2)
	assert.Equal(t, engine.EventPathActivated, got[0].Kind)
	assert.Equal(t, "/a/", got[1].ID)
}
