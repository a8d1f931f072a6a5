package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/co-de-er123/CrowdAid/internal/domain"
	"github.com/co-de-er123/CrowdAid/internal/protocol"
)

const testToken = "tok1"

// testServer is a scripted chat server: the test pushes frames through the
// accepted connection and observes everything the client sends.
type testServer struct {
	srv    *httptest.Server
	conns  chan *websocket.Conn
	frames chan protocol.Frame
	dials  atomic.Int32
	reject atomic.Bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		conns:  make(chan *websocket.Conn, 4),
		frames: make(chan protocol.Frame, 16),
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	r := chi.NewRouter()
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		ts.dials.Add(1)
		if ts.reject.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if req.URL.Query().Get("token") != testToken {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		ts.conns <- conn
		for {
			var f protocol.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			ts.frames <- f
		}
	})

	ts.srv = httptest.NewServer(r)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
}

func (ts *testServer) acceptConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (ts *testServer) nextFrame(t *testing.T) protocol.Frame {
	t.Helper()
	select {
	case f := <-ts.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return protocol.Frame{}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	if cfg.Token == "" {
		cfg.Token = testToken
	}
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 5 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 50 * time.Millisecond
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func pushFrame(t *testing.T, conn *websocket.Conn, frameType string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(protocol.Frame{Type: frameType, Payload: b}))
}

type stubArchive struct {
	mu    sync.Mutex
	saved []domain.Message
}

func (a *stubArchive) SaveMessage(_ context.Context, m domain.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, m)
	return nil
}

func (a *stubArchive) ListForConversation(context.Context, string, int) ([]domain.Message, error) {
	return nil, nil
}

func (a *stubArchive) PruneOld(context.Context, string, int) error { return nil }

func (a *stubArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.saved)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{Token: "t"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = NewClient(Config{URL: "ws://localhost/ws"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
		{10, 30 * time.Second},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, backoffDelay(base, 2, max, tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestCommandsRejectedWhenDisconnected(t *testing.T) {
	c := newTestClient(t, Config{URL: "ws://127.0.0.1:1/ws"})

	assert.ErrorIs(t, c.SendMessage("hello"), domain.ErrNotConnected)
	assert.ErrorIs(t, c.LoadMessages("c1"), domain.ErrNotConnected)
	assert.ErrorIs(t, c.MarkAsRead("c1"), domain.ErrNotConnected)
	assert.ErrorIs(t, c.CreateConversation([]string{"u2"}, ""), domain.ErrNotConnected)
	assert.ErrorIs(t, c.CreateConversation(nil, ""), domain.ErrInvalidInput)
}

func TestSendMessageRequiresActiveConversation(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, Config{URL: ts.wsURL()})
	require.NoError(t, c.Connect())
	ts.acceptConn(t)

	assert.ErrorIs(t, c.SendMessage("hello"), domain.ErrNoActiveConversation)
	assert.Equal(t, domain.ErrNoActiveConversation.Error(), c.State().LastError())
}

func TestSession(t *testing.T) {
	ts := newTestServer(t)
	events := make(chan protocol.Event, 16)
	archive := &stubArchive{}

	c := newTestClient(t, Config{
		URL:     ts.wsURL(),
		Archive: archive,
		OnEvent: func(ev protocol.Event) { events <- ev },
	})
	require.NoError(t, c.Connect())
	conn := ts.acceptConn(t)
	assert.Equal(t, StatusConnected, c.Status())

	waitEvent := func() protocol.Event {
		select {
		case ev := <-events:
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
			return nil
		}
	}

	// Full resync with one clean conversation.
	pushFrame(t, conn, protocol.TypeConversationsList, []domain.Conversation{
		{ID: "c1", ParticipantIDs: []string{"u1", "u2"}, UnreadCount: 0},
	})
	require.IsType(t, protocol.ConversationsListEvent{}, waitEvent())

	// A message lands while nothing is focused.
	pushFrame(t, conn, protocol.TypeMessage, domain.Message{
		ID: "m1", ConversationID: "c1", SenderID: "u2", SenderName: "Dana", Content: "hi",
	})
	require.IsType(t, protocol.MessageEvent{}, waitEvent())

	c1, ok := c.State().Conversation("c1")
	require.True(t, ok)
	assert.Equal(t, 1, c1.UnreadCount)
	assert.Equal(t, 1, c.State().UnreadTotal())
	require.NotNil(t, c1.LastMessage)
	assert.Equal(t, "hi", c1.LastMessage.Content)
	assert.Equal(t, 1, archive.count())

	t.Run("ActivateEmitsCommands", func(t *testing.T) {
		require.True(t, c.SetActiveConversation("c1"))

		f := ts.nextFrame(t)
		assert.Equal(t, protocol.TypeGetMessages, f.Type)
		var ref protocol.ConversationRefPayload
		require.NoError(t, json.Unmarshal(f.Payload, &ref))
		assert.Equal(t, "c1", ref.ConversationID)

		f = ts.nextFrame(t)
		assert.Equal(t, protocol.TypeMarkAsRead, f.Type)
		require.NoError(t, json.Unmarshal(f.Payload, &ref))
		assert.Equal(t, "c1", ref.ConversationID)

		c1, _ := c.State().Conversation("c1")
		assert.Equal(t, 0, c1.UnreadCount)
		assert.Equal(t, 0, c.State().UnreadTotal())
	})

	t.Run("ActivateUnknownConversation", func(t *testing.T) {
		assert.False(t, c.SetActiveConversation("nope"))
	})

	t.Run("SendMessage", func(t *testing.T) {
		require.NoError(t, c.SendMessage("hello back"))

		f := ts.nextFrame(t)
		assert.Equal(t, protocol.TypeSendMessage, f.Type)
		var p protocol.SendMessagePayload
		require.NoError(t, json.Unmarshal(f.Payload, &p))
		assert.Equal(t, "c1", p.ConversationID)
		assert.Equal(t, "hello back", p.Content)
	})

	t.Run("ServerErrorThenSuccessClears", func(t *testing.T) {
		pushFrame(t, conn, protocol.TypeError, map[string]string{"message": "slow down"})
		require.IsType(t, protocol.ServerErrorEvent{}, waitEvent())
		assert.Equal(t, "slow down", c.State().LastError())

		require.NoError(t, c.SendMessage("still here"))
		ts.nextFrame(t)
		assert.Equal(t, "", c.State().LastError())
	})

	t.Run("MalformedFrameIsNotFatal", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"MESSAGE","payload":42}`)))

		assert.Eventually(t, func() bool {
			return c.State().LastError() == "failed to process message"
		}, 2*time.Second, 10*time.Millisecond)

		// The connection and the accumulated state survive.
		assert.Equal(t, StatusConnected, c.Status())
		assert.Len(t, c.State().Conversations(), 1)
	})
}

func TestReconnectAfterDrop(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, Config{URL: ts.wsURL()})
	require.NoError(t, c.Connect())

	conn := ts.acceptConn(t)
	pushFrame(t, conn, protocol.TypeConversationsList, []domain.Conversation{{ID: "c1"}})
	assert.Eventually(t, func() bool {
		return len(c.State().Conversations()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Server drops the connection; the client redials on its own.
	conn.Close()
	ts.acceptConn(t)
	assert.Eventually(t, func() bool {
		return c.Status() == StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	// A transport failure never clears accumulated conversation data.
	assert.Len(t, c.State().Conversations(), 1)
}

func TestReconnectExhaustion(t *testing.T) {
	ts := newTestServer(t)
	ts.reject.Store(true)

	c := newTestClient(t, Config{URL: ts.wsURL(), MaxAttempts: 3})
	assert.Error(t, c.Connect())

	assert.Eventually(t, func() bool {
		return ts.dials.Load() == 3 && c.State().LastError() != ""
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusDisconnected, c.Status())

	// No further automatic attempt after the budget is spent.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(3), ts.dials.Load())

	t.Run("ManualConnectResets", func(t *testing.T) {
		ts.reject.Store(false)
		require.NoError(t, c.Connect())
		ts.acceptConn(t)

		assert.Equal(t, StatusConnected, c.Status())
		assert.Equal(t, "", c.State().LastError())
	})
}

func TestCloseStopsReconnect(t *testing.T) {
	ts := newTestServer(t)
	ts.reject.Store(true)

	c := newTestClient(t, Config{URL: ts.wsURL(), BaseDelay: 20 * time.Millisecond, MaxAttempts: 5})
	assert.Error(t, c.Connect())
	c.Close()

	dialed := ts.dials.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, dialed, ts.dials.Load(), "no dial after Close")

	assert.ErrorIs(t, c.SendMessage("x"), domain.ErrClientClosed)
}

func TestStatusCallback(t *testing.T) {
	ts := newTestServer(t)

	var mu sync.Mutex
	var transitions []Status
	c := newTestClient(t, Config{
		URL: ts.wsURL(),
		OnStatusChange: func(st Status) {
			mu.Lock()
			transitions = append(transitions, st)
			mu.Unlock()
		},
	})
	require.NoError(t, c.Connect())
	ts.acceptConn(t)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) >= 2 &&
			transitions[0] == StatusConnecting &&
			transitions[1] == StatusConnected
	}, 2*time.Second, 10*time.Millisecond)
}
