package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("userId"))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return srv
}

func wsURL(srv *httptest.Server, userID string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/?userId=" + userID
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, userID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := ParseEvent(data)
	require.NoError(t, err)
	return ev
}

func TestHub_ConnectionAndInit(t *testing.T) {
	hub := NewHub(DefaultHubConfig())
	srv := newHubServer(t, hub)
	conn := dial(t, srv, "u1")

	hello := readEvent(t, conn)
	assert.Equal(t, EventConnection, hello.Type)
	var cp ConnectionPayload
	require.NoError(t, hello.DecodePayload(&cp))
	assert.NotEmpty(t, cp.SessionID)
	assert.Equal(t, 1, hub.SessionCount("u1"))

	// a malformed frame is ignored and the session stays up
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"senderId":"u1"}`)))

	sent := time.Date(2024, 5, 1, 11, 59, 58, 0, time.UTC)
	init, err := NewEvent(EventInit, InitPayload{Message: "hello"}, sent)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(init))

	ack := readEvent(t, conn)
	assert.Equal(t, EventAcknowledgment, ack.Type)
	var ap AcknowledgmentPayload
	require.NoError(t, ack.DecodePayload(&ap))
	assert.True(t, sent.Equal(ap.ClientTimestamp))
}

func TestHub_PublishReachesEverySession(t *testing.T) {
	hub := NewHub(DefaultHubConfig())
	srv := newHubServer(t, hub)

	laptop := dial(t, srv, "u2")
	phone := dial(t, srv, "u2")
	other := dial(t, srv, "u3")
	for _, c := range []*websocket.Conn{laptop, phone, other} {
		readEvent(t, c)
	}
	require.Equal(t, 2, hub.SessionCount("u2"))

	ev, err := NewEvent(EventNewRequest, NewRequestPayload{
		RequestID:  uuid.New(),
		SenderID:   "u1",
		SenderName: "Alice Johnson",
	}, time.Now())
	require.NoError(t, err)
	require.NoError(t, hub.Publish("u2", ev))

	for _, c := range []*websocket.Conn{laptop, phone} {
		got := readEvent(t, c)
		assert.Equal(t, EventNewRequest, got.Type)
		var p NewRequestPayload
		require.NoError(t, got.DecodePayload(&p))
		assert.Equal(t, "Alice Johnson", p.SenderName)
	}

	// u3 gets nothing: the next frame it sees is its own ack
	init, _ := NewEvent(EventInit, InitPayload{}, time.Now())
	require.NoError(t, other.WriteJSON(init))
	assert.Equal(t, EventAcknowledgment, readEvent(t, other).Type)
}

func TestHub_PublishWithoutSessionIsDropped(t *testing.T) {
	hub := NewHub(DefaultHubConfig())
	ev, err := NewEvent(EventNewRequest, NewRequestPayload{SenderID: "u1"}, time.Now())
	require.NoError(t, err)

	assert.ErrorIs(t, hub.Publish("nobody", ev), ErrChannelUnavailable)
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub := NewHub(DefaultHubConfig())
	srv := newHubServer(t, hub)

	conn := dial(t, srv, "u1")
	readEvent(t, conn)
	require.Equal(t, 1, hub.SessionCount("u1"))

	conn.Close()
	require.Eventually(t, func() bool { return hub.SessionCount("u1") == 0 },
		2*time.Second, 10*time.Millisecond)

	ev, _ := NewEvent(EventNewRequest, NewRequestPayload{}, time.Now())
	assert.ErrorIs(t, hub.Publish("u1", ev), ErrChannelUnavailable)
}

func TestHub_SaturatedSessionDropsEvents(t *testing.T) {
	hub := NewHub(HubConfig{SendBuffer: 1})

	// a session without a writer never drains its buffer
	s := &serverSession{
		id:     1,
		userID: "u1",
		hub:    hub,
		send:   make(chan Event, 1),
		done:   make(chan struct{}),
	}
	hub.register(s)

	ev, _ := NewEvent(EventNewRequest, NewRequestPayload{}, time.Now())
	require.NoError(t, hub.Publish("u1", ev))
	assert.ErrorIs(t, hub.Publish("u1", ev), ErrChannelUnavailable)

	hub.unregister(s)
	assert.Zero(t, hub.SessionCount("u1"))
}

func TestHub_CheckOrigin(t *testing.T) {
	hub := NewHub(HubConfig{AllowedOrigins: []string{"https://skillswap.example"}})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, hub.checkOrigin(r), "non-browser clients send no Origin")

	r.Header.Set("Origin", "https://skillswap.example")
	assert.True(t, hub.checkOrigin(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, hub.checkOrigin(r))
}
