package ws

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotedesk/internal/codec"
	"remotedesk/internal/router"
)

type echoDispatcher struct {
	mu           sync.Mutex
	registered   []string
	unregistered chan string
	types        []string
}

func newEchoDispatcher() *echoDispatcher {
	return &echoDispatcher{unregistered: make(chan string, 1)}
}

func (d *echoDispatcher) Register(_ context.Context, conn router.Conn) {
	d.mu.Lock()
	d.registered = append(d.registered, conn.Identity().UserID)
	d.mu.Unlock()
}

func (d *echoDispatcher) Unregister(_ context.Context, conn router.Conn) {
	d.unregistered <- conn.ID()
}

func (d *echoDispatcher) Dispatch(_ context.Context, conn router.Conn, env codec.Envelope) error {
	d.mu.Lock()
	d.types = append(d.types, env.Type)
	d.mu.Unlock()
	var body map[string]any
	_ = env.Payload.Decode(&body)
	return conn.Send(router.Message{Type: router.MsgAck, ID: env.ID, SessionID: env.SessionID, Payload: body})
}

func newServer(t *testing.T, d *echoDispatcher) string {
	t.Helper()
	return newServerWith(t, Options{Dispatcher: d})
}

func newServerWith(t *testing.T, opts Options) string {
	t.Helper()
	opts.CheckOrigin = func(*http.Request) bool { return true }
	h := NewHandler(opts)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.Serve(w, r, router.Identity{Kind: router.KindParticipant, UserID: "alice", SessionID: "s1"})
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type frame struct {
	Type      string         `json:"type"`
	ID        string         `json:"id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func TestJSONTextFrames(t *testing.T) {
	d := newEchoDispatcher()
	client, _, err := websocket.DefaultDialer.Dial(newServer(t, d), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteJSON(frame{Type: "chat_message", ID: "m1", SessionID: "s1", Payload: map[string]any{"text": "hi"}}))
	var reply frame
	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, client.ReadJSON(&reply))
	assert.Equal(t, "ack", reply.Type)
	assert.Equal(t, "m1", reply.ID)
	assert.Equal(t, "hi", reply.Payload["text"])

	d.mu.Lock()
	assert.Equal(t, []string{"alice"}, d.registered)
	d.mu.Unlock()
}

func TestCBORSubprotocol(t *testing.T) {
	d := newEchoDispatcher()
	dialer := websocket.Dialer{Subprotocols: []string{ProtocolCBOR}}
	client, _, err := dialer.Dial(newServer(t, d), nil)
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, ProtocolCBOR, client.Subprotocol())

	c := codec.CBOR{}
	data, err := c.Marshal(frame{Type: "select_monitor", ID: "m2", Payload: map[string]any{"monitor_id": "right"}})
	require.NoError(t, err)
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, data))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	frameType, raw, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, frameType)
	var reply frame
	require.NoError(t, c.Unmarshal(raw, &reply))
	assert.Equal(t, "ack", reply.Type)
	assert.Equal(t, "right", reply.Payload["monitor_id"])
}

func TestMalformedFrameIsAnsweredNotDispatched(t *testing.T) {
	d := newEchoDispatcher()
	client, _, err := websocket.DefaultDialer.Dial(newServer(t, d), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"id":"x"}`)))
	var reply struct {
		Type    string              `json:"type"`
		Payload router.ErrorPayload `json:"payload"`
	}
	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, client.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, "missing_message_type", reply.Payload.Code)
	assert.Equal(t, "validation", reply.Payload.Kind)

	d.mu.Lock()
	assert.Empty(t, d.types)
	d.mu.Unlock()
}

func TestCloseUnregisters(t *testing.T) {
	d := newEchoDispatcher()
	client, _, err := websocket.DefaultDialer.Dial(newServer(t, d), nil)
	require.NoError(t, err)
	require.NoError(t, client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = client.Close()

	select {
	case id := <-d.unregistered:
		assert.NotEmpty(t, id)
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not unregistered")
	}
}

func TestSendAfterCloseIsTransient(t *testing.T) {
	conn := &Conn{id: "c1", queue: make(chan router.Message, 1), done: make(chan struct{})}
	require.NoError(t, conn.Send(router.Message{Type: router.MsgAck}))
	assert.ErrorIs(t, conn.Send(router.Message{Type: router.MsgAck}), ErrQueueFull)
	conn.close()
	conn.close()
	assert.Error(t, conn.Send(router.Message{Type: router.MsgAck}))
}

func TestDefaultLimitAdmitsLargeClipboardFrames(t *testing.T) {
	d := newEchoDispatcher()
	client, _, err := websocket.DefaultDialer.Dial(newServer(t, d), nil)
	require.NoError(t, err)
	defer client.Close()

	text := strings.Repeat("a", 6<<20)
	require.NoError(t, client.WriteJSON(frame{Type: "sync_clipboard", ID: "big", SessionID: "s1", Payload: map[string]any{"text": text}}))
	var reply frame
	require.NoError(t, client.SetReadDeadline(time.Now().Add(10*time.Second)))
	require.NoError(t, client.ReadJSON(&reply))
	assert.Equal(t, "ack", reply.Type)
	assert.Equal(t, "big", reply.ID)
	assert.Len(t, reply.Payload["text"], 6<<20)
}

func TestReadLimitCoversEncodedPayload(t *testing.T) {
	limit := ReadLimitFor(10 << 20)
	assert.Greater(t, limit, int64(base64.StdEncoding.EncodedLen(15<<20)))
	assert.Equal(t, ReadLimitFor(10<<20), ReadLimitFor(0))
}

func TestFrameAboveLimitClosesConnection(t *testing.T) {
	d := newEchoDispatcher()
	client, _, err := websocket.DefaultDialer.Dial(newServerWith(t, Options{Dispatcher: d, ReadLimit: 1 << 10}), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteJSON(frame{Type: "chat_message", ID: "m1", Payload: map[string]any{"text": strings.Repeat("x", 4<<10)}}))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = client.ReadMessage()
	require.Error(t, err)

	select {
	case <-d.unregistered:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not unregistered")
	}
	d.mu.Lock()
	assert.Empty(t, d.types)
	d.mu.Unlock()
}
