package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"surveyflow/internal/pubsub"
)

type fakeReplayer struct {
	channel string
	since   string
	events  []pubsub.StreamEvent
}

func (f *fakeReplayer) Replay(ctx context.Context, channel, sinceID string, limit int64) ([]pubsub.StreamEvent, error) {
	f.channel = channel
	f.since = sinceID
	return f.events, nil
}

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(c, hub, "tester")
		hub.Register(conn)
		go conn.WritePump()
		go conn.ReadPump()
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return hub, client
}

func send(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(v))
}

func receive(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, c.ReadJSON(&msg))
	return msg
}

func TestHub_SubscribeAndBroadcast(t *testing.T) {
	hub, client := startHub(t)

	send(t, client, map[string]string{"type": "subscribe", "channel": "participation:7"})
	ack := receive(t, client)
	assert.Equal(t, "ack", ack["type"])
	assert.Equal(t, "subscribed", ack["ack"])
	assert.Equal(t, 1, hub.Subscribers("participation:7"))

	hub.Broadcast("participation:8", []byte(`{"type":"participation.ended","channel":"participation:8"}`))
	hub.Broadcast("participation:7", []byte(`{"type":"participation.branching","channel":"participation:7"}`))

	ev := receive(t, client)
	assert.Equal(t, "participation.branching", ev["type"])
	assert.Equal(t, "participation:7", ev["channel"])

	send(t, client, map[string]string{"type": "unsubscribe", "channel": "participation:7"})
	ack = receive(t, client)
	assert.Equal(t, "unsubscribed", ack["ack"])
	assert.Equal(t, 0, hub.Subscribers("participation:7"))
}

func TestHub_RejectsUnknownChannels(t *testing.T) {
	hub, client := startHub(t)

	for _, channel := range []string{"requests:1", "participation:0", "survey:abc", ""} {
		send(t, client, map[string]string{"type": "subscribe", "channel": channel})
		msg := receive(t, client)
		assert.Equal(t, "error", msg["type"], channel)
		assert.Equal(t, "unknown channel", msg["error"], channel)
	}
	assert.Equal(t, 0, hub.Subscribers("requests:1"))
}

func TestHub_UnknownMessage(t *testing.T) {
	_, client := startHub(t)

	send(t, client, map[string]string{"type": "claim"})
	msg := receive(t, client)
	assert.Equal(t, "unknown message type", msg["error"])

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("{")))
	msg = receive(t, client)
	assert.Equal(t, "invalid message", msg["error"])

	send(t, client, map[string]string{"type": "ping"})
	msg = receive(t, client)
	assert.Equal(t, "pong", msg["ack"])
}

func TestHub_Resume(t *testing.T) {
	hub, client := startHub(t)

	send(t, client, map[string]string{"type": "resume", "channel": "survey:3", "since": "1-0"})
	msg := receive(t, client)
	assert.Equal(t, "resume is not available", msg["error"])

	replayer := &fakeReplayer{events: []pubsub.StreamEvent{
		{StreamID: "2-0", Event: pubsub.Event{ID: "a", Type: pubsub.EventRulesImported, Channel: "survey:3"}},
		{StreamID: "3-0", Event: pubsub.Event{ID: "b", Type: pubsub.EventIntegrityChecked, Channel: "survey:3"}},
	}}
	hub.SetReplayer(replayer)

	send(t, client, map[string]string{"type": "resume", "channel": "survey:3", "since": "1-0"})
	first := receive(t, client)
	second := receive(t, client)

	assert.Equal(t, "survey:3", replayer.channel)
	assert.Equal(t, "1-0", replayer.since)
	assert.Equal(t, "2-0", first["streamId"])
	assert.Equal(t, pubsub.EventRulesImported, first["type"])
	assert.Equal(t, "3-0", second["streamId"])

	send(t, client, map[string]string{"type": "resume", "channel": "survey:3", "since": "abc"})
	msg = receive(t, client)
	assert.Equal(t, "invalid stream id", msg["error"])
	assert.Equal(t, "1-0", replayer.since, "malformed ids are not replayed")
}

func TestEventEnvelopeRoundTrip(t *testing.T) {
	// Broadcast payloads are forwarded untouched.
	ev := pubsub.Event{ID: "x", Type: pubsub.EventDisqualified, Channel: "participation:1"}
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	hub, client := startHub(t)
	send(t, client, map[string]string{"type": "subscribe", "channel": "participation:1"})
	receive(t, client)

	hub.Broadcast("participation:1", payload)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(raw))
}
