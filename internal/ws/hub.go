package ws

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"surveyflow/internal/pubsub"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 54 * time.Second
	replayLimit = 100
)

// Only participation and survey channels can be followed.
var channelPattern = regexp.MustCompile(`^(participation|survey):[1-9][0-9]*$`)

// Replayer reads back events recorded on a channel
type Replayer interface {
	Replay(ctx context.Context, channel, sinceID string, limit int64) ([]pubsub.StreamEvent, error)
}

// Hub manages WebSocket connections and channel subscriptions
type Hub struct {
	mu      sync.RWMutex
	conns   map[*Conn]bool
	subs    map[string]map[*Conn]bool // channel -> connections
	publish chan message
	log     *zap.Logger
	ctx     context.Context
	replay  Replayer
}

// Conn represents a WebSocket connection
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	hub    *Hub
	userID string
	subs   map[string]bool // subscribed channels
}

type message struct {
	channel string
	payload []byte
}

// inbound is a client message
type inbound struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Since   string `json:"since,omitempty"`
}

// NewHub creates a new WebSocket hub
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		conns:   make(map[*Conn]bool),
		subs:    make(map[string]map[*Conn]bool),
		publish: make(chan message, 256),
		log:     log,
		ctx:     context.Background(),
	}
}

// SetReplayer enables the resume message
func (h *Hub) SetReplayer(r Replayer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replay = r
}

// Run starts the hub's event loop; it returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-h.publish:
			var slow []*Conn
			h.mu.RLock()
			for conn := range h.subs[m.channel] {
				select {
				case conn.send <- m.payload:
				default:
					slow = append(slow, conn)
				}
			}
			h.mu.RUnlock()

			for _, conn := range slow {
				h.log.Warn("Dropping slow WebSocket client", zap.String("user", conn.userID))
				h.unregister(conn)
			}
		}
	}
}

// trySend delivers payload unless the connection is gone or its buffer is full.
// Holding the read lock keeps unregister from closing send underneath us.
func (h *Hub) trySend(conn *Conn, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.conns[conn] {
		return false
	}
	select {
	case conn.send <- payload:
		return true
	default:
		return false
	}
}

// Broadcast queues an encoded event for every subscriber of channel.
func (h *Hub) Broadcast(channel string, payload []byte) {
	select {
	case h.publish <- message{channel: channel, payload: payload}:
	default:
		h.log.Warn("Hub publish channel full, dropping event", zap.String("channel", channel))
	}
}

// Register adds a new connection to the hub
func (h *Hub) Register(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = true
}

func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		close(conn.send)
		for channel := range conn.subs {
			if subs := h.subs[channel]; subs != nil {
				delete(subs, conn)
				if len(subs) == 0 {
					delete(h.subs, channel)
				}
			}
		}
	}
}

// Subscribe adds a connection to a channel
func (h *Hub) Subscribe(conn *Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*Conn]bool)
	}
	h.subs[channel][conn] = true
	conn.subs[channel] = true
}

// Unsubscribe removes a connection from a channel
func (h *Hub) Unsubscribe(conn *Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.subs[channel]; subs != nil {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(h.subs, channel)
		}
	}
	delete(conn.subs, channel)
}

// Subscribers reports how many connections follow channel
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Resume replays events recorded on channel after sinceID
func (h *Hub) Resume(conn *Conn, channel, sinceID string) {
	h.mu.RLock()
	replay := h.replay
	h.mu.RUnlock()
	if replay == nil {
		conn.sendError("resume is not available")
		return
	}

	events, err := replay.Replay(h.ctx, channel, sinceID, replayLimit)
	if err != nil {
		h.log.Error("Failed to replay events",
			zap.String("channel", channel),
			zap.String("since", sinceID),
			zap.Error(err),
		)
		conn.sendError("replay failed")
		return
	}

	for _, ev := range events {
		payload, _ := json.Marshal(ev)
		if !h.trySend(conn, payload) {
			h.log.Warn("Failed to send replayed event, connection buffer full")
			return
		}
	}

	h.log.Info("Resumed events",
		zap.String("channel", channel),
		zap.String("connection", conn.userID),
		zap.String("since", sinceID),
		zap.Int("count", len(events)),
	)
}

// NewConn creates a new connection
func NewConn(ws *websocket.Conn, hub *Hub, userID string) *Conn {
	return &Conn{
		ws:     ws,
		send:   make(chan []byte, 256),
		hub:    hub,
		userID: userID,
		subs:   make(map[string]bool),
	}
}

// ReadPump handles reading from the WebSocket connection
func (c *Conn) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.log.Warn("Failed to parse message", zap.Error(err))
			c.sendError("invalid message")
			continue
		}

		c.handleMessage(msg)
	}
}

// WritePump handles writing to the WebSocket connection
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) handleMessage(msg inbound) {
	switch msg.Type {
	case "subscribe", "unsubscribe", "resume":
		if !channelPattern.MatchString(msg.Channel) {
			c.sendError("unknown channel")
			return
		}
	}

	switch msg.Type {
	case "subscribe":
		c.hub.Subscribe(c, msg.Channel)
		c.sendAck("subscribed", msg.Channel)
	case "unsubscribe":
		c.hub.Unsubscribe(c, msg.Channel)
		c.sendAck("unsubscribed", msg.Channel)
	case "resume":
		if msg.Since != "" && !pubsub.ValidStreamID(msg.Since) {
			c.sendError("invalid stream id")
			return
		}
		c.hub.Resume(c, msg.Channel, msg.Since)
	case "ping":
		c.sendAck("pong", "")
	default:
		c.hub.log.Warn("Unknown message type", zap.String("type", msg.Type))
		c.sendError("unknown message type")
	}
}

func (c *Conn) sendAck(ack, channel string) {
	c.sendJSON(map[string]string{"type": "ack", "ack": ack, "channel": channel})
}

func (c *Conn) sendError(reason string) {
	c.sendJSON(map[string]string{"type": "error", "error": reason})
}

func (c *Conn) sendJSON(v any) {
	payload, _ := json.Marshal(v)
	c.hub.trySend(c, payload)
}
