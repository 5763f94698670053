package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/monitoring"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	sendBufferSize = 64
)

// Envelope is the JSON frame written to websocket subscribers.
type Envelope struct {
	Stream string `json:"stream"`
	Event  string `json:"event"`
	Data   any    `json:"data,omitempty"`
}

type clientCommand struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// Hub fans out envelopes to websocket clients subscribed per stream and user.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	streams map[string]map[string]map[*client]struct{}
}

// NewHub constructs a hub. A nil logger disables logging.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:     log,
		streams: make(map[string]map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOriginOrLoopback,
		},
	}
}

// Serve upgrades the request and keeps the connection subscribed to the given streams until
// the peer disconnects.
func (h *Hub) Serve(userID string, streams []string, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	c := &client{
		hub:    h,
		socket: socket,
		userID: userID,
		send:   make(chan Envelope, sendBufferSize),
		topics: make(map[string]struct{}),
	}
	h.subscribe(c, streams)
	monitoring.RecordRealtimeConnection(1)

	go c.writePump()
	c.readPump()
}

// BroadcastToUser delivers an envelope to every connection of userID on stream. It reports
// whether at least one connection received it.
func (h *Hub) BroadcastToUser(stream, userID string, env Envelope) bool {
	stream = normaliseStream(stream)
	if stream == "" || userID == "" {
		return false
	}
	env.Stream = stream

	h.mu.RLock()
	targets := h.collectLocked(stream, userID)
	h.mu.RUnlock()

	for _, c := range targets {
		h.enqueue(c, env)
	}
	if len(targets) == 0 {
		return false
	}
	monitoring.RecordRealtimeBroadcast(stream)
	return true
}

// PublishNotificationEvent forwards a notification lifecycle event to the recipient's
// notification stream.
func (h *Hub) PublishNotificationEvent(userID, event string, n *models.Notification) {
	h.BroadcastToUser(StreamNotifications, userID, Envelope{Event: event, Data: n})
}

// Broadcast delivers an envelope to every subscriber of stream.
func (h *Hub) Broadcast(stream string, env Envelope) {
	stream = normaliseStream(stream)
	if stream == "" {
		return
	}
	env.Stream = stream

	h.mu.RLock()
	targets := h.collectLocked(stream, "")
	h.mu.RUnlock()

	for _, c := range targets {
		h.enqueue(c, env)
	}
	if len(targets) > 0 {
		monitoring.RecordRealtimeBroadcast(stream)
	}
}

// Subscribers returns the number of connections userID holds on stream.
func (h *Hub) Subscribers(stream, userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[normaliseStream(stream)][userID])
}

// collectLocked snapshots the target connections so sends happen without holding the lock.
// An empty userID selects every user.
func (h *Hub) collectLocked(stream, userID string) []*client {
	users := h.streams[stream]
	var out []*client
	for uid, conns := range users {
		if userID != "" && uid != userID {
			continue
		}
		for c := range conns {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) subscribe(c *client, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range dedupeStreams(streams) {
		if !isKnownStream(stream) {
			h.log.Debug("ignoring unknown stream", zap.String("stream", stream), zap.String("user_id", c.userID))
			continue
		}
		if _, ok := c.topics[stream]; ok {
			continue
		}
		users := h.streams[stream]
		if users == nil {
			users = make(map[string]map[*client]struct{})
			h.streams[stream] = users
		}
		if users[c.userID] == nil {
			users[c.userID] = make(map[*client]struct{})
		}
		users[c.userID][c] = struct{}{}
		c.topics[stream] = struct{}{}
	}
}

func (h *Hub) unsubscribe(c *client, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, stream := range dedupeStreams(streams) {
		h.dropLocked(c, stream)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for stream := range c.topics {
		h.dropLocked(c, stream)
	}
}

func (h *Hub) dropLocked(c *client, stream string) {
	delete(c.topics, stream)
	users := h.streams[stream]
	conns := users[c.userID]
	if conns == nil {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(users, c.userID)
	}
	if len(users) == 0 {
		delete(h.streams, stream)
	}
}

func (h *Hub) enqueue(c *client, env Envelope) {
	if !c.offer(env) {
		h.log.Warn("dropping slow websocket client", zap.String("user_id", c.userID))
		monitoring.RecordRealtimeFailure(env.Stream, "backpressure", "send buffer full for user "+c.userID)
		c.close()
	}
}

type client struct {
	hub    *Hub
	socket *websocket.Conn
	userID string
	topics map[string]struct{} // guarded by hub.mu

	sendMu sync.Mutex
	send   chan Envelope
	closed bool
}

// offer queues env without blocking; it reports false when the buffer is full.
func (c *client) offer(env Envelope) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.sendMu.Unlock()

	c.hub.unregister(c)
	monitoring.RecordRealtimeConnection(-1)
	_ = c.socket.Close()
}

func (c *client) readPump() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket closed", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			c.hub.log.Debug("invalid websocket command", zap.String("user_id", c.userID), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(cmd.Action)) {
		case "subscribe":
			c.hub.subscribe(c, cmd.Streams)
		case "unsubscribe":
			c.hub.unsubscribe(c, cmd.Streams)
		case "ping":
			c.offer(Envelope{Event: "pong"})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func sameOriginOrLoopback(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := stripPort(parsed.Host)
	if originHost == stripPort(r.Host) {
		return true
	}
	if ip := net.ParseIP(originHost); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(originHost, "localhost")
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func normaliseStream(stream string) string {
	return strings.ToLower(strings.TrimSpace(stream))
}

func isKnownStream(stream string) bool {
	for _, known := range KnownStreams() {
		if stream == known {
			return true
		}
	}
	return false
}

func dedupeStreams(streams []string) []string {
	seen := make(map[string]struct{}, len(streams))
	var out []string
	for _, stream := range streams {
		stream = normaliseStream(stream)
		if stream == "" {
			continue
		}
		if _, ok := seen[stream]; ok {
			continue
		}
		seen[stream] = struct{}{}
		out = append(out, stream)
	}
	return out
}
