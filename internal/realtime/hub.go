package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wealthflow/internal/identity"
	"wealthflow/internal/log"
	"wealthflow/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

// Hub is the server side: it authenticates sockets, keeps every connection
// of each user, and fans events out to them with a per-user sequence number.
type Hub struct {
	provider   identity.Provider
	upgrader   websocket.Upgrader
	logger     *log.Logger
	bufferSize int
	pingPeriod time.Duration
	pongWait   time.Duration

	mu      sync.RWMutex
	clients map[string]map[*hubConn]struct{}
	history map[string]*replayBuffer
	closed  bool
}

type hubConn struct {
	ws     *websocket.Conn
	userID string
	send   chan []byte
	once   sync.Once
	quit   chan struct{}
}

func (c *hubConn) stop() {
	c.once.Do(func() { close(c.quit) })
}

// replayBuffer keeps the last events sent to a user for resumption
type replayBuffer struct {
	seq    uint64
	events []Envelope
}

func (b *replayBuffer) add(env Envelope, max int) {
	b.events = append(b.events, env)
	if len(b.events) > max {
		b.events = append([]Envelope(nil), b.events[len(b.events)-max:]...)
	}
}

func (b *replayBuffer) since(seq uint64) []Envelope {
	var out []Envelope
	for _, e := range b.events {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// HubOption configures a Hub
type HubOption func(*Hub)

func WithReplayBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

func WithPingPeriod(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.pingPeriod = d
			h.pongWait = d * 2
		}
	}
}

func WithHubLogger(l *log.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

// WithCheckOrigin replaces the upgrader's origin check
func WithCheckOrigin(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

func NewHub(provider identity.Provider, opts ...HubOption) *Hub {
	h := &Hub{
		provider:   provider,
		bufferSize: 100,
		pingPeriod: 30 * time.Second,
		pongWait:   60 * time.Second,
		clients:    make(map[string]map[*hubConn]struct{}),
		history:    make(map[string]*replayBuffer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = log.OrNop(h.logger).WithComponent(log.ComponentHub)
	return h
}

// ServeHTTP upgrades the request and authenticates the token from the query
// string or Authorization header. Rejected tokens get close code 4401.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", log.FieldError, err.Error())
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = identity.BearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		h.reject(ws, "missing token")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	user, err := h.provider.GetUser(ctx, token)
	cancel()
	if err != nil {
		h.logger.Info("Websocket authentication failed", log.FieldError, err.Error())
		h.reject(ws, "unauthorized")
		return
	}

	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	c := &hubConn{
		ws:     ws,
		userID: user.ID,
		send:   make(chan []byte, h.bufferSize+32),
		quit:   make(chan struct{}),
	}
	if !h.register(c, since) {
		h.reject(ws, "shutting down")
		return
	}

	h.logger.Info("Websocket authenticated", log.FieldUserID, user.ID)
	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) reject(ws *websocket.Conn, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(CloseAuthFailed, reason),
		time.Now().Add(writeWait))
	ws.Close()
}

// register adds c and queues the welcome plus any missed events
func (h *Hub) register(c *hubConn, since uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}

	buf := h.bufferFor(c.userID)
	welcome, _ := NewEnvelope(TypeWelcome, Welcome{UserID: c.userID, Seq: buf.seq})
	c.send <- mustMarshal(welcome)
	if since > 0 {
		for _, env := range buf.since(since) {
			c.send <- mustMarshal(env)
		}
	}

	set := h.clients[c.userID]
	if set == nil {
		set = make(map[*hubConn]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	metrics.AddRealtimeConnections(1)
	return true
}

func (h *Hub) unregister(c *hubConn) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			metrics.AddRealtimeConnections(-1)
		}
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
	c.stop()
}

func (h *Hub) bufferFor(userID string) *replayBuffer {
	buf := h.history[userID]
	if buf == nil {
		buf = &replayBuffer{}
		h.history[userID] = buf
	}
	return buf
}

func (h *Hub) readPump(c *hubConn) {
	defer func() {
		h.unregister(c)
		c.ws.Close()
		h.logger.Info("Websocket disconnected", log.FieldUserID, c.userID)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Websocket read failed", log.FieldError, err.Error())
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(h.pongWait))

		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil || env.Type == "" {
			continue
		}
		metrics.RecordRealtimeEvent(metricType(env.Type), "in")
		// inbound events are echoed to every connection of the same user
		h.Emit(c.userID, Envelope{Type: env.Type, Payload: env.Payload})
	}
}

func (h *Hub) writePump(c *hubConn) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.quit:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// EmitToUser encodes payload and delivers it to every connection of userID.
// It returns how many connections the event was queued for.
func (h *Hub) EmitToUser(userID, eventType string, payload any) (int, error) {
	env, err := NewEnvelope(eventType, payload)
	if err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, errors.New("user id is empty")
	}
	return h.Emit(userID, env), nil
}

// Emit assigns the next sequence number for userID, records the event for
// resumption, and queues it on each of the user's connections. Connections
// that cannot keep up are dropped.
func (h *Hub) Emit(userID string, env Envelope) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0
	}

	buf := h.bufferFor(userID)
	buf.seq++
	env.Seq = buf.seq
	buf.add(env, h.bufferSize)
	raw := mustMarshal(env)

	delivered := 0
	for c := range h.clients[userID] {
		select {
		case c.send <- raw:
			delivered++
		default:
			h.logger.Warn("Dropping slow websocket client", log.FieldUserID, userID)
			delete(h.clients[userID], c)
			metrics.AddRealtimeConnections(-1)
			c.stop()
		}
	}
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
	metrics.RecordRealtimeEvent(metricType(env.Type), "out")
	return delivered
}

// Connections reports how many sockets userID has open
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Disconnect closes every connection of userID
func (h *Hub) Disconnect(userID string) {
	h.mu.Lock()
	conns := h.clients[userID]
	delete(h.clients, userID)
	h.mu.Unlock()
	for c := range conns {
		metrics.AddRealtimeConnections(-1)
		c.stop()
	}
}

// Close disconnects everyone and refuses new connections
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := h.clients
	h.clients = make(map[string]map[*hubConn]struct{})
	h.mu.Unlock()
	for _, set := range all {
		for c := range set {
			metrics.AddRealtimeConnections(-1)
			c.stop()
		}
	}
}

func mustMarshal(env Envelope) []byte {
	raw, err := json.Marshal(env)
	if err != nil {
		// Envelope holds only a string, raw JSON and an integer
		panic(err)
	}
	return raw
}
