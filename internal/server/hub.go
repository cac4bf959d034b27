// Package server tracks live connections per room and derives presence from
// them via the Hub type.
package server

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GyoHeon/chat-back/internal/identity"
	"github.com/GyoHeon/chat-back/internal/telemetry"
)

// Namespaces of real-time connections.
const (
	NamespaceServer = "server"
	NamespaceChat   = "chat"
)

// ErrHubClosed is returned by Register once Shutdown has started.
var ErrHubClosed = errors.New("hub is shutting down")

func serverRoom(tenant string) string {
	return NamespaceServer + ":" + tenant
}

func chatRoom(chatID string) string {
	return NamespaceChat + ":" + chatID
}

func presenceEvent(room string) string {
	if strings.HasPrefix(room, NamespaceChat+":") {
		return EventUsersToClient
	}
	return EventUsersServerToClient
}

// Hub is the room registry. Every connection belongs to exactly one room;
// presence is recomputed from the live set on every request.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
	closing bool
	wg      sync.WaitGroup
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// NewHub creates an empty registry.
func NewHub(logger *zap.Logger, metrics *telemetry.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
		logger:  logger.Named("hub"),
		metrics: metrics,
	}
}

// Register adds c to its room, starts its pumps and broadcasts the room's
// new presence.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return ErrHubClosed
	}
	room, ok := h.rooms[c.room]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.room] = room
	}
	room[c] = struct{}{}
	h.clients[c] = struct{}{}
	c.closed = false
	roomSize := len(room)
	if c.conn != nil {
		h.wg.Add(2)
	}
	h.mu.Unlock()

	h.metrics.Connections.WithLabelValues(c.namespace).Inc()
	h.logger.Info("connection admitted",
		zap.String("conn", c.id),
		zap.String("room", c.room),
		zap.String("user", c.user.UserID),
		zap.String("addr", c.addr),
		zap.Int("room_size", roomSize))

	if c.conn != nil {
		go func() {
			defer h.wg.Done()
			c.writePump()
		}()
		go func() {
			defer h.wg.Done()
			c.readPump()
		}()
	}

	h.BroadcastPresence(c.room)
	return nil
}

// Unregister removes c and broadcasts the room's new presence. It reports
// false, and does nothing, when c was already removed.
func (h *Hub) Unregister(c *Client) bool {
	if !h.detach(c) {
		return false
	}
	h.BroadcastPresence(c.room)
	return true
}

// detach removes c from the registry and closes its send channel.
func (h *Hub) detach(c *Client) bool {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, c)
	if room, ok := h.rooms[c.room]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.room)
		}
	}
	c.closed = true
	close(c.send)
	h.mu.Unlock()

	c.cancel()
	h.metrics.Connections.WithLabelValues(c.namespace).Dec()
	h.logger.Info("connection removed",
		zap.String("conn", c.id),
		zap.String("room", c.room),
		zap.String("user", c.user.UserID))
	return true
}

// Presence returns the unqualified ids of users holding at least one live
// connection in room.
func (h *Hub) Presence(room string) []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		ids = append(ids, c.user.UserID)
	}
	h.mu.RUnlock()

	sort.Strings(ids)
	return identity.UnqualifyAll(ids)
}

// BroadcastPresence sends the room's presence to every connection in it.
func (h *Hub) BroadcastPresence(room string) {
	h.Emit(room, presenceEvent(room), usersPayload{Users: h.Presence(room)})
}

// Emit sends one event to every connection in room.
func (h *Hub) Emit(room, event string, data interface{}) {
	h.emit(h.snapshot(room, nil), event, data)
}

// EmitToUsers sends one event to the connections in room that belong to
// any of userIDs (qualified).
func (h *Hub) EmitToUsers(room string, userIDs []string, event string, data interface{}) {
	if len(userIDs) == 0 {
		return
	}
	want := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}
	h.emit(h.snapshot(room, func(c *Client) bool { return want[c.user.UserID] }), event, data)
}

func (h *Hub) emit(targets []*Client, event string, data interface{}) {
	if len(targets) == 0 {
		return
	}
	payload, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}

	var failed []*Client
	for _, c := range targets {
		if !h.safeSend(c, payload) {
			failed = append(failed, c)
		}
	}
	h.metrics.Broadcasts.WithLabelValues(event).Inc()
	h.logger.Debug("event delivered",
		zap.String("event", event),
		zap.Int("targets", len(targets)),
		zap.Int("failed", len(failed)))
	h.removeFailedClients(failed)
}

// snapshot returns the clients of room accepted by match (nil accepts all).
func (h *Hub) snapshot(room string, match func(*Client) bool) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if match == nil || match(c) {
			clients = append(clients, c)
		}
	}
	return clients
}

func (h *Hub) safeSend(c *Client, payload []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in safeSend", zap.Any("panic", r))
			sent = false
		}
	}()

	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c]; !ok || c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// removeFailedClients drops clients whose send buffer is full and refreshes
// presence once per affected room.
func (h *Hub) removeFailedClients(failed []*Client) {
	rooms := make(map[string]struct{})
	for _, c := range failed {
		if h.detach(c) {
			h.logger.Warn("connection dropped, send buffer full", zap.String("conn", c.id))
			rooms[c.room] = struct{}{}
		}
	}
	for room := range rooms {
		h.BroadcastPresence(room)
	}
}

// CloseRoom disconnects every connection in room.
func (h *Hub) CloseRoom(room string) int {
	n := 0
	for _, c := range h.snapshot(room, nil) {
		if h.detach(c) {
			n++
		}
	}
	if n > 0 {
		h.logger.Info("room closed", zap.String("room", room), zap.Int("connections", n))
	}
	return n
}

// CloseUser disconnects userID's connections in room and refreshes the
// room's presence.
func (h *Hub) CloseUser(room, userID string) int {
	n := 0
	for _, c := range h.snapshot(room, func(c *Client) bool { return c.user.UserID == userID }) {
		if h.detach(c) {
			n++
		}
	}
	if n > 0 {
		h.BroadcastPresence(room)
	}
	return n
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits for the pumps to finish, or
// until timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	h.logger.Info("shutting down connections", zap.Int("connections", len(clients)))
	for _, c := range clients {
		if c.conn == nil {
			h.detach(c)
			continue
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Warn("close connection", zap.String("conn", c.id), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timed out, some connections may still be open")
		return context.DeadlineExceeded
	}
}
