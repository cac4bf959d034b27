// Package server manages individual real-time connections, handling the
// read and write pumps, throttling, and lifecycle of each one.
package server

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GyoHeon/chat-back/internal/auth"
	"github.com/GyoHeon/chat-back/internal/config"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	frameWait  = 10 * time.Second
)

// frameHandler processes one decoded request from c.
type frameHandler func(ctx context.Context, c *Client, in inbound)

// Client is one admitted connection, bound to a single room.
type Client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	namespace string
	room      string
	user      auth.Identity
	chatID    string
	addr      string
	// closed is guarded by hub.mu.
	closed bool

	ctx    context.Context
	cancel context.CancelFunc

	maxMessageSize int64
	rateLimiter    *rate.Limiter
	rateLimit      config.RateLimitConfig
	onFrame        frameHandler
	logger         *zap.Logger
}

type clientOptions struct {
	Namespace      string
	Room           string
	User           auth.Identity
	ChatID         string
	Addr           string
	SendBuffer     int
	MaxMessageSize int64
	RateLimit      config.RateLimitConfig
	OnFrame        frameHandler
}

func newClient(conn *websocket.Conn, hub *Hub, opts clientOptions) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if conn != nil && opts.MaxMessageSize > 0 {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	return &Client{
		id:             id,
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, opts.SendBuffer),
		namespace:      opts.Namespace,
		room:           opts.Room,
		user:           opts.User,
		chatID:         opts.ChatID,
		addr:           opts.Addr,
		ctx:            ctx,
		cancel:         cancel,
		maxMessageSize: opts.MaxMessageSize,
		rateLimiter:    newRateLimiter(opts.RateLimit.Burst, opts.RateLimit.RefillInterval),
		rateLimit:      opts.RateLimit,
		onFrame:        opts.OnFrame,
		logger:         hub.logger.With(zap.String("conn", id), zap.String("user", opts.User.UserID)),
	}
}

// emit queues one event for this connection only.
func (c *Client) emit(event string, data interface{}) bool {
	payload, err := encodeFrame(event, data)
	if err != nil {
		c.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return false
	}
	return c.hub.safeSend(c, payload)
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("set initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("set read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs err by kind and reports whether the read loop should stop.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("frame exceeded maximum size", zap.Int64("limit", c.maxMessageSize))
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.logger.Debug("client disconnected", zap.Error(err))
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Debug("connection closed", zap.Error(err))
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.logger.Warn("unexpected close", zap.Error(err))
		return true
	}

	c.logger.Warn("read error", zap.Error(err))
	return true
}

// checkRateLimit reports whether the next frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		c.logger.Debug("rate limit exceeded, discarding frame",
			zap.Int("burst", c.rateLimit.Burst),
			zap.Duration("interval", c.rateLimit.RefillInterval))
		return false
	}
	return true
}

// processMessage decodes a raw frame and hands it to the room's handler.
func (c *Client) processMessage(raw []byte) bool {
	in, err := decodeInbound(c.namespace, raw)
	if err != nil {
		c.logger.Debug("dropping frame", zap.Error(err))
		return false
	}
	if c.onFrame == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(c.ctx, frameWait)
	defer cancel()
	c.onFrame(ctx, c, in)
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("close connection", zap.Error(err))
	}
}

// handleMessage writes one outgoing frame and returns false if the
// connection should be closed.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("set write deadline", zap.Error(err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("write close message", zap.Error(err))
	}
	return false
}

// writeTextMessage writes message and then every frame already queued, one
// websocket message each.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Debug("write message", zap.Error(err))
		return false
	}
	return c.writeQueuedMessages()
}

func (c *Client) writeQueuedMessages() bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		message, ok := <-c.send
		if !ok {
			return c.writeCloseMessage()
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.logger.Debug("write queued message", zap.Error(err))
			return false
		}
	}
	return true
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("set write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug("write ping", zap.Error(err))
		return false
	}
	return true
}
