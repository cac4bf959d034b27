package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/GyoHeon/chat-back/internal/chat"
	"github.com/GyoHeon/chat-back/internal/store"
)

// HealthHandler reports that the process is serving.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "chat server is running")
}

func (s *Server) serveServerRoom(w http.ResponseWriter, r *http.Request) {
	s.serveRoom(w, r, NamespaceServer, s.handleServerFrame)
}

func (s *Server) serveChatRoom(w http.ResponseWriter, r *http.Request) {
	s.serveRoom(w, r, NamespaceChat, s.handleChatFrame)
}

func (s *Server) serveRoom(w http.ResponseWriter, r *http.Request, namespace string, onFrame frameHandler) {
	adm, err := s.gate.Admit(r, namespace)
	if err != nil {
		_, code := classify(err)
		s.metrics.GateRejections.WithLabelValues(code).Inc()
		s.logger.Warn("connection rejected",
			zap.String("namespace", namespace),
			zap.String("addr", r.RemoteAddr),
			zap.String("code", code),
			zap.Error(err))
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.GateRejections.WithLabelValues("upgrade").Inc()
		s.logger.Warn("websocket upgrade failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
		return
	}

	client := newClient(conn, s.hub, clientOptions{
		Namespace:      namespace,
		Room:           adm.Room,
		User:           adm.Caller,
		ChatID:         adm.ChatID,
		Addr:           r.RemoteAddr,
		SendBuffer:     s.cfg.SendBuffer,
		MaxMessageSize: s.cfg.MaxMessageSize,
		RateLimit:      s.cfg.RateLimit,
		OnFrame:        onFrame,
	})
	if err := s.hub.Register(client); err != nil {
		s.logger.Warn("register connection", zap.Error(err))
		_ = conn.Close()
		return
	}
	if err := s.gate.Recheck(r.Context(), adm); err != nil {
		s.metrics.GateRejections.WithLabelValues("revoked").Inc()
		s.logger.Info("admission revoked during registration",
			zap.String("room", adm.Room),
			zap.String("user", adm.Caller.UserID),
			zap.Error(err))
		s.hub.Unregister(client)
	}
}

func (s *Server) handleServerFrame(_ context.Context, c *Client, in inbound) {
	switch in.(type) {
	case serverPresenceRequest:
		s.hub.BroadcastPresence(c.room)
	}
}

func (s *Server) handleChatFrame(ctx context.Context, c *Client, in inbound) {
	switch msg := in.(type) {
	case postMessage:
		if _, err := s.service.Post(ctx, c.chatID, c.user.UserID, msg.Text); err != nil {
			s.frameError(c, in, err)
		}
	case fetchMessages:
		if err := s.gate.member(ctx, c.chatID, c.user.UserID); err != nil {
			s.frameError(c, in, err)
			return
		}
		msgs, err := s.service.Messages(ctx, c.chatID)
		if err != nil {
			s.frameError(c, in, err)
			return
		}
		c.emit(EventMessagesToClient, messagesPayload{Messages: chat.NewMessageViews(msgs)})
	case chatPresenceRequest:
		s.hub.BroadcastPresence(c.room)
	}
}

// frameError reports a failed request to its sender. Invalid text only
// drops the message; anything else ends the connection.
func (s *Server) frameError(c *Client, in inbound, err error) {
	_, body := errorBody(err)
	c.emit(EventError, body)

	switch {
	case errors.Is(err, chat.ErrInvalidMessage):
		s.metrics.MessagesRejected.WithLabelValues("invalid").Inc()
		c.logger.Debug("message rejected", zap.Error(err))
		return
	case errors.Is(err, store.ErrChatNotFound):
		s.metrics.MessagesRejected.WithLabelValues("chat_not_found").Inc()
		c.logger.Info("chat no longer exists, closing connection", zap.String("event", in.eventName()))
	case errors.Is(err, chat.ErrNotAMember):
		s.metrics.MessagesRejected.WithLabelValues("not_a_member").Inc()
		c.logger.Info("sender is no longer a member, closing connection", zap.String("event", in.eventName()))
	default:
		c.logger.Error("frame failed, closing connection", zap.String("event", in.eventName()), zap.Error(err))
	}
	s.hub.Unregister(c)
}
