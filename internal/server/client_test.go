package server

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GyoHeon/chat-back/internal/config"
)

func TestOversizedFrameClosesConnection(t *testing.T) {
	const limit = 64
	h := newHarnessWithConfig(t, config.ServerConfig{
		AllowedOrigins: []string{testOrigin},
		MaxMessageSize: limit,
	}, nil, "srv1:alice", "srv1:bob")
	c := h.createChat("srv1:alice", "Team", false, "bob")

	sender := h.mustDial("/ws/chat?chatId="+c.ID, "srv1", "srv1:alice")
	receiver := h.mustDial("/ws/chat?chatId="+c.ID, "srv1", "srv1:bob")
	readEvent(t, receiver, EventUsersToClient)

	sendFrame(t, sender, EventMessageToServer, strings.Repeat("A", limit+10))

	expectNoEvent(t, receiver, EventMessageToClient, 300*time.Millisecond)
	expectClosed(t, sender)
}

func TestFrameRateLimitDropsExcess(t *testing.T) {
	rate := config.RateLimitConfig{Burst: 2, RefillInterval: 5 * time.Second}
	h := newHarnessWithConfig(t, config.ServerConfig{
		AllowedOrigins: []string{testOrigin},
		RateLimit:      rate,
	}, nil, "srv1:alice", "srv1:bob")
	c := h.createChat("srv1:alice", "Team", false, "bob")

	sender := h.mustDial("/ws/chat?chatId="+c.ID, "srv1", "srv1:alice")
	receiver := h.mustDial("/ws/chat?chatId="+c.ID, "srv1", "srv1:bob")

	for i := 0; i < rate.Burst; i++ {
		text := fmt.Sprintf("msg-%d", i)
		sendFrame(t, sender, EventMessageToServer, text)
		var m struct {
			Text string `json:"text"`
		}
		decodeData(t, readEvent(t, receiver, EventMessageToClient), &m)
		if m.Text != text {
			t.Fatalf("received %q, want %q", m.Text, text)
		}
	}

	sendFrame(t, sender, EventMessageToServer, "over-limit")
	expectNoEvent(t, receiver, EventMessageToClient, 300*time.Millisecond)
}

func TestHubShutdownClosesLiveConnections(t *testing.T) {
	h := newHarness(t, nil, "srv1:alice", "srv1:bob")

	conns := []*websocket.Conn{
		h.mustDial("/ws/server", "srv1", "srv1:alice"),
		h.mustDial("/ws/server", "srv1", "srv1:alice"),
		h.mustDial("/ws/server", "srv1", "srv1:bob"),
	}
	readEvent(t, conns[2], EventUsersServerToClient)

	if err := h.hub.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, conn := range conns {
		expectClosed(t, conn)
	}
	if n := h.hub.ConnectionCount(); n != 0 {
		t.Errorf("ConnectionCount = %d after Shutdown", n)
	}

	// A late upgrade is closed as soon as registration fails.
	if late, _, err := h.dial("/ws/server", "srv1", "srv1:alice"); err == nil {
		expectClosed(t, late)
	}
	if n := h.hub.ConnectionCount(); n != 0 {
		t.Errorf("ConnectionCount = %d after a late dial", n)
	}
}
