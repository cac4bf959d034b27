// Package server defines the tagged frames exchanged over real-time
// connections and the helpers that encode and decode them.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/GyoHeon/chat-back/internal/chat"
)

// Inbound event names.
const (
	EventMessageToServer = "message-to-server"
	EventFetchMessages   = "fetch-messages"
	EventUsersChat       = "users-chat"
	EventUsersServer     = "users-server"
)

// Outbound event names.
const (
	EventUsersServerToClient = "users-server-to-client"
	EventNewChat             = "new-chat"
	EventInvite              = "invite"
	EventMessageToClient     = "message-to-client"
	EventMessagesToClient    = "messages-to-client"
	EventUsersToClient       = "users-to-client"
	EventJoin                = "join"
	EventLeave               = "leave"
	EventError               = "error"
)

// Frame is the envelope of every real-time message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var errUnknownEvent = errors.New("unknown event")

// inbound is one of the closed set of client requests below.
type inbound interface {
	eventName() string
}

type postMessage struct{ Text string }

type fetchMessages struct{}

type chatPresenceRequest struct{}

type serverPresenceRequest struct{}

func (postMessage) eventName() string           { return EventMessageToServer }
func (fetchMessages) eventName() string         { return EventFetchMessages }
func (chatPresenceRequest) eventName() string   { return EventUsersChat }
func (serverPresenceRequest) eventName() string { return EventUsersServer }

// decodeInbound parses raw into a request valid for namespace.
func decodeInbound(namespace string, raw []byte) (inbound, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch namespace {
	case NamespaceChat:
		switch f.Event {
		case EventMessageToServer:
			var text string
			if err := json.Unmarshal(f.Data, &text); err != nil {
				return nil, fmt.Errorf("%s: data must be a string", f.Event)
			}
			return postMessage{Text: text}, nil
		case EventFetchMessages:
			return fetchMessages{}, nil
		case EventUsersChat:
			return chatPresenceRequest{}, nil
		}
	case NamespaceServer:
		if f.Event == EventUsersServer {
			return serverPresenceRequest{}, nil
		}
	}
	return nil, fmt.Errorf("%w %q", errUnknownEvent, f.Event)
}

type usersPayload struct {
	Users []string `json:"users"`
}

type chatPayload struct {
	Chat chat.ChatView `json:"chat"`
}

type messagesPayload struct {
	Messages []chat.MessageView `json:"messages"`
}

type joinPayload struct {
	Users   []string `json:"users"`
	Joiners []string `json:"joiners"`
}

type leavePayload struct {
	Users  []string `json:"users"`
	Leaver string   `json:"leaver"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func encodeFrame(event string, data interface{}) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: body})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
