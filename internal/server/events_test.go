package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/GyoHeon/chat-back/internal/auth"
	"github.com/GyoHeon/chat-back/internal/chat"
	"github.com/GyoHeon/chat-back/internal/identity"
	"github.com/GyoHeon/chat-back/internal/store"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		raw       string
		want      inbound
		wantErr   bool
	}{
		{"post", NamespaceChat, `{"event":"message-to-server","data":"hello"}`, postMessage{Text: "hello"}, false},
		{"fetch", NamespaceChat, `{"event":"fetch-messages"}`, fetchMessages{}, false},
		{"chat presence", NamespaceChat, `{"event":"users-chat"}`, chatPresenceRequest{}, false},
		{"server presence", NamespaceServer, `{"event":"users-server"}`, serverPresenceRequest{}, false},
		{"post data not a string", NamespaceChat, `{"event":"message-to-server","data":{"text":"x"}}`, nil, true},
		{"post on server namespace", NamespaceServer, `{"event":"message-to-server","data":"hello"}`, nil, true},
		{"chat presence on server namespace", NamespaceServer, `{"event":"users-chat"}`, nil, true},
		{"unknown event", NamespaceChat, `{"event":"typing"}`, nil, true},
		{"not json", NamespaceChat, `hello`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeInbound(tt.namespace, []byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %#v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{errMissingCredential, http.StatusUnauthorized, CodeInvalidCredential},
		{auth.ErrInvalidCredential, http.StatusForbidden, CodeInvalidCredential},
		{errTenantMismatch, http.StatusForbidden, CodeInvalidCredential},
		{errMissingTenant, http.StatusBadRequest, CodeValidation},
		{fmt.Errorf("%w: name is required", chat.ErrValidation), http.StatusBadRequest, CodeValidation},
		{identity.ErrNotQualified, http.StatusBadRequest, CodeValidation},
		{chat.ErrInvalidMessage, http.StatusBadRequest, CodeInvalidMessage},
		{store.ErrUserNotFound, http.StatusNotFound, CodeUserNotFound},
		{store.ErrChatNotFound, http.StatusNotFound, CodeChatNotFound},
		{chat.ErrNotAMember, http.StatusBadRequest, CodeNotAMember},
		{chat.ErrAlreadyMember, http.StatusBadRequest, CodeAlreadyMember},
		{chat.ErrAlreadyParticipated, http.StatusBadRequest, CodeAlreadyParticipated},
		{chat.ErrConflict, http.StatusConflict, CodeConflict},
		{errRateLimited, http.StatusTooManyRequests, CodeRateLimited},
		{errors.New("connection reset"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := classify(tt.err)
			if status != tt.status || code != tt.code {
				t.Errorf("classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
			}
		})
	}
}

func TestErrorBodyHidesInternalCause(t *testing.T) {
	status, body := errorBody(errors.New("mongo: socket closed"))
	if status != http.StatusInternalServerError {
		t.Fatalf("status = %d", status)
	}
	if body.Message != "internal error" || body.Code != CodeInternal {
		t.Errorf("body = %+v", body)
	}
}
