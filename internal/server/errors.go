package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/GyoHeon/chat-back/internal/auth"
	"github.com/GyoHeon/chat-back/internal/chat"
	"github.com/GyoHeon/chat-back/internal/identity"
	"github.com/GyoHeon/chat-back/internal/store"
)

var (
	errMissingCredential = fmt.Errorf("%w: credential missing", auth.ErrInvalidCredential)
	errTenantMismatch    = fmt.Errorf("%w: tenant does not match credential", auth.ErrInvalidCredential)
	errMissingTenant     = fmt.Errorf("%w: serverid is required", identity.ErrInvalidTenant)
	errRateLimited       = errors.New("rate limit exceeded")
)

// Error codes carried in response bodies and error frames.
const (
	CodeValidation          = "ValidationError"
	CodeInvalidCredential   = "InvalidCredential"
	CodeUserNotFound        = "UserNotFound"
	CodeChatNotFound        = "ChatNotFound"
	CodeNotAMember          = "NotAMember"
	CodeAlreadyMember       = "AlreadyMember"
	CodeAlreadyParticipated = "AlreadyParticipated"
	CodeInvalidMessage      = "InvalidMessage"
	CodeConflict            = "Conflict"
	CodeRateLimited         = "RateLimited"
	CodeInternal            = "InternalError"
)

// classify maps err to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errMissingCredential):
		return http.StatusUnauthorized, CodeInvalidCredential
	case errors.Is(err, auth.ErrInvalidCredential):
		return http.StatusForbidden, CodeInvalidCredential
	case errors.Is(err, chat.ErrValidation),
		errors.Is(err, identity.ErrInvalidTenant),
		errors.Is(err, identity.ErrInvalidID),
		errors.Is(err, identity.ErrNotQualified):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, chat.ErrInvalidMessage):
		return http.StatusBadRequest, CodeInvalidMessage
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, CodeUserNotFound
	case errors.Is(err, store.ErrChatNotFound):
		return http.StatusNotFound, CodeChatNotFound
	case errors.Is(err, chat.ErrNotAMember):
		return http.StatusBadRequest, CodeNotAMember
	case errors.Is(err, chat.ErrAlreadyMember):
		return http.StatusBadRequest, CodeAlreadyMember
	case errors.Is(err, chat.ErrAlreadyParticipated):
		return http.StatusBadRequest, CodeAlreadyParticipated
	case errors.Is(err, chat.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// errorBody returns the client-facing payload for err. Internal failures
// never leak their cause.
func errorBody(err error) (int, errorPayload) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	return status, errorPayload{Message: msg, Code: code}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorBody(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, body)
}
