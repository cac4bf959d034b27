package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/GyoHeon/chat-back/internal/auth"
)

type ctxKey string

const callerKey ctxKey = "caller"

func withCaller(ctx context.Context, caller auth.Identity) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// callerFrom returns the identity stored by authenticate.
func callerFrom(ctx context.Context) (auth.Identity, bool) {
	caller, ok := ctx.Value(callerKey).(auth.Identity)
	return caller, ok
}

// authenticate runs the gate's credential and tenant checks and provisions
// the caller's user record on first sight.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.gate.Authenticate(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.service.EnsureUser(r.Context(), caller); err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
	})
}

// throttle limits mutations per caller. A failing limiter lets the request
// through.
func (s *Server) throttle(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		allowed, err := s.limiter.Allow(r.Context(), caller.UserID)
		if err != nil {
			s.logger.Warn("rate limiter unavailable", zap.String("user", caller.UserID), zap.Error(err))
		} else if !allowed {
			s.writeError(w, r, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request with its status and latency.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("ip", r.RemoteAddr),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error("request failed", fields...)
			return
		}
		s.logger.Debug("request completed", fields...)
	})
}
