// Package server wires HTTP handlers into a chi router, with tracing around
// every route.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Routes returns the application's handler: health, metrics, the two
// real-time namespaces and the REST surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", HealthHandler)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Get("/ws/server", s.serveServerRoom)
	r.Get("/ws/chat", s.serveChatRoom)

	r.Get("/chat/all", s.listPublicChats)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/chat", s.listMyChats)
		r.Get("/users", s.listUsers)
		r.Get("/user", s.getUser)

		r.With(s.throttle).Group(func(r chi.Router) {
			r.Post("/chat", s.createChat)
			r.Patch("/chat/participate", s.participateChat)
			r.Patch("/chat/invite", s.inviteChat)
			r.Patch("/chat/leave", s.leaveChat)
			r.Patch("/user", s.updateProfile)
			r.Delete("/server", s.resetTenant(true))
			r.Delete("/server/chats", s.resetTenant(false))
			r.Post("/server/reconcile", s.reconcileTenant)
		})
	})

	return otelhttp.NewHandler(r, "chat.http",
		otelhttp.WithFilter(func(req *http.Request) bool {
			return req.URL.Path != "/health" && req.URL.Path != "/metrics"
		}))
}
