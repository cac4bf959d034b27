package server

import (
	"context"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GyoHeon/chat-back/internal/auth"
	"github.com/GyoHeon/chat-back/internal/chat"
	"github.com/GyoHeon/chat-back/internal/config"
	"github.com/GyoHeon/chat-back/internal/telemetry"
)

// RequestLimiter throttles REST mutations per caller.
type RequestLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Options carries the dependencies of a Server.
type Options struct {
	Config   config.ServerConfig
	Verifier auth.Verifier
	Service  *chat.Service
	// Directory backs the connection gate; nil uses Service.
	Directory Directory
	Hub       *Hub
	// Limiter is optional; nil disables REST throttling.
	Limiter RequestLimiter
	Metrics *telemetry.Metrics
	Logger  *zap.Logger
}

// Server serves the REST and real-time surfaces.
type Server struct {
	cfg      config.ServerConfig
	service  *chat.Service
	hub      *Hub
	gate     *Gate
	origins  *OriginPolicy
	upgrader websocket.Upgrader
	limiter  RequestLimiter
	metrics  *telemetry.Metrics
	logger   *zap.Logger
}

// New builds a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil && opts.Hub != nil {
		metrics = opts.Hub.metrics
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	var directory Directory = opts.Service
	if opts.Directory != nil {
		directory = opts.Directory
	}

	s := &Server{
		cfg:     config.Sanitize(config.Config{Server: opts.Config}).Server,
		service: opts.Service,
		hub:     opts.Hub,
		gate:    NewGate(opts.Verifier, directory),
		origins: NewOriginPolicy(opts.Config.AllowedOrigins, logger),
		limiter: opts.Limiter,
		metrics: metrics,
		logger:  logger.Named("server"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.CheckOrigin,
	}
	return s
}
