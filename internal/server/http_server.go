// Package server constructs and starts the HTTP service with helpers that
// apply production timeouts.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// CreateServer creates an HTTP server for handler on port. WriteTimeout is
// left unset so hijacked real-time connections are not cut off.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer listens until the server is shut down. A graceful shutdown is
// not reported as an error.
func StartServer(server *http.Server, logger *zap.Logger) error {
	logger.Info("server listening", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer stops accepting requests and waits for in-flight ones, or
// until timeout.
func ShutdownServer(server *http.Server, timeout time.Duration, logger *zap.Logger) error {
	logger.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
		return err
	}

	logger.Info("HTTP server shutdown completed")
	return nil
}
