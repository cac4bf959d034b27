package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GyoHeon/chat-back/internal/auth"
	"github.com/GyoHeon/chat-back/internal/chat"
	"github.com/GyoHeon/chat-back/internal/config"
	"github.com/GyoHeon/chat-back/internal/eventlog"
	"github.com/GyoHeon/chat-back/internal/logging"
	"github.com/GyoHeon/chat-back/internal/ratelimit"
	"github.com/GyoHeon/chat-back/internal/server"
	"github.com/GyoHeon/chat-back/internal/store"
	"github.com/GyoHeon/chat-back/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.Store.Driver == config.DriverMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), nil
	}
	return store.NewMongoStore(ctx, store.MongoOptions{
		URI:          cfg.Mongo.URI,
		Database:     cfg.Mongo.Database,
		Transactions: cfg.Mongo.Transactions,
		Timeout:      cfg.Mongo.Timeout,
	})
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, cfg.Telemetry.SampleRatio)
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer func() {
		c, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := shutdownTracing(c); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()
	metrics := telemetry.NewMetrics()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("store init: %w", err)
	}
	defer func() {
		c, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := st.Close(c); err != nil {
			logger.Warn("store close", zap.Error(err))
		}
	}()

	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	hub := server.NewHub(logger, metrics)
	notifiers := chat.Notifiers{server.NewHubNotifier(hub)}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := eventlog.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("event log close", zap.Error(err))
			}
		}()
		notifiers = append(notifiers, publisher)
		logger.Info("event log enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	service := chat.NewService(st, notifiers, logger)

	var limiter server.RequestLimiter
	if cfg.Redis.Addr != "" {
		rdb, err := ratelimit.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		defer rdb.Close()
		limiter = ratelimit.New(rdb, cfg.Redis.Limit, cfg.Redis.Window)
		logger.Info("REST throttling enabled", zap.Int("limit", cfg.Redis.Limit), zap.Duration("window", cfg.Redis.Window))
	}

	srv := server.New(server.Options{
		Config:   cfg.Server,
		Verifier: verifier,
		Service:  service,
		Hub:      hub,
		Limiter:  limiter,
		Metrics:  metrics,
		Logger:   logger,
	})
	httpServer := server.CreateServer(cfg.Server.Port, srv.Routes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	if err := server.ShutdownServer(httpServer, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Warn("HTTP server did not shut down cleanly", zap.Error(err))
	}
	if err := hub.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("hub did not shut down cleanly", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}
