package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/google/uuid"

	"wealthflow/internal/amqp"
	"wealthflow/internal/backend"
	"wealthflow/internal/cli"
	"wealthflow/internal/config"
	apphttp "wealthflow/internal/http"
	"wealthflow/internal/middleware/security"
	"wealthflow/internal/realtime"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg, os.Stdout, false)

	if err := cfg.ValidateServer(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	provider, err := backend.NewFactory(logger).CreateIdentity(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to initialize identity provider", "error", err, "provider", cfg.IdentityProvider)
		os.Exit(1)
	}

	hub := realtime.NewHub(provider,
		realtime.WithCheckOrigin(security.OriginChecker(cfg.AllowedOrigins)),
		realtime.WithHubLogger(logger))

	opts := []apphttp.Option{apphttp.WithLogger(logger)}

	// Fan pushes out through the broker so every instance reaches its own sockets
	var bus *amqp.Client
	if cfg.AMQPURL != "" {
		queue := cfg.AMQPQueue + "." + instanceID()
		bus, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, queue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		opts = append(opts, apphttp.WithPublisher(bus))
		logger.Info("AMQP fan-out enabled", "exchange", cfg.AMQPExchange, "queue", queue)
	} else {
		logger.Info("AMQP disabled; pushes go straight to this instance's sockets")
	}

	srv := apphttp.NewServer(apphttp.Config{
		Addr:           ":" + cfg.Port,
		Environment:    cfg.Environment,
		AllowedOrigins: cfg.AllowedOrigins,
		PushRateLimit:  cfg.PushRateLimit,
	}, hub, provider, opts...)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if bus != nil {
			if err := bus.Close(); err != nil {
				logger.Warn("AMQP close error", "error", err)
			}
		}
	})

	if bus != nil {
		go func() {
			err := bus.ConsumeUserEvents(ctx, func(_ context.Context, msg *amqp.UserEventMessage) error {
				n := hub.Emit(msg.UserID, realtime.Envelope{Type: msg.Type, Payload: msg.Payload})
				logger.Debug("Delivered bus event", "user_id", msg.UserID, "type", msg.Type, "connections", n)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Event consumption stopped", "error", err)
			}
		}()
	}

	logger.Info("Starting WealthFlow server",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"identity", cfg.IdentityProvider)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()[:8]
}
