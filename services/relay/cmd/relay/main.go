package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"interviewprep/internal/util"
	"interviewprep/services/relay/internal/app"
	"interviewprep/services/relay/internal/config"
	"interviewprep/services/relay/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	durations, err := config.ParseDurations(cfg)
	if err != nil {
		log.Fatalf("failed to parse durations: %v", err)
	}
	logger := util.InitLogger("relay", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay, err := app.New(app.Config{
		RedisAddr:             cfg.RedisAddr,
		RedisPassword:         cfg.RedisPassword,
		Stream:                cfg.DeliveryStream,
		Group:                 cfg.DeliveryGroup,
		Concurrency:           cfg.Concurrency,
		MaxRetries:            cfg.MaxRetries,
		RetryDelay:            durations.RetryDelay,
		WebhookURL:            cfg.WebhookURL,
		WebhookAudience:       cfg.WebhookAudience,
		RequestTimeout:        durations.RequestTimeout,
		SigningPrivateKeyPath: cfg.SigningPrivateKeyPath,
		SigningKeyID:          cfg.SigningKeyID,
		SigningIssuer:         cfg.SigningIssuer,
	})
	if err != nil {
		log.Fatalf("failed to init relay: %v", err)
	}
	defer relay.Close()
	relay.Start(util.ContextWithLogger(ctx, logger.With("component", "relay")))

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.New(relay).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("relay listening", "addr", addr, "webhook", cfg.WebhookURL, "concurrency", cfg.Concurrency)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
