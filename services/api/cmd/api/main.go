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

	"interviewprep/internal/usertoken"
	"interviewprep/internal/util"
	"interviewprep/internal/webhooksig"
	"interviewprep/pkg/ai"
	"interviewprep/pkg/notify"
	"interviewprep/pkg/queue"
	"interviewprep/pkg/storage"
	"interviewprep/services/api/internal/app"
	"interviewprep/services/api/internal/config"
	"interviewprep/services/api/internal/server"
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
	logger := util.InitLogger("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	webhookKeys, err := webhooksig.ParseVerifyPublicKeys(cfg.WebhookVerifyPublicKeys)
	if err != nil {
		log.Fatalf("failed to parse webhook verify public keys: %v", err)
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  cfg.AuthJWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   durations.JWTLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	generator, err := ai.NewGenerator(ctx, ai.ProviderConfig{
		Provider:       cfg.GenerationProvider,
		Model:          cfg.GenerationModel,
		APIKey:         cfg.GenerationAPIKey,
		BaseURL:        cfg.GenerationBaseURL,
		VertexProject:  cfg.VertexProject,
		VertexLocation: cfg.VertexLocation,
	})
	if err != nil {
		log.Fatalf("failed to init generator: %v", err)
	}

	deliveries, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.DeliveryStream,
	})
	if err != nil {
		log.Fatalf("failed to init delivery queue: %v", err)
	}
	defer deliveries.Close()

	var archive *storage.RawOutputArchive
	if cfg.MinioEndpoint != "" {
		objects, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init object store: %v", err)
		}
		archive = storage.NewRawOutputArchive(objects, durations.RawOutputURLExpiry)
	}

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("failed to init notifier: %v", err)
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:       cfg.DatabaseURL,
		Generator:         generator,
		Retry:             ai.RetryPolicy{MaxAttempts: cfg.GenerationMaxAttempts},
		GenerationTimeout: durations.GenerationTimeout,
		Queue:             deliveries,
		Archive:           archive,
		Notifier:          notifier,
		StaleJobAfter:     durations.StaleJobAfter,
		QueuedJobAfter:    durations.QueuedJobAfter,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                     appCore,
		TokenVerifier:           tokenVerifier,
		WebhookPublicKeyPath:    cfg.WebhookPublicKeyPath,
		WebhookVerifyPublicKeys: webhookKeys,
		WebhookKeyID:            cfg.WebhookKeyID,
		WebhookAudience:         cfg.WebhookAudience,
		WebhookIssuers:          cfg.WebhookIssuers,
		RedisAddr:               cfg.RedisAddr,
		RedisPassword:           cfg.RedisPassword,
		DispatchRateLimit:       cfg.DispatchRateLimit,
		DispatchRateWindow:      durations.DispatchRateWindow,
		AlertPrefix:             cfg.AlertPrefix,
		TrustedProxies:          cfg.TrustedProxies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	defer httpServer.Close()

	go appCore.RunReaper(util.ContextWithLogger(ctx, logger.With("component", "reaper")), durations.ReaperInterval)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: durations.GenerationTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("api server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
