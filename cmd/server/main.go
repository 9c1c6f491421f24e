package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lifestory-backend/internal/config"
	"lifestory-backend/internal/database"
	"lifestory-backend/internal/handlers"
	"lifestory-backend/internal/ingestion"
	"lifestory-backend/internal/middleware"
	"lifestory-backend/internal/repository"
	"lifestory-backend/internal/router"
	"lifestory-backend/internal/services"
	"lifestory-backend/internal/websocket"
	"lifestory-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	logger.WithField("env", cfg.Env).Info("starting lifestory backend")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL, database.PoolOptions{})
	if err != nil {
		logger.WithError(err).Fatal("postgres connection failed")
	}
	defer pool.Close()
	logger.Info("postgres connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Fatal("redis connection failed")
	}
	defer redisClients.Close()
	logger.Info("redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations", logger); err != nil {
		logger.WithError(err).Fatal("database migration failed")
	}

	// ──── Initialize Repositories ────
	ingestionRepo := repository.NewIngestionRepo(pool)
	mirrorRepo := repository.NewMirrorRepo(pool)
	promptRepo := repository.NewPromptRepo(pool)
	playlistStore := repository.NewPlaylistStore(promptRepo, ingestionRepo)

	// ──── Initialize Ingestion Core ────
	transcoder := services.NewTranscoderService(cfg.TranscoderBaseURL, cfg.TranscoderTokenID, cfg.TranscoderTokenSecret)
	publisher := services.NewUpdatePublisher(redisClients.Queue)
	pollQueue := worker.NewRedisQueue(redisClients.Queue)

	backoff := ingestion.NewBackoff(cfg.PollBackoff, cfg.PollDelay, cfg.PollMaxDelay)
	leaseTTL := ingestion.LeaseTTLFor(backoff)

	machine := ingestion.NewMachine(ingestionRepo, publisher, logger)
	issuer := ingestion.NewIssuer(ingestionRepo, transcoder, machine, ingestion.IssuerConfig{
		CORSOrigin:     cfg.UploadCORSOrigin,
		PlaybackPolicy: cfg.PlaybackPolicy,
	}, logger)
	poller := ingestion.NewPoller(
		ingestionRepo,
		machine,
		ingestion.NewStatusSource(cfg.PollStrategy, transcoder, mirrorRepo),
		database.NewRedisLeaser(redisClients.Queue),
		ingestion.PollerConfig{
			MaxAttempts: cfg.PollMaxAttempts,
			Backoff:     backoff,
			LeaseTTL:    leaseTTL,
		},
		logger,
	)
	ingestionService := ingestion.NewService(ingestionRepo, issuer, machine, ingestion.NewAssembler(playlistStore), pollQueue, logger)
	webhooks := ingestion.NewWebhookReconciler(ingestionRepo, mirrorRepo, machine, logger)

	if cfg.TranscoderWebhookSecret == "" {
		logger.Warn("TRANSCODER_WEBHOOK_SECRET not set, webhook signatures are not verified")
	}

	// ──── Initialize Handlers ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	uploadHandler := handlers.NewUploadHandler(ingestionService, logger)
	playlistHandler := handlers.NewPlaylistHandler(ingestionService, logger)
	webhookHandler := handlers.NewWebhookHandler(webhooks, cfg.TranscoderWebhookSecret, logger)

	// Issue-upload rate limiter (20 req/min per owner)
	issueLimiter := middleware.NewRateLimiter(20, time.Minute)

	// ──── Step 5: Start Poll Worker Pool ────
	workerPool := worker.NewPool(pollQueue, poller, cfg.PollWorkers, logger)
	workerPool.Start()

	reconciler := services.NewReconcileScheduler(ingestionRepo, pollQueue, cfg.ReconcileInterval, leaseTTL, logger)
	reconciler.Start()

	// ──── Step 6: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, logger)

	// ──── Step 7: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		uploadHandler,
		playlistHandler,
		webhookHandler,
		issueLimiter,
		wsHub,
		cfg.FrontendURL,
		logger,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		reconciler.Stop()
		workerPool.Stop()
		issueLimiter.Stop()
		wsHub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	logger.WithFields(map[string]interface{}{
		"port":          cfg.Port,
		"poll_strategy": cfg.PollStrategy,
		"poll_backoff":  cfg.PollBackoff,
		"poll_workers":  cfg.PollWorkers,
	}).Info("lifestory backend ready")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.WithError(err).Fatal("server error")
	}
}
