package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/mocktest-backend/internal/client"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/database"
	"github.com/stemsi/mocktest-backend/internal/handler"
	"github.com/stemsi/mocktest-backend/internal/logger"
	"github.com/stemsi/mocktest-backend/internal/messaging"
	"github.com/stemsi/mocktest-backend/internal/middleware"
	"github.com/stemsi/mocktest-backend/internal/repository"
	"github.com/stemsi/mocktest-backend/internal/router"
	"github.com/stemsi/mocktest-backend/internal/service"
	"github.com/stemsi/mocktest-backend/internal/session"
	"github.com/stemsi/mocktest-backend/internal/validator"
	"github.com/stemsi/mocktest-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Dur("sync_interval", cfg.SyncInterval).
		Msg("Starting Mock Test Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Connect to RabbitMQ (optional) ───────────────────────────────
	var notifier session.Notifier = messaging.NoopPublisher{}
	amqpConn, err := database.NewRabbitMQConnection(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	if amqpConn != nil {
		defer amqpConn.Close()
		publisher, err := messaging.NewPublisher(amqpConn, config.WorkerKey.CompletedQueue, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open RabbitMQ publisher")
		}
		defer publisher.Close()
		notifier = publisher
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	catalogRepo := repository.NewCatalogRepository(pool)
	resultRepo := repository.NewResultRepository(pool)
	evaluationRepo := repository.NewEvaluationRepository(pool)
	localRepo := repository.NewLocalCacheRepository(rdb, cfg.LocalCacheTTL)
	queueRepo := repository.NewQueueRepository(rdb)
	presenceRepo := repository.NewPresenceRepository(rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	presenceService := service.NewPresenceService(presenceRepo, log)
	testService := service.NewTestService(catalogRepo, resultRepo, evaluationRepo, presenceService, log)
	sessionService := service.NewSessionService(service.SessionDeps{
		Config:   cfg,
		Catalog:  catalogRepo,
		Results:  resultRepo,
		Local:    localRepo,
		Activity: queueRepo,
		Outbox:   queueRepo,
		Notifier: notifier,
		Log:      log,
	})

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Test:   handler.NewTestHandler(testService),
		WS:     handler.NewWSHandler(sessionService, presenceService, authService, log, cfg.AllowedOrigins),
		Health: handler.NewHealthHandler(pool, rdb),
	}
	limiters := &router.Limiters{
		API:   middleware.NewRateLimiter(rdb, "api", 120, time.Minute, log),
		Mount: middleware.NewRateLimiter(rdb, "mount", 20, time.Minute, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	activityWorker := worker.NewActivityWorker(pool, rdb, log)
	evaluator := client.NewEvaluator(cfg.EvaluatorURL, cfg.EvaluatorAPIKey, cfg.EvaluatorTimeout, log)
	evaluationWorker := worker.NewEvaluationWorker(rdb, evaluator, evaluationRepo, log)

	workers.Go(func() { activityWorker.Start(workerCtx) })
	workers.Go(func() { evaluationWorker.Start(workerCtx) })

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limiters, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	// Hijacked WebSocket connections outlive Shutdown; their request
	// contexts derive from ctx so cancelling it ends every live session.
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. End live sessions. Each keeps its mirror in Redis for the reconnect.
	cancel()

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
