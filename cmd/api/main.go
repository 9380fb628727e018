package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"paywallet-core/config"
	httpHandler "paywallet-core/internal/adapter/http/handler"
	"paywallet-core/internal/adapter/rail"
	pgStorage "paywallet-core/internal/adapter/storage/postgres"
	redisStorage "paywallet-core/internal/adapter/storage/redis"
	"paywallet-core/internal/core/ports"
	"paywallet-core/internal/hub"
	"paywallet-core/internal/service"
	"paywallet-core/pkg/logger"

	"github.com/rs/zerolog"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Options{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting PayWallet Core")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	userRepo := pgStorage.NewUserRepo(pool)
	balanceRepo := pgStorage.NewBalanceRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	recoveryRepo := pgStorage.NewRecoveryRepo(pool)
	idempotencyRepo := pgStorage.NewIdempotencyRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)
	notaryQueue := redisStorage.NewNotaryQueue(rdb)

	// Initialize core services
	pinSvc := service.NewArgon2PINService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Realtime event hub
	eventHub := hub.NewHub(tokenSvc, cfg.Hub, log)

	// Primary rail client (also the recovery funding source collaborator)
	railClient := rail.NewClient(cfg.Rail, nil, log)

	// Initialize business services
	authSvc := service.NewAuthService(userRepo, pinSvc, tokenSvc, log)
	ledgerSvc := service.NewLedgerService(balanceRepo, txRepo, transactor, eventHub, notaryQueue, log)
	recoverySvc := service.NewRecoveryService(recoveryRepo, txRepo, transactor, ledgerSvc, railClient, cfg.Recovery, log)
	paymentSvc := service.NewPaymentService(
		userRepo,
		txRepo,
		idempotencyRepo,
		idempotencyCache,
		transactor,
		ledgerSvc,
		railClient,
		recoverySvc,
		pinSvc,
		eventHub,
		notaryQueue,
		cfg.Rail.AttemptTimeout,
		log,
	)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	notaryWorker := service.NewNotaryWorker(notaryQueue, txRepo, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		notaryWorker.Run(workerCtx)
	}()

	workers.Add(1)
	go func() {
		defer workers.Done()
		runRecoverySweeper(workerCtx, recoverySvc, cfg.Recovery.SweepInterval, log)
	}()

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:         authSvc,
		LedgerSvc:       ledgerSvc,
		PaymentSvc:      paymentSvc,
		RecoverySvc:     recoverySvc,
		TxRepo:          txRepo,
		TokenSvc:        tokenSvc,
		RateLimitStore:  rateLimitStore,
		HealthCheckers:  []ports.HealthChecker{pgHealth, redisHealth},
		LiveConnections: eventHub.ConnectionCount,
		WSHandler:       eventHub.HandleConnection,
		AdminKey:        cfg.Admin.APIKey,
		Logger:          log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	eventHub.Shutdown()
	stopWorkers()
	workers.Wait()

	log.Info().Msg("Server exited")
}

// runRecoverySweeper periodically settles due recovery tasks and fails
// stale claims, until the context is cancelled.
func runRecoverySweeper(ctx context.Context, recoverySvc ports.RecoveryService, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("recovery sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("recovery sweeper stopped")
			return
		case <-ticker.C:
			report := recoverySvc.ProcessDue(ctx)
			log.Info().
				Int("claimed", report.Claimed).
				Int("completed", report.Completed).
				Int("failed", report.Failed).
				Int("skipped", report.Skipped).
				Msg("recovery sweep finished")

			swept, err := recoverySvc.SweepStale(ctx)
			if err != nil {
				log.Error().Err(err).Msg("stale claim sweep failed")
			} else if swept > 0 {
				log.Warn().Int64("count", swept).Msg("stale recovery claims failed")
			}
		}
	}
}
