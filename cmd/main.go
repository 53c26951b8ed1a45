package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"crashsync/internal/bootstrap"
	"crashsync/internal/config"
	"crashsync/internal/repository"
	"crashsync/internal/router"
	"crashsync/internal/sanitize"
	"crashsync/internal/scheduler"
	"crashsync/internal/soda"
	"crashsync/internal/syncer"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := bootstrap.MigrateAndSeed(db); err != nil {
		logger.Fatal("Failed to bootstrap database schema", zap.Error(err))
	}

	// --- Fetch client ---
	client := soda.NewClient(&cfg.Soda, logger)

	// --- Sync orchestrator ---
	sanitizer := sanitize.NewSanitizer(cfg.Validation)
	crashRepo := repository.NewCrashRepository(db)
	cursorRepo := repository.NewCursorRepository(db)
	pipelines := syncer.Pipelines(cfg, sanitizer, crashRepo)
	sync := syncer.NewSyncer(client, cursorRepo, pipelines, cfg.Sync, logger)

	// --- Scheduler (Redis leader lease with in-process fallback) ---
	leader, leaderErr := scheduler.NewLeader(
		cfg.Redis.Addr,
		cfg.Redis.Pass,
		cfg.Redis.DB,
		cfg.Scheduler.LeaderKey,
		uuid.NewString(),
		cfg.Scheduler.LeaderTTL,
	)
	if leaderErr != nil {
		logger.Warn("Redis unavailable for leader election, using in-process fallback", zap.Error(leaderErr))
	}

	sched := scheduler.New(
		&cfg.Scheduler,
		repository.NewJobRepository(db),
		repository.NewExecutionRepository(db),
		sync,
		leader,
		logger,
	)
	sched.Start()

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true
	router.Setup(e, db, client, sched, sync.Datasets(), cfg.API.Key, logger)

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting crashsync server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
