package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/atlascms/atlas/internal/app"
	"github.com/atlascms/atlas/internal/identity"
	"github.com/atlascms/atlas/internal/platform/db"
	"github.com/atlascms/atlas/internal/sessions"
	"github.com/atlascms/atlas/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	sessionRepo := sessions.NewRepository(pool)
	invalidator := identity.NewBroadcaster(nil, identity.NewCache(nil), logger, "worker")
	sessionService := sessions.NewService(sessionRepo, logger, nil, invalidator, nil, nil)

	cleanupTask, err := jobs.NewSessionsCleanupTask(jobs.SessionsCleanupPayload{})
	if err != nil {
		logger.Error("prepare cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSessionsCleanup, Handler: jobs.NewSessionsCleanupHandler(sessionService, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@hourly", Task: cleanupTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker", slog.Any("error", err))
		os.Exit(1)
	}
}
