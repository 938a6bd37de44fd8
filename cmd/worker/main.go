package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/chapterhub/chapterhub/internal/app"
	jobmetrics "github.com/chapterhub/chapterhub/internal/jobs"
	"github.com/chapterhub/chapterhub/internal/platform/cache"
	"github.com/chapterhub/chapterhub/internal/platform/db"
	"github.com/chapterhub/chapterhub/internal/rbac"
	"github.com/chapterhub/chapterhub/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	repo := rbac.NewRepository(pool)
	grantCache := rbac.NewCachedGrantSource(repo, redisClient, cfg.GrantCacheTTL, logger)
	retentionJob := jobs.NewGrantRetentionJob(repo, grantCache, cfg.GrantRetention, logger, jobmetrics.NewMetrics(nil))

	retentionTask, err := jobs.NewGrantRetentionTask(jobs.GrantRetentionPayload{})
	if err != nil {
		logger.Error("build retention task", slog.Any("error", err))
		os.Exit(1)
	}

	worker := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:       asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:          logger,
		Location:        cfg.BusinessHours().Location,
		ShutdownTimeout: 30 * time.Second,
	})
	worker.Handle(jobs.TaskGrantRetention, retentionJob.Handle)
	if _, err := worker.Schedule(jobs.GrantRetentionCron, retentionTask); err != nil {
		logger.Error("schedule retention", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.Duration("grant_retention", cfg.GrantRetention))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
