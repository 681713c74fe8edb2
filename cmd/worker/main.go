package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pampa-erp/pampa/internal/app"
	jobmetrics "github.com/pampa-erp/pampa/internal/jobs"
	"github.com/pampa-erp/pampa/internal/observability"
	"github.com/pampa-erp/pampa/internal/platform/cache"
	"github.com/pampa-erp/pampa/internal/platform/db"
	"github.com/pampa-erp/pampa/jobs"
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

	services, err := app.BuildServices(ctx, cfg, pool, redisClient, observability.NewMetrics(), logger)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := jobmetrics.NewMetrics(nil)
	integrityJob := jobs.NewGLIntegrityJob(services.Journals, logger, metrics)
	overdueJob := jobs.NewOverdueJob(services.Fulfillment, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(services.Idempotency, logger, metrics)

	overdueTask, err := jobs.NewOverdueTask(nil)
	if err != nil {
		logger.Error("build overdue task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(0)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskGLIntegrity, Handler: integrityJob.Handle},
		{Type: jobs.TaskOverdueInvoices, Handler: overdueJob.Handle},
		{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
	}
	cron := []jobs.CronRegistration{
		{Spec: "*/30 * * * *", Task: jobs.NewGLIntegrityTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		{Spec: "10 0 * * *", Task: overdueTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		{Spec: "40 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
	}

	if services.Platform != nil {
		syncJob := jobs.NewExternalSyncJob(services.Platform, services.Staging, cfg.ExternalSync, logger, metrics)
		syncTask, err := jobs.NewExternalSyncTask()
		if err != nil {
			logger.Error("build sync task", slog.Any("error", err))
			os.Exit(1)
		}
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskExternalSync, Handler: syncJob.Handle})
		cron = append(cron, jobs.CronRegistration{Spec: "*/15 * * * *", Task: syncTask, Options: []asynq.Option{asynq.MaxRetry(5)}})
	} else {
		logger.Info("external platform not configured, sync disabled")
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.AsynqRedis(),
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers:    handlers,
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadTimeout: cfg.AppReadTimeout}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer metricsServer.Close()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
