package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/fieldworks-erp/fieldworks-erp/internal/alerts"
	"github.com/fieldworks-erp/fieldworks-erp/internal/app"
	"github.com/fieldworks-erp/fieldworks-erp/internal/platform/cache"
	"github.com/fieldworks-erp/fieldworks-erp/internal/platform/db"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock/tools"
	"github.com/fieldworks-erp/fieldworks-erp/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	notifier := alerts.NewQueueNotifier(logger, asynqClient, redisClient).
		WithDedupWindow(cfg.AlertDedupWindow)

	alertRepo := alerts.NewRepository(pool)
	dispatcher := alerts.NewDispatcher(logger, alertRepo)

	stockRepo := stock.NewRepository(pool)
	toolRepo := tools.NewRepository(pool)

	lowStockJob := &jobs.LowStockScanJob{
		Repo:      stockRepo,
		Notifier:  notifier,
		Logger:    logger,
		Threshold: cfg.LowStockThreshold,
	}
	integrityJob := &jobs.LedgerIntegrityJob{
		Repo:     stockRepo,
		Notifier: notifier,
		Logger:   logger,
	}
	overdueJob := &jobs.ToolOverdueJob{
		Tenants:  stockRepo,
		Repo:     toolRepo,
		Notifier: notifier,
		Logger:   logger,
	}

	lowStockTask, err := jobs.NewLowStockScanTask(cfg.LowStockThreshold)
	if err != nil {
		logger.Error("build low stock task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewLedgerIntegrityTask(100)
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	overdueTask, err := jobs.NewToolOverdueScanTask()
	if err != nil {
		logger.Error("build overdue task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: alerts.TaskDispatch, Handler: dispatcher.HandleDispatch},
			{Type: jobs.TaskLowStockScan, Handler: lowStockJob.Handle},
			{Type: jobs.TaskLedgerIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskToolOverdueScan, Handler: overdueJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/30 * * * *", Task: lowStockTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "15 2 * * *", Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 7 * * *", Task: overdueTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
