package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/procureflow/internal/app"
	"github.com/odyssey-erp/procureflow/internal/notify"
	"github.com/odyssey-erp/procureflow/internal/observability"
	"github.com/odyssey-erp/procureflow/internal/platform/cache"
	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/jobs"
)

const (
	receiptLockTTL   = 30 * time.Second
	backfillSchedule = "0 * * * *"
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

	st, closeStore, err := app.OpenStore(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	metrics := observability.NewMetrics()
	// Jobs deliver directly; re-queueing from the worker would loop.
	delivery := notify.NewLogNotifier(logger)
	services := app.NewServices(app.Deps{
		Config:   cfg,
		Logger:   logger,
		Store:    st,
		Redis:    redisClient,
		Notifier: delivery,
		Metrics:  metrics,
	})

	notifyJob := &jobs.NotifyJob{Delivery: delivery, Logger: logger, Metrics: metrics.Jobs()}
	receiptJob := &jobs.POReceiptJob{
		Receipts: services.Receiving,
		Locker:   shared.NewLocker(redisClient, receiptLockTTL),
		Logger:   logger,
		Metrics:  metrics.Jobs(),
	}
	backfillJob := &jobs.InvoiceBackfillJob{
		GRNs:     services.Receiving,
		Invoices: services.Billing,
		Logger:   logger,
		Metrics:  metrics.Jobs(),
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:    asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:       logger,
		Notify:       notifyJob,
		POReceipt:    receiptJob,
		Backfill:     backfillJob,
		BackfillSpec: backfillSchedule,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
