package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/procureflow/cmd/procureflow/cli"
	"github.com/odyssey-erp/procureflow/internal/app"
	"github.com/odyssey-erp/procureflow/internal/notify"
	"github.com/odyssey-erp/procureflow/internal/observability"
	"github.com/odyssey-erp/procureflow/internal/platform/cache"
	"github.com/odyssey-erp/procureflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobs(cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable; notifications are logged and payment references are checked in-store only", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	st, closeStore, err := app.OpenStore(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	metrics := observability.NewMetrics()
	deps := app.Deps{
		Config:   cfg,
		Logger:   logger,
		Store:    st,
		Notifier: notify.NewLogNotifier(logger),
		Metrics:  metrics,
	}
	params := app.RouterParams{Logger: logger, Config: cfg, Metrics: metrics}

	var jobClient *jobs.Client
	if redisClient != nil {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		jobClient = jobs.NewClient(redisOpts)
		defer jobClient.Close()
		inspector := asynq.NewInspector(redisOpts)
		defer inspector.Close()

		deps.Redis = redisClient
		deps.Notifier = jobs.NewQueueNotifier(jobClient)
		params.JobHandler = jobs.NewHandler(inspector, logger)
	}

	services := app.NewServices(deps)
	params.Services = services

	if jobClient != nil {
		unwatch, err := jobs.WatchReceipts(ctx, st, services.Receiving, jobClient, logger)
		if err != nil {
			logger.Warn("watch receipts", slog.Any("error", err))
		} else {
			defer unwatch()
		}
		if _, err := jobClient.EnqueueInvoiceBackfill(ctx); err != nil {
			logger.Warn("enqueue invoice backfill", slog.Any("error", err))
		}
	}

	serve(ctx, stop, cfg, logger, app.NewRouter(params))
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger, router http.Handler) {
	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// runJobs handles `procureflow jobs trigger <name> [args]` and `procureflow jobs stats [queue]`.
func runJobs(cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: procureflow jobs trigger <name> [args] | stats [queue]")
	}
	c, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("usage: procureflow jobs trigger <name> [args]")
		}
		info, err := c.Trigger(ctx, args[1], args[2:]...)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	case "stats":
		queue := ""
		if len(args) > 1 {
			queue = args[1]
		}
		stats, err := c.InspectQueue(ctx, queue)
		if err != nil {
			return err
		}
		fmt.Printf("%s pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
	return nil
}
