package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/kalanatw/growaloe-crm/internal/app"
	jobmetrics "github.com/kalanatw/growaloe-crm/internal/jobs"
	"github.com/kalanatw/growaloe-crm/internal/ledger"
	"github.com/kalanatw/growaloe-crm/internal/platform/cache"
	"github.com/kalanatw/growaloe-crm/internal/platform/db"
	"github.com/kalanatw/growaloe-crm/internal/profit"
	"github.com/kalanatw/growaloe-crm/internal/shared"
	"github.com/kalanatw/growaloe-crm/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)

	profitService := profit.NewService(profit.NewRepository(pool), profit.NewCache(redisClient, cfg.ProfitSummaryTTL), cfg.ProfitPolicy(), logger)
	ledgerService := ledger.NewService(ledger.NewRepository(pool), shared.NewAuditLogger(pool), nil, logger, cfg.LedgerConfig())

	refreshJob := jobs.NewProfitRefreshJob(profitService, logger, metrics)
	staleJob := jobs.NewStaleScanJob(ledgerService, logger, metrics)

	refreshTask, err := jobs.NewProfitRefreshTask(jobs.ProfitRefreshPayload{})
	if err != nil {
		logger.Error("build refresh task", slog.Any("error", err))
		os.Exit(1)
	}
	staleTask, err := jobs.NewStaleScanTask(jobs.StaleScanPayload{})
	if err != nil {
		logger.Error("build stale scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskProfitSummaryRefresh, Handler: refreshJob.Handle},
			{Type: jobs.TaskStaleAssignmentScan, Handler: staleJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "5 0 * * *", Task: refreshTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 0 * * *", Task: staleTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
