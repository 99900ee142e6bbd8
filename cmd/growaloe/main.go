package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kalanatw/growaloe-crm/cmd/growaloe/cli"
	"github.com/kalanatw/growaloe-crm/internal/app"
	"github.com/kalanatw/growaloe-crm/internal/commission"
	"github.com/kalanatw/growaloe-crm/internal/ledger"
	"github.com/kalanatw/growaloe-crm/internal/observability"
	"github.com/kalanatw/growaloe-crm/internal/platform/cache"
	"github.com/kalanatw/growaloe-crm/internal/platform/db"
	"github.com/kalanatw/growaloe-crm/internal/profit"
	"github.com/kalanatw/growaloe-crm/internal/shared"
	"github.com/kalanatw/growaloe-crm/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(ctx, cfg, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	locker := shared.NewRedisLocker(redisClient, cfg.SettlementLockTTL)

	profitCache := profit.NewCache(redisClient, cfg.ProfitSummaryTTL)
	profitService := profit.NewService(profit.NewRepository(dbpool), profitCache, cfg.ProfitPolicy(), logger)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, logger)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	invalidate := app.Invalidators{profitService, jobClient}

	ledgerCfg := cfg.LedgerConfig()
	ledgerCfg.Observer = metrics
	ledgerService := ledger.NewService(ledger.NewRepository(dbpool), auditLogger, locker, logger, ledgerCfg)
	commissionService := commission.NewService(commission.NewRepository(dbpool), auditLogger, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		LedgerHandler:     ledger.NewHandler(logger, ledgerService, invalidate),
		CommissionHandler: commission.NewHandler(logger, commissionService, invalidate),
		ProfitHandler:     profit.NewHandler(logger, profitService),
		JobHandler:        jobs.NewHandler(inspector, jobClient, logger),
		Metrics:           metrics,
		Audit:             auditLogger,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

// runJobsCommand handles `growaloe jobs trigger <task> [date]` and
// `growaloe jobs stats`.
func runJobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	jc, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer jc.Close()

	if len(args) == 0 {
		return fmt.Errorf("usage: growaloe jobs trigger <task> [YYYY-MM-DD] | growaloe jobs stats")
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return fmt.Errorf("usage: growaloe jobs trigger <task> [YYYY-MM-DD]")
		}
		date := ""
		if len(args) > 2 {
			date = args[2]
		}
		info, err := jc.Trigger(ctx, args[1], date)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jc.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
	return nil
}
