package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/atelier-erp/atelier/internal/app"
	"github.com/atelier-erp/atelier/internal/catalog"
	"github.com/atelier-erp/atelier/internal/codes"
	"github.com/atelier-erp/atelier/internal/customers"
	"github.com/atelier-erp/atelier/internal/engine"
	"github.com/atelier-erp/atelier/internal/finance"
	"github.com/atelier-erp/atelier/internal/masterdata/branches"
	"github.com/atelier-erp/atelier/internal/platform/db"
	"github.com/atelier-erp/atelier/internal/shared"
	"github.com/atelier-erp/atelier/jobs"
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

	idempotencyStore := shared.NewIdempotencyStore(pool)
	counterStore := codes.NewPGCounterStore(pool)

	catalogRepo := catalog.NewRepository(pool)
	customerService := customers.NewService(customers.NewRepository(pool))
	branchService := branches.NewService(branches.NewRepository(pool))
	financeService := finance.NewService(finance.NewRepository(pool), nil)

	orderRepo := engine.NewRepository(pool)
	orderCodeGen := codes.NewGenerator(counterStore, codes.CounterOrders, codes.OrderCodeFormat, orderRepo.CodeExists)
	engineService := engine.NewService(
		logger,
		orderRepo,
		catalogRepo,
		customerService,
		branchService,
		financeService,
		orderCodeGen,
		idempotencyStore,
		engine.ServiceConfig{RestoreStockOnDelete: cfg.RestoreStockOnDelete},
	)

	recoveryTask, err := jobs.NewPendingRecoveryTask(cfg.PendingSweepAge)
	if err != nil {
		logger.Error("build recovery task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPendingRecovery, Handler: jobs.NewPendingRecoveryHandler(engineService, logger)},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idempotencyStore, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: recoveryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 2 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
