package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atelier-erp/atelier/internal/app"
	"github.com/atelier-erp/atelier/internal/catalog"
	"github.com/atelier-erp/atelier/internal/codes"
	"github.com/atelier-erp/atelier/internal/customers"
	"github.com/atelier-erp/atelier/internal/engine"
	"github.com/atelier-erp/atelier/internal/finance"
	"github.com/atelier-erp/atelier/internal/masterdata/branches"
	"github.com/atelier-erp/atelier/internal/platform/cache"
	"github.com/atelier-erp/atelier/internal/platform/db"
	"github.com/atelier-erp/atelier/internal/shared"
	"github.com/atelier-erp/atelier/internal/users"
	"github.com/atelier-erp/atelier/jobs"
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

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The engine runs without Redis; only the revenue cache degrades.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, revenue cache disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	idempotencyStore := shared.NewIdempotencyStore(pool)
	counterStore := codes.NewPGCounterStore(pool)

	branchRepo := branches.NewRepository(pool)
	branchService := branches.NewService(branchRepo)
	branchHandler := branches.NewHandler(logger, branchService)

	customerRepo := customers.NewRepository(pool)
	customerService := customers.NewService(customerRepo)
	customerHandler := customers.NewHandler(logger, customerService)

	catalogRepo := catalog.NewRepository(pool)
	barcodeGen := codes.NewGenerator(counterStore, codes.CounterProducts, codes.ProductCodeFormat, catalogRepo.CodeExists)
	catalogService := catalog.NewService(catalogRepo, barcodeGen)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	financeRepo := finance.NewRepository(pool)
	financeCache := finance.NewCache(redisClient, cfg.RevenueCacheTTL)
	financeService := finance.NewService(financeRepo, financeCache)
	financeHandler := finance.NewHandler(logger, financeService)

	userService := users.NewService(users.NewRepository(pool))
	userHandler := users.NewHandler(logger, userService)

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
	engineHandler := engine.NewHandler(logger, engineService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		EngineHandler:   engineHandler,
		CatalogHandler:  catalogHandler,
		CustomerHandler: customerHandler,
		BranchHandler:   branchHandler,
		FinanceHandler:  financeHandler,
		UserHandler:     userHandler,
		JobHandler:      jobHandler,
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
