package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/tradewind-ops/tradewind/internal/app"
	"github.com/tradewind-ops/tradewind/internal/inventory"
	"github.com/tradewind-ops/tradewind/internal/observability"
	"github.com/tradewind-ops/tradewind/internal/orders"
	"github.com/tradewind-ops/tradewind/internal/platform/cache"
	"github.com/tradewind-ops/tradewind/internal/platform/db"
	"github.com/tradewind-ops/tradewind/internal/pricing"
	"github.com/tradewind-ops/tradewind/internal/receiving"
	"github.com/tradewind-ops/tradewind/internal/shared"
	"github.com/tradewind-ops/tradewind/jobs"
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, session locks are process-local", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() { _ = asynqClient.Close() }()

	auditLogger := shared.NewAuditLogger(pool)
	idemStore := shared.NewIdempotencyStore(pool)

	events := jobs.NewOrderEvents(asynqClient)

	orderRepo := orders.NewRepository(pool)
	orderService := orders.NewService(orderRepo, auditLogger, events)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, orderService, auditLogger, idemStore)

	engine := pricing.NewEngine(cfg.BaseCurrency)
	manager := receiving.NewManager(receiving.ManagerConfig{
		Engine:  engine,
		Gateway: inventoryService,
		Redis:   redisClient,
		LockTTL: cfg.ReceiveLockTTL,
		Retry:   events,
		Logger:  logger,
	})

	metrics := observability.NewMetrics()
	ordersHandler := orders.NewHandler(logger, orderService)
	receivingHandler := receiving.NewHandler(logger, manager, orderService, metrics)

	router := app.NewRouter(app.RouterParams{
		Config:           cfg,
		OrdersHandler:    ordersHandler,
		ReceivingHandler: receivingHandler,
		Pool:             pool,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
