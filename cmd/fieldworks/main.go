package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fieldworks-erp/fieldworks-erp/internal/alerts"
	"github.com/fieldworks-erp/fieldworks-erp/internal/app"
	"github.com/fieldworks-erp/fieldworks-erp/internal/platform/cache"
	"github.com/fieldworks-erp/fieldworks-erp/internal/platform/db"
	"github.com/fieldworks-erp/fieldworks-erp/internal/shared"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock/inventories"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock/tools"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock/transfers"
	syncgw "github.com/fieldworks-erp/fieldworks-erp/internal/sync"
	"github.com/fieldworks-erp/fieldworks-erp/internal/warehouses"
	"github.com/fieldworks-erp/fieldworks-erp/jobs"
)

// stockEvents forwards post-commit ledger events to the alert queue.
type stockEvents struct {
	logger   *slog.Logger
	notifier alerts.Notifier
}

func (e stockEvents) HandleMovementPosted(ctx context.Context, evt stock.MovementPostedEvent) error {
	e.logger.Debug("movement posted",
		slog.String("code", evt.Code),
		slog.String("kind", string(evt.Kind)),
		slog.Int64("tenant_id", evt.TenantID),
		slog.Int64("warehouse_id", evt.WarehouseID),
		slog.Int64("product_id", evt.ProductID))
	return nil
}

func (e stockEvents) HandleLowBalance(ctx context.Context, evt stock.LowBalanceEvent) error {
	return e.notifier.Notify(ctx, alerts.Alert{
		TenantID: evt.TenantID,
		Kind:     alerts.KindLowStock,
		Severity: alerts.SeverityWarning,
		Title:    "Low stock",
		Message:  "a movement left the balance under the reorder threshold",
		Meta: map[string]any{
			"warehouse_id": evt.WarehouseID,
			"product_id":   evt.ProductID,
			"lot":          evt.Lot,
			"qty":          evt.Qty,
			"threshold":    evt.Threshold,
		},
		DedupKey:  "wh:" + itoa(evt.WarehouseID) + ":product:" + itoa(evt.ProductID),
		CreatedAt: time.Now(),
	})
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

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

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	warehouseRepo := warehouses.NewRepository(pool)
	warehouseService := warehouses.NewService(warehouseRepo)
	warehouseHandler := warehouses.NewHandler(logger, warehouseService)

	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, auditLogger, idempotencyStore, stock.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
		LowStockThreshold:  cfg.LowStockThreshold,
	}, stockEvents{logger: logger, notifier: notifier})
	stockHandler := stock.NewHandler(logger, stockService)

	transferRepo := transfers.NewRepository(pool)
	transferService := transfers.NewService(transferRepo, stockService, warehouseService, notifier, auditLogger)
	transferHandler := transfers.NewHandler(logger, transferService)

	inventoryRepo := inventories.NewRepository(pool)
	inventoryService := inventories.NewService(inventoryRepo, stockService, notifier, auditLogger)
	inventoryHandler := inventories.NewHandler(logger, inventoryService)

	toolRepo := tools.NewRepository(pool)
	toolService := tools.NewService(toolRepo, auditLogger)
	toolHandler := tools.NewHandler(logger, toolService)

	syncService := syncgw.NewService(logger, stockService, transferService, inventoryService)
	syncHandler := syncgw.NewHandler(logger, syncService)

	alertRepo := alerts.NewRepository(pool)
	alertHandler := alerts.NewHandler(logger, alertRepo)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		WarehouseHandler: warehouseHandler,
		StockHandler:     stockHandler,
		TransferHandler:  transferHandler,
		InventoryHandler: inventoryHandler,
		ToolHandler:      toolHandler,
		SyncHandler:      syncHandler,
		AlertHandler:     alertHandler,
		JobHandler:       jobHandler,
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
		logger.Error("server shutdown", slog.Any("error", err))
	}
}
