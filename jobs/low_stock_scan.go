package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/fieldworks-erp/fieldworks-erp/internal/alerts"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock"
)

// LowStockScanJob sweeps every tenant's balances and raises an alert for
// rows under the reorder threshold.
type LowStockScanJob struct {
	Repo      *stock.Repository
	Notifier  alerts.Notifier
	Logger    *slog.Logger
	Threshold float64

	clock func() time.Time
}

// Handle implements the Asynq handler contract.
func (j *LowStockScanJob) Handle(ctx context.Context, task *asynq.Task) error {
	threshold := j.Threshold
	if len(task.Payload()) > 0 {
		var payload LowStockScanPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("low stock scan: decode payload: %w", asynq.SkipRetry)
		}
		if payload.Threshold > 0 {
			threshold = payload.Threshold
		}
	}
	if threshold <= 0 {
		j.logger().Info("low stock scan skipped, no threshold configured")
		return nil
	}

	tenants, err := j.Repo.ListTenantIDs(ctx)
	if err != nil {
		return fmt.Errorf("low stock scan: list tenants: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, tenantID := range tenants {
		tenantID := tenantID
		g.Go(func() error {
			return j.scanTenant(gctx, tenantID, threshold)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	j.logger().Info("low stock scan finished", slog.Int("tenants", len(tenants)))
	return nil
}

func (j *LowStockScanJob) scanTenant(ctx context.Context, tenantID int64, threshold float64) error {
	below := threshold
	balances, err := j.Repo.ListBalances(ctx, tenantID, stock.BalanceFilter{BelowQty: &below, Limit: 500})
	if err != nil {
		return fmt.Errorf("low stock scan: tenant %d: %w", tenantID, err)
	}
	for _, b := range balances {
		alert := alerts.Alert{
			TenantID: tenantID,
			Kind:     alerts.KindLowStock,
			Severity: alerts.SeverityWarning,
			Title:    "Low stock",
			Message:  fmt.Sprintf("product %d in warehouse %d is at %.2f (threshold %.2f)", b.ProductID, b.WarehouseID, b.Qty, threshold),
			Meta: map[string]any{
				"warehouse_id": b.WarehouseID,
				"product_id":   b.ProductID,
				"lot":          b.Lot,
				"qty":          b.Qty,
				"threshold":    threshold,
			},
			DedupKey:  fmt.Sprintf("wh:%d:product:%d", b.WarehouseID, b.ProductID),
			CreatedAt: j.now(),
		}
		if err := j.Notifier.Notify(ctx, alert); err != nil {
			j.logger().Warn("low stock alert enqueue failed",
				slog.Int64("tenant_id", tenantID),
				slog.Int64("warehouse_id", b.WarehouseID),
				slog.Int64("product_id", b.ProductID),
				slog.Any("error", err))
		}
	}
	return nil
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *LowStockScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}
