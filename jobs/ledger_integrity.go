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

// LedgerIntegrityJob cross-checks materialised balances against the ledger
// sum. Drift means a balance row was touched outside the movement path and
// warrants an operator look.
type LedgerIntegrityJob struct {
	Repo     *stock.Repository
	Notifier alerts.Notifier
	Logger   *slog.Logger

	clock func() time.Time
}

// Handle implements the Asynq handler contract.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	limit := 100
	if len(task.Payload()) > 0 {
		var payload LedgerIntegrityPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("ledger integrity: decode payload: %w", asynq.SkipRetry)
		}
		if payload.Limit > 0 {
			limit = payload.Limit
		}
	}

	tenants, err := j.Repo.ListTenantIDs(ctx)
	if err != nil {
		return fmt.Errorf("ledger integrity: list tenants: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, tenantID := range tenants {
		tenantID := tenantID
		g.Go(func() error {
			return j.checkTenant(gctx, tenantID, limit)
		})
	}
	return g.Wait()
}

func (j *LedgerIntegrityJob) checkTenant(ctx context.Context, tenantID int64, limit int) error {
	drifts, err := j.Repo.FindBalanceDrift(ctx, tenantID, limit)
	if err != nil {
		return fmt.Errorf("ledger integrity: tenant %d: %w", tenantID, err)
	}
	if len(drifts) == 0 {
		return nil
	}
	j.logger().Warn("balance drift detected",
		slog.Int64("tenant_id", tenantID),
		slog.Int("rows", len(drifts)))
	for _, d := range drifts {
		alert := alerts.Alert{
			TenantID: tenantID,
			Kind:     alerts.KindBalanceDrift,
			Severity: alerts.SeverityCritical,
			Title:    "Balance drift",
			Message:  fmt.Sprintf("warehouse %d product %d: balance %.4f vs ledger %.4f", d.WarehouseID, d.ProductID, d.BalanceQty, d.LedgerQty),
			Meta: map[string]any{
				"warehouse_id": d.WarehouseID,
				"product_id":   d.ProductID,
				"lot":          d.Lot,
				"balance_qty":  d.BalanceQty,
				"ledger_qty":   d.LedgerQty,
			},
			DedupKey:  fmt.Sprintf("wh:%d:product:%d:%s", d.WarehouseID, d.ProductID, d.Lot),
			CreatedAt: j.now(),
		}
		if err := j.Notifier.Notify(ctx, alert); err != nil {
			j.logger().Warn("drift alert enqueue failed",
				slog.Int64("tenant_id", tenantID),
				slog.Any("error", err))
		}
	}
	return nil
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *LedgerIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}
