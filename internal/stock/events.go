package stock

import (
	"context"
	"time"
)

// MovementPostedEvent is emitted after a ledger entry commits.
type MovementPostedEvent struct {
	Code        string
	Kind        MovementKind
	TenantID    int64
	WarehouseID int64
	ProductID   int64
	Lot         string
	Qty         float64
	UnitCost    float64
	BalanceQty  float64
	PostedAt    time.Time
}

// LowBalanceEvent is emitted when a movement leaves a balance under the
// configured threshold.
type LowBalanceEvent struct {
	TenantID    int64
	WarehouseID int64
	ProductID   int64
	Lot         string
	Qty         float64
	Threshold   float64
}

// EventHandler receives post-commit notifications. Implementations must not
// block the posting path for long; alert dispatch is queued.
type EventHandler interface {
	HandleMovementPosted(ctx context.Context, evt MovementPostedEvent) error
	HandleLowBalance(ctx context.Context, evt LowBalanceEvent) error
}
