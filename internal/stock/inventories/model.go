package inventories

import (
	"errors"
	"time"
)

// SessionStatus is the lifecycle state of a count session.
type SessionStatus string

const (
	StatusOpen SessionStatus = "open"
	// StatusProcessing claims the session while completion posts its
	// adjustments; counts are still accepted, cancellation is not.
	StatusProcessing SessionStatus = "processing"
	StatusCompleted  SessionStatus = "completed"
	StatusCancelled  SessionStatus = "cancelled"
)

// Session is one physical count of a warehouse. Expected quantities are
// snapshotted when the session opens; at most one open session exists per
// warehouse.
type Session struct {
	ID          int64         `json:"id"`
	TenantID    int64         `json:"tenant_id"`
	WarehouseID int64         `json:"warehouse_id"`
	Status      SessionStatus `json:"status"`
	Note        string        `json:"note,omitempty"`
	StartedBy   int64         `json:"started_by"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// CountItem is one product line of a session. CountedQty is nil until a
// counter reports it.
type CountItem struct {
	ID          int64      `json:"id"`
	SessionID   int64      `json:"session_id"`
	ProductID   int64      `json:"product_id"`
	Lot         string     `json:"lot,omitempty"`
	ExpectedQty float64    `json:"expected_qty"`
	CountedQty  *float64   `json:"counted_qty,omitempty"`
	CountedBy   *int64     `json:"counted_by,omitempty"`
	CountedAt   *time.Time `json:"counted_at,omitempty"`
}

// Discrepancy returns counted minus expected; zero until counted.
func (i CountItem) Discrepancy() float64 {
	if i.CountedQty == nil {
		return 0
	}
	return *i.CountedQty - i.ExpectedQty
}

// CountInput reports one counted quantity.
type CountInput struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Lot       string  `json:"lot" validate:"max=64"`
	Qty       float64 `json:"qty" validate:"gte=0"`
}

// ListFilters narrows session listings.
type ListFilters struct {
	WarehouseID int64
	Status      SessionStatus
	Limit       int
	Offset      int
}

// ErrNotFound indicates the session does not exist in the tenant.
var ErrNotFound = errors.New("inventories: session not found")

// ErrSessionOpen indicates the warehouse already has an open session.
var ErrSessionOpen = errors.New("inventories: warehouse already has an open count session")

// ErrNotOpen indicates the session was already completed or cancelled.
var ErrNotOpen = errors.New("inventories: session is not open")

// ErrIncompleteCount indicates uncounted items remain.
var ErrIncompleteCount = errors.New("inventories: all items must be counted before completion")
