package alerts

import (
	"context"
	"time"
)

// Kind enumerates alert categories.
type Kind string

const (
	KindLowStock             Kind = "low_stock"
	KindTransferRequested    Kind = "transfer_requested"
	KindTransferAccepted     Kind = "transfer_accepted"
	KindTransferRejected     Kind = "transfer_rejected"
	KindInventoryDiscrepancy Kind = "inventory_discrepancy"
	KindBalanceDrift         Kind = "balance_drift"
	KindToolOverdue          Kind = "tool_overdue"
)

// Severity levels follow the usual triage ladder.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a notification destined for a user or for the tenant at large
// when RecipientID is nil.
type Alert struct {
	ID          int64          `json:"id"`
	TenantID    int64          `json:"tenant_id"`
	Kind        Kind           `json:"kind"`
	Severity    Severity       `json:"severity"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	RecipientID *int64         `json:"recipient_id,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	// DedupKey suppresses repeat alerts for the same condition within the
	// dedup window. Empty means no suppression.
	DedupKey  string     `json:"-"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Notifier delivers alerts. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// NopNotifier drops everything. Used in tests and when the queue is absent.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, alert Alert) error { return nil }
