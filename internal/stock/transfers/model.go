package transfers

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a transfer.
type Status string

const (
	// StatusPending waits for the recipient to accept or reject.
	StatusPending Status = "pending_acceptance"
	// StatusCompleted means both ledger legs are posted.
	StatusCompleted Status = "completed"
	// StatusRejected is terminal; nothing was posted.
	StatusRejected Status = "rejected"
)

// Line is one product position on a transfer.
type Line struct {
	ID         int64   `json:"id"`
	TransferID int64   `json:"transfer_id"`
	ProductID  int64   `json:"product_id"`
	Lot        string  `json:"lot,omitempty"`
	Qty        float64 `json:"qty"`
}

// Transfer tracks one requested stock move between warehouses. No ledger
// entries exist while the transfer is pending; stock stays at the source.
type Transfer struct {
	ID             int64      `json:"id"`
	TenantID       int64      `json:"tenant_id"`
	Code           string     `json:"code"`
	SrcWarehouseID int64      `json:"src_warehouse_id"`
	DstWarehouseID int64      `json:"dst_warehouse_id"`
	Lines          []Line     `json:"lines"`
	Status         Status     `json:"status"`
	RecipientID    *int64     `json:"recipient_id,omitempty"`
	RequestedBy    int64      `json:"requested_by"`
	DecidedBy      *int64     `json:"decided_by,omitempty"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
	RejectReason   string     `json:"reject_reason,omitempty"`
	Note           string     `json:"note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// LineInput is one requested line on a transfer.
type LineInput struct {
	ProductID int64
	Lot       string
	Qty       float64
}

// CreateInput describes a transfer request.
type CreateInput struct {
	Code           string
	TenantID       int64
	SrcWarehouseID int64
	DstWarehouseID int64
	Lines          []LineInput
	Note           string
	ActorID        int64
}

// ListFilters narrows List results.
type ListFilters struct {
	Status      Status
	WarehouseID int64
	RecipientID *int64
	Limit       int
	Offset      int
}

// ErrNotFound indicates the transfer does not exist in the tenant.
var ErrNotFound = errors.New("transfers: transfer not found")

// ErrNotPending indicates the transfer was already decided.
var ErrNotPending = errors.New("transfers: transfer is not pending")

// ErrForbidden indicates the caller is not the designated recipient.
var ErrForbidden = errors.New("transfers: only the designated recipient may decide")
