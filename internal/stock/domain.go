package stock

import (
	"errors"
	"time"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// MovementEntry represents goods arriving into a warehouse.
	MovementEntry MovementKind = "entry"
	// MovementExit represents goods consumed on a job.
	MovementExit MovementKind = "exit"
	// MovementReturn represents unused goods coming back.
	MovementReturn MovementKind = "return"
	// MovementReserve earmarks goods for a scheduled job.
	MovementReserve MovementKind = "reserve"
	// MovementAdjustment is a signed manual correction.
	MovementAdjustment MovementKind = "adjustment"
	// MovementTransferOut is the source leg of a transfer.
	MovementTransferOut MovementKind = "transfer_out"
	// MovementTransferIn is the destination leg of a transfer.
	MovementTransferIn MovementKind = "transfer_in"
)

// LedgerEntry is one immutable row of the stock ledger. Qty is signed. Lot
// is the optional batch or serial sub-key; empty means untracked stock.
type LedgerEntry struct {
	ID           int64        `json:"id"`
	TenantID     int64        `json:"tenant_id"`
	Code         string       `json:"code"`
	Kind         MovementKind `json:"kind"`
	WarehouseID  int64        `json:"warehouse_id"`
	ProductID    int64        `json:"product_id"`
	Lot          string       `json:"lot,omitempty"`
	Qty          float64      `json:"qty"`
	UnitCost     float64      `json:"unit_cost"`
	BalanceAfter float64      `json:"balance_after"`
	RefModule    string       `json:"ref_module,omitempty"`
	RefID        string       `json:"ref_id,omitempty"`
	Note         string       `json:"note,omitempty"`
	ActorID      int64        `json:"actor_id"`
	PostedAt     time.Time    `json:"posted_at"`
}

// Balance summarises on-hand stock per (warehouse, product, lot) key. It is
// kept in lockstep with the ledger inside the same transaction.
type Balance struct {
	TenantID    int64     `json:"tenant_id"`
	WarehouseID int64     `json:"warehouse_id"`
	ProductID   int64     `json:"product_id"`
	Lot         string    `json:"lot,omitempty"`
	Qty         float64   `json:"qty"`
	AvgCost     float64   `json:"avg_cost"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MovementInput describes a single-warehouse movement request. Qty is a
// positive magnitude for every kind except adjustment, which is signed.
type MovementInput struct {
	Code        string
	TenantID    int64
	WarehouseID int64
	ProductID   int64
	Lot         string
	Qty         float64
	UnitCost    float64
	Note        string
	ActorID     int64
	RefModule   string
	RefID       string
}

// TransferLine is one product moved by a transfer.
type TransferLine struct {
	ProductID int64
	Lot       string
	Qty       float64
}

// TransferPairInput posts the out and in legs for every line of an approved
// transfer atomically.
type TransferPairInput struct {
	Code         string
	TenantID     int64
	SrcWarehouse int64
	DstWarehouse int64
	Lines        []TransferLine
	Note         string
	ActorID      int64
	RefModule    string
	RefID        string
}

// AdjustmentLine is one signed correction in a batch.
type AdjustmentLine struct {
	ProductID int64
	Lot       string
	Qty       float64
}

// AdjustmentBatchInput posts several signed corrections against one
// warehouse atomically.
type AdjustmentBatchInput struct {
	Code        string
	TenantID    int64
	WarehouseID int64
	Lines       []AdjustmentLine
	Note        string
	ActorID     int64
	RefModule   string
	RefID       string
}

// LedgerFilter narrows kardex queries. Lot filters only when non-empty.
type LedgerFilter struct {
	WarehouseID int64
	ProductID   int64
	Lot         string
	Kind        MovementKind
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// BalanceFilter narrows balance listings. Lot filters only when non-empty.
type BalanceFilter struct {
	WarehouseID int64
	ProductID   int64
	Lot         string
	BelowQty    *float64
	Limit       int
	Offset      int
}

// ErrInsufficientStock triggered when a movement would drive qty negative.
var ErrInsufficientStock = errors.New("stock: insufficient quantity on hand")

// ErrInvalidQuantity indicates a zero or wrongly-signed quantity.
var ErrInvalidQuantity = errors.New("stock: quantity must be non zero")

// ErrInvalidUnitCost indicates a negative cost value.
var ErrInvalidUnitCost = errors.New("stock: unit cost must be >= 0")

// ErrBalanceNotFound indicates a missing balance row.
var ErrBalanceNotFound = errors.New("stock: balance not found")

// ErrInvalidKind indicates an unknown movement kind.
var ErrInvalidKind = errors.New("stock: unknown movement kind")
