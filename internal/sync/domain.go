package sync

import (
	"encoding/json"
	"time"
)

// MutationType enumerates the operations an offline client may replay.
type MutationType string

const (
	MutationMovement       MutationType = "movement"
	MutationTransferAccept MutationType = "transfer_accept"
	MutationTransferReject MutationType = "transfer_reject"
	MutationInventoryCount MutationType = "inventory_count"
)

// Mutation is one queued offline operation. ClientID is generated on the
// device and doubles as the idempotency key, so replaying a batch after a
// dropped connection posts nothing twice. BaseUpdatedAt carries the
// updated_at the client last saw for the targeted record; a newer server
// timestamp turns the mutation into a conflict instead of silently
// overwriting fresher data.
type Mutation struct {
	ClientID      string          `json:"client_id" validate:"required,max=100"`
	Type          MutationType    `json:"type" validate:"required"`
	BaseUpdatedAt *time.Time      `json:"base_updated_at,omitempty"`
	Data          json.RawMessage `json:"data" validate:"required"`
}

// Batch is the push payload.
type Batch struct {
	Mutations []Mutation `json:"mutations" validate:"required,min=1,max=500,dive"`
}

// Conflict reports a stale write. The client refetches the record and
// decides what to do; the server keeps its version.
type Conflict struct {
	ClientID        string     `json:"client_id"`
	Type            MutationType `json:"type"`
	Reason          string     `json:"reason"`
	ServerUpdatedAt *time.Time `json:"server_updated_at,omitempty"`
}

// MutationError reports a mutation that failed outright. The rest of the
// batch still processes.
type MutationError struct {
	ClientID string       `json:"client_id"`
	Type     MutationType `json:"type"`
	Message  string       `json:"message"`
}

// Result summarises one processed batch.
type Result struct {
	Processed int             `json:"processed"`
	Conflicts []Conflict      `json:"conflicts"`
	Errors    []MutationError `json:"errors"`
}

// movementData is the payload of a movement mutation.
type movementData struct {
	Kind        string  `json:"kind"`
	WarehouseID int64   `json:"warehouse_id"`
	ProductID   int64   `json:"product_id"`
	Lot         string  `json:"lot"`
	Qty         float64 `json:"qty"`
	UnitCost    float64 `json:"unit_cost"`
	Note        string  `json:"note"`
}

// transferDecisionData is the payload of a transfer_accept or
// transfer_reject mutation.
type transferDecisionData struct {
	TransferID int64  `json:"transfer_id"`
	Reason     string `json:"reason"`
}

// inventoryCountData is the payload of an inventory_count mutation.
type inventoryCountData struct {
	WarehouseID int64 `json:"warehouse_id"`
	Counts      []struct {
		ProductID int64   `json:"product_id"`
		Lot       string  `json:"lot"`
		Qty       float64 `json:"qty"`
	} `json:"counts"`
}
