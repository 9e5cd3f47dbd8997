package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan sweeps balances under the reorder threshold.
	TaskLowStockScan = "stock:low_stock_scan"
	// TaskLedgerIntegrity compares balances against the ledger sum.
	TaskLedgerIntegrity = "stock:ledger_integrity"
	// TaskToolOverdueScan flags open tool checkouts past their due date.
	TaskToolOverdueScan = "tools:overdue_scan"
)

// LowStockScanPayload parameterises the low stock sweep.
type LowStockScanPayload struct {
	Threshold float64 `json:"threshold"`
}

// NewLowStockScanTask constructs the sweep task.
func NewLowStockScanTask(threshold float64) (*asynq.Task, error) {
	data, err := json.Marshal(LowStockScanPayload{Threshold: threshold})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}

// LedgerIntegrityPayload parameterises the integrity check.
type LedgerIntegrityPayload struct {
	Limit int `json:"limit"`
}

// NewLedgerIntegrityTask constructs the integrity task.
func NewLedgerIntegrityTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(LedgerIntegrityPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// NewToolOverdueScanTask constructs the overdue checkout task.
func NewToolOverdueScanTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskToolOverdueScan, nil), nil
}
