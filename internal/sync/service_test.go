package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldworks-erp/fieldworks-erp/internal/shared"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock/inventories"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock/transfers"
)

type fakeMovements struct {
	posted    []stock.MovementInput
	seenCodes map[string]bool
	failExit  error
}

func newFakeMovements() *fakeMovements {
	return &fakeMovements{seenCodes: make(map[string]bool)}
}

func (f *fakeMovements) post(input stock.MovementInput, kind stock.MovementKind) (stock.LedgerEntry, error) {
	if f.seenCodes[input.Code] {
		return stock.LedgerEntry{}, shared.ErrIdempotencyConflict
	}
	f.seenCodes[input.Code] = true
	f.posted = append(f.posted, input)
	return stock.LedgerEntry{Kind: kind, Code: input.Code}, nil
}

func (f *fakeMovements) Entry(ctx context.Context, input stock.MovementInput) (stock.LedgerEntry, error) {
	return f.post(input, stock.MovementEntry)
}

func (f *fakeMovements) Exit(ctx context.Context, input stock.MovementInput) (stock.LedgerEntry, error) {
	if f.failExit != nil {
		return stock.LedgerEntry{}, f.failExit
	}
	return f.post(input, stock.MovementExit)
}

func (f *fakeMovements) Return(ctx context.Context, input stock.MovementInput) (stock.LedgerEntry, error) {
	return f.post(input, stock.MovementReturn)
}

func (f *fakeMovements) Reserve(ctx context.Context, input stock.MovementInput) (stock.LedgerEntry, error) {
	return f.post(input, stock.MovementReserve)
}

func (f *fakeMovements) Adjust(ctx context.Context, input stock.MovementInput) (stock.LedgerEntry, error) {
	return f.post(input, stock.MovementAdjustment)
}

type fakeTransfers struct {
	byID     map[int64]transfers.Transfer
	accepted []int64
	rejected []int64
}

func (f *fakeTransfers) Get(ctx context.Context, tenantID, id int64) (transfers.Transfer, error) {
	t, ok := f.byID[id]
	if !ok {
		return transfers.Transfer{}, transfers.ErrNotFound
	}
	return t, nil
}

func (f *fakeTransfers) Accept(ctx context.Context, tenantID, id, actorID int64) (transfers.Transfer, error) {
	t := f.byID[id]
	if t.Status != transfers.StatusPending {
		return transfers.Transfer{}, transfers.ErrNotPending
	}
	t.Status = transfers.StatusCompleted
	t.UpdatedAt = time.Now()
	f.byID[id] = t
	f.accepted = append(f.accepted, id)
	return t, nil
}

func (f *fakeTransfers) Reject(ctx context.Context, tenantID, id, actorID int64, reason string) (transfers.Transfer, error) {
	t := f.byID[id]
	if t.Status != transfers.StatusPending {
		return transfers.Transfer{}, transfers.ErrNotPending
	}
	t.Status = transfers.StatusRejected
	t.RejectReason = reason
	t.UpdatedAt = time.Now()
	f.byID[id] = t
	f.rejected = append(f.rejected, id)
	return t, nil
}

type fakeInventory struct {
	batches [][]inventories.CountInput
}

func (f *fakeInventory) SubmitCounts(ctx context.Context, tenantID, warehouseID, actorID int64, counts []inventories.CountInput) (inventories.Session, error) {
	f.batches = append(f.batches, counts)
	return inventories.Session{ID: 1, TenantID: tenantID, WarehouseID: warehouseID, Status: inventories.StatusOpen}, nil
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func newFixture() (*Service, *fakeMovements, *fakeTransfers, *fakeInventory) {
	movements := newFakeMovements()
	transferPort := &fakeTransfers{byID: make(map[int64]transfers.Transfer)}
	inventory := &fakeInventory{}
	svc := NewService(slog.Default(), movements, transferPort, inventory)
	return svc, movements, transferPort, inventory
}

func TestPushBatchMixed(t *testing.T) {
	svc, movements, transferPort, inventory := newFixture()
	ctx := context.Background()
	transferPort.byID[10] = transfers.Transfer{ID: 10, TenantID: 1, Status: transfers.StatusPending, UpdatedAt: time.Now().Add(-time.Hour)}

	result := svc.PushBatch(ctx, 1, 7, Batch{Mutations: []Mutation{
		{ClientID: "m1", Type: MutationMovement, Data: mustJSON(t, movementData{Kind: "exit", WarehouseID: 3, ProductID: 9, Qty: 2, Note: "job 5"})},
		{ClientID: "t1", Type: MutationTransferAccept, Data: mustJSON(t, transferDecisionData{TransferID: 10})},
		{ClientID: "c1", Type: MutationInventoryCount, Data: mustJSON(t, map[string]any{"warehouse_id": 3, "counts": []map[string]any{{"product_id": 9, "qty": 4}}})},
	}})

	require.Equal(t, 3, result.Processed)
	require.Empty(t, result.Conflicts)
	require.Empty(t, result.Errors)
	require.Len(t, movements.posted, 1)
	require.Equal(t, "m1", movements.posted[0].Code)
	require.Equal(t, []int64{10}, transferPort.accepted)
	require.Len(t, inventory.batches, 1)
}

func TestStaleWriteBecomesConflict(t *testing.T) {
	svc, _, transferPort, _ := newFixture()
	ctx := context.Background()
	serverTime := time.Now()
	transferPort.byID[10] = transfers.Transfer{ID: 10, TenantID: 1, Status: transfers.StatusPending, UpdatedAt: serverTime}

	base := serverTime.Add(-time.Minute)
	result := svc.PushBatch(ctx, 1, 7, Batch{Mutations: []Mutation{
		{ClientID: "t1", Type: MutationTransferAccept, BaseUpdatedAt: &base, Data: mustJSON(t, transferDecisionData{TransferID: 10})},
	}})

	require.Zero(t, result.Processed)
	require.Len(t, result.Conflicts, 1)
	require.Equal(t, "t1", result.Conflicts[0].ClientID)
	require.NotNil(t, result.Conflicts[0].ServerUpdatedAt)
	require.True(t, result.Conflicts[0].ServerUpdatedAt.Equal(serverTime))

	// The server version stands.
	require.Empty(t, transferPort.accepted)
	require.Equal(t, transfers.StatusPending, transferPort.byID[10].Status)
}

func TestFreshBaseGoesThrough(t *testing.T) {
	svc, _, transferPort, _ := newFixture()
	ctx := context.Background()
	serverTime := time.Now().Add(-time.Hour)
	transferPort.byID[10] = transfers.Transfer{ID: 10, TenantID: 1, Status: transfers.StatusPending, UpdatedAt: serverTime}

	base := time.Now()
	result := svc.PushBatch(ctx, 1, 7, Batch{Mutations: []Mutation{
		{ClientID: "t1", Type: MutationTransferReject, BaseUpdatedAt: &base, Data: mustJSON(t, transferDecisionData{TransferID: 10, Reason: "damaged"})},
	}})

	require.Equal(t, 1, result.Processed)
	require.Empty(t, result.Conflicts)
	require.Equal(t, []int64{10}, transferPort.rejected)
}

func TestAlreadyDecidedBecomesConflict(t *testing.T) {
	svc, _, transferPort, _ := newFixture()
	ctx := context.Background()
	transferPort.byID[10] = transfers.Transfer{ID: 10, TenantID: 1, Status: transfers.StatusCompleted, UpdatedAt: time.Now()}

	result := svc.PushBatch(ctx, 1, 7, Batch{Mutations: []Mutation{
		{ClientID: "t1", Type: MutationTransferAccept, Data: mustJSON(t, transferDecisionData{TransferID: 10})},
	}})

	require.Zero(t, result.Processed)
	require.Len(t, result.Conflicts, 1)
	require.Equal(t, "transfer already decided", result.Conflicts[0].Reason)
}

func TestMutationErrorsAreIsolated(t *testing.T) {
	svc, movements, _, _ := newFixture()
	ctx := context.Background()
	movements.failExit = stock.ErrInsufficientStock

	result := svc.PushBatch(ctx, 1, 7, Batch{Mutations: []Mutation{
		{ClientID: "m1", Type: MutationMovement, Data: mustJSON(t, movementData{Kind: "exit", WarehouseID: 3, ProductID: 9, Qty: 200})},
		{ClientID: "m2", Type: MutationMovement, Data: mustJSON(t, movementData{Kind: "entry", WarehouseID: 3, ProductID: 9, Qty: 5, UnitCost: 10})},
		{ClientID: "m3", Type: "bogus", Data: mustJSON(t, map[string]any{})},
	}})

	require.Equal(t, 1, result.Processed)
	require.Len(t, result.Errors, 2)
	require.Equal(t, "m1", result.Errors[0].ClientID)
	require.Equal(t, "m3", result.Errors[1].ClientID)
	require.Len(t, movements.posted, 1)
	require.Equal(t, "m2", movements.posted[0].Code)
}

func TestReplayCountsAsProcessed(t *testing.T) {
	svc, movements, _, _ := newFixture()
	ctx := context.Background()

	batch := Batch{Mutations: []Mutation{
		{ClientID: "m1", Type: MutationMovement, Data: mustJSON(t, movementData{Kind: "entry", WarehouseID: 3, ProductID: 9, Qty: 5, UnitCost: 10})},
	}}
	first := svc.PushBatch(ctx, 1, 7, batch)
	require.Equal(t, 1, first.Processed)

	// The device resends after a dropped connection; nothing posts twice.
	second := svc.PushBatch(ctx, 1, 7, batch)
	require.Equal(t, 1, second.Processed)
	require.Empty(t, second.Errors)
	require.Len(t, movements.posted, 1)
}
