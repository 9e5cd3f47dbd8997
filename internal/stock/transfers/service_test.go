package transfers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldworks-erp/fieldworks-erp/internal/alerts"
	"github.com/fieldworks-erp/fieldworks-erp/internal/shared"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock"
	"github.com/fieldworks-erp/fieldworks-erp/internal/warehouses"
)

type fakeRepo struct {
	transfers  map[int64]Transfer
	nextID     int64
	failDecide error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{transfers: make(map[int64]Transfer)}
}

func (r *fakeRepo) Create(ctx context.Context, transfer Transfer) (Transfer, error) {
	r.nextID++
	transfer.ID = r.nextID
	transfer.CreatedAt = time.Now()
	transfer.UpdatedAt = transfer.CreatedAt
	r.transfers[transfer.ID] = transfer
	return transfer, nil
}

func (r *fakeRepo) Get(ctx context.Context, tenantID, id int64) (Transfer, error) {
	t, ok := r.transfers[id]
	if !ok || t.TenantID != tenantID {
		return Transfer{}, ErrNotFound
	}
	return t, nil
}

func (r *fakeRepo) List(ctx context.Context, tenantID int64, filters ListFilters) ([]Transfer, error) {
	var out []Transfer
	for _, t := range r.transfers {
		if t.TenantID != tenantID {
			continue
		}
		if filters.Status != "" && t.Status != filters.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *fakeRepo) Decide(ctx context.Context, tenantID, id int64, status Status, decidedBy int64, reason string) error {
	if r.failDecide != nil {
		err := r.failDecide
		r.failDecide = nil
		return err
	}
	t, ok := r.transfers[id]
	if !ok || t.TenantID != tenantID {
		return ErrNotFound
	}
	if t.Status != StatusPending {
		return ErrNotPending
	}
	now := time.Now()
	t.Status = status
	t.DecidedBy = &decidedBy
	t.DecidedAt = &now
	t.RejectReason = reason
	r.transfers[id] = t
	return nil
}

type fakeStock struct {
	balances map[string]float64
	posted   []stock.TransferPairInput
	seen     map[string]bool
	failPost error
}

func newFakeStock() *fakeStock {
	return &fakeStock{balances: make(map[string]float64)}
}

func stockKey(tenantID, warehouseID, productID int64, lot string) string {
	return fmt.Sprintf("%d:%d:%d:%s", tenantID, warehouseID, productID, lot)
}

// PostTransferPair mirrors the real poster's idempotency: a code is marked
// seen only when the pair commits, and a replayed code is rejected.
func (f *fakeStock) PostTransferPair(ctx context.Context, input stock.TransferPairInput) ([]stock.LedgerEntry, []stock.LedgerEntry, error) {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[input.Code] {
		return nil, nil, shared.ErrIdempotencyConflict
	}
	if f.failPost != nil {
		return nil, nil, f.failPost
	}
	for _, line := range input.Lines {
		src := stockKey(input.TenantID, input.SrcWarehouse, line.ProductID, line.Lot)
		if f.balances[src] < line.Qty {
			return nil, nil, stock.ErrInsufficientStock
		}
	}
	var outs, ins []stock.LedgerEntry
	for _, line := range input.Lines {
		src := stockKey(input.TenantID, input.SrcWarehouse, line.ProductID, line.Lot)
		dst := stockKey(input.TenantID, input.DstWarehouse, line.ProductID, line.Lot)
		f.balances[src] -= line.Qty
		f.balances[dst] += line.Qty
		outs = append(outs, stock.LedgerEntry{Kind: stock.MovementTransferOut, Qty: -line.Qty, BalanceAfter: f.balances[src]})
		ins = append(ins, stock.LedgerEntry{Kind: stock.MovementTransferIn, Qty: line.Qty, BalanceAfter: f.balances[dst]})
	}
	f.seen[input.Code] = true
	f.posted = append(f.posted, input)
	return outs, ins, nil
}

func (f *fakeStock) GetBalance(ctx context.Context, tenantID, warehouseID, productID int64, lot string) (stock.Balance, error) {
	qty, ok := f.balances[stockKey(tenantID, warehouseID, productID, lot)]
	if !ok {
		return stock.Balance{}, stock.ErrBalanceNotFound
	}
	return stock.Balance{TenantID: tenantID, WarehouseID: warehouseID, ProductID: productID, Lot: lot, Qty: qty}, nil
}

type fakeWarehouses struct {
	byID map[int64]warehouses.Warehouse
}

func (f *fakeWarehouses) Get(ctx context.Context, tenantID, id int64) (warehouses.Warehouse, error) {
	w, ok := f.byID[id]
	if !ok || w.TenantID != tenantID {
		return warehouses.Warehouse{}, warehouses.ErrNotFound
	}
	return w, nil
}

func (f *fakeWarehouses) ResolveRecipient(ctx context.Context, tenantID, id int64) (*int64, error) {
	w, err := f.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if w.Kind == warehouses.KindFixed {
		return nil, nil
	}
	return w.OwnerUserID, nil
}

type captureNotifier struct {
	sent []alerts.Alert
}

func (c *captureNotifier) Notify(ctx context.Context, alert alerts.Alert) error {
	c.sent = append(c.sent, alert)
	return nil
}

func ptr(v int64) *int64 { return &v }

func newFixture() (*Service, *fakeRepo, *fakeStock, *captureNotifier) {
	repo := newFakeRepo()
	stockPort := newFakeStock()
	warehousePort := &fakeWarehouses{byID: map[int64]warehouses.Warehouse{
		1: {ID: 1, TenantID: 1, Kind: warehouses.KindFixed, Active: true},
		2: {ID: 2, TenantID: 1, Kind: warehouses.KindFixed, Active: true},
		3: {ID: 3, TenantID: 1, Kind: warehouses.KindTechnician, OwnerUserID: ptr(42), Active: true},
		4: {ID: 4, TenantID: 1, Kind: warehouses.KindVehicle, OwnerUserID: ptr(77), Active: false},
	}}
	notifier := &captureNotifier{}
	svc := NewService(repo, stockPort, warehousePort, notifier, nil)
	return svc, repo, stockPort, notifier
}

func TestDirectTransferCompletesImmediately(t *testing.T) {
	svc, _, stockPort, notifier := newFixture()
	ctx := context.Background()
	stockPort.balances[stockKey(1, 1, 9, "")] = 10

	created, err := svc.Create(ctx, CreateInput{TenantID: 1, SrcWarehouseID: 1, DstWarehouseID: 2, Lines: []LineInput{{ProductID: 9, Qty: 4}}, ActorID: 5})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, created.Status)
	require.Nil(t, created.RecipientID)
	require.Len(t, stockPort.posted, 1)
	require.InDelta(t, 6.0, stockPort.balances[stockKey(1, 1, 9, "")], 0.0001)
	require.InDelta(t, 4.0, stockPort.balances[stockKey(1, 2, 9, "")], 0.0001)
	require.Empty(t, notifier.sent)
}

func TestOwnedDestinationStaysPending(t *testing.T) {
	svc, _, stockPort, notifier := newFixture()
	ctx := context.Background()
	stockPort.balances[stockKey(1, 1, 9, "")] = 10

	created, err := svc.Create(ctx, CreateInput{TenantID: 1, SrcWarehouseID: 1, DstWarehouseID: 3, Lines: []LineInput{{ProductID: 9, Qty: 4}}, ActorID: 5})
	require.NoError(t, err)
	require.Equal(t, StatusPending, created.Status)
	require.NotNil(t, created.RecipientID)
	require.EqualValues(t, 42, *created.RecipientID)

	// Nothing posts until the recipient accepts.
	require.Empty(t, stockPort.posted)
	require.InDelta(t, 10.0, stockPort.balances[stockKey(1, 1, 9, "")], 0.0001)

	require.Len(t, notifier.sent, 1)
	require.Equal(t, alerts.KindTransferRequested, notifier.sent[0].Kind)
	require.EqualValues(t, 42, *notifier.sent[0].RecipientID)
}

func TestAcceptPostsPair(t *testing.T) {
	svc, _, stockPort, notifier := newFixture()
	ctx := context.Background()
	stockPort.balances[stockKey(1, 1, 9, "")] = 10

	created, err := svc.Create(ctx, CreateInput{TenantID: 1, SrcWarehouseID: 1, DstWarehouseID: 3, Lines: []LineInput{{ProductID: 9, Qty: 4}}, ActorID: 5})
	require.NoError(t, err)

	updated, err := svc.Accept(ctx, 1, created.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, updated.Status)
	require.Len(t, stockPort.posted, 1)
	require.InDelta(t, 6.0, stockPort.balances[stockKey(1, 1, 9, "")], 0.0001)
	require.InDelta(t, 4.0, stockPort.balances[stockKey(1, 3, 9, "")], 0.0001)

	// Total stock is conserved.
	total := stockPort.balances[stockKey(1, 1, 9, "")] + stockPort.balances[stockKey(1, 3, 9, "")]
	require.InDelta(t, 10.0, total, 0.0001)

	last := notifier.sent[len(notifier.sent)-1]
	require.Equal(t, alerts.KindTransferAccepted, last.Kind)
	require.EqualValues(t, 5, *last.RecipientID)
}

func TestAcceptForbiddenForOthers(t *testing.T) {
	svc, _, stockPort, _ := newFixture()
	ctx := context.Background()
	stockPort.balances[stockKey(1, 1, 9, "")] = 10

	created, err := svc.Create(ctx, CreateInput{TenantID: 1, SrcWarehouseID: 1, DstWarehouseID: 3, Lines: []LineInput{{ProductID: 9, Qty: 4}}, ActorID: 5})
	require.NoError(t, err)

	_, err = svc.Accept(ctx, 1, created.ID, 99)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Reject(ctx, 1, created.ID, 99, "not mine")
	require.ErrorIs(t, err, ErrForbidden)
	require.Empty(t, stockPort.posted)
}

func TestAcceptFailureKeepsPending(t *testing.T) {
	svc, repo, stockPort, _ := newFixture()
	ctx := context.Background()
	stockPort.balances[stockKey(1, 1, 9, "")] = 10

	created, err := svc.Create(ctx, CreateInput{TenantID: 1, SrcWarehouseID: 1, DstWarehouseID: 3, Lines: []LineInput{{ProductID: 9, Qty: 4}}, ActorID: 5})
	require.NoError(t, err)

	// Stock left the source before acceptance.
	stockPort.balances[stockKey(1, 1, 9, "")] = 1

	_, err = svc.Accept(ctx, 1, created.ID, 42)
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	stored, err := repo.Get(ctx, 1, created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
	require.Empty(t, stockPort.posted)
}

func TestAcceptRetriesAfterDecideFailure(t *testing.T) {
	svc, repo, stockPort, _ := newFixture()
	ctx := context.Background()
	stockPort.balances[stockKey(1, 1, 9, "")] = 10

	created, err := svc.Create(ctx, CreateInput{TenantID: 1, SrcWarehouseID: 1, DstWarehouseID: 3, Lines: []LineInput{{ProductID: 9, Qty: 4}}, ActorID: 5})
	require.NoError(t, err)

	// The pair posts but the status flip fails; the transfer stays pending
	// with its legs committed.
	repo.failDecide = errors.New("connection reset")
	_, err = svc.Accept(ctx, 1, created.ID, 42)
	require.Error(t, err)
	require.Len(t, stockPort.posted, 1)
	stored, err := repo.Get(ctx, 1, created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)

	// The retry converges without posting the legs twice.
	updated, err := svc.Accept(ctx, 1, created.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, updated.Status)
	require.Len(t, stockPort.posted, 1)
	require.InDelta(t, 6.0, stockPort.balances[stockKey(1, 1, 9, "")], 0.0001)
	require.InDelta(t, 4.0, stockPort.balances[stockKey(1, 3, 9, "")], 0.0001)
}

func TestDirectTransferFailureLeavesPendingRecord(t *testing.T) {
	svc, repo, stockPort, _ := newFixture()
	ctx := context.Background()
	stockPort.balances[stockKey(1, 1, 9, "")] = 10

	stockPort.failPost = errors.New("ledger unavailable")
	_, err := svc.Create(ctx, CreateInput{TenantID: 1, SrcWarehouseID: 1, DstWarehouseID: 2, Lines: []LineInput{{ProductID: 9, Qty: 4}}, ActorID: 5})
	require.Error(t, err)

	// The record exists before the ledger pair, so the failed posting leaves
	// a pending transfer instead of orphaned legs.
	pending, err := repo.List(ctx, 1, ListFilters{Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Empty(t, stockPort.posted)

	// Only the requester may re-drive it.
	stockPort.failPost = nil
	_, err = svc.Accept(ctx, 1, pending[0].ID, 99)
	require.ErrorIs(t, err, ErrForbidden)

	updated, err := svc.Accept(ctx, 1, pending[0].ID, 5)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, updated.Status)
	require.Len(t, stockPort.posted, 1)
	require.InDelta(t, 6.0, stockPort.balances[stockKey(1, 1, 9, "")], 0.0001)
	require.InDelta(t, 4.0, stockPort.balances[stockKey(1, 2, 9, "")], 0.0001)
}

func TestRejectIsTerminal(t *testing.T) {
	svc, _, stockPort, notifier := newFixture()
	ctx := context.Background()
	stockPort.balances[stockKey(1, 1, 9, "")] = 10

	created, err := svc.Create(ctx, CreateInput{TenantID: 1, SrcWarehouseID: 1, DstWarehouseID: 3, Lines: []LineInput{{ProductID: 9, Qty: 4}}, ActorID: 5})
	require.NoError(t, err)

	updated, err := svc.Reject(ctx, 1, created.ID, 42, "wrong parts")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, updated.Status)
	require.Equal(t, "wrong parts", updated.RejectReason)
	require.Empty(t, stockPort.posted)
	require.InDelta(t, 10.0, stockPort.balances[stockKey(1, 1, 9, "")], 0.0001)

	// No takebacks after a decision.
	_, err = svc.Accept(ctx, 1, created.ID, 42)
	require.ErrorIs(t, err, ErrNotPending)
	_, err = svc.Reject(ctx, 1, created.ID, 42, "again")
	require.ErrorIs(t, err, ErrNotPending)

	last := notifier.sent[len(notifier.sent)-1]
	require.Equal(t, alerts.KindTransferRejected, last.Kind)
}

func TestCreateValidation(t *testing.T) {
	svc, _, stockPort, _ := newFixture()
	ctx := context.Background()
	stockPort.balances[stockKey(1, 1, 9, "")] = 10

	_, err := svc.Create(ctx, CreateInput{TenantID: 1, SrcWarehouseID: 1, DstWarehouseID: 1, Lines: []LineInput{{ProductID: 9, Qty: 4}}})
	require.Error(t, err)

	_, err = svc.Create(ctx, CreateInput{TenantID: 1, SrcWarehouseID: 1, DstWarehouseID: 2})
	require.Error(t, err)

	_, err = svc.Create(ctx, CreateInput{TenantID: 1, SrcWarehouseID: 1, DstWarehouseID: 2, Lines: []LineInput{{ProductID: 9, Qty: 0}}})
	require.ErrorIs(t, err, stock.ErrInvalidQuantity)

	_, err = svc.Create(ctx, CreateInput{TenantID: 1, SrcWarehouseID: 1, DstWarehouseID: 2, Lines: []LineInput{{ProductID: 9, Qty: 40}}})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	// One short line fails the whole request.
	_, err = svc.Create(ctx, CreateInput{TenantID: 1, SrcWarehouseID: 1, DstWarehouseID: 2, Lines: []LineInput{{ProductID: 9, Qty: 2}, {ProductID: 8, Qty: 1}}})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	// Inactive destination is refused.
	_, err = svc.Create(ctx, CreateInput{TenantID: 1, SrcWarehouseID: 1, DstWarehouseID: 4, Lines: []LineInput{{ProductID: 9, Qty: 2}}})
	require.Error(t, err)
	require.False(t, errors.Is(err, stock.ErrInsufficientStock))
}

func TestMultiLineTransfer(t *testing.T) {
	svc, _, stockPort, _ := newFixture()
	ctx := context.Background()
	stockPort.balances[stockKey(1, 1, 9, "")] = 10
	stockPort.balances[stockKey(1, 1, 8, "B-1")] = 6

	created, err := svc.Create(ctx, CreateInput{TenantID: 1, SrcWarehouseID: 1, DstWarehouseID: 2, Lines: []LineInput{
		{ProductID: 9, Qty: 4},
		{ProductID: 8, Lot: "B-1", Qty: 2},
	}, ActorID: 5})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, created.Status)
	require.Len(t, created.Lines, 2)
	require.Len(t, stockPort.posted, 1)
	require.Len(t, stockPort.posted[0].Lines, 2)
	require.InDelta(t, 6.0, stockPort.balances[stockKey(1, 1, 9, "")], 0.0001)
	require.InDelta(t, 4.0, stockPort.balances[stockKey(1, 2, 9, "")], 0.0001)
	require.InDelta(t, 4.0, stockPort.balances[stockKey(1, 1, 8, "B-1")], 0.0001)
	require.InDelta(t, 2.0, stockPort.balances[stockKey(1, 2, 8, "B-1")], 0.0001)
}
