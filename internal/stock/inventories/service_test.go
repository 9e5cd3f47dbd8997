package inventories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldworks-erp/fieldworks-erp/internal/alerts"
	"github.com/fieldworks-erp/fieldworks-erp/internal/shared"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock"
)

type fakeRepo struct {
	sessions map[int64]Session
	items    map[int64][]CountItem
	// balances feed the snapshot taken at session start.
	balances map[int64]map[int64]float64
	nextID   int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions: make(map[int64]Session),
		items:    make(map[int64][]CountItem),
		balances: make(map[int64]map[int64]float64),
	}
}

func (r *fakeRepo) CreateSession(ctx context.Context, session Session) (Session, error) {
	for _, s := range r.sessions {
		if s.TenantID == session.TenantID && s.WarehouseID == session.WarehouseID && s.Status == StatusOpen {
			return Session{}, ErrSessionOpen
		}
	}
	r.nextID++
	session.ID = r.nextID
	session.Status = StatusOpen
	session.StartedAt = time.Now()
	r.sessions[session.ID] = session
	for productID, qty := range r.balances[session.WarehouseID] {
		if qty == 0 {
			continue
		}
		r.items[session.ID] = append(r.items[session.ID], CountItem{SessionID: session.ID, ProductID: productID, ExpectedQty: qty})
	}
	return session, nil
}

func (r *fakeRepo) GetSession(ctx context.Context, tenantID, id int64) (Session, error) {
	s, ok := r.sessions[id]
	if !ok || s.TenantID != tenantID {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (r *fakeRepo) FindOpenSession(ctx context.Context, tenantID, warehouseID int64) (Session, error) {
	for _, s := range r.sessions {
		if s.TenantID == tenantID && s.WarehouseID == warehouseID && s.Status == StatusOpen {
			return s, nil
		}
	}
	return Session{}, ErrNotFound
}

func (r *fakeRepo) ListSessions(ctx context.Context, tenantID int64, filters ListFilters) ([]Session, error) {
	var out []Session
	for _, s := range r.sessions {
		if s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, tenantID, id int64, from, to SessionStatus) error {
	s, ok := r.sessions[id]
	if !ok || s.TenantID != tenantID {
		return ErrNotFound
	}
	if s.Status != from {
		return ErrNotOpen
	}
	s.Status = to
	if to == StatusCompleted || to == StatusCancelled {
		now := time.Now()
		s.CompletedAt = &now
	}
	r.sessions[id] = s
	return nil
}

func (r *fakeRepo) ListItems(ctx context.Context, sessionID int64) ([]CountItem, error) {
	items := make([]CountItem, len(r.items[sessionID]))
	copy(items, r.items[sessionID])
	return items, nil
}

func (r *fakeRepo) RecordCount(ctx context.Context, sessionID, productID int64, lot string, qty float64, countedBy int64) error {
	now := time.Now()
	for i, item := range r.items[sessionID] {
		if item.ProductID == productID && item.Lot == lot {
			r.items[sessionID][i].CountedQty = &qty
			r.items[sessionID][i].CountedBy = &countedBy
			r.items[sessionID][i].CountedAt = &now
			return nil
		}
	}
	r.items[sessionID] = append(r.items[sessionID], CountItem{
		SessionID: sessionID, ProductID: productID, Lot: lot, ExpectedQty: 0,
		CountedQty: &qty, CountedBy: &countedBy, CountedAt: &now,
	})
	return nil
}

type fakeStock struct {
	batches       []stock.AdjustmentBatchInput
	adjustments   []stock.AdjustmentLine
	seenCodes     map[string]bool
	failOnProduct int64
}

// PostAdjustmentBatch applies all lines or none, and rejects a replayed
// code the way the idempotency store would.
func (f *fakeStock) PostAdjustmentBatch(ctx context.Context, input stock.AdjustmentBatchInput) ([]stock.LedgerEntry, error) {
	if f.seenCodes == nil {
		f.seenCodes = make(map[string]bool)
	}
	if f.seenCodes[input.Code] {
		return nil, shared.ErrIdempotencyConflict
	}
	for _, line := range input.Lines {
		if f.failOnProduct != 0 && line.ProductID == f.failOnProduct {
			return nil, errors.New("forced failure")
		}
	}
	f.seenCodes[input.Code] = true
	f.batches = append(f.batches, input)
	entries := make([]stock.LedgerEntry, 0, len(input.Lines))
	for _, line := range input.Lines {
		f.adjustments = append(f.adjustments, line)
		entries = append(entries, stock.LedgerEntry{Kind: stock.MovementAdjustment, ProductID: line.ProductID, Lot: line.Lot, Qty: line.Qty})
	}
	return entries, nil
}

type captureNotifier struct {
	sent []alerts.Alert
}

func (c *captureNotifier) Notify(ctx context.Context, alert alerts.Alert) error {
	c.sent = append(c.sent, alert)
	return nil
}

func newFixture() (*Service, *fakeRepo, *fakeStock, *captureNotifier) {
	repo := newFakeRepo()
	stockPort := &fakeStock{}
	notifier := &captureNotifier{}
	return NewService(repo, stockPort, notifier, nil), repo, stockPort, notifier
}

func TestStartSnapshotsAndGuardsSingleOpen(t *testing.T) {
	svc, repo, _, _ := newFixture()
	ctx := context.Background()
	repo.balances[5] = map[int64]float64{1: 10, 2: 3}

	session, err := svc.Start(ctx, 1, 5, 7, "monthly count")
	require.NoError(t, err)
	require.Equal(t, StatusOpen, session.Status)

	items, err := repo.ListItems(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	_, err = svc.Start(ctx, 1, 5, 7, "again")
	require.ErrorIs(t, err, ErrSessionOpen)
}

func TestBlindViewWhileOpen(t *testing.T) {
	svc, repo, _, _ := newFixture()
	ctx := context.Background()
	repo.balances[5] = map[int64]float64{1: 10}

	session, err := svc.Start(ctx, 1, 5, 7, "")
	require.NoError(t, err)
	require.NoError(t, svc.ReportCount(ctx, 1, session.ID, 7, CountInput{ProductID: 1, Qty: 8}))

	view, err := svc.View(ctx, 1, session.ID)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	// Counters must not see what the system expects.
	require.Nil(t, view.Items[0].ExpectedQty)
	require.Nil(t, view.Items[0].Discrepancy)
	require.NotNil(t, view.Items[0].CountedQty)

	completed, err := svc.Complete(ctx, 1, session.ID, 7)
	require.NoError(t, err)
	require.NotNil(t, completed.Items[0].ExpectedQty)
	require.InDelta(t, 10.0, *completed.Items[0].ExpectedQty, 0.0001)
	require.InDelta(t, -2.0, *completed.Items[0].Discrepancy, 0.0001)
}

func TestCompleteRequiresAllCounted(t *testing.T) {
	svc, repo, stockPort, _ := newFixture()
	ctx := context.Background()
	repo.balances[5] = map[int64]float64{1: 10, 2: 3}

	session, err := svc.Start(ctx, 1, 5, 7, "")
	require.NoError(t, err)
	require.NoError(t, svc.ReportCount(ctx, 1, session.ID, 7, CountInput{ProductID: 1, Qty: 10}))

	_, err = svc.Complete(ctx, 1, session.ID, 7)
	require.ErrorIs(t, err, ErrIncompleteCount)
	require.Empty(t, stockPort.adjustments)

	stored, err := repo.GetSession(ctx, 1, session.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, stored.Status)
}

func TestCompletePostsAdjustments(t *testing.T) {
	svc, repo, stockPort, notifier := newFixture()
	ctx := context.Background()
	repo.balances[5] = map[int64]float64{1: 10, 2: 3, 3: 7}

	session, err := svc.Start(ctx, 1, 5, 7, "")
	require.NoError(t, err)
	require.NoError(t, svc.ReportCount(ctx, 1, session.ID, 7, CountInput{ProductID: 1, Qty: 8}))
	require.NoError(t, svc.ReportCount(ctx, 1, session.ID, 7, CountInput{ProductID: 2, Qty: 5}))
	require.NoError(t, svc.ReportCount(ctx, 1, session.ID, 7, CountInput{ProductID: 3, Qty: 7}))

	view, err := svc.Complete(ctx, 1, session.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, view.Status)

	// One batch with one signed line per discrepancy; the exact count posts
	// nothing.
	require.Len(t, stockPort.batches, 1)
	require.EqualValues(t, 5, stockPort.batches[0].WarehouseID)
	require.Equal(t, "inventories", stockPort.batches[0].RefModule)
	require.Len(t, stockPort.adjustments, 2)
	byProduct := map[int64]float64{}
	for _, adj := range stockPort.adjustments {
		byProduct[adj.ProductID] = adj.Qty
	}
	require.InDelta(t, -2.0, byProduct[1], 0.0001)
	require.InDelta(t, 2.0, byProduct[2], 0.0001)

	require.Len(t, notifier.sent, 1)
	require.Equal(t, alerts.KindInventoryDiscrepancy, notifier.sent[0].Kind)
}

func TestCompleteFailurePostsNothing(t *testing.T) {
	svc, repo, stockPort, _ := newFixture()
	ctx := context.Background()
	repo.balances[5] = map[int64]float64{1: 10, 2: 3}

	session, err := svc.Start(ctx, 1, 5, 7, "")
	require.NoError(t, err)
	require.NoError(t, svc.ReportCount(ctx, 1, session.ID, 7, CountInput{ProductID: 1, Qty: 5}))
	require.NoError(t, svc.ReportCount(ctx, 1, session.ID, 7, CountInput{ProductID: 2, Qty: 1}))

	stockPort.failOnProduct = 2
	_, err = svc.Complete(ctx, 1, session.ID, 7)
	require.Error(t, err)

	// A failed batch leaves no partial corrections and releases the session.
	require.Empty(t, stockPort.adjustments)
	stored, err := repo.GetSession(ctx, 1, session.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, stored.Status)

	stockPort.failOnProduct = 0
	view, err := svc.Complete(ctx, 1, session.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, view.Status)
	require.Len(t, stockPort.adjustments, 2)
}

func TestCountsAcceptedWhileProcessing(t *testing.T) {
	svc, repo, _, _ := newFixture()
	ctx := context.Background()
	repo.balances[5] = map[int64]float64{1: 4}

	session, err := svc.Start(ctx, 1, 5, 7, "")
	require.NoError(t, err)

	claimed := repo.sessions[session.ID]
	claimed.Status = StatusProcessing
	repo.sessions[session.ID] = claimed

	// Late counts still land; a claimed session cannot be cancelled.
	require.NoError(t, svc.ReportCount(ctx, 1, session.ID, 7, CountInput{ProductID: 1, Qty: 4}))
	require.ErrorIs(t, svc.Cancel(ctx, 1, session.ID, 7), ErrNotOpen)
}

func TestSubmitCountsAlertsOnDiscrepancy(t *testing.T) {
	svc, repo, _, notifier := newFixture()
	ctx := context.Background()
	repo.balances[5] = map[int64]float64{1: 4, 2: 6}

	_, err := svc.SubmitCounts(ctx, 1, 5, 7, []CountInput{{ProductID: 1, Qty: 4}})
	require.NoError(t, err)
	require.Empty(t, notifier.sent)

	session, err := svc.SubmitCounts(ctx, 1, 5, 7, []CountInput{{ProductID: 2, Qty: 3}})
	require.NoError(t, err)

	require.Len(t, notifier.sent, 1)
	alert := notifier.sent[0]
	require.Equal(t, alerts.KindInventoryDiscrepancy, alert.Kind)
	require.EqualValues(t, session.ID, alert.Meta["session_id"])
	require.InDelta(t, 3.0, alert.Meta["counted"].(float64), 0.0001)
	require.InDelta(t, 6.0, alert.Meta["expected"].(float64), 0.0001)
}

func TestCountUnknownProductGetsZeroExpected(t *testing.T) {
	svc, repo, stockPort, _ := newFixture()
	ctx := context.Background()
	repo.balances[5] = map[int64]float64{1: 4}

	session, err := svc.Start(ctx, 1, 5, 7, "")
	require.NoError(t, err)
	require.NoError(t, svc.ReportCount(ctx, 1, session.ID, 7, CountInput{ProductID: 1, Qty: 4}))
	require.NoError(t, svc.ReportCount(ctx, 1, session.ID, 7, CountInput{ProductID: 99, Qty: 2}))

	_, err = svc.Complete(ctx, 1, session.ID, 7)
	require.NoError(t, err)

	require.Len(t, stockPort.adjustments, 1)
	require.EqualValues(t, 99, stockPort.adjustments[0].ProductID)
	require.InDelta(t, 2.0, stockPort.adjustments[0].Qty, 0.0001)
}

func TestCountedLotsAdjustIndependently(t *testing.T) {
	svc, repo, stockPort, _ := newFixture()
	ctx := context.Background()
	repo.balances[5] = map[int64]float64{1: 4}

	session, err := svc.Start(ctx, 1, 5, 7, "")
	require.NoError(t, err)
	require.NoError(t, svc.ReportCount(ctx, 1, session.ID, 7, CountInput{ProductID: 1, Qty: 4}))
	require.NoError(t, svc.ReportCount(ctx, 1, session.ID, 7, CountInput{ProductID: 1, Lot: "B-7", Qty: 3}))

	_, err = svc.Complete(ctx, 1, session.ID, 7)
	require.NoError(t, err)

	// The untracked key matched; only the lot-specific surplus posts.
	require.Len(t, stockPort.adjustments, 1)
	require.Equal(t, "B-7", stockPort.adjustments[0].Lot)
	require.InDelta(t, 3.0, stockPort.adjustments[0].Qty, 0.0001)
}

func TestCancelIsTerminal(t *testing.T) {
	svc, repo, stockPort, _ := newFixture()
	ctx := context.Background()
	repo.balances[5] = map[int64]float64{1: 4}

	session, err := svc.Start(ctx, 1, 5, 7, "")
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, 1, session.ID, 7))

	require.ErrorIs(t, svc.ReportCount(ctx, 1, session.ID, 7, CountInput{ProductID: 1, Qty: 4}), ErrNotOpen)
	_, err = svc.Complete(ctx, 1, session.ID, 7)
	require.ErrorIs(t, err, ErrNotOpen)
	require.Empty(t, stockPort.adjustments)

	// The warehouse is free for a new session.
	_, err = svc.Start(ctx, 1, 5, 7, "retry")
	require.NoError(t, err)
}

func TestSubmitCountsOpensSessionTransparently(t *testing.T) {
	svc, repo, _, _ := newFixture()
	ctx := context.Background()
	repo.balances[5] = map[int64]float64{1: 4, 2: 6}

	session, err := svc.SubmitCounts(ctx, 1, 5, 7, []CountInput{{ProductID: 1, Qty: 4}})
	require.NoError(t, err)
	require.Equal(t, StatusOpen, session.Status)

	// A second batch lands on the same open session.
	again, err := svc.SubmitCounts(ctx, 1, 5, 8, []CountInput{{ProductID: 2, Qty: 6}})
	require.NoError(t, err)
	require.Equal(t, session.ID, again.ID)

	view, err := svc.Complete(ctx, 1, session.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, view.Status)
}
