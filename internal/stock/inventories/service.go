package inventories

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/fieldworks-erp/fieldworks-erp/internal/alerts"
	"github.com/fieldworks-erp/fieldworks-erp/internal/shared"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock"
)

// StockPort abstracts the adjustment writer.
type StockPort interface {
	PostAdjustmentBatch(ctx context.Context, input stock.AdjustmentBatchInput) ([]stock.LedgerEntry, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs blind-count reconciliation sessions. Counters never see the
// expected quantities while a session is open; completion posts one signed
// adjustment per discrepancy, all in one batch, so the ledger explains
// every correction and never carries half of them.
type Service struct {
	repo     Repository
	stock    StockPort
	notifier alerts.Notifier
	audit    AuditPort
}

// NewService builds Service.
func NewService(repo Repository, stockPort StockPort, notifier alerts.Notifier, audit AuditPort) *Service {
	if notifier == nil {
		notifier = alerts.NopNotifier{}
	}
	return &Service{repo: repo, stock: stockPort, notifier: notifier, audit: audit}
}

// Start opens a count session for the warehouse and snapshots expected
// quantities. At most one open session per warehouse.
func (s *Service) Start(ctx context.Context, tenantID, warehouseID, actorID int64, note string) (Session, error) {
	if warehouseID <= 0 {
		return Session{}, errors.New("inventories: warehouse required")
	}
	session, err := s.repo.CreateSession(ctx, Session{
		TenantID:    tenantID,
		WarehouseID: warehouseID,
		Note:        note,
		StartedBy:   actorID,
	})
	if err != nil {
		return Session{}, err
	}
	s.recordAudit(ctx, session, "inventories:started", actorID)
	return session, nil
}

// ReportCount stores one counted quantity for an open session.
func (s *Service) ReportCount(ctx context.Context, tenantID, sessionID, actorID int64, count CountInput) error {
	if count.ProductID <= 0 {
		return errors.New("inventories: product required")
	}
	if count.Qty < 0 {
		return errors.New("inventories: counted quantity must be >= 0")
	}
	session, err := s.repo.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}
	if session.Status != StatusOpen && session.Status != StatusProcessing {
		return ErrNotOpen
	}
	return s.repo.RecordCount(ctx, sessionID, count.ProductID, count.Lot, count.Qty, actorID)
}

// SubmitCounts records a batch of counts against the warehouse's open
// session, opening one transparently when none exists. Used by the offline
// sync gateway where technicians batch their counts.
func (s *Service) SubmitCounts(ctx context.Context, tenantID, warehouseID, actorID int64, counts []CountInput) (Session, error) {
	if len(counts) == 0 {
		return Session{}, errors.New("inventories: at least one count required")
	}
	session, err := s.repo.FindOpenSession(ctx, tenantID, warehouseID)
	if errors.Is(err, ErrNotFound) {
		session, err = s.Start(ctx, tenantID, warehouseID, actorID, "")
		// Another submitter may have opened the session in between.
		if errors.Is(err, ErrSessionOpen) {
			session, err = s.repo.FindOpenSession(ctx, tenantID, warehouseID)
		}
	}
	if err != nil {
		return Session{}, err
	}

	for _, count := range counts {
		if err := s.ReportCount(ctx, tenantID, session.ID, actorID, count); err != nil {
			return Session{}, err
		}
	}

	// Divergent counts are flagged to supervisors right away; the counter's
	// own response stays blind.
	items, err := s.repo.ListItems(ctx, session.ID)
	if err != nil {
		return Session{}, err
	}
	expected := make(map[string]float64, len(items))
	for _, item := range items {
		expected[countKey(item.ProductID, item.Lot)] = item.ExpectedQty
	}
	for _, count := range counts {
		want := expected[countKey(count.ProductID, count.Lot)]
		if math.Abs(count.Qty-want) < 0.0001 {
			continue
		}
		_ = s.notifier.Notify(ctx, alerts.Alert{
			TenantID: tenantID,
			Kind:     alerts.KindInventoryDiscrepancy,
			Severity: alerts.SeverityWarning,
			Title:    "Count discrepancy",
			Message:  fmt.Sprintf("product %d in warehouse %d counted %.2f against expected %.2f", count.ProductID, warehouseID, count.Qty, want),
			Meta: map[string]any{
				"session_id":   session.ID,
				"warehouse_id": warehouseID,
				"product_id":   count.ProductID,
				"lot":          count.Lot,
				"counted":      count.Qty,
				"expected":     want,
			},
			DedupKey: fmt.Sprintf("session:%d:product:%d:%s", session.ID, count.ProductID, count.Lot),
		})
	}
	return session, nil
}

func countKey(productID int64, lot string) string {
	return fmt.Sprintf("%d:%s", productID, lot)
}

// Complete closes the session and posts one adjustment per discrepancy.
// Every snapshotted item must be counted first.
func (s *Service) Complete(ctx context.Context, tenantID, sessionID, actorID int64) (SessionView, error) {
	session, err := s.repo.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if session.Status != StatusOpen {
		return SessionView{}, ErrNotOpen
	}

	items, err := s.repo.ListItems(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	for _, item := range items {
		if item.CountedQty == nil {
			return SessionView{}, ErrIncompleteCount
		}
	}

	var lines []stock.AdjustmentLine
	for _, item := range items {
		diff := item.Discrepancy()
		if math.Abs(diff) < 0.0001 {
			continue
		}
		lines = append(lines, stock.AdjustmentLine{ProductID: item.ProductID, Lot: item.Lot, Qty: diff})
	}

	// Claim the session before posting so a concurrent Complete or Cancel
	// loses the race cleanly.
	if err := s.repo.UpdateStatus(ctx, tenantID, sessionID, StatusOpen, StatusProcessing); err != nil {
		return SessionView{}, err
	}

	if len(lines) > 0 {
		// One batch, one transaction: either every discrepant line posts or
		// none do. The deterministic code dedups a replayed completion.
		_, err := s.stock.PostAdjustmentBatch(ctx, stock.AdjustmentBatchInput{
			Code:        fmt.Sprintf("INVADJ-%d", sessionID),
			TenantID:    tenantID,
			WarehouseID: session.WarehouseID,
			Lines:       lines,
			Note:        fmt.Sprintf("inventory count session %d", sessionID),
			ActorID:     actorID,
			RefModule:   "inventories",
		})
		if err != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
			// Release the claim so the session can be fixed and retried.
			_ = s.repo.UpdateStatus(ctx, tenantID, sessionID, StatusProcessing, StatusOpen)
			return SessionView{}, err
		}
	}

	if err := s.repo.UpdateStatus(ctx, tenantID, sessionID, StatusProcessing, StatusCompleted); err != nil {
		return SessionView{}, err
	}
	session.Status = StatusCompleted
	discrepancies := len(lines)
	s.recordAudit(ctx, session, "inventories:completed", actorID)

	if discrepancies > 0 {
		_ = s.notifier.Notify(ctx, alerts.Alert{
			TenantID: tenantID,
			Kind:     alerts.KindInventoryDiscrepancy,
			Severity: alerts.SeverityWarning,
			Title:    "Inventory discrepancies found",
			Message:  fmt.Sprintf("Count session %d closed with %d discrepancies", sessionID, discrepancies),
			Meta:     map[string]any{"session_id": sessionID, "warehouse_id": session.WarehouseID, "discrepancies": discrepancies},
		})
	}
	return NewSessionView(session, items), nil
}

// Cancel discards an open session. Nothing is posted, and a session already
// claimed by completion cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, tenantID, sessionID, actorID int64) error {
	if err := s.repo.UpdateStatus(ctx, tenantID, sessionID, StatusOpen, StatusCancelled); err != nil {
		return err
	}
	s.recordAudit(ctx, Session{ID: sessionID, TenantID: tenantID}, "inventories:cancelled", actorID)
	return nil
}

// View returns the session with its items, blind while open.
func (s *Service) View(ctx context.Context, tenantID, sessionID int64) (SessionView, error) {
	session, err := s.repo.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	items, err := s.repo.ListItems(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return NewSessionView(session, items), nil
}

// List returns sessions matching the filters.
func (s *Service) List(ctx context.Context, tenantID int64, filters ListFilters) ([]Session, error) {
	return s.repo.ListSessions(ctx, tenantID, filters)
}

func (s *Service) recordAudit(ctx context.Context, session Session, action string, actorID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: session.TenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "inventory_session",
		EntityID: fmt.Sprintf("%d", session.ID),
		Meta:     map[string]any{"warehouse_id": session.WarehouseID},
	})
}
