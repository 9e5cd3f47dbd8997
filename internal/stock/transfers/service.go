package transfers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldworks-erp/fieldworks-erp/internal/alerts"
	"github.com/fieldworks-erp/fieldworks-erp/internal/shared"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock"
	"github.com/fieldworks-erp/fieldworks-erp/internal/warehouses"
)

// StockPort abstracts the ledger writer.
type StockPort interface {
	PostTransferPair(ctx context.Context, input stock.TransferPairInput) ([]stock.LedgerEntry, []stock.LedgerEntry, error)
	GetBalance(ctx context.Context, tenantID, warehouseID, productID int64, lot string) (stock.Balance, error)
}

// WarehousePort abstracts warehouse lookups.
type WarehousePort interface {
	Get(ctx context.Context, tenantID, id int64) (warehouses.Warehouse, error)
	ResolveRecipient(ctx context.Context, tenantID, id int64) (*int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates the transfer handshake. A transfer into an owned
// warehouse stays pending until the owner accepts; until then no ledger
// entry exists and the stock remains at the source.
type Service struct {
	repo       Repository
	stock      StockPort
	warehouses WarehousePort
	notifier   alerts.Notifier
	audit      AuditPort
}

// NewService builds Service.
func NewService(repo Repository, stockPort StockPort, warehousePort WarehousePort, notifier alerts.Notifier, audit AuditPort) *Service {
	if notifier == nil {
		notifier = alerts.NopNotifier{}
	}
	return &Service{repo: repo, stock: stockPort, warehouses: warehousePort, notifier: notifier, audit: audit}
}

// Create registers a transfer request. When the destination has a resolvable
// recipient the transfer waits for acceptance; otherwise both ledger legs
// post immediately.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transfer, error) {
	if input.SrcWarehouseID == 0 || input.DstWarehouseID == 0 {
		return Transfer{}, errors.New("transfers: source and destination warehouse required")
	}
	if input.SrcWarehouseID == input.DstWarehouseID {
		return Transfer{}, errors.New("transfers: source and destination warehouse must differ")
	}
	if len(input.Lines) == 0 {
		return Transfer{}, errors.New("transfers: at least one line required")
	}
	for _, line := range input.Lines {
		if line.ProductID == 0 {
			return Transfer{}, errors.New("transfers: every line needs a product")
		}
		if line.Qty <= 0 {
			return Transfer{}, stock.ErrInvalidQuantity
		}
	}

	src, err := s.warehouses.Get(ctx, input.TenantID, input.SrcWarehouseID)
	if err != nil {
		return Transfer{}, fmt.Errorf("transfers: source warehouse: %w", err)
	}
	dst, err := s.warehouses.Get(ctx, input.TenantID, input.DstWarehouseID)
	if err != nil {
		return Transfer{}, fmt.Errorf("transfers: destination warehouse: %w", err)
	}
	if !src.Active || !dst.Active {
		return Transfer{}, errors.New("transfers: both warehouses must be active")
	}

	// Early balance check per line so obviously impossible requests fail
	// fast. The authoritative check happens again when the pair posts.
	for _, line := range input.Lines {
		balance, err := s.stock.GetBalance(ctx, input.TenantID, input.SrcWarehouseID, line.ProductID, line.Lot)
		if err != nil && !errors.Is(err, stock.ErrBalanceNotFound) {
			return Transfer{}, err
		}
		if balance.Qty < line.Qty {
			return Transfer{}, fmt.Errorf("product %d: %w", line.ProductID, stock.ErrInsufficientStock)
		}
	}

	code := input.Code
	if code == "" {
		code = fmt.Sprintf("TRF-%d", time.Now().UTC().UnixNano())
	}

	recipient, err := s.warehouses.ResolveRecipient(ctx, input.TenantID, input.DstWarehouseID)
	if err != nil {
		return Transfer{}, err
	}

	lines := make([]Line, 0, len(input.Lines))
	for _, line := range input.Lines {
		lines = append(lines, Line{ProductID: line.ProductID, Lot: line.Lot, Qty: line.Qty})
	}

	transfer := Transfer{
		TenantID:       input.TenantID,
		Code:           code,
		SrcWarehouseID: input.SrcWarehouseID,
		DstWarehouseID: input.DstWarehouseID,
		Lines:          lines,
		RecipientID:    recipient,
		RequestedBy:    input.ActorID,
		Note:           input.Note,
	}

	if recipient == nil {
		// The record is created before the ledger pair so a posting failure
		// never strands committed legs without a transfer. The requester can
		// re-drive a stuck pending transfer through Accept.
		transfer.Status = StatusPending
		created, err := s.repo.Create(ctx, transfer)
		if err != nil {
			return Transfer{}, err
		}
		if _, _, err := s.postPair(ctx, created, input.ActorID); err != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
			return Transfer{}, err
		}
		if err := s.repo.Decide(ctx, input.TenantID, created.ID, StatusCompleted, input.ActorID, ""); err != nil && !errors.Is(err, ErrNotPending) {
			return Transfer{}, err
		}
		completed, err := s.repo.Get(ctx, input.TenantID, created.ID)
		if err != nil {
			return Transfer{}, err
		}
		s.recordAudit(ctx, completed, "transfers:completed", input.ActorID)
		return completed, nil
	}

	transfer.Status = StatusPending
	created, err := s.repo.Create(ctx, transfer)
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, created, "transfers:requested", input.ActorID)
	_ = s.notifier.Notify(ctx, alerts.Alert{
		TenantID:    created.TenantID,
		Kind:        alerts.KindTransferRequested,
		Severity:    alerts.SeverityInfo,
		Title:       "Incoming stock transfer",
		Message:     fmt.Sprintf("Transfer %s awaits your acceptance", created.Code),
		RecipientID: created.RecipientID,
		Meta:        map[string]any{"transfer_id": created.ID, "line_count": len(created.Lines)},
	})
	return created, nil
}

// Accept posts both ledger legs and completes the transfer. Only the
// designated recipient may accept. On insufficient stock the transfer stays
// pending so the requester can fix the source balance and retry.
func (s *Service) Accept(ctx context.Context, tenantID, id, actorID int64) (Transfer, error) {
	transfer, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Transfer{}, err
	}
	if transfer.Status != StatusPending {
		return Transfer{}, ErrNotPending
	}
	if transfer.RecipientID == nil {
		// A direct transfer stuck pending after a posting failure; only the
		// requester may re-drive it.
		if transfer.RequestedBy != actorID {
			return Transfer{}, ErrForbidden
		}
	} else if *transfer.RecipientID != actorID {
		return Transfer{}, ErrForbidden
	}

	// Idempotency on the ledger pair guards against two concurrent accepts
	// posting twice; a replayed pair means the legs already committed, so
	// the Decide below settles who completed it.
	if _, _, err := s.postPair(ctx, transfer, actorID); err != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
		return Transfer{}, err
	}

	if err := s.repo.Decide(ctx, tenantID, id, StatusCompleted, actorID, ""); err != nil && !errors.Is(err, ErrNotPending) {
		return Transfer{}, err
	}

	updated, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, updated, "transfers:accepted", actorID)
	_ = s.notifier.Notify(ctx, alerts.Alert{
		TenantID:    updated.TenantID,
		Kind:        alerts.KindTransferAccepted,
		Severity:    alerts.SeverityInfo,
		Title:       "Transfer accepted",
		Message:     fmt.Sprintf("Transfer %s was accepted", updated.Code),
		RecipientID: &updated.RequestedBy,
		Meta:        map[string]any{"transfer_id": updated.ID},
	})
	return updated, nil
}

// Reject declines a pending transfer. Terminal; nothing is posted and the
// stock never left the source.
func (s *Service) Reject(ctx context.Context, tenantID, id, actorID int64, reason string) (Transfer, error) {
	transfer, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Transfer{}, err
	}
	if transfer.Status != StatusPending {
		return Transfer{}, ErrNotPending
	}
	if transfer.RecipientID == nil || *transfer.RecipientID != actorID {
		return Transfer{}, ErrForbidden
	}

	if err := s.repo.Decide(ctx, tenantID, id, StatusRejected, actorID, reason); err != nil {
		return Transfer{}, err
	}

	updated, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, updated, "transfers:rejected", actorID)
	_ = s.notifier.Notify(ctx, alerts.Alert{
		TenantID:    updated.TenantID,
		Kind:        alerts.KindTransferRejected,
		Severity:    alerts.SeverityWarning,
		Title:       "Transfer rejected",
		Message:     fmt.Sprintf("Transfer %s was rejected: %s", updated.Code, reason),
		RecipientID: &updated.RequestedBy,
		Meta:        map[string]any{"transfer_id": updated.ID, "reason": reason},
	})
	return updated, nil
}

// Get returns one transfer.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Transfer, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// List returns transfers matching the filters.
func (s *Service) List(ctx context.Context, tenantID int64, filters ListFilters) ([]Transfer, error) {
	return s.repo.List(ctx, tenantID, filters)
}

func (s *Service) postPair(ctx context.Context, transfer Transfer, actorID int64) ([]stock.LedgerEntry, []stock.LedgerEntry, error) {
	lines := make([]stock.TransferLine, 0, len(transfer.Lines))
	for _, line := range transfer.Lines {
		lines = append(lines, stock.TransferLine{ProductID: line.ProductID, Lot: line.Lot, Qty: line.Qty})
	}
	return s.stock.PostTransferPair(ctx, stock.TransferPairInput{
		Code:         transfer.Code,
		TenantID:     transfer.TenantID,
		SrcWarehouse: transfer.SrcWarehouseID,
		DstWarehouse: transfer.DstWarehouseID,
		Lines:        lines,
		Note:         transfer.Note,
		ActorID:      actorID,
		RefModule:    "transfers",
	})
}

func (s *Service) recordAudit(ctx context.Context, transfer Transfer, action string, actorID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: transfer.TenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_transfer",
		EntityID: transfer.Code,
		Meta: map[string]any{
			"src_warehouse_id": transfer.SrcWarehouseID,
			"dst_warehouse_id": transfer.DstWarehouseID,
			"line_count":       len(transfer.Lines),
		},
	})
}
