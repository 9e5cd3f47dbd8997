package stock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fieldworks-erp/fieldworks-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, tenantID, warehouseID, productID int64, lot string) (Balance, error)
	ListBalances(ctx context.Context, tenantID int64, filter BalanceFilter) ([]Balance, error)
	Ledger(ctx context.Context, tenantID int64, filter LedgerFilter) ([]LedgerEntry, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates all writes against the stock ledger. Every movement
// goes through postMovement so the ledger and balances never diverge.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	events      EventHandler
	allowNeg    bool
	lowStockMin float64
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
	LowStockThreshold  float64
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, cfg ServiceConfig, events EventHandler) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, events: events, allowNeg: cfg.AllowNegativeStock, lowStockMin: cfg.LowStockThreshold}
}

// Entry posts goods arriving into a warehouse.
func (s *Service) Entry(ctx context.Context, input MovementInput) (LedgerEntry, error) {
	if input.Qty <= 0 {
		return LedgerEntry{}, ErrInvalidQuantity
	}
	if input.UnitCost < 0 {
		return LedgerEntry{}, ErrInvalidUnitCost
	}
	return s.postMovement(ctx, movementParams{MovementInput: input, Kind: MovementEntry, QtyChange: input.Qty})
}

// Exit posts goods consumed on a job.
func (s *Service) Exit(ctx context.Context, input MovementInput) (LedgerEntry, error) {
	if input.Qty <= 0 {
		return LedgerEntry{}, ErrInvalidQuantity
	}
	return s.postMovement(ctx, movementParams{MovementInput: input, Kind: MovementExit, QtyChange: -input.Qty})
}

// Return posts unused goods coming back. The entry is valued at the current
// average cost of the receiving balance.
func (s *Service) Return(ctx context.Context, input MovementInput) (LedgerEntry, error) {
	if input.Qty <= 0 {
		return LedgerEntry{}, ErrInvalidQuantity
	}
	return s.postMovement(ctx, movementParams{MovementInput: input, Kind: MovementReturn, QtyChange: input.Qty, CostFromBalance: true})
}

// Reserve earmarks goods for a scheduled job. Reserved stock leaves the
// on-hand balance so it cannot be double-committed.
func (s *Service) Reserve(ctx context.Context, input MovementInput) (LedgerEntry, error) {
	if input.Qty <= 0 {
		return LedgerEntry{}, ErrInvalidQuantity
	}
	return s.postMovement(ctx, movementParams{MovementInput: input, Kind: MovementReserve, QtyChange: -input.Qty})
}

// Adjust posts a signed manual correction. Adjustments may drive the
// balance negative regardless of the non-negative guard, since a physical
// count is ground truth.
func (s *Service) Adjust(ctx context.Context, input MovementInput) (LedgerEntry, error) {
	if math.Abs(input.Qty) < 1e-9 {
		return LedgerEntry{}, ErrInvalidQuantity
	}
	if input.Qty > 0 && input.UnitCost < 0 {
		return LedgerEntry{}, ErrInvalidUnitCost
	}
	return s.postMovement(ctx, movementParams{MovementInput: input, Kind: MovementAdjustment, QtyChange: input.Qty})
}

// PostTransferPair posts the out and in legs for every line of an approved
// transfer in a single transaction. Either all entries commit or none do, so
// quantity is conserved across the pair even on partial failure.
func (s *Service) PostTransferPair(ctx context.Context, input TransferPairInput) ([]LedgerEntry, []LedgerEntry, error) {
	if input.SrcWarehouse == 0 || input.DstWarehouse == 0 {
		return nil, nil, errors.New("stock: source and destination warehouse required")
	}
	if input.SrcWarehouse == input.DstWarehouse {
		return nil, nil, errors.New("stock: source and destination warehouse must differ")
	}
	if len(input.Lines) == 0 {
		return nil, nil, errors.New("stock: transfer needs at least one line")
	}
	for _, line := range input.Lines {
		if line.ProductID == 0 {
			return nil, nil, errors.New("stock: product required on every line")
		}
		if line.Qty <= 0 {
			return nil, nil, ErrInvalidQuantity
		}
	}
	if input.RefID != "" {
		if _, err := uuid.Parse(input.RefID); err != nil {
			return nil, nil, fmt.Errorf("stock: invalid ref id: %w", err)
		}
	}

	now := time.Now().UTC()
	code := input.Code
	if code == "" {
		code = fmt.Sprintf("TRF-%d", now.UnixNano())
	}

	key := fmt.Sprintf("transfer:%s:%d:%d", code, input.SrcWarehouse, input.DstWarehouse)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
			return nil, nil, err
		}
		insertedKey = true
	}

	// Lines are processed in (product, lot) order and balances are locked in
	// warehouse id order per line, so two concurrent transfers touching the
	// same keys cannot deadlock.
	lines := make([]TransferLine, len(input.Lines))
	copy(lines, input.Lines)
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].ProductID != lines[j].ProductID {
			return lines[i].ProductID < lines[j].ProductID
		}
		return lines[i].Lot < lines[j].Lot
	})

	outEntries := make([]LedgerEntry, 0, len(lines))
	inEntries := make([]LedgerEntry, 0, len(lines))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, line := range lines {
			if input.DstWarehouse < input.SrcWarehouse {
				if _, err := tx.GetBalanceForUpdate(ctx, input.TenantID, input.DstWarehouse, line.ProductID, line.Lot); err != nil && !errors.Is(err, ErrBalanceNotFound) {
					return err
				}
			}

			outEntry, err := s.applyMovement(ctx, tx, movementParams{
				MovementInput: MovementInput{
					Code:        fmt.Sprintf("%s-OUT", code),
					TenantID:    input.TenantID,
					WarehouseID: input.SrcWarehouse,
					ProductID:   line.ProductID,
					Lot:         line.Lot,
					Note:        input.Note,
					ActorID:     input.ActorID,
					RefModule:   input.RefModule,
					RefID:       input.RefID,
				},
				Kind:      MovementTransferOut,
				QtyChange: -line.Qty,
			}, now)
			if err != nil {
				return fmt.Errorf("product %d: %w", line.ProductID, err)
			}

			// The inbound leg is valued at the cost the outbound leg left with.
			inEntry, err := s.applyMovement(ctx, tx, movementParams{
				MovementInput: MovementInput{
					Code:        fmt.Sprintf("%s-IN", code),
					TenantID:    input.TenantID,
					WarehouseID: input.DstWarehouse,
					ProductID:   line.ProductID,
					Lot:         line.Lot,
					UnitCost:    outEntry.UnitCost,
					Note:        input.Note,
					ActorID:     input.ActorID,
					RefModule:   input.RefModule,
					RefID:       input.RefID,
				},
				Kind:      MovementTransferIn,
				QtyChange: line.Qty,
			}, now)
			if err != nil {
				return err
			}

			outEntries = append(outEntries, outEntry)
			inEntries = append(inEntries, inEntry)
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return nil, nil, err
	}

	for i := range outEntries {
		s.afterPost(ctx, outEntries[i])
		s.afterPost(ctx, inEntries[i])
	}
	return outEntries, inEntries, nil
}

// PostAdjustmentBatch posts one signed correction per line in a single
// transaction. Either every line commits or none do; a batch that fails on
// one line leaves no partial corrections behind. Used by inventory
// completion.
func (s *Service) PostAdjustmentBatch(ctx context.Context, input AdjustmentBatchInput) ([]LedgerEntry, error) {
	if input.TenantID == 0 || input.WarehouseID == 0 {
		return nil, errors.New("stock: tenant and warehouse required")
	}
	if len(input.Lines) == 0 {
		return nil, errors.New("stock: adjustment batch needs at least one line")
	}
	for _, line := range input.Lines {
		if line.ProductID == 0 {
			return nil, errors.New("stock: product required on every line")
		}
		if math.Abs(line.Qty) < 1e-9 {
			return nil, ErrInvalidQuantity
		}
	}
	if input.RefID != "" {
		if _, err := uuid.Parse(input.RefID); err != nil {
			return nil, fmt.Errorf("stock: invalid ref id: %w", err)
		}
	}

	now := time.Now().UTC()
	code := input.Code
	if code == "" {
		code = fmt.Sprintf("ADJ-%d", now.UnixNano())
	}

	key := fmt.Sprintf("adjustment:%s:%d", code, input.WarehouseID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
			return nil, err
		}
		insertedKey = true
	}

	lines := make([]AdjustmentLine, len(input.Lines))
	copy(lines, input.Lines)
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].ProductID != lines[j].ProductID {
			return lines[i].ProductID < lines[j].ProductID
		}
		return lines[i].Lot < lines[j].Lot
	})

	entries := make([]LedgerEntry, 0, len(lines))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, line := range lines {
			lineCode := fmt.Sprintf("%s-%d", code, line.ProductID)
			if line.Lot != "" {
				lineCode += "-" + line.Lot
			}
			entry, err := s.applyMovement(ctx, tx, movementParams{
				MovementInput: MovementInput{
					Code:        lineCode,
					TenantID:    input.TenantID,
					WarehouseID: input.WarehouseID,
					ProductID:   line.ProductID,
					Lot:         line.Lot,
					Note:        input.Note,
					ActorID:     input.ActorID,
					RefModule:   input.RefModule,
					RefID:       input.RefID,
				},
				Kind:      MovementAdjustment,
				QtyChange: line.Qty,
			}, now)
			if err != nil {
				return fmt.Errorf("product %d: %w", line.ProductID, err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return nil, err
	}

	for i := range entries {
		s.afterPost(ctx, entries[i])
	}
	return entries, nil
}

// GetBalance returns the current balance for one (warehouse, product, lot)
// key.
func (s *Service) GetBalance(ctx context.Context, tenantID, warehouseID, productID int64, lot string) (Balance, error) {
	if warehouseID == 0 || productID == 0 {
		return Balance{}, errors.New("stock: warehouse and product required")
	}
	return s.repo.GetBalance(ctx, tenantID, warehouseID, productID, lot)
}

// ListBalances lists balances for a tenant.
func (s *Service) ListBalances(ctx context.Context, tenantID int64, filter BalanceFilter) ([]Balance, error) {
	return s.repo.ListBalances(ctx, tenantID, filter)
}

// Ledger returns the movement history (kardex).
func (s *Service) Ledger(ctx context.Context, tenantID int64, filter LedgerFilter) ([]LedgerEntry, error) {
	return s.repo.Ledger(ctx, tenantID, filter)
}

type movementParams struct {
	MovementInput
	Kind            MovementKind
	QtyChange       float64
	CostFromBalance bool
}

func (s *Service) postMovement(ctx context.Context, params movementParams) (LedgerEntry, error) {
	if params.QtyChange == 0 {
		return LedgerEntry{}, ErrInvalidQuantity
	}
	if params.TenantID == 0 || params.WarehouseID == 0 || params.ProductID == 0 {
		return LedgerEntry{}, errors.New("stock: tenant, warehouse and product required")
	}
	now := time.Now().UTC()
	if params.Code == "" {
		params.Code = fmt.Sprintf("MOV-%d", now.UnixNano())
	}
	if params.RefID != "" {
		if _, err := uuid.Parse(params.RefID); err != nil {
			return LedgerEntry{}, fmt.Errorf("stock: invalid ref id: %w", err)
		}
	}

	key := fmt.Sprintf("%s:%s:%d:%d:%s", params.Kind, params.Code, params.WarehouseID, params.ProductID, params.Lot)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
			return LedgerEntry{}, err
		}
		insertedKey = true
	}

	var entry LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.applyMovement(ctx, tx, params, now)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return LedgerEntry{}, err
	}

	s.afterPost(ctx, entry)
	return entry, nil
}

// applyMovement locks the balance, validates the resulting quantity, appends
// the ledger entry and updates the balance. Must run inside a transaction.
func (s *Service) applyMovement(ctx context.Context, tx TxRepository, params movementParams, now time.Time) (LedgerEntry, error) {
	balance, err := tx.GetBalanceForUpdate(ctx, params.TenantID, params.WarehouseID, params.ProductID, params.Lot)
	if err != nil && !errors.Is(err, ErrBalanceNotFound) {
		return LedgerEntry{}, err
	}
	if errors.Is(err, ErrBalanceNotFound) {
		balance = Balance{TenantID: params.TenantID, WarehouseID: params.WarehouseID, ProductID: params.ProductID, Lot: params.Lot}
	}

	// Adjustments record counted reality, which may sit below the book
	// figure; every other kind must keep the balance non-negative.
	qtyChange := params.QtyChange
	newQty := balance.Qty + qtyChange
	if !s.allowNeg && newQty < -0.0001 && params.Kind != MovementAdjustment {
		return LedgerEntry{}, ErrInsufficientStock
	}

	var unitCost, newAvg float64
	if qtyChange > 0 {
		unitCost = params.UnitCost
		if params.CostFromBalance && unitCost == 0 {
			unitCost = balance.AvgCost
		}
		totalCost := balance.Qty*balance.AvgCost + qtyChange*unitCost
		if newQty != 0 {
			newAvg = totalCost / newQty
		}
	} else {
		unitCost = balance.AvgCost
		if math.Abs(newQty) < 0.0001 {
			newQty = 0
		}
		if newQty <= 0 {
			newAvg = 0
		} else {
			newAvg = balance.AvgCost
		}
	}

	entry := LedgerEntry{
		TenantID:     params.TenantID,
		Code:         params.Code,
		Kind:         params.Kind,
		WarehouseID:  params.WarehouseID,
		ProductID:    params.ProductID,
		Lot:          params.Lot,
		Qty:          qtyChange,
		UnitCost:     unitCost,
		BalanceAfter: newQty,
		RefModule:    params.RefModule,
		RefID:        params.RefID,
		Note:         params.Note,
		ActorID:      params.ActorID,
		PostedAt:     now,
	}
	id, err := tx.InsertLedgerEntry(ctx, entry)
	if err != nil {
		return LedgerEntry{}, err
	}
	entry.ID = id

	balance.Qty = newQty
	balance.AvgCost = newAvg
	if err := tx.UpsertBalance(ctx, balance); err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

// afterPost runs best-effort post-commit hooks: audit trail and events. A
// committed movement is never rolled back because a hook failed.
func (s *Service) afterPost(ctx context.Context, entry LedgerEntry) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: entry.TenantID,
			ActorID:  entry.ActorID,
			Action:   fmt.Sprintf("stock:%s", entry.Kind),
			Entity:   "stock_ledger",
			EntityID: entry.Code,
			Meta: map[string]any{
				"warehouse_id": entry.WarehouseID,
				"product_id":   entry.ProductID,
				"lot":          entry.Lot,
				"qty":          entry.Qty,
				"note":         entry.Note,
			},
		})
	}
	if s.events == nil {
		return
	}
	_ = s.events.HandleMovementPosted(ctx, MovementPostedEvent{
		Code:        entry.Code,
		Kind:        entry.Kind,
		TenantID:    entry.TenantID,
		WarehouseID: entry.WarehouseID,
		ProductID:   entry.ProductID,
		Lot:         entry.Lot,
		Qty:         entry.Qty,
		UnitCost:    entry.UnitCost,
		BalanceQty:  entry.BalanceAfter,
		PostedAt:    entry.PostedAt,
	})
	if s.lowStockMin > 0 && entry.Qty < 0 && entry.BalanceAfter < s.lowStockMin {
		_ = s.events.HandleLowBalance(ctx, LowBalanceEvent{
			TenantID:    entry.TenantID,
			WarehouseID: entry.WarehouseID,
			ProductID:   entry.ProductID,
			Lot:         entry.Lot,
			Qty:         entry.BalanceAfter,
			Threshold:   s.lowStockMin,
		})
	}
}
