package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fieldworks-erp/fieldworks-erp/internal/shared"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock/inventories"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock/transfers"
)

// MovementPort abstracts the ledger writer.
type MovementPort interface {
	Entry(ctx context.Context, input stock.MovementInput) (stock.LedgerEntry, error)
	Exit(ctx context.Context, input stock.MovementInput) (stock.LedgerEntry, error)
	Return(ctx context.Context, input stock.MovementInput) (stock.LedgerEntry, error)
	Reserve(ctx context.Context, input stock.MovementInput) (stock.LedgerEntry, error)
	Adjust(ctx context.Context, input stock.MovementInput) (stock.LedgerEntry, error)
}

// TransferPort abstracts the transfer coordinator.
type TransferPort interface {
	Get(ctx context.Context, tenantID, id int64) (transfers.Transfer, error)
	Accept(ctx context.Context, tenantID, id, actorID int64) (transfers.Transfer, error)
	Reject(ctx context.Context, tenantID, id, actorID int64, reason string) (transfers.Transfer, error)
}

// InventoryPort abstracts count submission.
type InventoryPort interface {
	SubmitCounts(ctx context.Context, tenantID, warehouseID, actorID int64, counts []inventories.CountInput) (inventories.Session, error)
}

// Service is the gateway for offline field devices. A technician's app
// queues mutations while disconnected and pushes them as a batch; every
// mutation succeeds, conflicts, or errors independently.
type Service struct {
	logger    *slog.Logger
	movements MovementPort
	transfers TransferPort
	inventory InventoryPort
}

// NewService builds Service.
func NewService(logger *slog.Logger, movements MovementPort, transferPort TransferPort, inventory InventoryPort) *Service {
	return &Service{logger: logger, movements: movements, transfers: transferPort, inventory: inventory}
}

// PushBatch processes queued mutations in order. One bad mutation never
// fails the batch.
func (s *Service) PushBatch(ctx context.Context, tenantID, actorID int64, batch Batch) Result {
	result := Result{Conflicts: []Conflict{}, Errors: []MutationError{}}
	for _, mutation := range batch.Mutations {
		conflict, err := s.apply(ctx, tenantID, actorID, mutation)
		switch {
		case conflict != nil:
			result.Conflicts = append(result.Conflicts, *conflict)
		case errors.Is(err, shared.ErrIdempotencyConflict):
			// Replay of an already-applied mutation counts as processed.
			result.Processed++
		case err != nil:
			s.logger.Warn("sync mutation failed",
				slog.String("client_id", mutation.ClientID),
				slog.String("type", string(mutation.Type)),
				slog.Any("error", err))
			result.Errors = append(result.Errors, MutationError{
				ClientID: mutation.ClientID,
				Type:     mutation.Type,
				Message:  err.Error(),
			})
		default:
			result.Processed++
		}
	}
	return result
}

func (s *Service) apply(ctx context.Context, tenantID, actorID int64, mutation Mutation) (*Conflict, error) {
	if mutation.ClientID == "" {
		return nil, errors.New("sync: client_id required")
	}
	switch mutation.Type {
	case MutationMovement:
		return nil, s.applyMovement(ctx, tenantID, actorID, mutation)
	case MutationTransferAccept, MutationTransferReject:
		return s.applyTransferDecision(ctx, tenantID, actorID, mutation)
	case MutationInventoryCount:
		return nil, s.applyInventoryCount(ctx, tenantID, actorID, mutation)
	default:
		return nil, fmt.Errorf("sync: unknown mutation type %q", mutation.Type)
	}
}

func (s *Service) applyMovement(ctx context.Context, tenantID, actorID int64, mutation Mutation) error {
	var data movementData
	if err := json.Unmarshal(mutation.Data, &data); err != nil {
		return fmt.Errorf("sync: decode movement: %w", err)
	}
	// The device-generated client id becomes the movement code, which the
	// ledger's idempotency layer dedups on replay.
	input := stock.MovementInput{
		Code:        mutation.ClientID,
		TenantID:    tenantID,
		WarehouseID: data.WarehouseID,
		ProductID:   data.ProductID,
		Lot:         data.Lot,
		Qty:         data.Qty,
		UnitCost:    data.UnitCost,
		Note:        data.Note,
		ActorID:     actorID,
		RefModule:   "sync",
	}
	var err error
	switch stock.MovementKind(data.Kind) {
	case stock.MovementEntry:
		_, err = s.movements.Entry(ctx, input)
	case stock.MovementExit:
		_, err = s.movements.Exit(ctx, input)
	case stock.MovementReturn:
		_, err = s.movements.Return(ctx, input)
	case stock.MovementReserve:
		_, err = s.movements.Reserve(ctx, input)
	case stock.MovementAdjustment:
		_, err = s.movements.Adjust(ctx, input)
	default:
		return fmt.Errorf("sync: movement kind %q: %w", data.Kind, stock.ErrInvalidKind)
	}
	return err
}

func (s *Service) applyTransferDecision(ctx context.Context, tenantID, actorID int64, mutation Mutation) (*Conflict, error) {
	var data transferDecisionData
	if err := json.Unmarshal(mutation.Data, &data); err != nil {
		return nil, fmt.Errorf("sync: decode transfer decision: %w", err)
	}

	transfer, err := s.transfers.Get(ctx, tenantID, data.TransferID)
	if err != nil {
		return nil, err
	}
	// Stale write: the server record changed after the device last synced.
	if mutation.BaseUpdatedAt != nil && transfer.UpdatedAt.After(*mutation.BaseUpdatedAt) {
		updatedAt := transfer.UpdatedAt
		return &Conflict{
			ClientID:        mutation.ClientID,
			Type:            mutation.Type,
			Reason:          "record changed on server",
			ServerUpdatedAt: &updatedAt,
		}, nil
	}

	if mutation.Type == MutationTransferAccept {
		_, err = s.transfers.Accept(ctx, tenantID, data.TransferID, actorID)
	} else {
		_, err = s.transfers.Reject(ctx, tenantID, data.TransferID, actorID, data.Reason)
	}
	if errors.Is(err, transfers.ErrNotPending) {
		updatedAt := transfer.UpdatedAt
		return &Conflict{
			ClientID:        mutation.ClientID,
			Type:            mutation.Type,
			Reason:          "transfer already decided",
			ServerUpdatedAt: &updatedAt,
		}, nil
	}
	return nil, err
}

func (s *Service) applyInventoryCount(ctx context.Context, tenantID, actorID int64, mutation Mutation) error {
	var data inventoryCountData
	if err := json.Unmarshal(mutation.Data, &data); err != nil {
		return fmt.Errorf("sync: decode inventory count: %w", err)
	}
	counts := make([]inventories.CountInput, 0, len(data.Counts))
	for _, c := range data.Counts {
		counts = append(counts, inventories.CountInput{ProductID: c.ProductID, Lot: c.Lot, Qty: c.Qty})
	}
	_, err := s.inventory.SubmitCounts(ctx, tenantID, data.WarehouseID, actorID, counts)
	return err
}
