package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldworks-erp/fieldworks-erp/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service tracks tool custody.
type Service struct {
	repo  Repository
	audit AuditPort
}

// NewService builds Service.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// Checkout hands a tool to a user.
func (s *Service) Checkout(ctx context.Context, input CheckoutInput) (Checkout, error) {
	if input.ToolID <= 0 || input.UserID <= 0 {
		return Checkout{}, errors.New("tools: tool and user required")
	}
	if input.DueAt != nil && input.DueAt.Before(time.Now()) {
		return Checkout{}, errors.New("tools: due date must be in the future")
	}
	checkout, err := s.repo.Create(ctx, Checkout{
		TenantID:    input.TenantID,
		ToolID:      input.ToolID,
		UserID:      input.UserID,
		WarehouseID: input.WarehouseID,
		Note:        input.Note,
		DueAt:       input.DueAt,
	})
	if err != nil {
		return Checkout{}, err
	}
	s.recordAudit(ctx, checkout, "tools:checkout")
	return checkout, nil
}

// Checkin returns a tool.
func (s *Service) Checkin(ctx context.Context, tenantID, id, actorID int64, note string) (Checkout, error) {
	if err := s.repo.Checkin(ctx, tenantID, id, note); err != nil {
		return Checkout{}, err
	}
	checkout, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Checkout{}, err
	}
	s.recordAudit(ctx, checkout, "tools:checkin")
	return checkout, nil
}

// Get returns one checkout.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Checkout, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// List returns checkouts matching the filters.
func (s *Service) List(ctx context.Context, tenantID int64, filters ListFilters) ([]Checkout, error) {
	return s.repo.List(ctx, tenantID, filters)
}

// ListOverdue returns open checkouts past their due date.
func (s *Service) ListOverdue(ctx context.Context, tenantID int64, now time.Time, limit int) ([]Checkout, error) {
	return s.repo.ListOverdue(ctx, tenantID, now, limit)
}

func (s *Service) recordAudit(ctx context.Context, checkout Checkout, action string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: checkout.TenantID,
		ActorID:  checkout.UserID,
		Action:   action,
		Entity:   "tool_checkout",
		EntityID: fmt.Sprintf("%d", checkout.ID),
		Meta:     map[string]any{"tool_id": checkout.ToolID, "user_id": checkout.UserID},
	})
}
