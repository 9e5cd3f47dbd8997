package warehouses

import (
	"context"
	"errors"
	"strings"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, tenantID int64, filters ListFilters) ([]Warehouse, int, error) {
	return s.repo.List(ctx, tenantID, filters)
}

func (s *Service) Get(ctx context.Context, tenantID, id int64) (Warehouse, error) {
	if id <= 0 {
		return Warehouse{}, errors.New("invalid warehouse ID")
	}
	return s.repo.Get(ctx, tenantID, id)
}

func (s *Service) Create(ctx context.Context, warehouse Warehouse) (Warehouse, error) {
	if err := s.validate(warehouse); err != nil {
		return Warehouse{}, err
	}
	return s.repo.Create(ctx, warehouse)
}

func (s *Service) Update(ctx context.Context, tenantID, id int64, warehouse Warehouse) error {
	if id <= 0 {
		return errors.New("invalid warehouse ID")
	}
	if err := s.validate(warehouse); err != nil {
		return err
	}
	return s.repo.Update(ctx, tenantID, id, warehouse)
}

// Deactivate hides the warehouse from new movements without losing history.
func (s *Service) Deactivate(ctx context.Context, tenantID, id int64) error {
	if id <= 0 {
		return errors.New("invalid warehouse ID")
	}
	return s.repo.SetActive(ctx, tenantID, id, false)
}

func (s *Service) Activate(ctx context.Context, tenantID, id int64) error {
	if id <= 0 {
		return errors.New("invalid warehouse ID")
	}
	return s.repo.SetActive(ctx, tenantID, id, true)
}

// ResolveRecipient returns the user who must accept incoming transfers for
// the warehouse. Fixed warehouses have no recipient.
func (s *Service) ResolveRecipient(ctx context.Context, tenantID, id int64) (*int64, error) {
	w, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if w.Kind == KindFixed {
		return nil, nil
	}
	return w.OwnerUserID, nil
}

func (s *Service) validate(w Warehouse) error {
	if w.TenantID <= 0 {
		return errors.New("tenant is required")
	}
	if strings.TrimSpace(w.Code) == "" {
		return errors.New("warehouse code is required")
	}
	if strings.TrimSpace(w.Name) == "" {
		return errors.New("warehouse name is required")
	}
	if !w.Kind.Valid() {
		return errors.New("invalid warehouse kind")
	}
	if w.Kind != KindFixed && (w.OwnerUserID == nil || *w.OwnerUserID <= 0) {
		return errors.New("vehicle and technician warehouses require an owner")
	}
	return nil
}
