package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	checkouts map[int64]Checkout
	nextID    int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{checkouts: make(map[int64]Checkout)}
}

func (r *fakeRepo) Create(ctx context.Context, checkout Checkout) (Checkout, error) {
	for _, c := range r.checkouts {
		if c.TenantID == checkout.TenantID && c.ToolID == checkout.ToolID && c.Open() {
			return Checkout{}, ErrAlreadyCheckedOut
		}
	}
	r.nextID++
	checkout.ID = r.nextID
	checkout.CheckedOutAt = time.Now()
	r.checkouts[checkout.ID] = checkout
	return checkout, nil
}

func (r *fakeRepo) Get(ctx context.Context, tenantID, id int64) (Checkout, error) {
	c, ok := r.checkouts[id]
	if !ok || c.TenantID != tenantID {
		return Checkout{}, ErrNotFound
	}
	return c, nil
}

func (r *fakeRepo) List(ctx context.Context, tenantID int64, filters ListFilters) ([]Checkout, error) {
	var out []Checkout
	for _, c := range r.checkouts {
		if c.TenantID != tenantID {
			continue
		}
		if filters.OpenOnly && !c.Open() {
			continue
		}
		if filters.UserID != 0 && c.UserID != filters.UserID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeRepo) Checkin(ctx context.Context, tenantID, id int64, note string) error {
	c, ok := r.checkouts[id]
	if !ok || c.TenantID != tenantID {
		return ErrNotFound
	}
	if !c.Open() {
		return ErrAlreadyReturned
	}
	now := time.Now()
	c.CheckedInAt = &now
	c.CheckinNote = note
	r.checkouts[id] = c
	return nil
}

func (r *fakeRepo) ListOverdue(ctx context.Context, tenantID int64, now time.Time, limit int) ([]Checkout, error) {
	var out []Checkout
	for _, c := range r.checkouts {
		if c.TenantID == tenantID && c.Overdue(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestCheckoutLifecycle(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	checkout, err := svc.Checkout(ctx, CheckoutInput{TenantID: 1, ToolID: 3, UserID: 7, Note: "drill for job 9"})
	require.NoError(t, err)
	require.True(t, checkout.Open())

	// The same tool cannot be handed out twice.
	_, err = svc.Checkout(ctx, CheckoutInput{TenantID: 1, ToolID: 3, UserID: 8})
	require.ErrorIs(t, err, ErrAlreadyCheckedOut)

	returned, err := svc.Checkin(ctx, 1, checkout.ID, 7, "all good")
	require.NoError(t, err)
	require.False(t, returned.Open())
	require.Equal(t, "all good", returned.CheckinNote)

	_, err = svc.Checkin(ctx, 1, checkout.ID, 7, "again")
	require.ErrorIs(t, err, ErrAlreadyReturned)

	// After checkin the tool is free again.
	_, err = svc.Checkout(ctx, CheckoutInput{TenantID: 1, ToolID: 3, UserID: 8})
	require.NoError(t, err)
}

func TestListOpenOnly(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	first, err := svc.Checkout(ctx, CheckoutInput{TenantID: 1, ToolID: 1, UserID: 7})
	require.NoError(t, err)
	_, err = svc.Checkout(ctx, CheckoutInput{TenantID: 1, ToolID: 2, UserID: 7})
	require.NoError(t, err)
	_, err = svc.Checkin(ctx, 1, first.ID, 7, "")
	require.NoError(t, err)

	open, err := svc.List(ctx, 1, ListFilters{OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.EqualValues(t, 2, open[0].ToolID)
}

func TestOverdue(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	due := time.Now().Add(time.Hour)
	checkout, err := svc.Checkout(ctx, CheckoutInput{TenantID: 1, ToolID: 1, UserID: 7, DueAt: &due})
	require.NoError(t, err)

	overdue, err := svc.ListOverdue(ctx, 1, time.Now(), 100)
	require.NoError(t, err)
	require.Empty(t, overdue)

	overdue, err = svc.ListOverdue(ctx, 1, time.Now().Add(2*time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	require.Equal(t, checkout.ID, overdue[0].ID)

	// Due dates in the past are rejected up front.
	past := time.Now().Add(-time.Hour)
	_, err = svc.Checkout(ctx, CheckoutInput{TenantID: 1, ToolID: 9, UserID: 7, DueAt: &past})
	require.Error(t, err)
}
