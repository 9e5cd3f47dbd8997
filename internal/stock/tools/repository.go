package tools

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	// Create opens a checkout. A partial unique index on open checkouts per
	// tool rejects the insert with ErrAlreadyCheckedOut.
	Create(ctx context.Context, checkout Checkout) (Checkout, error)
	Get(ctx context.Context, tenantID, id int64) (Checkout, error)
	List(ctx context.Context, tenantID int64, filters ListFilters) ([]Checkout, error)
	// Checkin closes an open checkout.
	Checkin(ctx context.Context, tenantID, id int64, note string) error
	// ListOverdue returns open checkouts past their due date.
	ListOverdue(ctx context.Context, tenantID int64, now time.Time, limit int) ([]Checkout, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const checkoutColumns = `id, tenant_id, tool_id, user_id, warehouse_id, note, checked_out_at, due_at, checked_in_at, checkin_note`

func (r *repository) Create(ctx context.Context, checkout Checkout) (Checkout, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO tool_checkouts (tenant_id, tool_id, user_id, warehouse_id, note, checked_out_at, due_at) VALUES ($1, $2, $3, $4, $5, NOW(), $6) RETURNING id, checked_out_at`,
		checkout.TenantID, checkout.ToolID, checkout.UserID, checkout.WarehouseID, checkout.Note, checkout.DueAt).
		Scan(&checkout.ID, &checkout.CheckedOutAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Checkout{}, ErrAlreadyCheckedOut
		}
		return Checkout{}, err
	}
	return checkout, nil
}

func (r *repository) Get(ctx context.Context, tenantID, id int64) (Checkout, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+checkoutColumns+` FROM tool_checkouts WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	checkout, err := scanCheckout(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Checkout{}, ErrNotFound
	}
	return checkout, err
}

func (r *repository) List(ctx context.Context, tenantID int64, filters ListFilters) ([]Checkout, error) {
	query := `SELECT ` + checkoutColumns + ` FROM tool_checkouts WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argCount := 1

	if filters.ToolID != 0 {
		argCount++
		query += ` AND tool_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.ToolID)
	}
	if filters.UserID != 0 {
		argCount++
		query += ` AND user_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.UserID)
	}
	if filters.OpenOnly {
		query += ` AND checked_in_at IS NULL`
	}
	query += ` ORDER BY checked_out_at DESC, id DESC`

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, limit)
	if filters.Offset > 0 {
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		args = append(args, filters.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkouts []Checkout
	for rows.Next() {
		checkout, err := scanCheckout(rows)
		if err != nil {
			return nil, err
		}
		checkouts = append(checkouts, checkout)
	}
	return checkouts, rows.Err()
}

func (r *repository) Checkin(ctx context.Context, tenantID, id int64, note string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tool_checkouts SET checked_in_at = NOW(), checkin_note = $1 WHERE tenant_id = $2 AND id = $3 AND checked_in_at IS NULL`, note, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tool_checkouts WHERE tenant_id = $1 AND id = $2)`, tenantID, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrAlreadyReturned
	}
	return nil
}

func (r *repository) ListOverdue(ctx context.Context, tenantID int64, now time.Time, limit int) ([]Checkout, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+checkoutColumns+` FROM tool_checkouts WHERE tenant_id = $1 AND checked_in_at IS NULL AND due_at IS NOT NULL AND due_at < $2 ORDER BY due_at LIMIT $3`, tenantID, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkouts []Checkout
	for rows.Next() {
		checkout, err := scanCheckout(rows)
		if err != nil {
			return nil, err
		}
		checkouts = append(checkouts, checkout)
	}
	return checkouts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckout(row rowScanner) (Checkout, error) {
	var c Checkout
	var dueAt, checkedInAt pgtype.Timestamptz
	err := row.Scan(&c.ID, &c.TenantID, &c.ToolID, &c.UserID, &c.WarehouseID, &c.Note, &c.CheckedOutAt, &dueAt, &checkedInAt, &c.CheckinNote)
	if err != nil {
		return Checkout{}, err
	}
	if dueAt.Valid {
		c.DueAt = &dueAt.Time
	}
	if checkedInAt.Valid {
		c.CheckedInAt = &checkedInAt.Time
	}
	return c, nil
}
