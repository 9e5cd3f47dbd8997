package inventories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldworks-erp/fieldworks-erp/internal/platform/db"
)

type Repository interface {
	// CreateSession opens a session and snapshots expected quantities from
	// the warehouse balances in one transaction. Returns ErrSessionOpen when
	// the partial unique index on open sessions rejects the insert.
	CreateSession(ctx context.Context, session Session) (Session, error)
	GetSession(ctx context.Context, tenantID, id int64) (Session, error)
	FindOpenSession(ctx context.Context, tenantID, warehouseID int64) (Session, error)
	ListSessions(ctx context.Context, tenantID int64, filters ListFilters) ([]Session, error)
	// UpdateStatus advances a session from one status to another. Returns
	// ErrNotOpen when the session is not in the expected status, so
	// concurrent transitions settle on exactly one winner.
	UpdateStatus(ctx context.Context, tenantID, id int64, from, to SessionStatus) error
	ListItems(ctx context.Context, sessionID int64) ([]CountItem, error)
	// RecordCount stores a counted quantity. Keys outside the snapshot are
	// added with expected zero.
	RecordCount(ctx context.Context, sessionID, productID int64, lot string, qty float64, countedBy int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) CreateSession(ctx context.Context, session Session) (Session, error) {
	now := time.Now()
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO inventory_sessions (tenant_id, warehouse_id, status, note, started_by, started_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, started_at`,
			session.TenantID, session.WarehouseID, string(StatusOpen), session.Note, session.StartedBy, now).
			Scan(&session.ID, &session.StartedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrSessionOpen
			}
			return err
		}

		// Snapshot the expected quantities as of session start.
		_, err = tx.Exec(ctx, `INSERT INTO inventory_count_items (session_id, product_id, lot, expected_qty)
			SELECT $1, product_id, lot, qty FROM warehouse_balances WHERE tenant_id = $2 AND warehouse_id = $3 AND qty <> 0`,
			session.ID, session.TenantID, session.WarehouseID)
		return err
	})
	if err != nil {
		return Session{}, err
	}
	session.Status = StatusOpen
	return session, nil
}

const sessionColumns = `id, tenant_id, warehouse_id, status, note, started_by, started_at, completed_at`

func (r *repository) GetSession(ctx context.Context, tenantID, id int64) (Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM inventory_sessions WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return session, err
}

func (r *repository) FindOpenSession(ctx context.Context, tenantID, warehouseID int64) (Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM inventory_sessions WHERE tenant_id = $1 AND warehouse_id = $2 AND status = $3`, tenantID, warehouseID, string(StatusOpen))
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return session, err
}

func (r *repository) ListSessions(ctx context.Context, tenantID int64, filters ListFilters) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM inventory_sessions WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argCount := 1

	if filters.WarehouseID != 0 {
		argCount++
		query += ` AND warehouse_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.WarehouseID)
	}
	if filters.Status != "" {
		argCount++
		query += ` AND status = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Status))
	}
	query += ` ORDER BY started_at DESC, id DESC`

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

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *repository) UpdateStatus(ctx context.Context, tenantID, id int64, from, to SessionStatus) error {
	query := `UPDATE inventory_sessions SET status = $1 WHERE tenant_id = $2 AND id = $3 AND status = $4`
	if to == StatusCompleted || to == StatusCancelled {
		query = `UPDATE inventory_sessions SET status = $1, completed_at = NOW() WHERE tenant_id = $2 AND id = $3 AND status = $4`
	}
	tag, err := r.pool.Exec(ctx, query, string(to), tenantID, id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_sessions WHERE tenant_id = $1 AND id = $2)`, tenantID, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrNotOpen
	}
	return nil
}

func (r *repository) ListItems(ctx context.Context, sessionID int64) ([]CountItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, session_id, product_id, lot, expected_qty, counted_qty, counted_by, counted_at FROM inventory_count_items WHERE session_id = $1 ORDER BY product_id, lot`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []CountItem
	for rows.Next() {
		var item CountItem
		var expected pgtype.Numeric
		var counted pgtype.Numeric
		var countedAt pgtype.Timestamptz
		if err := rows.Scan(&item.ID, &item.SessionID, &item.ProductID, &item.Lot, &expected, &counted, &item.CountedBy, &countedAt); err != nil {
			return nil, err
		}
		item.ExpectedQty = numericToFloat(expected)
		if counted.Valid {
			qty := numericToFloat(counted)
			item.CountedQty = &qty
		}
		if countedAt.Valid {
			item.CountedAt = &countedAt.Time
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *repository) RecordCount(ctx context.Context, sessionID, productID int64, lot string, qty float64, countedBy int64) error {
	counted, err := floatToNumeric(qty)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO inventory_count_items (session_id, product_id, lot, expected_qty, counted_qty, counted_by, counted_at) VALUES ($1, $2, $3, 0, $4, $5, NOW())
		ON CONFLICT (session_id, product_id, lot) DO UPDATE SET counted_qty = EXCLUDED.counted_qty, counted_by = EXCLUDED.counted_by, counted_at = NOW()`,
		sessionID, productID, lot, counted, countedBy)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var completedAt pgtype.Timestamptz
	err := row.Scan(&s.ID, &s.TenantID, &s.WarehouseID, &s.Status, &s.Note, &s.StartedBy, &s.StartedAt, &completedAt)
	if err != nil {
		return Session{}, err
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.Time
	}
	return s, nil
}

func numericToFloat(n pgtype.Numeric) float64 {
	f, _ := n.Float64Value()
	return f.Float64
}

func floatToNumeric(f float64) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(strconv.FormatFloat(f, 'f', -1, 64)); err != nil {
		return pgtype.Numeric{}, fmt.Errorf("inventories: encode numeric: %w", err)
	}
	return n, nil
}
