package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the alert does not exist in the tenant.
var ErrNotFound = errors.New("alert not found")

// ListFilters narrows List results.
type ListFilters struct {
	Kind        Kind
	RecipientID *int64
	UnreadOnly  bool
	Limit       int
	Offset      int
}

type Repository interface {
	Insert(ctx context.Context, alert Alert) (Alert, error)
	List(ctx context.Context, tenantID int64, filters ListFilters) ([]Alert, error)
	MarkRead(ctx context.Context, tenantID, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Insert(ctx context.Context, alert Alert) (Alert, error) {
	metaJSON, err := json.Marshal(alert.Meta)
	if err != nil {
		return Alert{}, err
	}
	err = r.pool.QueryRow(ctx, `INSERT INTO alerts (tenant_id, kind, severity, title, message, recipient_id, meta, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW())) RETURNING id, created_at`,
		alert.TenantID, string(alert.Kind), string(alert.Severity), alert.Title, alert.Message, alert.RecipientID, metaJSON, nilTime(alert.CreatedAt)).
		Scan(&alert.ID, &alert.CreatedAt)
	if err != nil {
		return Alert{}, err
	}
	return alert, nil
}

func (r *repository) List(ctx context.Context, tenantID int64, filters ListFilters) ([]Alert, error) {
	query := `SELECT id, tenant_id, kind, severity, title, message, recipient_id, meta, read_at, created_at FROM alerts WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argCount := 1

	if filters.Kind != "" {
		argCount++
		query += ` AND kind = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Kind))
	}
	if filters.RecipientID != nil {
		argCount++
		query += ` AND (recipient_id = $` + strconv.Itoa(argCount) + ` OR recipient_id IS NULL)`
		args = append(args, *filters.RecipientID)
	}
	if filters.UnreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC`

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

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var metaJSON []byte
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Kind, &a.Severity, &a.Title, &a.Message, &a.RecipientID, &metaJSON, &a.ReadAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &a.Meta)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (r *repository) MarkRead(ctx context.Context, tenantID, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE alerts SET read_at = NOW() WHERE tenant_id = $1 AND id = $2 AND read_at IS NULL`, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM alerts WHERE tenant_id = $1 AND id = $2)`, tenantID, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func nilTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
