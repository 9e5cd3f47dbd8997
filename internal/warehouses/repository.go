package warehouses

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the warehouse does not exist in the tenant.
var ErrNotFound = errors.New("warehouse not found")

type Repository interface {
	List(ctx context.Context, tenantID int64, filters ListFilters) ([]Warehouse, int, error)
	Get(ctx context.Context, tenantID, id int64) (Warehouse, error)
	Create(ctx context.Context, warehouse Warehouse) (Warehouse, error)
	Update(ctx context.Context, tenantID, id int64, warehouse Warehouse) error
	SetActive(ctx context.Context, tenantID, id int64, active bool) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// List uses a dynamic query due to filter complexity.
func (r *repository) List(ctx context.Context, tenantID int64, filters ListFilters) ([]Warehouse, int, error) {
	where := ` WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argCount := 1

	if filters.Kind != nil {
		argCount++
		where += ` AND kind = $` + strconv.Itoa(argCount)
		args = append(args, string(*filters.Kind))
	}
	if filters.OwnerID != nil {
		argCount++
		where += ` AND owner_user_id = $` + strconv.Itoa(argCount)
		args = append(args, *filters.OwnerID)
	}
	if filters.Search != "" {
		argCount++
		where += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.ActiveOnly {
		where += ` AND active`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM warehouses`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, tenant_id, code, name, kind, owner_user_id, active, created_at, updated_at FROM warehouses` + where
	query += " ORDER BY " + sortOrder(filters.SortBy, filters.SortDir)

	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)

		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var warehouses []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.TenantID, &w.Code, &w.Name, &w.Kind, &w.OwnerUserID, &w.Active, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, 0, err
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, tenantID, id int64) (Warehouse, error) {
	var w Warehouse
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, code, name, kind, owner_user_id, active, created_at, updated_at FROM warehouses WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&w.ID, &w.TenantID, &w.Code, &w.Name, &w.Kind, &w.OwnerUserID, &w.Active, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, ErrNotFound
	}
	if err != nil {
		return Warehouse{}, err
	}
	return w, nil
}

func (r *repository) Create(ctx context.Context, warehouse Warehouse) (Warehouse, error) {
	now := time.Now()
	err := r.pool.QueryRow(ctx, `INSERT INTO warehouses (tenant_id, code, name, kind, owner_user_id, active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6) RETURNING id, created_at, updated_at`,
		warehouse.TenantID, warehouse.Code, warehouse.Name, string(warehouse.Kind), warehouse.OwnerUserID, now).
		Scan(&warehouse.ID, &warehouse.CreatedAt, &warehouse.UpdatedAt)
	if err != nil {
		return Warehouse{}, err
	}
	warehouse.Active = true
	return warehouse, nil
}

func (r *repository) Update(ctx context.Context, tenantID, id int64, warehouse Warehouse) error {
	tag, err := r.pool.Exec(ctx, `UPDATE warehouses SET code = $1, name = $2, kind = $3, owner_user_id = $4, updated_at = $5 WHERE tenant_id = $6 AND id = $7`,
		warehouse.Code, warehouse.Name, string(warehouse.Kind), warehouse.OwnerUserID, time.Now(), tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) SetActive(ctx context.Context, tenantID, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE warehouses SET active = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4`, active, time.Now(), tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "code":
		return "code " + dir
	case "kind":
		return "kind " + dir
	case "name":
		return "name " + dir
	default:
		return "name " + dir
	}
}
