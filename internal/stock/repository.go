package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldworks-erp/fieldworks-erp/internal/platform/db"
)

// Repository persists ledger entries and balances in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, tenantID, warehouseID, productID int64, lot string) (Balance, error)
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error)
	UpsertBalance(ctx context.Context, balance Balance) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (r *txRepo) GetBalanceForUpdate(ctx context.Context, tenantID, warehouseID, productID int64, lot string) (Balance, error) {
	var b Balance
	var qty, avgCost pgtype.Numeric
	var updatedAt pgtype.Timestamptz
	err := r.tx.QueryRow(ctx, `SELECT tenant_id, warehouse_id, product_id, lot, qty, avg_cost, updated_at FROM warehouse_balances WHERE tenant_id = $1 AND warehouse_id = $2 AND product_id = $3 AND lot = $4 FOR UPDATE`,
		tenantID, warehouseID, productID, lot).
		Scan(&b.TenantID, &b.WarehouseID, &b.ProductID, &b.Lot, &qty, &avgCost, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{TenantID: tenantID, WarehouseID: warehouseID, ProductID: productID, Lot: lot}, ErrBalanceNotFound
	}
	if err != nil {
		return Balance{}, err
	}
	b.Qty = numericToFloat(qty)
	b.AvgCost = numericToFloat(avgCost)
	b.UpdatedAt = updatedAt.Time
	return b, nil
}

func (r *txRepo) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	qty, err := floatToNumeric(entry.Qty)
	if err != nil {
		return 0, err
	}
	unitCost, err := floatToNumeric(entry.UnitCost)
	if err != nil {
		return 0, err
	}
	balanceAfter, err := floatToNumeric(entry.BalanceAfter)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO stock_ledger (tenant_id, code, kind, warehouse_id, product_id, lot, qty, unit_cost, balance_after, ref_module, ref_id, note, actor_id, posted_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`,
		entry.TenantID, entry.Code, string(entry.Kind), entry.WarehouseID, entry.ProductID, entry.Lot,
		qty, unitCost, balanceAfter,
		entry.RefModule, nullableText(entry.RefID), entry.Note,
		pgtype.Int8{Int64: entry.ActorID, Valid: entry.ActorID != 0},
		pgtype.Timestamptz{Time: entry.PostedAt, Valid: true}).
		Scan(&id)
	return id, err
}

func (r *txRepo) UpsertBalance(ctx context.Context, balance Balance) error {
	qty, err := floatToNumeric(balance.Qty)
	if err != nil {
		return err
	}
	avgCost, err := floatToNumeric(balance.AvgCost)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO warehouse_balances (tenant_id, warehouse_id, product_id, lot, qty, avg_cost, updated_at) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (tenant_id, warehouse_id, product_id, lot) DO UPDATE SET qty = EXCLUDED.qty, avg_cost = EXCLUDED.avg_cost, updated_at = NOW()`,
		balance.TenantID, balance.WarehouseID, balance.ProductID, balance.Lot, qty, avgCost)
	return err
}

// GetBalance reads a single balance outside any lock.
func (r *Repository) GetBalance(ctx context.Context, tenantID, warehouseID, productID int64, lot string) (Balance, error) {
	var b Balance
	var qty, avgCost pgtype.Numeric
	var updatedAt pgtype.Timestamptz
	err := r.pool.QueryRow(ctx, `SELECT tenant_id, warehouse_id, product_id, lot, qty, avg_cost, updated_at FROM warehouse_balances WHERE tenant_id = $1 AND warehouse_id = $2 AND product_id = $3 AND lot = $4`,
		tenantID, warehouseID, productID, lot).
		Scan(&b.TenantID, &b.WarehouseID, &b.ProductID, &b.Lot, &qty, &avgCost, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, ErrBalanceNotFound
	}
	if err != nil {
		return Balance{}, err
	}
	b.Qty = numericToFloat(qty)
	b.AvgCost = numericToFloat(avgCost)
	b.UpdatedAt = updatedAt.Time
	return b, nil
}

// ListBalances uses a dynamic query due to filter complexity.
func (r *Repository) ListBalances(ctx context.Context, tenantID int64, filter BalanceFilter) ([]Balance, error) {
	query := `SELECT tenant_id, warehouse_id, product_id, lot, qty, avg_cost, updated_at FROM warehouse_balances WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argCount := 1

	if filter.WarehouseID != 0 {
		argCount++
		query += ` AND warehouse_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.WarehouseID)
	}
	if filter.ProductID != 0 {
		argCount++
		query += ` AND product_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.ProductID)
	}
	if filter.Lot != "" {
		argCount++
		query += ` AND lot = $` + strconv.Itoa(argCount)
		args = append(args, filter.Lot)
	}
	if filter.BelowQty != nil {
		below, err := floatToNumeric(*filter.BelowQty)
		if err != nil {
			return nil, err
		}
		argCount++
		query += ` AND qty < $` + strconv.Itoa(argCount)
		args = append(args, below)
	}
	query += ` ORDER BY warehouse_id, product_id, lot`

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, limit)
	if filter.Offset > 0 {
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []Balance
	for rows.Next() {
		var b Balance
		var qty, avgCost pgtype.Numeric
		var updatedAt pgtype.Timestamptz
		if err := rows.Scan(&b.TenantID, &b.WarehouseID, &b.ProductID, &b.Lot, &qty, &avgCost, &updatedAt); err != nil {
			return nil, err
		}
		b.Qty = numericToFloat(qty)
		b.AvgCost = numericToFloat(avgCost)
		b.UpdatedAt = updatedAt.Time
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// Ledger lists ledger entries newest first (kardex view).
func (r *Repository) Ledger(ctx context.Context, tenantID int64, filter LedgerFilter) ([]LedgerEntry, error) {
	query := `SELECT id, tenant_id, code, kind, warehouse_id, product_id, lot, qty, unit_cost, balance_after, ref_module, COALESCE(ref_id, ''), note, COALESCE(actor_id, 0), posted_at FROM stock_ledger WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argCount := 1

	if filter.WarehouseID != 0 {
		argCount++
		query += ` AND warehouse_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.WarehouseID)
	}
	if filter.ProductID != 0 {
		argCount++
		query += ` AND product_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.ProductID)
	}
	if filter.Lot != "" {
		argCount++
		query += ` AND lot = $` + strconv.Itoa(argCount)
		args = append(args, filter.Lot)
	}
	if filter.Kind != "" {
		argCount++
		query += ` AND kind = $` + strconv.Itoa(argCount)
		args = append(args, string(filter.Kind))
	}
	if !filter.From.IsZero() {
		argCount++
		query += ` AND posted_at >= $` + strconv.Itoa(argCount)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		argCount++
		query += ` AND posted_at <= $` + strconv.Itoa(argCount)
		args = append(args, filter.To)
	}
	query += ` ORDER BY posted_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, limit)
	if filter.Offset > 0 {
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var qty, unitCost, balanceAfter pgtype.Numeric
		var postedAt pgtype.Timestamptz
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Code, &e.Kind, &e.WarehouseID, &e.ProductID, &e.Lot, &qty, &unitCost, &balanceAfter, &e.RefModule, &e.RefID, &e.Note, &e.ActorID, &postedAt); err != nil {
			return nil, err
		}
		e.Qty = numericToFloat(qty)
		e.UnitCost = numericToFloat(unitCost)
		e.BalanceAfter = numericToFloat(balanceAfter)
		e.PostedAt = postedAt.Time
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// BalanceDrift is a balance row whose qty disagrees with the ledger sum.
type BalanceDrift struct {
	WarehouseID int64
	ProductID   int64
	Lot         string
	BalanceQty  float64
	LedgerQty   float64
}

// FindBalanceDrift compares materialised balances against the ledger sum.
// Used by the nightly integrity job.
func (r *Repository) FindBalanceDrift(ctx context.Context, tenantID int64, limit int) ([]BalanceDrift, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT b.warehouse_id, b.product_id, b.lot, b.qty, COALESCE(l.total, 0)
		FROM warehouse_balances b
		LEFT JOIN (SELECT warehouse_id, product_id, lot, SUM(qty) AS total FROM stock_ledger WHERE tenant_id = $1 GROUP BY warehouse_id, product_id, lot) l
		ON l.warehouse_id = b.warehouse_id AND l.product_id = b.product_id AND l.lot = b.lot
		WHERE b.tenant_id = $1 AND ABS(b.qty - COALESCE(l.total, 0)) > 0.0001
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifts []BalanceDrift
	for rows.Next() {
		var d BalanceDrift
		var balanceQty, ledgerQty pgtype.Numeric
		if err := rows.Scan(&d.WarehouseID, &d.ProductID, &d.Lot, &balanceQty, &ledgerQty); err != nil {
			return nil, err
		}
		d.BalanceQty = numericToFloat(balanceQty)
		d.LedgerQty = numericToFloat(ledgerQty)
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

// ListTenantIDs returns tenants that have balance rows. Used by cron jobs to
// fan out per tenant.
func (r *Repository) ListTenantIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM warehouse_balances ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullableText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func numericToFloat(n pgtype.Numeric) float64 {
	f, _ := n.Float64Value()
	return f.Float64
}

func floatToNumeric(f float64) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(strconv.FormatFloat(f, 'f', -1, 64)); err != nil {
		return pgtype.Numeric{}, fmt.Errorf("stock: encode numeric: %w", err)
	}
	return n, nil
}
