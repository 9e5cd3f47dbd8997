package transfers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldworks-erp/fieldworks-erp/internal/platform/db"
)

type Repository interface {
	Create(ctx context.Context, transfer Transfer) (Transfer, error)
	Get(ctx context.Context, tenantID, id int64) (Transfer, error)
	List(ctx context.Context, tenantID int64, filters ListFilters) ([]Transfer, error)
	// Decide flips a pending transfer to its terminal status. Returns
	// ErrNotPending when another decision won the race.
	Decide(ctx context.Context, tenantID, id int64, status Status, decidedBy int64, reason string) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const transferColumns = `id, tenant_id, code, src_warehouse_id, dst_warehouse_id, status, recipient_id, requested_by, decided_by, decided_at, reject_reason, note, created_at, updated_at`

func (r *repository) Create(ctx context.Context, transfer Transfer) (Transfer, error) {
	now := time.Now()
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO stock_transfers (tenant_id, code, src_warehouse_id, dst_warehouse_id, status, recipient_id, requested_by, note, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9) RETURNING id, created_at, updated_at`,
			transfer.TenantID, transfer.Code, transfer.SrcWarehouseID, transfer.DstWarehouseID,
			string(transfer.Status), transfer.RecipientID, transfer.RequestedBy, transfer.Note, now).
			Scan(&transfer.ID, &transfer.CreatedAt, &transfer.UpdatedAt)
		if err != nil {
			return err
		}
		for i := range transfer.Lines {
			line := &transfer.Lines[i]
			line.TransferID = transfer.ID
			qty, err := floatToNumeric(line.Qty)
			if err != nil {
				return err
			}
			err = tx.QueryRow(ctx, `INSERT INTO stock_transfer_lines (transfer_id, product_id, lot, qty) VALUES ($1, $2, $3, $4) RETURNING id`,
				transfer.ID, line.ProductID, line.Lot, qty).Scan(&line.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	return transfer, nil
}

func (r *repository) Get(ctx context.Context, tenantID, id int64) (Transfer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	transfer, err := scanTransfer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrNotFound
	}
	if err != nil {
		return Transfer{}, err
	}
	lines, err := r.loadLines(ctx, []int64{transfer.ID})
	if err != nil {
		return Transfer{}, err
	}
	transfer.Lines = lines[transfer.ID]
	return transfer, nil
}

func (r *repository) List(ctx context.Context, tenantID int64, filters ListFilters) ([]Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM stock_transfers WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argCount := 1

	if filters.Status != "" {
		argCount++
		query += ` AND status = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Status))
	}
	if filters.WarehouseID != 0 {
		argCount++
		query += ` AND (src_warehouse_id = $` + strconv.Itoa(argCount) + ` OR dst_warehouse_id = $` + strconv.Itoa(argCount) + `)`
		args = append(args, filters.WarehouseID)
	}
	if filters.RecipientID != nil {
		argCount++
		query += ` AND recipient_id = $` + strconv.Itoa(argCount)
		args = append(args, *filters.RecipientID)
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

	var transfers []Transfer
	var ids []int64
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, transfer)
		ids = append(ids, transfer.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return transfers, nil
	}

	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range transfers {
		transfers[i].Lines = lines[transfers[i].ID]
	}
	return transfers, nil
}

func (r *repository) loadLines(ctx context.Context, transferIDs []int64) (map[int64][]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, transfer_id, product_id, lot, qty FROM stock_transfer_lines WHERE transfer_id = ANY($1) ORDER BY id`, transferIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byTransfer := make(map[int64][]Line)
	for rows.Next() {
		var line Line
		var qty pgtype.Numeric
		if err := rows.Scan(&line.ID, &line.TransferID, &line.ProductID, &line.Lot, &qty); err != nil {
			return nil, err
		}
		line.Qty = numericToFloat(qty)
		byTransfer[line.TransferID] = append(byTransfer[line.TransferID], line)
	}
	return byTransfer, rows.Err()
}

func (r *repository) Decide(ctx context.Context, tenantID, id int64, status Status, decidedBy int64, reason string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_transfers SET status = $1, decided_by = $2, decided_at = NOW(), reject_reason = $3, updated_at = NOW() WHERE tenant_id = $4 AND id = $5 AND status = $6`,
		string(status), decidedBy, reason, tenantID, id, string(StatusPending))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_transfers WHERE tenant_id = $1 AND id = $2)`, tenantID, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrNotPending
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (Transfer, error) {
	var t Transfer
	var decidedAt pgtype.Timestamptz
	err := row.Scan(&t.ID, &t.TenantID, &t.Code, &t.SrcWarehouseID, &t.DstWarehouseID, &t.Status,
		&t.RecipientID, &t.RequestedBy, &t.DecidedBy, &decidedAt, &t.RejectReason, &t.Note, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Transfer{}, err
	}
	if decidedAt.Valid {
		t.DecidedAt = &decidedAt.Time
	}
	return t, nil
}

func numericToFloat(n pgtype.Numeric) float64 {
	f, _ := n.Float64Value()
	return f.Float64
}

func floatToNumeric(f float64) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(strconv.FormatFloat(f, 'f', -1, 64)); err != nil {
		return pgtype.Numeric{}, fmt.Errorf("transfers: encode numeric: %w", err)
	}
	return n, nil
}
