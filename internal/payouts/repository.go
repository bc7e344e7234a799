package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freightledger/ledger/internal/numbering"
	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/platform/db"
	"github.com/freightledger/ledger/internal/shared"
)

// Repository defines payout data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetSubcontractor(ctx context.Context, tenantID, id int64) (Subcontractor, error)
	ListUnpaid(ctx context.Context, tenantID, subcontractorID int64, from, to *time.Time) ([]operations.Operation, error)
	GetPayment(ctx context.Context, tenantID, id int64) (Payment, error)
	ListPayments(ctx context.Context, filter ListFilter) ([]Payment, error)
}

// TxRepository defines operations within a serializable transaction.
type TxRepository interface {
	GetSubcontractor(ctx context.Context, tenantID, id int64) (Subcontractor, error)
	LockOperations(ctx context.Context, tenantID int64, ids []int64) ([]operations.Operation, error)
	NextNumber(ctx context.Context, tenantID int64, kind numbering.Kind) (string, error)
	InsertPayment(ctx context.Context, p *Payment) error
	LinkOperations(ctx context.Context, tenantID, paymentID int64, operationIDs []int64) error
}

var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const paymentColumns = `id, tenant_id, subcontractor_id, number, payment_date, total_amount, status, notes, created_by, created_at`

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL payout repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

func (r *pgRepository) GetSubcontractor(ctx context.Context, tenantID, id int64) (Subcontractor, error) {
	return getSubcontractor(ctx, r.pool, tenantID, id)
}

func (r *pgRepository) ListUnpaid(ctx context.Context, tenantID, subcontractorID int64, from, to *time.Time) ([]operations.Operation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+operations.Columns+` FROM operations
WHERE tenant_id = $1 AND subcontractor_id = $2
  AND purchase_price IS NOT NULL AND subcontractor_paid = FALSE
  AND ($3::date IS NULL OR operation_date >= $3)
  AND ($4::date IS NULL OR operation_date <= $4)
ORDER BY operation_date, id`, tenantID, subcontractorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("payouts: list unpaid: %w", err)
	}
	defer rows.Close()
	var out []operations.Operation
	for rows.Next() {
		op, err := operations.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("payouts: scan operation: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (r *pgRepository) GetPayment(ctx context.Context, tenantID, id int64) (Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM subcontractor_payments WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, shared.NotFound("subcontractor_payment", id)
	}
	if err != nil {
		return Payment{}, fmt.Errorf("payouts: get payment: %w", err)
	}
	if p.OperationIDs, err = loadOperationIDs(ctx, r.pool, id); err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (r *pgRepository) ListPayments(ctx context.Context, filter ListFilter) ([]Payment, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = shared.DefaultPageSize
	}
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM subcontractor_payments
WHERE tenant_id = $1 AND ($2 = 0 OR subcontractor_id = $2)
ORDER BY payment_date DESC, id DESC LIMIT $3 OFFSET $4`, filter.TenantID, filter.SubcontractorID, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("payouts: list payments: %w", err)
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("payouts: scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (t *pgTxRepository) GetSubcontractor(ctx context.Context, tenantID, id int64) (Subcontractor, error) {
	return getSubcontractor(ctx, t.tx, tenantID, id)
}

func (t *pgTxRepository) LockOperations(ctx context.Context, tenantID int64, ids []int64) ([]operations.Operation, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+operations.Columns+` FROM operations
WHERE tenant_id = $1 AND id = ANY($2) ORDER BY id FOR UPDATE`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("payouts: lock operations: %w", err)
	}
	defer rows.Close()
	var out []operations.Operation
	for rows.Next() {
		op, err := operations.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("payouts: scan operation: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (t *pgTxRepository) NextNumber(ctx context.Context, tenantID int64, kind numbering.Kind) (string, error) {
	return numbering.Next(ctx, t.tx, tenantID, kind)
}

func (t *pgTxRepository) InsertPayment(ctx context.Context, p *Payment) error {
	err := t.tx.QueryRow(ctx, `INSERT INTO subcontractor_payments
    (tenant_id, subcontractor_id, number, payment_date, total_amount, status, notes, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		p.TenantID, p.SubcontractorID, p.Number, p.PaymentDate, p.TotalAmount, string(p.Status), p.Notes, p.CreatedBy, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("payouts: insert payment: %w", err)
	}
	return nil
}

// LinkOperations claims the operations for the payment and flips their paid
// flag. A second claim fails on the link primary key or the conditional update.
func (t *pgTxRepository) LinkOperations(ctx context.Context, tenantID, paymentID int64, operationIDs []int64) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO subcontractor_payment_operations (operation_id, payment_id, tenant_id)
SELECT unnest($1::bigint[]), $2, $3`, operationIDs, paymentID, tenantID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == db.CodeUniqueViolation {
			return shared.Conflict("operation", pgErr.Detail, "already_paid", "operation is already linked to a subcontractor payment")
		}
		return fmt.Errorf("payouts: link operations: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `UPDATE operations
SET subcontractor_paid = TRUE, payment_status = 'PAID', subcontractor_payment_id = $1, updated_at = NOW()
WHERE tenant_id = $2 AND id = ANY($3) AND subcontractor_paid = FALSE`, paymentID, tenantID, operationIDs)
	if err != nil {
		return fmt.Errorf("payouts: mark operations paid: %w", err)
	}
	if tag.RowsAffected() != int64(len(operationIDs)) {
		return shared.Conflict("subcontractor_payment", paymentID, "already_paid",
			"%d of %d operations were paid concurrently", int64(len(operationIDs))-tag.RowsAffected(), len(operationIDs))
	}
	return nil
}

func getSubcontractor(ctx context.Context, q querier, tenantID, id int64) (Subcontractor, error) {
	var s Subcontractor
	err := q.QueryRow(ctx, `SELECT id, tenant_id, name FROM subcontractors WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&s.ID, &s.TenantID, &s.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subcontractor{}, shared.NotFound("subcontractor", id)
	}
	if err != nil {
		return Subcontractor{}, fmt.Errorf("payouts: get subcontractor: %w", err)
	}
	return s, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var status string
	if err := row.Scan(&p.ID, &p.TenantID, &p.SubcontractorID, &p.Number, &p.PaymentDate, &p.TotalAmount, &status,
		&p.Notes, &p.CreatedBy, &p.CreatedAt); err != nil {
		return Payment{}, err
	}
	p.Status = PaymentStatus(status)
	return p, nil
}

func loadOperationIDs(ctx context.Context, q querier, paymentID int64) ([]int64, error) {
	rows, err := q.Query(ctx, `SELECT operation_id FROM subcontractor_payment_operations WHERE payment_id = $1 ORDER BY operation_id`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("payouts: load operation links: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("payouts: scan operation links: %w", err)
	}
	return ids, nil
}
