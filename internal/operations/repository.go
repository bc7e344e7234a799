package operations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freightledger/ledger/internal/platform/db"
	"github.com/freightledger/ledger/internal/shared"
)

// Repository persists operations.
type Repository interface {
	CheckParties(ctx context.Context, tenantID, clientID int64, subcontractorID *int64) error
	Upsert(ctx context.Context, op Operation) (Operation, error)
	Get(ctx context.Context, tenantID, id int64) (Operation, error)
	List(ctx context.Context, filter ListFilter) ([]Operation, error)
}

// Columns is the canonical projection used by every package that scans operations.
const Columns = `id, tenant_id, client_id, subcontractor_id, reference, operation_date, status,
sale_price, purchase_price, invoice_id, subcontractor_paid, payment_status, subcontractor_payment_id,
created_at, updated_at`

// Scan reads one operation row selected with Columns.
func Scan(row pgx.Row) (Operation, error) {
	var op Operation
	var status, paymentStatus string
	err := row.Scan(&op.ID, &op.TenantID, &op.ClientID, &op.SubcontractorID, &op.Reference, &op.Date, &status,
		&op.SalePrice, &op.PurchasePrice, &op.InvoiceID, &op.SubcontractorPaid, &paymentStatus, &op.SubcontractorPaymentID,
		&op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		return Operation{}, err
	}
	op.Status = Status(status)
	op.PaymentStatus = PaymentStatus(paymentStatus)
	return op, nil
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

// CheckParties reports NotFound unless the client, and the subcontractor when
// set, belong to the tenant.
func (r *pgRepository) CheckParties(ctx context.Context, tenantID, clientID int64, subcontractorID *int64) error {
	var clientOK, subOK bool
	err := r.pool.QueryRow(ctx, `SELECT
    EXISTS (SELECT 1 FROM clients WHERE tenant_id = $1 AND id = $2),
    $3::BIGINT IS NULL OR EXISTS (SELECT 1 FROM subcontractors WHERE tenant_id = $1 AND id = $3)`,
		tenantID, clientID, subcontractorID).Scan(&clientOK, &subOK)
	if err != nil {
		return fmt.Errorf("operations: check parties: %w", err)
	}
	if !clientOK {
		return shared.NotFound("client", clientID)
	}
	if !subOK {
		return shared.NotFound("subcontractor", *subcontractorID)
	}
	return nil
}

// Upsert inserts or refreshes an operation keyed by tenant and reference.
// Once invoiced, client and sale price are frozen; once paid, carrier and
// purchase price are frozen. A frozen mismatch returns no row.
func (r *pgRepository) Upsert(ctx context.Context, op Operation) (Operation, error) {
	sql := `INSERT INTO operations (tenant_id, client_id, subcontractor_id, reference, operation_date, status, sale_price, purchase_price)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (tenant_id, reference) DO UPDATE SET
    client_id = EXCLUDED.client_id,
    subcontractor_id = EXCLUDED.subcontractor_id,
    operation_date = EXCLUDED.operation_date,
    status = EXCLUDED.status,
    sale_price = EXCLUDED.sale_price,
    purchase_price = EXCLUDED.purchase_price,
    updated_at = NOW()
WHERE (operations.invoice_id IS NULL
        OR (operations.client_id = EXCLUDED.client_id AND operations.sale_price = EXCLUDED.sale_price))
  AND (operations.subcontractor_paid = FALSE
        OR (operations.subcontractor_id IS NOT DISTINCT FROM EXCLUDED.subcontractor_id
            AND operations.purchase_price IS NOT DISTINCT FROM EXCLUDED.purchase_price))
RETURNING ` + Columns
	saved, err := Scan(r.pool.QueryRow(ctx, sql, op.TenantID, op.ClientID, op.SubcontractorID, op.Reference, op.Date,
		string(op.Status), op.SalePrice, op.PurchasePrice))
	if errors.Is(err, pgx.ErrNoRows) {
		return Operation{}, shared.Conflict("operation", op.Reference, "billing_fields_frozen",
			"operation is already invoiced or paid and its billed amounts cannot change")
	}
	if err != nil {
		return Operation{}, db.TranslateError(fmt.Errorf("operations: upsert: %w", err))
	}
	return saved, nil
}

func (r *pgRepository) Get(ctx context.Context, tenantID, id int64) (Operation, error) {
	op, err := Scan(r.pool.QueryRow(ctx, `SELECT `+Columns+` FROM operations WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Operation{}, shared.NotFound("operation", id)
	}
	if err != nil {
		return Operation{}, fmt.Errorf("operations: get: %w", err)
	}
	return op, nil
}

func (r *pgRepository) List(ctx context.Context, filter ListFilter) ([]Operation, error) {
	var (
		where = []string{"tenant_id = $1"}
		args  = []any{filter.TenantID}
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.ClientID > 0 {
		add("client_id = $%d", filter.ClientID)
	}
	if filter.SubcontractorID > 0 {
		add("subcontractor_id = $%d", filter.SubcontractorID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.From != nil {
		add("operation_date >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("operation_date <= $%d", *filter.To)
	}
	if filter.Uninvoiced {
		where = append(where, "invoice_id IS NULL")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = shared.DefaultPageSize
	}
	args = append(args, limit, filter.Offset)
	sql := fmt.Sprintf(`SELECT %s FROM operations WHERE %s ORDER BY operation_date, id LIMIT $%d OFFSET $%d`,
		Columns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("operations: list: %w", err)
	}
	defer rows.Close()
	var out []Operation
	for rows.Next() {
		op, err := Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("operations: scan: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}
