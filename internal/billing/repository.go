package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freightledger/ledger/internal/numbering"
	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/platform/db"
	"github.com/freightledger/ledger/internal/shared"
)

// Repository defines invoice data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetInvoice(ctx context.Context, tenantID, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error)
}

// TxRepository defines operations within a serializable transaction.
type TxRepository interface {
	LockClient(ctx context.Context, tenantID, clientID int64) error
	LockOperations(ctx context.Context, tenantID int64, ids []int64) ([]operations.Operation, error)
	NextNumber(ctx context.Context, tenantID int64, kind numbering.Kind) (string, error)

	InsertInvoice(ctx context.Context, inv *Invoice) error
	LinkOperations(ctx context.Context, tenantID, invoiceID int64, operationIDs []int64) error
	GetInvoiceForUpdate(ctx context.Context, tenantID, id int64) (Invoice, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	ReplaceLines(ctx context.Context, invoiceID int64, lines []LineItem) ([]LineItem, error)

	InsertInstallments(ctx context.Context, invoiceID int64, installments []Installment) ([]Installment, error)
	MarkInstallmentPaid(ctx context.Context, invoiceID, installmentID int64, paidAt time.Time) error

	AppendHistory(ctx context.Context, entry HistoryEntry) error
}

var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const invoiceColumns = `id, tenant_id, client_id, number, issue_date, due_date, subtotal, tax_amount, total_amount,
status, partial_payments_allowed, min_payment_percentage, max_installments, installment_cadence_days,
settled_at, notes, created_by, created_at, updated_at`

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL invoice repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

func (r *pgRepository) GetInvoice(ctx context.Context, tenantID, id int64) (Invoice, error) {
	return loadInvoice(ctx, r.pool, tenantID, id, false)
}

func (r *pgRepository) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	where := []string{"tenant_id = $1"}
	args := []any{filter.TenantID}
	if filter.ClientID > 0 {
		args = append(args, filter.ClientID)
		where = append(where, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("billing: count invoices: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = shared.DefaultPageSize
	}
	args = append(args, limit, filter.Offset)
	sql := fmt.Sprintf(`SELECT %s FROM invoices WHERE %s ORDER BY issue_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		invoiceColumns, clause, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("billing: list invoices: %w", err)
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("billing: scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

// LockClient holds a key-share lock on the tenant's client so it cannot be
// removed before the invoice row references it.
func (t *pgTxRepository) LockClient(ctx context.Context, tenantID, clientID int64) error {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM clients WHERE tenant_id = $1 AND id = $2 FOR KEY SHARE`, tenantID, clientID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFound("client", clientID)
	}
	if err != nil {
		return fmt.Errorf("billing: lock client: %w", err)
	}
	return nil
}

func (t *pgTxRepository) LockOperations(ctx context.Context, tenantID int64, ids []int64) ([]operations.Operation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, `SELECT `+operations.Columns+` FROM operations
WHERE tenant_id = $1 AND id = ANY($2) ORDER BY id FOR UPDATE`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("billing: lock operations: %w", err)
	}
	defer rows.Close()
	var out []operations.Operation
	for rows.Next() {
		op, err := operations.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("billing: scan operation: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (t *pgTxRepository) NextNumber(ctx context.Context, tenantID int64, kind numbering.Kind) (string, error) {
	return numbering.Next(ctx, t.tx, tenantID, kind)
}

func (t *pgTxRepository) InsertInvoice(ctx context.Context, inv *Invoice) error {
	err := t.tx.QueryRow(ctx, `INSERT INTO invoices (
    tenant_id, client_id, number, issue_date, due_date, subtotal, tax_amount, total_amount, status,
    partial_payments_allowed, min_payment_percentage, max_installments, installment_cadence_days, notes, created_by,
    created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
RETURNING id`,
		inv.TenantID, inv.ClientID, inv.Number, inv.IssueDate, inv.DueDate, inv.Subtotal, inv.TaxAmount, inv.TotalAmount,
		string(inv.Status), inv.PartialPaymentsAllowed, inv.MinPaymentPercentage, inv.MaxInstallments,
		inv.InstallmentCadenceDays, inv.Notes, inv.CreatedBy, inv.CreatedAt,
	).Scan(&inv.ID)
	if err != nil {
		return fmt.Errorf("billing: insert invoice: %w", err)
	}
	lines, err := t.insertLines(ctx, inv.ID, inv.Lines)
	if err != nil {
		return err
	}
	inv.Lines = lines
	return nil
}

func (t *pgTxRepository) insertLines(ctx context.Context, invoiceID int64, lines []LineItem) ([]LineItem, error) {
	out := make([]LineItem, len(lines))
	for i, line := range lines {
		line.InvoiceID = invoiceID
		err := t.tx.QueryRow(ctx, `INSERT INTO invoice_lines (
    invoice_id, position, description, quantity, unit_price, vat_rate, net_amount, tax_amount, line_total, operation_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
			invoiceID, line.Position, line.Description, line.Quantity, line.UnitPrice, line.VATRate,
			line.NetAmount, line.TaxAmount, line.LineTotal, line.OperationID,
		).Scan(&line.ID)
		if err != nil {
			return nil, fmt.Errorf("billing: insert line %d: %w", line.Position, err)
		}
		out[i] = line
	}
	return out, nil
}

// LinkOperations claims the operations for the invoice. The link table
// primary key and the conditional update each reject a second claim.
func (t *pgTxRepository) LinkOperations(ctx context.Context, tenantID, invoiceID int64, operationIDs []int64) error {
	if len(operationIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO invoice_operations (operation_id, invoice_id, tenant_id)
SELECT unnest($1::bigint[]), $2, $3`, operationIDs, invoiceID, tenantID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == db.CodeUniqueViolation {
			return shared.Conflict("operation", formatIDs(operationIDs), "already_invoiced", "operation is already linked to an invoice")
		}
		return fmt.Errorf("billing: link operations: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `UPDATE operations SET invoice_id = $1, updated_at = NOW()
WHERE tenant_id = $2 AND id = ANY($3) AND invoice_id IS NULL`, invoiceID, tenantID, operationIDs)
	if err != nil {
		return fmt.Errorf("billing: mark operations invoiced: %w", err)
	}
	if tag.RowsAffected() != int64(len(operationIDs)) {
		return shared.Conflict("operation", formatIDs(operationIDs), "already_invoiced",
			"%d of %d operations were claimed concurrently", int64(len(operationIDs))-tag.RowsAffected(), len(operationIDs))
	}
	return nil
}

func (t *pgTxRepository) GetInvoiceForUpdate(ctx context.Context, tenantID, id int64) (Invoice, error) {
	return loadInvoice(ctx, t.tx, tenantID, id, true)
}

func (t *pgTxRepository) UpdateInvoice(ctx context.Context, inv Invoice) error {
	tag, err := t.tx.Exec(ctx, `UPDATE invoices SET
    status = $3, subtotal = $4, tax_amount = $5, total_amount = $6, due_date = $7, notes = $8,
    settled_at = $9, updated_at = $10
WHERE tenant_id = $1 AND id = $2`,
		inv.TenantID, inv.ID, string(inv.Status), inv.Subtotal, inv.TaxAmount, inv.TotalAmount, inv.DueDate, inv.Notes,
		inv.SettledAt, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("billing: update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("invoice", inv.ID)
	}
	return nil
}

func (t *pgTxRepository) ReplaceLines(ctx context.Context, invoiceID int64, lines []LineItem) ([]LineItem, error) {
	if _, err := t.tx.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, invoiceID); err != nil {
		return nil, fmt.Errorf("billing: clear lines: %w", err)
	}
	return t.insertLines(ctx, invoiceID, lines)
}

func (t *pgTxRepository) InsertInstallments(ctx context.Context, invoiceID int64, installments []Installment) ([]Installment, error) {
	out := make([]Installment, len(installments))
	for i, inst := range installments {
		inst.InvoiceID = invoiceID
		err := t.tx.QueryRow(ctx, `INSERT INTO invoice_installments (invoice_id, sequence, amount, due_date, status)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			invoiceID, inst.Sequence, inst.Amount, inst.DueDate, string(inst.Status)).Scan(&inst.ID)
		if err != nil {
			return nil, fmt.Errorf("billing: insert installment %d: %w", inst.Sequence, err)
		}
		out[i] = inst
	}
	return out, nil
}

func (t *pgTxRepository) MarkInstallmentPaid(ctx context.Context, invoiceID, installmentID int64, paidAt time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE invoice_installments SET status = 'PAID', paid_at = $3
WHERE invoice_id = $1 AND id = $2 AND status = 'PENDING'`, invoiceID, installmentID, paidAt)
	if err != nil {
		return fmt.Errorf("billing: settle installment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.InvalidTransition("installment", installmentID, string(InstallmentPaid), string(InstallmentPaid))
	}
	return nil
}

func (t *pgTxRepository) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO invoice_status_history (id, invoice_id, from_status, to_status, actor_id, action, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.InvoiceID, string(entry.From), string(entry.To), entry.ActorID, entry.Action, entry.At)
	if err != nil {
		return fmt.Errorf("billing: append history: %w", err)
	}
	return nil
}

func loadInvoice(ctx context.Context, q querier, tenantID, id int64, forUpdate bool) (Invoice, error) {
	sql := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.QueryRow(ctx, sql, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, shared.NotFound("invoice", id)
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("billing: get invoice: %w", err)
	}
	if inv.Lines, err = loadLines(ctx, q, id); err != nil {
		return Invoice{}, err
	}
	if inv.Installments, err = loadInstallments(ctx, q, id); err != nil {
		return Invoice{}, err
	}
	if inv.History, err = loadHistory(ctx, q, id); err != nil {
		return Invoice{}, err
	}
	if inv.OperationIDs, err = loadOperationIDs(ctx, q, id); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var status string
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.ClientID, &inv.Number, &inv.IssueDate, &inv.DueDate,
		&inv.Subtotal, &inv.TaxAmount, &inv.TotalAmount, &status, &inv.PartialPaymentsAllowed,
		&inv.MinPaymentPercentage, &inv.MaxInstallments, &inv.InstallmentCadenceDays, &inv.SettledAt,
		&inv.Notes, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return Invoice{}, err
	}
	inv.Status = InvoiceStatus(status)
	return inv, nil
}

func loadLines(ctx context.Context, q querier, invoiceID int64) ([]LineItem, error) {
	rows, err := q.Query(ctx, `SELECT id, invoice_id, position, description, quantity, unit_price, vat_rate,
net_amount, tax_amount, line_total, operation_id
FROM invoice_lines WHERE invoice_id = $1 ORDER BY position`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("billing: load lines: %w", err)
	}
	defer rows.Close()
	var out []LineItem
	for rows.Next() {
		var l LineItem
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.Position, &l.Description, &l.Quantity, &l.UnitPrice, &l.VATRate,
			&l.NetAmount, &l.TaxAmount, &l.LineTotal, &l.OperationID); err != nil {
			return nil, fmt.Errorf("billing: scan line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func loadInstallments(ctx context.Context, q querier, invoiceID int64) ([]Installment, error) {
	rows, err := q.Query(ctx, `SELECT id, invoice_id, sequence, amount, due_date, status, paid_at
FROM invoice_installments WHERE invoice_id = $1 ORDER BY sequence`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("billing: load installments: %w", err)
	}
	defer rows.Close()
	var out []Installment
	for rows.Next() {
		var inst Installment
		var status string
		if err := rows.Scan(&inst.ID, &inst.InvoiceID, &inst.Sequence, &inst.Amount, &inst.DueDate, &status, &inst.PaidAt); err != nil {
			return nil, fmt.Errorf("billing: scan installment: %w", err)
		}
		inst.Status = InstallmentStatus(status)
		out = append(out, inst)
	}
	return out, rows.Err()
}

func loadHistory(ctx context.Context, q querier, invoiceID int64) ([]HistoryEntry, error) {
	rows, err := q.Query(ctx, `SELECT id, invoice_id, from_status, to_status, actor_id, action, occurred_at
FROM invoice_status_history WHERE invoice_id = $1 ORDER BY occurred_at, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("billing: load history: %w", err)
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var from, to string
		if err := rows.Scan(&h.ID, &h.InvoiceID, &from, &to, &h.ActorID, &h.Action, &h.At); err != nil {
			return nil, fmt.Errorf("billing: scan history: %w", err)
		}
		h.From, h.To = InvoiceStatus(from), InvoiceStatus(to)
		out = append(out, h)
	}
	return out, rows.Err()
}

func loadOperationIDs(ctx context.Context, q querier, invoiceID int64) ([]int64, error) {
	rows, err := q.Query(ctx, `SELECT operation_id FROM invoice_operations WHERE invoice_id = $1 ORDER BY operation_id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("billing: load operation links: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("billing: scan operation links: %w", err)
	}
	return ids, nil
}

func formatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}
