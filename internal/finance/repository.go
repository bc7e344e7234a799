package finance

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/freightledger/ledger/internal/billing"
	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/payouts"
)

// Repository reads ledger snapshots.
type Repository interface {
	LoadSnapshot(ctx context.Context, tenantID int64) (Snapshot, error)
	ListTenants(ctx context.Context) ([]int64, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL snapshot loader. Queries run on the
// pool at the default read-committed level and take no locks.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) LoadSnapshot(ctx context.Context, tenantID int64) (Snapshot, error) {
	snap := Snapshot{TenantID: tenantID, ClientNames: map[int64]string{}}
	var installments map[int64][]billing.Installment

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ops, err := r.operations(gctx, tenantID)
		snap.Operations = ops
		return err
	})
	g.Go(func() error {
		invs, err := r.invoices(gctx, tenantID)
		snap.Invoices = invs
		return err
	})
	g.Go(func() error {
		inst, err := r.installments(gctx, tenantID)
		installments = inst
		return err
	})
	g.Go(func() error {
		payments, err := r.payments(gctx, tenantID)
		snap.Payments = payments
		return err
	})
	g.Go(func() error {
		names, err := r.clientNames(gctx, tenantID)
		snap.ClientNames = names
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, fmt.Errorf("finance: load snapshot: %w", err)
	}
	for i := range snap.Invoices {
		snap.Invoices[i].Installments = installments[snap.Invoices[i].ID]
	}
	return snap, nil
}

func (r *pgRepository) ListTenants(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM operations ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("finance: list tenants: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *pgRepository) operations(ctx context.Context, tenantID int64) ([]operations.Operation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+operations.Columns+` FROM operations WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []operations.Operation
	for rows.Next() {
		op, err := operations.Scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (r *pgRepository) invoices(ctx context.Context, tenantID int64) ([]billing.Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, client_id, number, issue_date, due_date, total_amount, status,
partial_payments_allowed, settled_at
FROM invoices WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []billing.Invoice
	for rows.Next() {
		inv := billing.Invoice{TenantID: tenantID}
		var status string
		if err := rows.Scan(&inv.ID, &inv.ClientID, &inv.Number, &inv.IssueDate, &inv.DueDate, &inv.TotalAmount,
			&status, &inv.PartialPaymentsAllowed, &inv.SettledAt); err != nil {
			return nil, err
		}
		inv.Status = billing.InvoiceStatus(status)
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *pgRepository) installments(ctx context.Context, tenantID int64) (map[int64][]billing.Installment, error) {
	rows, err := r.pool.Query(ctx, `SELECT ii.id, ii.invoice_id, ii.sequence, ii.amount, ii.due_date, ii.status, ii.paid_at
FROM invoice_installments ii JOIN invoices i ON i.id = ii.invoice_id
WHERE i.tenant_id = $1 ORDER BY ii.invoice_id, ii.sequence`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]billing.Installment)
	for rows.Next() {
		var inst billing.Installment
		var status string
		if err := rows.Scan(&inst.ID, &inst.InvoiceID, &inst.Sequence, &inst.Amount, &inst.DueDate, &status, &inst.PaidAt); err != nil {
			return nil, err
		}
		inst.Status = billing.InstallmentStatus(status)
		out[inst.InvoiceID] = append(out[inst.InvoiceID], inst)
	}
	return out, rows.Err()
}

func (r *pgRepository) payments(ctx context.Context, tenantID int64) ([]payouts.Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, subcontractor_id, number, payment_date, total_amount, status
FROM subcontractor_payments WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []payouts.Payment
	for rows.Next() {
		p := payouts.Payment{TenantID: tenantID}
		var status string
		if err := rows.Scan(&p.ID, &p.SubcontractorID, &p.Number, &p.PaymentDate, &p.TotalAmount, &status); err != nil {
			return nil, err
		}
		p.Status = payouts.PaymentStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *pgRepository) clientNames(ctx context.Context, tenantID int64) (map[int64]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM clients WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}
