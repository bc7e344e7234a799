package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/freightledger/ledger/internal/billing"
	"github.com/freightledger/ledger/internal/numbering"
	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/shared"
)

// Billing returns the store as a billing repository.
func (s *Store) Billing() billing.Repository {
	return billingRepo{s: s}
}

type billingRepo struct {
	s *Store
}

func (r billingRepo) WithTx(ctx context.Context, fn func(context.Context, billing.TxRepository) error) error {
	return r.s.withTx(func(st *state) error {
		return fn(ctx, &billingTx{st: st})
	})
}

func (r billingRepo) GetInvoice(_ context.Context, tenantID, id int64) (billing.Invoice, error) {
	var inv billing.Invoice
	var ok bool
	r.s.read(func(st *state) {
		inv, ok = st.invoices[id]
		if ok {
			inv = copyInvoice(inv)
		}
	})
	if !ok || inv.TenantID != tenantID {
		return billing.Invoice{}, shared.NotFound("invoice", id)
	}
	return inv, nil
}

func (r billingRepo) ListInvoices(_ context.Context, filter billing.ListFilter) ([]billing.Invoice, int, error) {
	var out []billing.Invoice
	r.s.read(func(st *state) {
		for _, inv := range st.invoices {
			if inv.TenantID != filter.TenantID {
				continue
			}
			if filter.ClientID > 0 && inv.ClientID != filter.ClientID {
				continue
			}
			if filter.Status != "" && inv.Status != filter.Status {
				continue
			}
			out = append(out, copyInvoice(inv))
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssueDate.Equal(out[j].IssueDate) {
			return out[i].IssueDate.After(out[j].IssueDate)
		}
		return out[i].ID > out[j].ID
	})
	total := len(out)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return out[start:end], total, nil
}

type billingTx struct {
	st *state
}

func (t *billingTx) LockClient(_ context.Context, tenantID, clientID int64) error {
	if c, ok := t.st.clients[clientID]; !ok || c.TenantID != tenantID {
		return shared.NotFound("client", clientID)
	}
	return nil
}

func (t *billingTx) LockOperations(_ context.Context, tenantID int64, ids []int64) ([]operations.Operation, error) {
	return lockOperations(t.st, tenantID, ids), nil
}

func (t *billingTx) NextNumber(_ context.Context, tenantID int64, kind numbering.Kind) (string, error) {
	return t.st.seq.Next(tenantID, kind), nil
}

func (t *billingTx) InsertInvoice(_ context.Context, inv *billing.Invoice) error {
	for _, existing := range t.st.invoices {
		if existing.TenantID == inv.TenantID && existing.Number == inv.Number {
			return shared.Conflict("invoice", inv.Number, "invoices_tenant_number_key", "invoice number already used")
		}
	}
	inv.ID = t.st.id()
	for i := range inv.Lines {
		inv.Lines[i].ID = t.st.id()
		inv.Lines[i].InvoiceID = inv.ID
	}
	t.st.invoices[inv.ID] = copyInvoice(*inv)
	return nil
}

func (t *billingTx) LinkOperations(_ context.Context, tenantID, invoiceID int64, operationIDs []int64) error {
	for _, id := range operationIDs {
		if _, taken := t.st.invoiceLinks[id]; taken {
			return shared.Conflict("operation", id, "already_invoiced", "operation is already linked to an invoice")
		}
		op, ok := t.st.operations[id]
		if !ok || op.TenantID != tenantID || op.InvoiceID != nil {
			return shared.Conflict("operation", id, "already_invoiced", "operation was claimed concurrently")
		}
		invID := invoiceID
		op.InvoiceID = &invID
		t.st.operations[id] = op
		t.st.invoiceLinks[id] = invoiceID
	}
	inv := t.st.invoices[invoiceID]
	inv.OperationIDs = append(inv.OperationIDs, operationIDs...)
	t.st.invoices[invoiceID] = inv
	return nil
}

func (t *billingTx) GetInvoiceForUpdate(_ context.Context, tenantID, id int64) (billing.Invoice, error) {
	inv, ok := t.st.invoices[id]
	if !ok || inv.TenantID != tenantID {
		return billing.Invoice{}, shared.NotFound("invoice", id)
	}
	return copyInvoice(inv), nil
}

func (t *billingTx) UpdateInvoice(_ context.Context, inv billing.Invoice) error {
	stored, ok := t.st.invoices[inv.ID]
	if !ok || stored.TenantID != inv.TenantID {
		return shared.NotFound("invoice", inv.ID)
	}
	stored.Status = inv.Status
	stored.Subtotal = inv.Subtotal
	stored.TaxAmount = inv.TaxAmount
	stored.TotalAmount = inv.TotalAmount
	stored.DueDate = inv.DueDate
	stored.Notes = inv.Notes
	stored.SettledAt = inv.SettledAt
	stored.UpdatedAt = inv.UpdatedAt
	t.st.invoices[inv.ID] = stored
	return nil
}

func (t *billingTx) ReplaceLines(_ context.Context, invoiceID int64, lines []billing.LineItem) ([]billing.LineItem, error) {
	out := append([]billing.LineItem(nil), lines...)
	for i := range out {
		out[i].ID = t.st.id()
		out[i].InvoiceID = invoiceID
	}
	stored := t.st.invoices[invoiceID]
	stored.Lines = append([]billing.LineItem(nil), out...)
	t.st.invoices[invoiceID] = stored
	return out, nil
}

func (t *billingTx) InsertInstallments(_ context.Context, invoiceID int64, installments []billing.Installment) ([]billing.Installment, error) {
	out := append([]billing.Installment(nil), installments...)
	for i := range out {
		out[i].ID = t.st.id()
		out[i].InvoiceID = invoiceID
	}
	stored := t.st.invoices[invoiceID]
	stored.Installments = append(stored.Installments, out...)
	t.st.invoices[invoiceID] = stored
	return out, nil
}

func (t *billingTx) MarkInstallmentPaid(_ context.Context, invoiceID, installmentID int64, paidAt time.Time) error {
	stored := t.st.invoices[invoiceID]
	for i, inst := range stored.Installments {
		if inst.ID != installmentID {
			continue
		}
		if inst.Status != billing.InstallmentPending {
			return shared.InvalidTransition("installment", installmentID, string(inst.Status), string(billing.InstallmentPaid))
		}
		at := paidAt
		stored.Installments[i].Status = billing.InstallmentPaid
		stored.Installments[i].PaidAt = &at
		t.st.invoices[invoiceID] = stored
		return nil
	}
	return shared.NotFound("installment", installmentID)
}

func (t *billingTx) AppendHistory(_ context.Context, entry billing.HistoryEntry) error {
	stored := t.st.invoices[entry.InvoiceID]
	stored.History = append(stored.History, entry)
	t.st.invoices[entry.InvoiceID] = stored
	return nil
}
