package memstore

import (
	"context"
	"sort"

	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/shared"
)

// Operations returns the store as an operations repository.
func (s *Store) Operations() operations.Repository {
	return operationsRepo{s: s}
}

type operationsRepo struct {
	s *Store
}

func (r operationsRepo) CheckParties(_ context.Context, tenantID, clientID int64, subcontractorID *int64) error {
	var err error
	r.s.read(func(st *state) {
		if c, ok := st.clients[clientID]; !ok || c.TenantID != tenantID {
			err = shared.NotFound("client", clientID)
			return
		}
		if subcontractorID != nil {
			_, err = getSubcontractor(st, tenantID, *subcontractorID)
		}
	})
	return err
}

func (r operationsRepo) Upsert(_ context.Context, op operations.Operation) (operations.Operation, error) {
	var saved operations.Operation
	err := r.s.withTx(func(st *state) error {
		for id, existing := range st.operations {
			if existing.TenantID != op.TenantID || existing.Reference != op.Reference {
				continue
			}
			if existing.Invoiced() && (existing.ClientID != op.ClientID || !existing.SalePrice.Equal(op.SalePrice)) {
				return frozen(op.Reference)
			}
			if existing.SubcontractorPaid && (!sameID(existing.SubcontractorID, op.SubcontractorID) ||
				!sameNullDecimal(existing, op)) {
				return frozen(op.Reference)
			}
			existing.ClientID = op.ClientID
			existing.SubcontractorID = op.SubcontractorID
			existing.Date = op.Date
			existing.Status = op.Status
			existing.SalePrice = op.SalePrice
			existing.PurchasePrice = op.PurchasePrice
			existing.UpdatedAt = op.UpdatedAt
			st.operations[id] = existing
			saved = existing
			return nil
		}
		op.ID = st.id()
		op.InvoiceID = nil
		op.SubcontractorPaid = false
		op.PaymentStatus = operations.PaymentUnpaid
		op.SubcontractorPaymentID = nil
		st.operations[op.ID] = op
		saved = op
		return nil
	})
	return saved, err
}

func (r operationsRepo) Get(_ context.Context, tenantID, id int64) (operations.Operation, error) {
	op, ok := r.s.Operation(id)
	if !ok || op.TenantID != tenantID {
		return operations.Operation{}, shared.NotFound("operation", id)
	}
	return op, nil
}

func (r operationsRepo) List(_ context.Context, f operations.ListFilter) ([]operations.Operation, error) {
	var out []operations.Operation
	r.s.read(func(st *state) {
		for _, op := range st.operations {
			switch {
			case op.TenantID != f.TenantID,
				f.ClientID > 0 && op.ClientID != f.ClientID,
				f.SubcontractorID > 0 && (op.SubcontractorID == nil || *op.SubcontractorID != f.SubcontractorID),
				f.Status != "" && op.Status != f.Status,
				f.From != nil && op.Date.Before(*f.From),
				f.To != nil && op.Date.After(*f.To),
				f.Uninvoiced && op.Invoiced():
				continue
			}
			out = append(out, op)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	limit := f.Limit
	if limit <= 0 {
		limit = shared.DefaultPageSize
	}
	start := min(f.Offset, len(out))
	end := min(start+limit, len(out))
	return out[start:end], nil
}

func frozen(reference string) error {
	return shared.Conflict("operation", reference, "billing_fields_frozen",
		"operation is already invoiced or paid and its billed amounts cannot change")
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameNullDecimal(a, b operations.Operation) bool {
	if a.PurchasePrice.Valid != b.PurchasePrice.Valid {
		return false
	}
	return !a.PurchasePrice.Valid || a.PurchasePrice.Decimal.Equal(b.PurchasePrice.Decimal)
}
