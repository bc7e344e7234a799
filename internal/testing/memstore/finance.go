package memstore

import (
	"context"
	"sort"

	"github.com/freightledger/ledger/internal/billing"
	"github.com/freightledger/ledger/internal/finance"
	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/payouts"
)

// Finance returns the store as a snapshot loader.
func (s *Store) Finance() finance.Repository {
	return financeRepo{s: s}
}

type financeRepo struct {
	s *Store
}

func (r financeRepo) LoadSnapshot(_ context.Context, tenantID int64) (finance.Snapshot, error) {
	snap := finance.Snapshot{TenantID: tenantID, ClientNames: map[int64]string{}}
	r.s.read(func(st *state) {
		for _, op := range st.operations {
			if op.TenantID == tenantID {
				snap.Operations = append(snap.Operations, op)
			}
		}
		for _, inv := range st.invoices {
			if inv.TenantID == tenantID {
				snap.Invoices = append(snap.Invoices, copyInvoice(inv))
			}
		}
		for _, p := range st.payments {
			if p.TenantID == tenantID {
				p.OperationIDs = append([]int64(nil), p.OperationIDs...)
				snap.Payments = append(snap.Payments, p)
			}
		}
		for _, c := range st.clients {
			if c.TenantID == tenantID {
				snap.ClientNames[c.ID] = c.Name
			}
		}
	})
	sortSnapshot(snap.Operations, snap.Invoices, snap.Payments)
	return snap, nil
}

func (r financeRepo) ListTenants(_ context.Context) ([]int64, error) {
	seen := map[int64]bool{}
	r.s.read(func(st *state) {
		for _, op := range st.operations {
			seen[op.TenantID] = true
		}
	})
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func sortSnapshot(ops []operations.Operation, invs []billing.Invoice, payments []payouts.Payment) {
	sort.Slice(ops, func(i, j int) bool { return ops[i].ID < ops[j].ID })
	sort.Slice(invs, func(i, j int) bool { return invs[i].ID < invs[j].ID })
	sort.Slice(payments, func(i, j int) bool { return payments[i].ID < payments[j].ID })
}
