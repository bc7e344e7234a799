package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/freightledger/ledger/internal/numbering"
	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/payouts"
	"github.com/freightledger/ledger/internal/shared"
)

// Payouts returns the store as a payouts repository.
func (s *Store) Payouts() payouts.Repository {
	return payoutsRepo{s: s}
}

type payoutsRepo struct {
	s *Store
}

func (r payoutsRepo) WithTx(ctx context.Context, fn func(context.Context, payouts.TxRepository) error) error {
	return r.s.withTx(func(st *state) error {
		return fn(ctx, &payoutsTx{st: st})
	})
}

func (r payoutsRepo) GetSubcontractor(_ context.Context, tenantID, id int64) (payouts.Subcontractor, error) {
	var sub payouts.Subcontractor
	var err error
	r.s.read(func(st *state) { sub, err = getSubcontractor(st, tenantID, id) })
	return sub, err
}

func (r payoutsRepo) ListUnpaid(_ context.Context, tenantID, subcontractorID int64, from, to *time.Time) ([]operations.Operation, error) {
	var out []operations.Operation
	r.s.read(func(st *state) {
		for _, op := range st.operations {
			if op.TenantID != tenantID || op.SubcontractorID == nil || *op.SubcontractorID != subcontractorID {
				continue
			}
			if !op.PurchasePrice.Valid || op.SubcontractorPaid {
				continue
			}
			if from != nil && op.Date.Before(*from) {
				continue
			}
			if to != nil && op.Date.After(*to) {
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
	return out, nil
}

func (r payoutsRepo) GetPayment(_ context.Context, tenantID, id int64) (payouts.Payment, error) {
	var p payouts.Payment
	var ok bool
	r.s.read(func(st *state) { p, ok = st.payments[id] })
	if !ok || p.TenantID != tenantID {
		return payouts.Payment{}, shared.NotFound("subcontractor_payment", id)
	}
	p.OperationIDs = append([]int64(nil), p.OperationIDs...)
	return p, nil
}

func (r payoutsRepo) ListPayments(_ context.Context, filter payouts.ListFilter) ([]payouts.Payment, error) {
	var out []payouts.Payment
	r.s.read(func(st *state) {
		for _, p := range st.payments {
			if p.TenantID != filter.TenantID {
				continue
			}
			if filter.SubcontractorID > 0 && p.SubcontractorID != filter.SubcontractorID {
				continue
			}
			p.OperationIDs = append([]int64(nil), p.OperationIDs...)
			out = append(out, p)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	start := min(filter.Offset, len(out))
	end := len(out)
	if filter.Limit > 0 {
		end = min(start+filter.Limit, len(out))
	}
	return out[start:end], nil
}

type payoutsTx struct {
	st *state
}

func (t *payoutsTx) GetSubcontractor(_ context.Context, tenantID, id int64) (payouts.Subcontractor, error) {
	return getSubcontractor(t.st, tenantID, id)
}

func (t *payoutsTx) LockOperations(_ context.Context, tenantID int64, ids []int64) ([]operations.Operation, error) {
	return lockOperations(t.st, tenantID, ids), nil
}

func (t *payoutsTx) NextNumber(_ context.Context, tenantID int64, kind numbering.Kind) (string, error) {
	return t.st.seq.Next(tenantID, kind), nil
}

func (t *payoutsTx) InsertPayment(_ context.Context, p *payouts.Payment) error {
	p.ID = t.st.id()
	stored := *p
	stored.OperationIDs = append([]int64(nil), p.OperationIDs...)
	t.st.payments[p.ID] = stored
	return nil
}

func (t *payoutsTx) LinkOperations(_ context.Context, tenantID, paymentID int64, operationIDs []int64) error {
	for _, id := range operationIDs {
		if _, taken := t.st.paymentLinks[id]; taken {
			return shared.Conflict("operation", id, "already_paid", "operation is already linked to a subcontractor payment")
		}
		op, ok := t.st.operations[id]
		if !ok || op.TenantID != tenantID || op.SubcontractorPaid {
			return shared.Conflict("operation", id, "already_paid", "operation was paid concurrently")
		}
		pid := paymentID
		op.SubcontractorPaid = true
		op.PaymentStatus = operations.PaymentPaid
		op.SubcontractorPaymentID = &pid
		t.st.operations[id] = op
		t.st.paymentLinks[id] = paymentID
	}
	return nil
}

func getSubcontractor(st *state, tenantID, id int64) (payouts.Subcontractor, error) {
	sub, ok := st.subcontractors[id]
	if !ok || sub.TenantID != tenantID {
		return payouts.Subcontractor{}, shared.NotFound("subcontractor", id)
	}
	return sub, nil
}
