package payouts_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/payouts"
	"github.com/freightledger/ledger/internal/shared"
	"github.com/freightledger/ledger/internal/testing/memstore"
)

const tenant int64 = 1

var clock = time.Date(2024, 2, 1, 15, 0, 0, 0, time.UTC)

type fixture struct {
	store *memstore.Store
	svc   *payouts.Service
	sub   int64
	other int64
	ops   []int64
}

type countingMetrics struct {
	mu        sync.Mutex
	recorded  int
	conflicts int
}

func (m *countingMetrics) PaymentRecorded() {
	m.mu.Lock()
	m.recorded++
	m.mu.Unlock()
}

func (m *countingMetrics) ReconcileConflict() {
	m.mu.Lock()
	m.conflicts++
	m.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	client := store.AddClient(tenant, "Acme Logistics")
	sub := store.AddSubcontractor(tenant, "Rapid Haulage")
	other := store.AddSubcontractor(tenant, "Slow Freight")
	ops := []int64{
		store.AddOperation(memstore.OperationSeed{TenantID: tenant, ClientID: client, SubcontractorID: sub, Reference: "OP-1",
			Date: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), SalePrice: "1000.00", PurchasePrice: "800.00"}),
		store.AddOperation(memstore.OperationSeed{TenantID: tenant, ClientID: client, SubcontractorID: sub, Reference: "OP-2",
			Date: time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC), SalePrice: "1500.00", PurchasePrice: "1200.00"}),
		store.AddOperation(memstore.OperationSeed{TenantID: tenant, ClientID: client, SubcontractorID: sub, Reference: "OP-3",
			Date: time.Date(2024, 1, 25, 0, 0, 0, 0, time.UTC), SalePrice: "400.00"}),
		store.AddOperation(memstore.OperationSeed{TenantID: tenant, ClientID: client, SubcontractorID: other, Reference: "OP-4",
			Date: time.Date(2024, 1, 26, 0, 0, 0, 0, time.UTC), SalePrice: "300.00", PurchasePrice: "250.00"}),
	}
	svc := payouts.NewService(store.Payouts(), store)
	svc.WithNow(func() time.Time { return clock })
	return &fixture{store: store, svc: svc, sub: sub, other: other, ops: ops}
}

func TestListUnpaid(t *testing.T) {
	f := newFixture(t)
	unpaid, err := f.svc.ListUnpaid(context.Background(), payouts.UnpaidInput{TenantID: tenant, SubcontractorID: f.sub})
	require.NoError(t, err)
	require.Equal(t, "Rapid Haulage", unpaid.Subcontractor.Name)
	require.Len(t, unpaid.Operations, 2)
	require.Equal(t, "OP-1", unpaid.Operations[0].Reference)
	require.Equal(t, "2000.00", unpaid.Total.StringFixed(2))

	from := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	unpaid, err = f.svc.ListUnpaid(context.Background(), payouts.UnpaidInput{TenantID: tenant, SubcontractorID: f.sub, From: &from})
	require.NoError(t, err)
	require.Len(t, unpaid.Operations, 1)
	require.Equal(t, "1200.00", unpaid.Total.StringFixed(2))

	_, err = f.svc.ListUnpaid(context.Background(), payouts.UnpaidInput{TenantID: 2, SubcontractorID: f.sub})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReconcileRecordsPayment(t *testing.T) {
	f := newFixture(t)
	metrics := &countingMetrics{}
	f.svc.WithMetrics(metrics)

	p, err := f.svc.Reconcile(context.Background(), payouts.ReconcileInput{
		TenantID: tenant, SubcontractorID: f.sub, OperationIDs: f.ops[:2], ActorID: 4, Notes: "January run",
	})
	require.NoError(t, err)
	require.Equal(t, "PAY-0001", p.Number)
	require.Equal(t, "2000.00", p.TotalAmount.StringFixed(2))
	require.Equal(t, payouts.PaymentPaid, p.Status)
	require.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), p.PaymentDate)
	require.Equal(t, 1, metrics.recorded)

	for _, id := range f.ops[:2] {
		op, ok := f.store.Operation(id)
		require.True(t, ok)
		require.True(t, op.SubcontractorPaid)
		require.Equal(t, operations.PaymentPaid, op.PaymentStatus)
		require.NotNil(t, op.SubcontractorPaymentID)
		require.Equal(t, p.ID, *op.SubcontractorPaymentID)
	}

	unpaid, err := f.svc.ListUnpaid(context.Background(), payouts.UnpaidInput{TenantID: tenant, SubcontractorID: f.sub})
	require.NoError(t, err)
	require.Empty(t, unpaid.Operations)
	require.True(t, unpaid.Total.IsZero())

	stored, err := f.svc.GetPayment(context.Background(), tenant, p.ID)
	require.NoError(t, err)
	require.Equal(t, f.ops[:2], stored.OperationIDs)

	logs := f.store.AuditLogs()
	require.Len(t, logs, 1)
	require.Equal(t, "subcontractor_payment.create", logs[0].Action)
}

func TestReconcileRejectsDoublePayment(t *testing.T) {
	f := newFixture(t)
	metrics := &countingMetrics{}
	f.svc.WithMetrics(metrics)

	_, err := f.svc.Reconcile(context.Background(), payouts.ReconcileInput{TenantID: tenant, SubcontractorID: f.sub, OperationIDs: f.ops[:1]})
	require.NoError(t, err)

	_, err = f.svc.Reconcile(context.Background(), payouts.ReconcileInput{TenantID: tenant, SubcontractorID: f.sub, OperationIDs: f.ops[:2]})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, 1, f.store.PaymentCount())
	require.Equal(t, 1, metrics.conflicts)

	op, _ := f.store.Operation(f.ops[1])
	require.False(t, op.SubcontractorPaid)
}

func TestReconcileValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]struct {
		in   payouts.ReconcileInput
		err  error
		rule string
	}{
		"no operations":      {payouts.ReconcileInput{TenantID: tenant, SubcontractorID: f.sub}, shared.ErrValidation, ""},
		"duplicates":         {payouts.ReconcileInput{TenantID: tenant, SubcontractorID: f.sub, OperationIDs: []int64{f.ops[0], f.ops[0]}}, shared.ErrValidation, ""},
		"other carrier":      {payouts.ReconcileInput{TenantID: tenant, SubcontractorID: f.sub, OperationIDs: []int64{f.ops[3]}}, shared.ErrValidation, "subcontractor_mismatch"},
		"no purchase price":  {payouts.ReconcileInput{TenantID: tenant, SubcontractorID: f.sub, OperationIDs: []int64{f.ops[2]}}, shared.ErrValidation, "purchase_price_required"},
		"unknown operation":  {payouts.ReconcileInput{TenantID: tenant, SubcontractorID: f.sub, OperationIDs: []int64{999}}, shared.ErrNotFound, ""},
		"unknown carrier":    {payouts.ReconcileInput{TenantID: tenant, SubcontractorID: 999, OperationIDs: f.ops[:1]}, shared.ErrNotFound, ""},
		"foreign tenant sub": {payouts.ReconcileInput{TenantID: 2, SubcontractorID: f.sub, OperationIDs: f.ops[:1]}, shared.ErrNotFound, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Reconcile(context.Background(), tc.in)
			require.ErrorIs(t, err, tc.err)
			if tc.rule != "" {
				se, ok := shared.AsError(err)
				require.True(t, ok)
				require.Equal(t, tc.rule, se.Rule)
			}
		})
	}
	require.Zero(t, f.store.PaymentCount())

	p, err := f.svc.Reconcile(context.Background(), payouts.ReconcileInput{TenantID: tenant, SubcontractorID: f.sub, OperationIDs: f.ops[:1]})
	require.NoError(t, err)
	require.Equal(t, "PAY-0001", p.Number)
}

func TestReconcileConcurrentPaymentsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	const workers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Reconcile(context.Background(), payouts.ReconcileInput{
				TenantID: tenant, SubcontractorID: f.sub, OperationIDs: f.ops[:2],
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, shared.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
	require.Equal(t, workers-1, conflicts)
	require.Equal(t, 1, f.store.PaymentCount())
}

func TestListPayments(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Reconcile(context.Background(), payouts.ReconcileInput{TenantID: tenant, SubcontractorID: f.sub, OperationIDs: f.ops[:1]})
	require.NoError(t, err)
	_, err = f.svc.Reconcile(context.Background(), payouts.ReconcileInput{TenantID: tenant, SubcontractorID: f.other, OperationIDs: f.ops[3:]})
	require.NoError(t, err)

	all, err := f.svc.ListPayments(context.Background(), payouts.ListFilter{TenantID: tenant})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "PAY-0002", all[0].Number)

	mine, err := f.svc.ListPayments(context.Background(), payouts.ListFilter{TenantID: tenant, SubcontractorID: f.sub})
	require.NoError(t, err)
	require.Len(t, mine, 1)

	_, err = f.svc.ListPayments(context.Background(), payouts.ListFilter{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.GetPayment(context.Background(), 2, all[0].ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
