package finance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freightledger/ledger/internal/billing"
	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/testing/memstore"
)

func bindAndSend(t *testing.T, store *memstore.Store) billing.Invoice {
	t.Helper()
	ops, err := store.Operations().List(context.Background(), operations.ListFilter{TenantID: tenant, Uninvoiced: true})
	require.NoError(t, err)
	require.NotEmpty(t, ops)

	svc := billing.NewService(store.Billing(), store, billing.Config{})
	svc.WithNow(func() time.Time { return now })
	inv, err := svc.BindOperations(context.Background(), billing.BindInput{
		TenantID: tenant, ClientID: ops[0].ClientID, OperationIDs: []int64{ops[0].ID},
	})
	require.NoError(t, err)
	for _, target := range []billing.InvoiceStatus{billing.StatusApproved, billing.StatusSent} {
		inv, err = svc.TransitionInvoice(context.Background(), billing.TransitionInput{TenantID: tenant, InvoiceID: inv.ID, Target: target})
		require.NoError(t, err)
	}
	return inv
}
