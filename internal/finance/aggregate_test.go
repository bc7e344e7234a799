package finance

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/freightledger/ledger/internal/billing"
	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/payouts"
)

var asOf = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func op(id, client int64, sale, purchase string, status operations.Status) operations.Operation {
	o := operations.Operation{
		ID:        id,
		ClientID:  client,
		Date:      asOf.AddDate(0, 0, -10),
		Status:    status,
		SalePrice: dec(sale),
	}
	if purchase != "" {
		o.PurchasePrice = decimal.NewNullDecimal(dec(purchase))
	}
	return o
}

func invoice(id, client int64, total string, status billing.InvoiceStatus, due time.Time) billing.Invoice {
	return billing.Invoice{ID: id, ClientID: client, Number: fmt.Sprintf("INV-%04d", id), TotalAmount: dec(total), Status: status, DueDate: due}
}

func TestSummarizeMarginAndProfit(t *testing.T) {
	snap := Snapshot{
		TenantID: 1,
		Operations: []operations.Operation{
			op(1, 10, "1000.00", "800.00", operations.StatusDelivered),
			op(2, 10, "1500.00", "1200.00", operations.StatusDelivered),
			op(3, 10, "300.00", "", operations.StatusDelivered),
			op(4, 11, "999.00", "100.00", operations.StatusCancelled),
		},
		Invoices: []billing.Invoice{invoice(1, 10, "2500.00", billing.StatusPaid, asOf)},
		Payments: []payouts.Payment{{ID: 1, TotalAmount: dec("2000.00"), Status: payouts.PaymentPaid}},
		ClientNames: map[int64]string{10: "Acme"},
	}
	snap.Operations[0].SubcontractorPaid = true
	snap.Operations[1].SubcontractorPaid = true

	sum := Summarize(snap, asOf, Options{})
	require.Equal(t, "2800.00", sum.Revenue.StringFixed(2))
	require.Equal(t, "500.00", sum.Margin.Amount.StringFixed(2))
	require.Equal(t, "20.00", sum.Margin.Percentage.StringFixed(2))
	require.Equal(t, 2, sum.Margin.Operations)
	require.Equal(t, 1, sum.Margin.MissingPurchase)
	require.Equal(t, "500.00", sum.Profit.Amount.StringFixed(2))
	require.Equal(t, "2000.00", sum.Expenses.Paid.StringFixed(2))
	require.True(t, sum.Expenses.Unpaid.IsZero())
	require.Len(t, sum.TopClients, 1)
	require.Equal(t, "Acme", sum.TopClients[0].Name)
	require.Empty(t, sum.Overdue)
}

func TestSummarizeEmptyLedger(t *testing.T) {
	sum := Summarize(Snapshot{TenantID: 3}, asOf, Options{})
	require.True(t, sum.Revenue.IsZero())
	require.True(t, sum.Margin.Percentage.IsZero())
	require.True(t, sum.Profit.Amount.IsZero())
	require.NotNil(t, sum.Overdue)
	require.NotNil(t, sum.TopClients)
	require.Len(t, sum.Forecast, len(DefaultHorizons))
	for _, b := range sum.Forecast {
		require.True(t, b.Amount.IsZero())
	}
}

func TestSummarizeDateScope(t *testing.T) {
	early := op(1, 10, "100.00", "50.00", operations.StatusDelivered)
	early.Date = asOf.AddDate(0, -2, 0)
	late := op(2, 10, "200.00", "100.00", operations.StatusDelivered)
	from := asOf.AddDate(0, -1, 0)

	sum := Summarize(Snapshot{Operations: []operations.Operation{early, late}}, asOf, Options{From: &from})
	require.Equal(t, "200.00", sum.Revenue.StringFixed(2))
	require.Equal(t, "50.00", sum.Margin.Percentage.StringFixed(2))
}

func TestMarginPercentage(t *testing.T) {
	require.True(t, MarginPercentage(dec("10"), decimal.Zero).IsZero())
	require.Equal(t, "33.33", MarginPercentage(dec("1"), dec("3")).StringFixed(2))
	require.Equal(t, "-25.00", MarginPercentage(dec("-25"), dec("100")).StringFixed(2))
}

func TestDetectOverdueBoundaries(t *testing.T) {
	day := 24 * time.Hour
	invoices := []billing.Invoice{
		invoice(1, 10, "100.00", billing.StatusSent, asOf),
		invoice(2, 10, "100.00", billing.StatusSent, asOf.Add(-time.Second)),
		invoice(3, 11, "100.00", billing.StatusSent, asOf.Add(-59*day)),
		invoice(4, 11, "100.00", billing.StatusPartiallyPaid, asOf.Add(-61*day)),
		invoice(5, 12, "100.00", billing.StatusSent, asOf.Add(-60*day)),
		invoice(6, 12, "100.00", billing.StatusPaid, asOf.Add(-90*day)),
		invoice(7, 12, "100.00", billing.StatusCancelled, asOf.Add(-90*day)),
	}
	alerts := DetectOverdue(invoices, map[int64]string{11: "Beta"}, asOf, 0)

	ids := make([]int64, len(alerts))
	for i, a := range alerts {
		ids[i] = a.InvoiceID
	}
	require.Equal(t, []int64{4, 5, 3, 2}, ids)

	require.Equal(t, 61, alerts[0].DaysOverdue)
	require.True(t, alerts[0].Critical)
	require.Equal(t, "Beta", alerts[0].ClientName)
	require.False(t, alerts[1].Critical)
	require.Equal(t, 60, alerts[1].DaysOverdue)
	require.False(t, alerts[2].Critical)
	require.Equal(t, 0, alerts[3].DaysOverdue)
	require.False(t, alerts[3].Critical)
}

func TestDetectOverdueUsesOutstandingAmount(t *testing.T) {
	inv := invoice(1, 10, "1000.00", billing.StatusPartiallyPaid, asOf.AddDate(0, 0, -5))
	inv.PartialPaymentsAllowed = true
	inv.Installments = []billing.Installment{
		{ID: 1, Sequence: 1, Amount: dec("600.00"), Status: billing.InstallmentPaid},
		{ID: 2, Sequence: 2, Amount: dec("400.00"), Status: billing.InstallmentPending},
	}
	alerts := DetectOverdue([]billing.Invoice{inv}, nil, asOf, DefaultCriticalAfter)
	require.Len(t, alerts, 1)
	require.Equal(t, "400.00", alerts[0].Outstanding.StringFixed(2))
}

func TestForecastCumulativeBuckets(t *testing.T) {
	invoices := []billing.Invoice{
		invoice(1, 10, "100.00", billing.StatusSent, asOf.AddDate(0, 0, 10)),
		invoice(2, 10, "200.00", billing.StatusApproved, asOf.AddDate(0, 0, 45)),
		invoice(3, 10, "300.00", billing.StatusSent, asOf.AddDate(0, 0, 90)),
		invoice(4, 10, "400.00", billing.StatusSent, asOf.AddDate(0, 0, 91)),
		invoice(5, 10, "50.00", billing.StatusSent, asOf.AddDate(0, 0, -1)),
		invoice(6, 10, "70.00", billing.StatusPaid, asOf.AddDate(0, 0, 5)),
	}
	buckets := Forecast(invoices, asOf, []int{90, 30, 60})
	require.Len(t, buckets, 3)
	require.Equal(t, 30, buckets[0].HorizonDays)
	require.Equal(t, "100.00", buckets[0].Amount.StringFixed(2))
	require.Equal(t, "300.00", buckets[1].Amount.StringFixed(2))
	require.Equal(t, "600.00", buckets[2].Amount.StringFixed(2))
	require.Equal(t, asOf.AddDate(0, 0, 90), buckets[2].Until)
}

func TestForecastUsesPendingInstallments(t *testing.T) {
	inv := invoice(1, 10, "1000.00", billing.StatusPartiallyPaid, asOf.AddDate(0, 0, 50))
	inv.PartialPaymentsAllowed = true
	inv.Installments = []billing.Installment{
		{ID: 1, Sequence: 1, Amount: dec("500.00"), DueDate: asOf.AddDate(0, 0, 5), Status: billing.InstallmentPaid},
		{ID: 2, Sequence: 2, Amount: dec("300.00"), DueDate: asOf.AddDate(0, 0, 20), Status: billing.InstallmentPending},
		{ID: 3, Sequence: 3, Amount: dec("200.00"), DueDate: asOf.AddDate(0, 0, 50), Status: billing.InstallmentPending},
	}
	buckets := Forecast([]billing.Invoice{inv}, asOf, []int{30, 60})
	require.Equal(t, "300.00", buckets[0].Amount.StringFixed(2))
	require.Equal(t, "500.00", buckets[1].Amount.StringFixed(2))
}

func TestRankingTiesAndTruncation(t *testing.T) {
	snap := Snapshot{
		Operations: []operations.Operation{
			op(1, 30, "500.00", "", operations.StatusDelivered),
			op(2, 20, "500.00", "", operations.StatusDelivered),
			op(3, 40, "900.00", "", operations.StatusDelivered),
			op(4, 50, "10.00", "", operations.StatusDelivered),
		},
		ClientNames: map[int64]string{20: "B", 30: "C", 40: "D"},
	}
	sum := Summarize(snap, asOf, Options{TopN: 3})
	require.Len(t, sum.TopClients, 3)
	require.Equal(t, int64(40), sum.TopClients[0].ClientID)
	require.Equal(t, int64(20), sum.TopClients[1].ClientID)
	require.Equal(t, int64(30), sum.TopClients[2].ClientID)
}

func TestSummarizeOverdueTotals(t *testing.T) {
	snap := Snapshot{
		Invoices: []billing.Invoice{
			invoice(1, 10, "100.00", billing.StatusSent, asOf.AddDate(0, 0, -70)),
			invoice(2, 11, "250.00", billing.StatusSent, asOf.AddDate(0, 0, -3)),
			invoice(3, 10, "50.00", billing.StatusSent, asOf.AddDate(0, 0, -1)),
		},
	}
	sum := Summarize(snap, asOf, Options{})
	require.Equal(t, "400.00", sum.OverdueTotal.StringFixed(2))
	require.Equal(t, 1, sum.CriticalCount)
	require.Len(t, sum.TopOverdueClients, 2)
	require.Equal(t, int64(11), sum.TopOverdueClients[0].ClientID)
	require.Equal(t, "150.00", sum.TopOverdueClients[1].Amount.StringFixed(2))
}
