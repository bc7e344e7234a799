// Package finance derives revenue, margin, cash-flow and overdue metrics from
// a read-only snapshot of the ledger.
package finance

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freightledger/ledger/internal/billing"
	"github.com/freightledger/ledger/internal/money"
	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/payouts"
)

// Defaults applied by Summarize when options are left empty.
const (
	DefaultTopN          = 5
	DefaultCriticalAfter = 60 * 24 * time.Hour
)

// DefaultHorizons are the cash-flow forecast horizons in days.
var DefaultHorizons = []int{30, 60, 90}

// Snapshot is the tenant ledger state the aggregator reads.
type Snapshot struct {
	TenantID    int64                  `json:"tenant_id"`
	Operations  []operations.Operation `json:"operations"`
	Invoices    []billing.Invoice      `json:"invoices"`
	Payments    []payouts.Payment      `json:"payments"`
	ClientNames map[int64]string       `json:"client_names"`
}

// Options scope a summary.
type Options struct {
	From          *time.Time
	To            *time.Time
	Horizons      []int
	TopN          int
	CriticalAfter time.Duration
}

// Margin aggregates operations where both prices are known.
type Margin struct {
	Amount          decimal.Decimal `json:"amount"`
	Revenue         decimal.Decimal `json:"revenue"`
	Percentage      decimal.Decimal `json:"percentage"`
	Operations      int             `json:"operations"`
	MissingPurchase int             `json:"missing_purchase"`
}

// Profit compares cash received from clients with cash paid to carriers.
type Profit struct {
	PaidInvoices decimal.Decimal `json:"paid_invoices"`
	PaidPayouts  decimal.Decimal `json:"paid_payouts"`
	Amount       decimal.Decimal `json:"amount"`
}

// Expenses splits carrier costs into settled and still owed.
type Expenses struct {
	Paid   decimal.Decimal `json:"paid"`
	Unpaid decimal.Decimal `json:"unpaid"`
	Total  decimal.Decimal `json:"total"`
}

// ForecastBucket is the cumulative amount expected within a horizon.
type ForecastBucket struct {
	HorizonDays int             `json:"horizon_days"`
	Until       time.Time       `json:"until"`
	Amount      decimal.Decimal `json:"amount"`
}

// OverdueAlert flags an open invoice past its due date.
type OverdueAlert struct {
	InvoiceID   int64           `json:"invoice_id"`
	Number      string          `json:"number"`
	ClientID    int64           `json:"client_id"`
	ClientName  string          `json:"client_name"`
	DueDate     time.Time       `json:"due_date"`
	DaysOverdue int             `json:"days_overdue"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Critical    bool            `json:"critical"`
}

// ClientRank is one row of a top-N ranking.
type ClientRank struct {
	ClientID int64           `json:"client_id"`
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
}

// Summary is the full financial picture of a tenant at AsOf.
type Summary struct {
	TenantID          int64            `json:"tenant_id"`
	AsOf              time.Time        `json:"as_of"`
	Revenue           decimal.Decimal  `json:"revenue"`
	Margin            Margin           `json:"margin"`
	Profit            Profit           `json:"profit"`
	Expenses          Expenses         `json:"expenses"`
	Forecast          []ForecastBucket `json:"forecast"`
	Overdue           []OverdueAlert   `json:"overdue"`
	OverdueTotal      decimal.Decimal  `json:"overdue_total"`
	CriticalCount     int              `json:"critical_count"`
	TopClients        []ClientRank     `json:"top_clients"`
	TopOverdueClients []ClientRank     `json:"top_overdue_clients"`
}

// Summarize computes every metric from snap. It is a pure function of its
// inputs and tolerates empty ledgers and missing purchase prices.
func Summarize(snap Snapshot, asOf time.Time, opts Options) Summary {
	opts = withDefaults(opts)
	out := Summary{
		TenantID:          snap.TenantID,
		AsOf:              asOf,
		Forecast:          []ForecastBucket{},
		Overdue:           []OverdueAlert{},
		TopClients:        []ClientRank{},
		TopOverdueClients: []ClientRank{},
	}

	out.Revenue, out.Margin, out.TopClients = revenueAndMargin(snap, opts)
	out.Profit, out.Expenses = profitAndExpenses(snap)
	out.Forecast = Forecast(snap.Invoices, asOf, opts.Horizons)
	out.Overdue = DetectOverdue(snap.Invoices, snap.ClientNames, asOf, opts.CriticalAfter)

	out.OverdueTotal = decimal.Zero
	byClient := make(map[int64]decimal.Decimal)
	for _, alert := range out.Overdue {
		out.OverdueTotal = out.OverdueTotal.Add(alert.Outstanding)
		if alert.Critical {
			out.CriticalCount++
		}
		byClient[alert.ClientID] = byClient[alert.ClientID].Add(alert.Outstanding)
	}
	out.TopOverdueClients = rank(byClient, snap.ClientNames, opts.TopN)
	return out
}

func withDefaults(opts Options) Options {
	if len(opts.Horizons) == 0 {
		opts.Horizons = DefaultHorizons
	}
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	if opts.CriticalAfter <= 0 {
		opts.CriticalAfter = DefaultCriticalAfter
	}
	return opts
}

func inScope(op operations.Operation, opts Options) bool {
	if op.Status == operations.StatusCancelled {
		return false
	}
	if opts.From != nil && op.Date.Before(*opts.From) {
		return false
	}
	if opts.To != nil && op.Date.After(*opts.To) {
		return false
	}
	return true
}

func revenueAndMargin(snap Snapshot, opts Options) (decimal.Decimal, Margin, []ClientRank) {
	revenue := decimal.Zero
	margin := Margin{Amount: decimal.Zero, Revenue: decimal.Zero, Percentage: decimal.Zero}
	byClient := make(map[int64]decimal.Decimal)
	for _, op := range snap.Operations {
		if !inScope(op, opts) {
			continue
		}
		revenue = revenue.Add(op.SalePrice)
		byClient[op.ClientID] = byClient[op.ClientID].Add(op.SalePrice)
		m, ok := op.Margin()
		if !ok {
			margin.MissingPurchase++
			continue
		}
		margin.Operations++
		margin.Amount = margin.Amount.Add(m)
		margin.Revenue = margin.Revenue.Add(op.SalePrice)
	}
	margin.Percentage = MarginPercentage(margin.Amount, margin.Revenue)
	return money.Round(revenue), margin, rank(byClient, snap.ClientNames, opts.TopN)
}

// MarginPercentage returns margin / revenue * 100 rounded to two places, or
// zero when there is no revenue.
func MarginPercentage(margin, revenue decimal.Decimal) decimal.Decimal {
	if revenue.IsZero() {
		return decimal.Zero
	}
	return money.Round(margin.Mul(decimal.NewFromInt(100)).Div(revenue))
}

func profitAndExpenses(snap Snapshot) (Profit, Expenses) {
	profit := Profit{PaidInvoices: decimal.Zero, PaidPayouts: decimal.Zero}
	for _, inv := range snap.Invoices {
		if inv.Status == billing.StatusPaid {
			profit.PaidInvoices = profit.PaidInvoices.Add(inv.TotalAmount)
		}
	}
	for _, p := range snap.Payments {
		if p.Status == payouts.PaymentPaid {
			profit.PaidPayouts = profit.PaidPayouts.Add(p.TotalAmount)
		}
	}
	profit.Amount = profit.PaidInvoices.Sub(profit.PaidPayouts)

	expenses := Expenses{Paid: profit.PaidPayouts, Unpaid: decimal.Zero}
	for _, op := range snap.Operations {
		if op.PurchasePrice.Valid && !op.SubcontractorPaid && op.Status != operations.StatusCancelled {
			expenses.Unpaid = expenses.Unpaid.Add(op.PurchasePrice.Decimal)
		}
	}
	expenses.Total = expenses.Paid.Add(expenses.Unpaid)
	return profit, expenses
}

type duePoint struct {
	due    time.Time
	amount decimal.Decimal
}

func duePoints(inv billing.Invoice) []duePoint {
	if !inv.Status.Open() {
		return nil
	}
	if inv.PartialPaymentsAllowed && len(inv.Installments) > 0 {
		var out []duePoint
		for _, inst := range inv.Installments {
			if inst.Status == billing.InstallmentPending {
				out = append(out, duePoint{due: inst.DueDate, amount: inst.Amount})
			}
		}
		return out
	}
	outstanding := inv.Outstanding()
	if !outstanding.IsPositive() {
		return nil
	}
	return []duePoint{{due: inv.DueDate, amount: outstanding}}
}

// Forecast sums outstanding amounts due within each horizon from asOf.
// Buckets are cumulative: the 60 day bucket includes the 30 day one.
func Forecast(invoices []billing.Invoice, asOf time.Time, horizons []int) []ForecastBucket {
	if len(horizons) == 0 {
		horizons = DefaultHorizons
	}
	sorted := append([]int(nil), horizons...)
	sort.Ints(sorted)
	buckets := make([]ForecastBucket, len(sorted))
	for i, h := range sorted {
		buckets[i] = ForecastBucket{HorizonDays: h, Until: asOf.AddDate(0, 0, h), Amount: decimal.Zero}
	}
	for _, inv := range invoices {
		for _, p := range duePoints(inv) {
			if p.due.Before(asOf) {
				continue
			}
			for i := range buckets {
				if !p.due.After(buckets[i].Until) {
					buckets[i].Amount = buckets[i].Amount.Add(p.amount)
				}
			}
		}
	}
	return buckets
}

// DetectOverdue lists open invoices whose due date is before asOf, most
// overdue first.
func DetectOverdue(invoices []billing.Invoice, names map[int64]string, asOf time.Time, criticalAfter time.Duration) []OverdueAlert {
	if criticalAfter <= 0 {
		criticalAfter = DefaultCriticalAfter
	}
	out := []OverdueAlert{}
	for _, inv := range invoices {
		if !inv.Status.Open() || !inv.DueDate.Before(asOf) {
			continue
		}
		late := asOf.Sub(inv.DueDate)
		out = append(out, OverdueAlert{
			InvoiceID:   inv.ID,
			Number:      inv.Number,
			ClientID:    inv.ClientID,
			ClientName:  names[inv.ClientID],
			DueDate:     inv.DueDate,
			DaysOverdue: int(late / (24 * time.Hour)),
			Outstanding: inv.Outstanding(),
			Critical:    late > criticalAfter,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DaysOverdue != out[j].DaysOverdue {
			return out[i].DaysOverdue > out[j].DaysOverdue
		}
		return out[i].InvoiceID < out[j].InvoiceID
	})
	return out
}

func rank(amounts map[int64]decimal.Decimal, names map[int64]string, n int) []ClientRank {
	out := make([]ClientRank, 0, len(amounts))
	for id, amount := range amounts {
		out = append(out, ClientRank{ClientID: id, Name: names[id], Amount: money.Round(amount)})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].ClientID < out[j].ClientID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
