// Package money holds the pure line-item and tax arithmetic used by invoices.
package money

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/freightledger/ledger/internal/shared"
)

// Scale is the number of decimal places every amount is rounded to.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// LineInput describes one billable line before computation.
type LineInput struct {
	Quantity  int
	UnitPrice decimal.Decimal
	VATRate   decimal.Decimal
}

// LineAmounts are the derived amounts of a line.
type LineAmounts struct {
	Net   decimal.Decimal
	Tax   decimal.Decimal
	Total decimal.Decimal
}

// VATGroup aggregates lines sharing a VAT rate.
type VATGroup struct {
	Rate decimal.Decimal
	Base decimal.Decimal
	Tax  decimal.Decimal
}

// Totals are the invoice level aggregates of a set of lines.
type Totals struct {
	Lines      []LineAmounts
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
	VATSummary []VATGroup
}

// Round rounds an amount half away from zero to two places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Percent returns round(amount * pct / 100).
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// ComputeLine derives net, tax and total for a single line.
// Tax is taken as total minus net so that net + tax == total holds exactly.
func ComputeLine(in LineInput) (LineAmounts, error) {
	if err := validateLine(0, in); err != nil {
		return LineAmounts{}, err
	}
	return computeLine(in), nil
}

func computeLine(in LineInput) LineAmounts {
	gross := in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))
	net := Round(gross)
	total := Round(gross.Add(gross.Mul(in.VATRate).Div(hundred)))
	return LineAmounts{Net: net, Tax: total.Sub(net), Total: total}
}

// ComputeTotals computes every line and the invoice aggregates.
func ComputeTotals(lines []LineInput) (Totals, error) {
	totals := Totals{
		Lines:    make([]LineAmounts, 0, len(lines)),
		Subtotal: decimal.Zero,
		Tax:      decimal.Zero,
		Total:    decimal.Zero,
	}
	groups := make(map[string]*VATGroup)
	for i, line := range lines {
		if err := validateLine(i, line); err != nil {
			return Totals{}, err
		}
		amounts := computeLine(line)
		totals.Lines = append(totals.Lines, amounts)
		totals.Subtotal = totals.Subtotal.Add(amounts.Net)
		totals.Tax = totals.Tax.Add(amounts.Tax)
		totals.Total = totals.Total.Add(amounts.Total)

		key := line.VATRate.StringFixed(4)
		group, ok := groups[key]
		if !ok {
			group = &VATGroup{Rate: line.VATRate, Base: decimal.Zero, Tax: decimal.Zero}
			groups[key] = group
		}
		group.Base = group.Base.Add(amounts.Net)
		group.Tax = group.Tax.Add(amounts.Tax)
	}
	totals.VATSummary = make([]VATGroup, 0, len(groups))
	for _, g := range groups {
		totals.VATSummary = append(totals.VATSummary, *g)
	}
	sort.Slice(totals.VATSummary, func(i, j int) bool {
		return totals.VATSummary[i].Rate.LessThan(totals.VATSummary[j].Rate)
	})
	return totals, nil
}

// WithinTolerance reports whether a and b differ by at most one cent.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(decimal.New(1, -Scale))
}

func validateLine(index int, in LineInput) error {
	switch {
	case in.Quantity < 1:
		return shared.Validation("invoice_line", "quantity_min", "line %d: quantity must be at least 1", index)
	case in.UnitPrice.IsNegative():
		return shared.Validation("invoice_line", "unit_price_non_negative", "line %d: unit price must not be negative", index)
	case in.VATRate.IsNegative():
		return shared.Validation("invoice_line", "vat_rate_non_negative", "line %d: VAT rate must not be negative", index)
	}
	return nil
}
