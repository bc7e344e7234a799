package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/freightledger/ledger/internal/money"
	"github.com/freightledger/ledger/internal/shared"
)

// ScheduleInput parameterises BuildSchedule.
type ScheduleInput struct {
	Total                decimal.Decimal
	MinPaymentPercentage decimal.Decimal
	MaxInstallments      int
	Start                time.Time
	End                  time.Time
	CadenceDays          int
}

// BuildSchedule splits total into installments. The first installment is at
// least MinPaymentPercentage of the total, the rest share the remainder and
// the final installment absorbs rounding, so amounts always sum to Total.
func BuildSchedule(in ScheduleInput) ([]Installment, error) {
	const entity = "installment_schedule"
	hundred := decimal.NewFromInt(100)
	switch {
	case in.MaxInstallments < 1:
		return nil, shared.Validation(entity, "max_installments_min", "max installments must be at least 1")
	case in.MinPaymentPercentage.IsNegative() || in.MinPaymentPercentage.GreaterThan(hundred):
		return nil, shared.Validation(entity, "min_percentage_range", "minimum payment percentage must be within 0 and 100")
	case !in.Total.IsPositive():
		return nil, shared.Validation(entity, "total_positive", "invoice total must be positive")
	case in.End.Before(in.Start):
		return nil, shared.Validation(entity, "due_after_issue", "due date precedes issue date")
	case in.CadenceDays < 0:
		return nil, shared.Validation(entity, "cadence_non_negative", "cadence must not be negative")
	}

	n := in.MaxInstallments
	if in.MinPaymentPercentage.IsPositive() {
		n = int(hundred.Div(in.MinPaymentPercentage).Ceil().IntPart())
		if n > in.MaxInstallments {
			return nil, shared.Validation(entity, "max_installments_exceeded",
				"minimum payment of %s%% needs %d installments but at most %d are allowed",
				in.MinPaymentPercentage.String(), n, in.MaxInstallments)
		}
	}

	amounts := splitAmounts(in.Total, in.MinPaymentPercentage, n)
	start := dateOnly(in.Start)
	end := dateOnly(in.End)
	span := int(end.Sub(start).Hours() / 24)

	out := make([]Installment, n)
	for i := range out {
		if !amounts[i].IsPositive() {
			return nil, shared.Validation(entity, "installment_positive",
				"installment %d would be %s", i+1, amounts[i].StringFixed(2))
		}
		seq := i + 1
		var due time.Time
		if in.CadenceDays > 0 {
			due = start.AddDate(0, 0, seq*in.CadenceDays)
		} else {
			due = start.AddDate(0, 0, span*seq/n)
		}
		out[i] = Installment{Sequence: seq, Amount: amounts[i], DueDate: due, Status: InstallmentPending}
	}
	return out, nil
}

func splitAmounts(total, minPct decimal.Decimal, n int) []decimal.Decimal {
	total = money.Round(total)
	if n == 1 {
		return []decimal.Decimal{total}
	}
	first := decimal.Max(money.Percent(total, minPct), money.Round(total.Div(decimal.NewFromInt(int64(n)))))
	rest := total.Sub(first)
	share := rest.Div(decimal.NewFromInt(int64(n - 1))).RoundDown(money.Scale)

	amounts := make([]decimal.Decimal, n)
	amounts[0] = first
	allocated := first
	for i := 1; i < n-1; i++ {
		amounts[i] = share
		allocated = allocated.Add(share)
	}
	amounts[n-1] = total.Sub(allocated)
	return amounts
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
