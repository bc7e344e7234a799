package billing

import (
	"fmt"

	"github.com/freightledger/ledger/internal/money"
	"github.com/freightledger/ledger/internal/shared"
)

var allowedTransitions = map[InvoiceStatus][]InvoiceStatus{
	StatusDraft:         {StatusApproved, StatusCancelled},
	StatusApproved:      {StatusSent, StatusCancelled},
	StatusSent:          {StatusPartiallyPaid, StatusPaid, StatusCancelled},
	StatusPartiallyPaid: {StatusSent, StatusPaid, StatusCancelled},
}

// CheckTransition validates moving inv to target against the current state
// and the guards of the edge. It never mutates inv.
func CheckTransition(inv Invoice, target InvoiceStatus) error {
	from := inv.Status
	if !edgeExists(from, target) {
		return shared.InvalidTransition("invoice", inv.ID, string(from), string(target))
	}
	switch {
	case from == StatusDraft && target == StatusApproved:
		if len(inv.Lines) == 0 {
			return guardFailed(inv, target, "requires_lines", "invoice has no line items")
		}
		totals, err := recompute(inv.Lines)
		if err != nil {
			return err
		}
		if !money.WithinTolerance(totals.Subtotal, inv.Subtotal) ||
			!money.WithinTolerance(totals.Tax, inv.TaxAmount) ||
			!money.WithinTolerance(totals.Total, inv.TotalAmount) {
			return guardFailed(inv, target, "totals_consistent",
				fmt.Sprintf("stored total %s does not match lines total %s", inv.TotalAmount.StringFixed(2), totals.Total.StringFixed(2)))
		}
	case from == StatusApproved && target == StatusSent:
		if inv.PartialPaymentsAllowed && len(inv.Installments) == 0 {
			return guardFailed(inv, target, "requires_installments", "installment schedule is missing")
		}
	case target == StatusPartiallyPaid:
		paid := inv.PaidInstallments()
		if !inv.PartialPaymentsAllowed || paid < 1 || paid >= len(inv.Installments) {
			return guardFailed(inv, target, "some_installments_settled",
				fmt.Sprintf("%d of %d installments settled", paid, len(inv.Installments)))
		}
	case from == StatusPartiallyPaid && target == StatusSent:
		// Installments never revert to PENDING, so this edge always fails its guard.
		if inv.PaidInstallments() > 0 {
			return guardFailed(inv, target, "no_installment_settled", "settled installments cannot be reopened")
		}
	case target == StatusPaid:
		if inv.PartialPaymentsAllowed {
			if len(inv.Installments) == 0 || inv.PaidInstallments() != len(inv.Installments) {
				return guardFailed(inv, target, "all_installments_settled",
					fmt.Sprintf("%d of %d installments settled", inv.PaidInstallments(), len(inv.Installments)))
			}
		} else if inv.SettledAt == nil {
			return guardFailed(inv, target, "invoice_settled", "invoice has not been settled")
		}
	}
	return nil
}

// StatusAfterSettlement derives the status an invoice moves to once its
// installments changed. It returns the current status when no move applies.
func StatusAfterSettlement(inv Invoice) InvoiceStatus {
	if inv.Status != StatusSent && inv.Status != StatusPartiallyPaid {
		return inv.Status
	}
	paid := inv.PaidInstallments()
	switch {
	case paid > 0 && paid == len(inv.Installments):
		return StatusPaid
	case paid > 0:
		return StatusPartiallyPaid
	default:
		return inv.Status
	}
}

func edgeExists(from, to InvoiceStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func guardFailed(inv Invoice, target InvoiceStatus, rule, msg string) error {
	return &shared.Error{
		Kind:    shared.KindInvalidTransition,
		Entity:  "invoice",
		ID:      fmt.Sprint(inv.ID),
		Rule:    string(inv.Status) + "->" + string(target) + ":" + rule,
		Message: msg,
	}
}

func recompute(lines []LineItem) (money.Totals, error) {
	inputs := make([]money.LineInput, len(lines))
	for i, l := range lines {
		inputs[i] = l.input()
	}
	return money.ComputeTotals(inputs)
}
