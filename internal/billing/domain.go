// Package billing turns freight operations into client invoices and drives
// them through approval, sending and settlement.
package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/freightledger/ledger/internal/money"
)

// InvoiceStatus enumerates invoice lifecycle states.
type InvoiceStatus string

const (
	StatusDraft         InvoiceStatus = "DRAFT"
	StatusApproved      InvoiceStatus = "APPROVED"
	StatusSent          InvoiceStatus = "SENT"
	StatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	StatusPaid          InvoiceStatus = "PAID"
	StatusCancelled     InvoiceStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s InvoiceStatus) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Open reports whether the invoice still expects money.
func (s InvoiceStatus) Open() bool {
	return !s.Terminal()
}

// InstallmentStatus enumerates installment states.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPaid    InstallmentStatus = "PAID"
)

// LineItem is one billed line of an invoice.
type LineItem struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoice_id"`
	Position    int             `json:"position"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	NetAmount   decimal.Decimal `json:"net_amount"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	LineTotal   decimal.Decimal `json:"line_total"`
	OperationID *int64          `json:"operation_id,omitempty"`
}

func (l LineItem) input() money.LineInput {
	return money.LineInput{Quantity: l.Quantity, UnitPrice: l.UnitPrice, VATRate: l.VATRate}
}

// Installment is one scheduled partial payment.
type Installment struct {
	ID        int64             `json:"id"`
	InvoiceID int64             `json:"invoice_id"`
	Sequence  int               `json:"sequence"`
	Amount    decimal.Decimal   `json:"amount"`
	DueDate   time.Time         `json:"due_date"`
	Status    InstallmentStatus `json:"status"`
	PaidAt    *time.Time        `json:"paid_at,omitempty"`
}

// HistoryEntry is an immutable record of a status change.
type HistoryEntry struct {
	ID        uuid.UUID     `json:"id"`
	InvoiceID int64         `json:"invoice_id"`
	From      InvoiceStatus `json:"from"`
	To        InvoiceStatus `json:"to"`
	ActorID   int64         `json:"actor_id"`
	Action    string        `json:"action"`
	At        time.Time     `json:"at"`
}

// Invoice is a client invoice with its lines, schedule and audit trail.
type Invoice struct {
	ID                     int64           `json:"id"`
	TenantID               int64           `json:"tenant_id"`
	ClientID               int64           `json:"client_id"`
	Number                 string          `json:"number"`
	IssueDate              time.Time       `json:"issue_date"`
	DueDate                time.Time       `json:"due_date"`
	Subtotal               decimal.Decimal `json:"subtotal"`
	TaxAmount              decimal.Decimal `json:"tax_amount"`
	TotalAmount            decimal.Decimal `json:"total_amount"`
	Status                 InvoiceStatus   `json:"status"`
	PartialPaymentsAllowed bool            `json:"partial_payments_allowed"`
	MinPaymentPercentage   decimal.Decimal `json:"min_payment_percentage"`
	MaxInstallments        int             `json:"max_installments"`
	InstallmentCadenceDays int             `json:"installment_cadence_days"`
	SettledAt              *time.Time      `json:"settled_at,omitempty"`
	Notes                  string          `json:"notes"`
	CreatedBy              int64           `json:"created_by"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
	Lines                  []LineItem      `json:"lines"`
	Installments           []Installment   `json:"installments"`
	History                []HistoryEntry  `json:"history"`
	OperationIDs           []int64         `json:"operation_ids"`
}

// PaidInstallments counts settled installments.
func (inv Invoice) PaidInstallments() int {
	n := 0
	for _, inst := range inv.Installments {
		if inst.Status == InstallmentPaid {
			n++
		}
	}
	return n
}

// PaidAmount returns the amount already received.
func (inv Invoice) PaidAmount() decimal.Decimal {
	if inv.Status == StatusPaid {
		return inv.TotalAmount
	}
	if !inv.PartialPaymentsAllowed {
		if inv.SettledAt != nil {
			return inv.TotalAmount
		}
		return decimal.Zero
	}
	paid := decimal.Zero
	for _, inst := range inv.Installments {
		if inst.Status == InstallmentPaid {
			paid = paid.Add(inst.Amount)
		}
	}
	return paid
}

// Outstanding returns the amount still owed.
func (inv Invoice) Outstanding() decimal.Decimal {
	if inv.Status == StatusCancelled {
		return decimal.Zero
	}
	return inv.TotalAmount.Sub(inv.PaidAmount())
}

// LineDraft is a caller supplied line before amounts are derived.
type LineDraft struct {
	Description string          `json:"description" validate:"required,max=500"`
	Quantity    int             `json:"quantity" validate:"gte=1"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	OperationID *int64          `json:"operation_id,omitempty"`
}

// BindInput describes an invoice to create from operations and/or lines.
type BindInput struct {
	TenantID               int64 `validate:"required,gt=0"`
	ClientID               int64 `validate:"required,gt=0"`
	ActorID                int64
	OperationIDs           []int64     `validate:"omitempty,unique,dive,gt=0"`
	Lines                  []LineDraft `validate:"omitempty,dive"`
	IssueDate              *time.Time
	DueDate                *time.Time
	PartialPaymentsAllowed bool
	MinPaymentPercentage   decimal.Decimal
	MaxInstallments        int `validate:"gte=0"`
	InstallmentCadenceDays int `validate:"gte=0"`
	VATRate                decimal.NullDecimal
	Notes                  string `validate:"max=2000"`
}

// TransitionInput requests a status change.
type TransitionInput struct {
	TenantID  int64         `validate:"required,gt=0"`
	InvoiceID int64         `validate:"required,gt=0"`
	Target    InvoiceStatus `validate:"required,oneof=DRAFT APPROVED SENT PARTIALLY_PAID PAID CANCELLED"`
	ActorID   int64
	Reason    string `validate:"max=500"`
}

// SettleInstallmentInput marks one installment paid.
type SettleInstallmentInput struct {
	TenantID      int64 `validate:"required,gt=0"`
	InvoiceID     int64 `validate:"required,gt=0"`
	InstallmentID int64 `validate:"required,gt=0"`
	ActorID       int64
	PaidAt        *time.Time
}

// SettleInvoiceInput marks a non partial invoice paid in full.
type SettleInvoiceInput struct {
	TenantID  int64 `validate:"required,gt=0"`
	InvoiceID int64 `validate:"required,gt=0"`
	ActorID   int64
	PaidAt    *time.Time
}

// ReviseDraftInput replaces the lines and optionally the due date of a draft.
type ReviseDraftInput struct {
	TenantID  int64       `validate:"required,gt=0"`
	InvoiceID int64       `validate:"required,gt=0"`
	Lines     []LineDraft `validate:"required,min=1,dive"`
	DueDate   *time.Time
	Notes     *string
	ActorID   int64
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	TenantID int64
	ClientID int64
	Status   InvoiceStatus
	Limit    int
	Offset   int
}
