// Package operations holds the freight operations that feed invoicing and
// subcontractor payouts.
package operations

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freightledger/ledger/internal/shared"
)

// Status enumerates the lifecycle of a transport operation.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// PaymentStatus tracks whether the carrier was paid for the operation.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "UNPAID"
	PaymentPaid   PaymentStatus = "PAID"
)

var statusAliases = map[string]Status{
	"PENDING":     StatusPending,
	"EN_ATTENTE":  StatusPending,
	"CONFIRMED":   StatusConfirmed,
	"CONFIRMEE":   StatusConfirmed,
	"IN_PROGRESS": StatusInProgress,
	"EN_COURS":    StatusInProgress,
	"DELIVERED":   StatusDelivered,
	"LIVREE":      StatusDelivered,
	"CANCELLED":   StatusCancelled,
	"ANNULEE":     StatusCancelled,
}

// ParseStatus normalises legacy labels to the closed status enum.
func ParseStatus(raw string) (Status, error) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	if st, ok := statusAliases[key]; ok {
		return st, nil
	}
	return "", shared.Validation("operation", "status", "unknown operation status %q", raw)
}

// Operation is a transport job billed to a client and optionally
// subcontracted to a carrier.
type Operation struct {
	ID                     int64               `json:"id"`
	TenantID               int64               `json:"tenant_id"`
	ClientID               int64               `json:"client_id"`
	SubcontractorID        *int64              `json:"subcontractor_id,omitempty"`
	Reference              string              `json:"reference"`
	Date                   time.Time           `json:"date"`
	Status                 Status              `json:"status"`
	SalePrice              decimal.Decimal     `json:"sale_price"`
	PurchasePrice          decimal.NullDecimal `json:"purchase_price"`
	InvoiceID              *int64              `json:"invoice_id,omitempty"`
	SubcontractorPaid      bool                `json:"subcontractor_paid"`
	PaymentStatus          PaymentStatus       `json:"payment_status"`
	SubcontractorPaymentID *int64              `json:"subcontractor_payment_id,omitempty"`
	CreatedAt              time.Time           `json:"created_at"`
	UpdatedAt              time.Time           `json:"updated_at"`
}

// Margin returns sale minus purchase price when the purchase price is known.
func (o Operation) Margin() (decimal.Decimal, bool) {
	if !o.PurchasePrice.Valid {
		return decimal.Zero, false
	}
	return o.SalePrice.Sub(o.PurchasePrice.Decimal), true
}

// Invoiced reports whether the operation is already bound to an invoice.
func (o Operation) Invoiced() bool {
	return o.InvoiceID != nil
}

// UpsertInput carries the fields the assignment workflow may publish.
// Billing and payout links are owned by the ledger and cannot be set here.
type UpsertInput struct {
	TenantID        int64           `validate:"required,gt=0"`
	ClientID        int64           `validate:"required,gt=0"`
	SubcontractorID *int64          `validate:"omitempty,gt=0"`
	Reference       string          `validate:"required,max=64"`
	Date            time.Time       `validate:"required"`
	Status          string          `validate:"required"`
	SalePrice       decimal.Decimal
	PurchasePrice   decimal.NullDecimal
	ActorID         int64
}

// ListFilter narrows operation listings.
type ListFilter struct {
	TenantID        int64
	ClientID        int64
	SubcontractorID int64
	Status          Status
	From            *time.Time
	To              *time.Time
	Uninvoiced      bool
	Limit           int
	Offset          int
}
