// Package payouts reconciles what is owed to subcontracted carriers against
// the operations they performed.
package payouts

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/freightledger/ledger/internal/operations"
)

// PaymentStatus enumerates subcontractor payment states.
type PaymentStatus string

// PaymentPaid is the only state: a payment is recorded once money left.
const PaymentPaid PaymentStatus = "PAID"

// Subcontractor is a tenant-scoped carrier.
type Subcontractor struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenant_id"`
	Name     string `json:"name"`
}

// Payment settles a set of operations for one subcontractor.
type Payment struct {
	ID              int64           `json:"id"`
	TenantID        int64           `json:"tenant_id"`
	SubcontractorID int64           `json:"subcontractor_id"`
	Number          string          `json:"number"`
	PaymentDate     time.Time       `json:"payment_date"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          PaymentStatus   `json:"status"`
	Notes           string          `json:"notes"`
	OperationIDs    []int64         `json:"operation_ids"`
	CreatedBy       int64           `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

// UnpaidInput selects operations awaiting payment.
type UnpaidInput struct {
	TenantID        int64 `validate:"required,gt=0"`
	SubcontractorID int64 `validate:"required,gt=0"`
	From            *time.Time
	To              *time.Time
}

// Unpaid lists operations awaiting payment and what they add up to.
type Unpaid struct {
	Subcontractor Subcontractor          `json:"subcontractor"`
	Operations    []operations.Operation `json:"operations"`
	Total         decimal.Decimal        `json:"total"`
}

// ReconcileInput selects the operations a payment settles.
type ReconcileInput struct {
	TenantID        int64   `validate:"required,gt=0"`
	SubcontractorID int64   `validate:"required,gt=0"`
	OperationIDs    []int64 `validate:"required,min=1,unique,dive,gt=0"`
	PaymentDate     *time.Time
	Notes           string `validate:"max=2000"`
	ActorID         int64
}

// ListFilter narrows payment listings.
type ListFilter struct {
	TenantID        int64
	SubcontractorID int64
	Limit           int
	Offset          int
}
