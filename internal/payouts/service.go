package payouts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freightledger/ledger/internal/money"
	"github.com/freightledger/ledger/internal/numbering"
	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/shared"
)

// Metrics receives payout events.
type Metrics interface {
	PaymentRecorded()
	ReconcileConflict()
}

type nopMetrics struct{}

func (nopMetrics) PaymentRecorded()   {}
func (nopMetrics) ReconcileConflict() {}

// Service reconciles subcontractor payments.
type Service struct {
	repo      Repository
	audit     shared.AuditPort
	notifier  shared.ChangeNotifier
	metrics   Metrics
	renderer  DocumentRenderer
	formatter money.Formatter
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the payout service.
func NewService(repo Repository, audit shared.AuditPort) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	return &Service{
		repo:      repo,
		audit:     audit,
		notifier:  shared.NopNotifier{},
		metrics:   nopMetrics{},
		formatter: money.NewFormatter("en", ""),
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithNotifier registers the change notifier.
func (s *Service) WithNotifier(n shared.ChangeNotifier) {
	if n != nil {
		s.notifier = n
	}
}

// WithMetrics registers the metrics sink.
func (s *Service) WithMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// WithLogger overrides the logger.
func (s *Service) WithLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// WithDocuments registers the document renderer and amount formatter.
func (s *Service) WithDocuments(r DocumentRenderer, f money.Formatter) {
	s.renderer = r
	s.formatter = f
}

// ListUnpaid returns the operations of a subcontractor that carry a purchase
// price and have not been paid yet.
func (s *Service) ListUnpaid(ctx context.Context, input UnpaidInput) (Unpaid, error) {
	if err := shared.ValidateStruct("subcontractor", input); err != nil {
		return Unpaid{}, err
	}
	sub, err := s.repo.GetSubcontractor(ctx, input.TenantID, input.SubcontractorID)
	if err != nil {
		return Unpaid{}, err
	}
	ops, err := s.repo.ListUnpaid(ctx, input.TenantID, input.SubcontractorID, input.From, input.To)
	if err != nil {
		return Unpaid{}, err
	}
	total := decimal.Zero
	for _, op := range ops {
		total = total.Add(op.PurchasePrice.Decimal)
	}
	if ops == nil {
		ops = []operations.Operation{}
	}
	return Unpaid{Subcontractor: sub, Operations: ops, Total: money.Round(total)}, nil
}

// Reconcile records one payment covering the selected operations and flags
// each of them paid. An operation is never paid twice.
func (s *Service) Reconcile(ctx context.Context, input ReconcileInput) (Payment, error) {
	if err := shared.ValidateStruct("subcontractor_payment", input); err != nil {
		return Payment{}, err
	}
	now := s.now()
	paymentDate := dateOnly(now)
	if input.PaymentDate != nil {
		paymentDate = dateOnly(*input.PaymentDate)
	}

	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetSubcontractor(ctx, input.TenantID, input.SubcontractorID); err != nil {
			return err
		}
		ops, err := tx.LockOperations(ctx, input.TenantID, input.OperationIDs)
		if err != nil {
			return err
		}
		total, err := checkPayable(input, ops)
		if err != nil {
			return err
		}
		number, err := tx.NextNumber(ctx, input.TenantID, numbering.KindPayment)
		if err != nil {
			return err
		}
		payment = Payment{
			TenantID:        input.TenantID,
			SubcontractorID: input.SubcontractorID,
			Number:          number,
			PaymentDate:     paymentDate,
			TotalAmount:     total,
			Status:          PaymentPaid,
			Notes:           input.Notes,
			OperationIDs:    append([]int64(nil), input.OperationIDs...),
			CreatedBy:       input.ActorID,
			CreatedAt:       now,
		}
		if err := tx.InsertPayment(ctx, &payment); err != nil {
			return err
		}
		return tx.LinkOperations(ctx, input.TenantID, payment.ID, input.OperationIDs)
	})
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			s.metrics.ReconcileConflict()
		}
		s.logger.Warn("reconcile subcontractor", slog.Int64("tenant_id", input.TenantID),
			slog.Int64("subcontractor_id", input.SubcontractorID), slog.Any("error", err))
		return Payment{}, err
	}

	s.metrics.PaymentRecorded()
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: input.TenantID,
		ActorID:  input.ActorID,
		Action:   "subcontractor_payment.create",
		Entity:   "subcontractor_payment",
		EntityID: strconv.FormatInt(payment.ID, 10),
		Meta: map[string]any{
			"number":     payment.Number,
			"total":      payment.TotalAmount.StringFixed(2),
			"operations": payment.OperationIDs,
		},
		At: now,
	}); err != nil {
		s.logger.Warn("audit subcontractor payment", slog.Any("error", err))
	}
	if err := s.notifier.LedgerChanged(ctx, input.TenantID); err != nil {
		s.logger.Warn("notify ledger change", slog.Any("error", err))
	}
	return payment, nil
}

// GetPayment returns a single payment with its operation links.
func (s *Service) GetPayment(ctx context.Context, tenantID, id int64) (Payment, error) {
	return s.repo.GetPayment(ctx, tenantID, id)
}

// ListPayments returns payments, newest first.
func (s *Service) ListPayments(ctx context.Context, filter ListFilter) ([]Payment, error) {
	if filter.TenantID <= 0 {
		return nil, shared.Validation("subcontractor_payment", "tenant_required", "tenant is required")
	}
	return s.repo.ListPayments(ctx, filter)
}

func checkPayable(input ReconcileInput, locked []operations.Operation) (decimal.Decimal, error) {
	byID := make(map[int64]operations.Operation, len(locked))
	for _, op := range locked {
		byID[op.ID] = op
	}
	total := decimal.Zero
	for _, id := range input.OperationIDs {
		op, ok := byID[id]
		if !ok {
			return decimal.Zero, shared.NotFound("operation", id)
		}
		if op.SubcontractorID == nil || *op.SubcontractorID != input.SubcontractorID {
			return decimal.Zero, &shared.Error{
				Kind:    shared.KindValidation,
				Entity:  "operation",
				ID:      strconv.FormatInt(id, 10),
				Rule:    "subcontractor_mismatch",
				Message: fmt.Sprintf("operation %s is not assigned to subcontractor %d", op.Reference, input.SubcontractorID),
			}
		}
		if !op.PurchasePrice.Valid {
			return decimal.Zero, &shared.Error{
				Kind:    shared.KindValidation,
				Entity:  "operation",
				ID:      strconv.FormatInt(id, 10),
				Rule:    "purchase_price_required",
				Message: fmt.Sprintf("operation %s has no purchase price", op.Reference),
			}
		}
		if op.SubcontractorPaid {
			return decimal.Zero, shared.Conflict("operation", id, "already_paid", "operation %s is already paid", op.Reference)
		}
		total = total.Add(op.PurchasePrice.Decimal)
	}
	return money.Round(total), nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
