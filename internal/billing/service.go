package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/freightledger/ledger/internal/money"
	"github.com/freightledger/ledger/internal/numbering"
	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/shared"
)

// Config holds the invoicing defaults applied when a bind request omits them.
type Config struct {
	DefaultVATRate         decimal.Decimal
	DefaultDueDays         int
	DefaultMaxInstallments int
}

// Metrics receives invoicing events.
type Metrics interface {
	InvoiceBound()
	BindConflict()
	InvoiceTransitioned(to string)
	InstallmentSettled()
}

type nopMetrics struct{}

func (nopMetrics) InvoiceBound()              {}
func (nopMetrics) BindConflict()              {}
func (nopMetrics) InvoiceTransitioned(string) {}
func (nopMetrics) InstallmentSettled()        {}

// Service orchestrates invoice creation and lifecycle.
type Service struct {
	repo      Repository
	audit     shared.AuditPort
	cfg       Config
	notifier  shared.ChangeNotifier
	metrics   Metrics
	renderer  DocumentRenderer
	formatter money.Formatter
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the invoicing service.
func NewService(repo Repository, audit shared.AuditPort, cfg Config) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if cfg.DefaultDueDays <= 0 {
		cfg.DefaultDueDays = 30
	}
	if cfg.DefaultMaxInstallments <= 0 {
		cfg.DefaultMaxInstallments = 3
	}
	return &Service{
		repo:      repo,
		audit:     audit,
		cfg:       cfg,
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

// BindOperations creates a DRAFT invoice for a client from operations and/or
// explicit lines. Every check and write happens in one serializable
// transaction, so an operation is never invoiced twice.
func (s *Service) BindOperations(ctx context.Context, input BindInput) (Invoice, error) {
	if err := shared.ValidateStruct("invoice", input); err != nil {
		return Invoice{}, err
	}
	if len(input.OperationIDs) == 0 && len(input.Lines) == 0 {
		return Invoice{}, shared.Validation("invoice", "operations_or_lines", "an invoice needs operations or line items")
	}
	if input.VATRate.Valid && input.VATRate.Decimal.IsNegative() {
		return Invoice{}, shared.Validation("invoice", "vat_rate_non_negative", "VAT rate must not be negative")
	}
	if input.MinPaymentPercentage.IsNegative() || input.MinPaymentPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return Invoice{}, shared.Validation("invoice", "min_percentage_range", "minimum payment percentage must be within 0 and 100")
	}

	now := s.now()
	issue := dateOnly(now)
	if input.IssueDate != nil {
		issue = dateOnly(*input.IssueDate)
	}
	due := issue.AddDate(0, 0, s.cfg.DefaultDueDays)
	if input.DueDate != nil {
		due = dateOnly(*input.DueDate)
	}
	if due.Before(issue) {
		return Invoice{}, shared.Validation("invoice", "due_after_issue", "due date precedes issue date")
	}
	maxInstallments := input.MaxInstallments
	if maxInstallments == 0 {
		maxInstallments = s.cfg.DefaultMaxInstallments
	}
	vat := s.cfg.DefaultVATRate
	if input.VATRate.Valid {
		vat = input.VATRate.Decimal
	}

	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockClient(ctx, input.TenantID, input.ClientID); err != nil {
			return err
		}
		ops, err := tx.LockOperations(ctx, input.TenantID, input.OperationIDs)
		if err != nil {
			return err
		}
		ordered, err := checkBindable(input, ops)
		if err != nil {
			return err
		}

		drafts := input.Lines
		if len(drafts) == 0 {
			drafts = synthesizeLines(ordered, vat)
		} else if err := checkLineOperations(drafts, input.OperationIDs); err != nil {
			return err
		}
		lines, totals, err := buildLines(drafts)
		if err != nil {
			return err
		}
		if input.PartialPaymentsAllowed {
			if _, err := BuildSchedule(ScheduleInput{
				Total:                totals.Total,
				MinPaymentPercentage: input.MinPaymentPercentage,
				MaxInstallments:      maxInstallments,
				Start:                issue,
				End:                  due,
				CadenceDays:          input.InstallmentCadenceDays,
			}); err != nil {
				return err
			}
		}

		number, err := tx.NextNumber(ctx, input.TenantID, numbering.KindInvoice)
		if err != nil {
			return err
		}
		inv = Invoice{
			TenantID:               input.TenantID,
			ClientID:               input.ClientID,
			Number:                 number,
			IssueDate:              issue,
			DueDate:                due,
			Subtotal:               totals.Subtotal,
			TaxAmount:              totals.Tax,
			TotalAmount:            totals.Total,
			Status:                 StatusDraft,
			PartialPaymentsAllowed: input.PartialPaymentsAllowed,
			MinPaymentPercentage:   input.MinPaymentPercentage,
			MaxInstallments:        maxInstallments,
			InstallmentCadenceDays: input.InstallmentCadenceDays,
			Notes:                  input.Notes,
			CreatedBy:              input.ActorID,
			CreatedAt:              now,
			UpdatedAt:              now,
			Lines:                  lines,
		}
		if err := tx.InsertInvoice(ctx, &inv); err != nil {
			return err
		}
		entry := HistoryEntry{
			ID:        uuid.New(),
			InvoiceID: inv.ID,
			To:        StatusDraft,
			ActorID:   input.ActorID,
			Action:    "Invoice Created",
			At:        now,
		}
		if err := tx.AppendHistory(ctx, entry); err != nil {
			return err
		}
		if err := tx.LinkOperations(ctx, input.TenantID, inv.ID, input.OperationIDs); err != nil {
			return err
		}
		inv.History = []HistoryEntry{entry}
		inv.OperationIDs = append([]int64(nil), input.OperationIDs...)
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			s.metrics.BindConflict()
		}
		s.logger.Warn("bind operations", slog.Int64("tenant_id", input.TenantID), slog.Int64("client_id", input.ClientID), slog.Any("error", err))
		return Invoice{}, err
	}

	s.metrics.InvoiceBound()
	s.afterWrite(ctx, input.TenantID, input.ActorID, "invoice.create", inv.ID, map[string]any{
		"number":     inv.Number,
		"total":      inv.TotalAmount.StringFixed(2),
		"operations": inv.OperationIDs,
	})
	return inv, nil
}

// TransitionInvoice moves an invoice to target after re-reading its current
// state under a row lock. Approval of a partial-payment invoice also builds
// its installment schedule.
func (s *Service) TransitionInvoice(ctx context.Context, input TransitionInput) (Invoice, error) {
	if err := shared.ValidateStruct("invoice_transition", input); err != nil {
		return Invoice{}, err
	}
	var inv Invoice
	var from InvoiceStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetInvoiceForUpdate(ctx, input.TenantID, input.InvoiceID)
		if err != nil {
			return err
		}
		if err := CheckTransition(cur, input.Target); err != nil {
			return err
		}
		from = cur.Status
		if cur.Status == StatusDraft && input.Target == StatusApproved && cur.PartialPaymentsAllowed {
			schedule, err := BuildSchedule(ScheduleInput{
				Total:                cur.TotalAmount,
				MinPaymentPercentage: cur.MinPaymentPercentage,
				MaxInstallments:      cur.MaxInstallments,
				Start:                cur.IssueDate,
				End:                  cur.DueDate,
				CadenceDays:          cur.InstallmentCadenceDays,
			})
			if err != nil {
				return err
			}
			if cur.Installments, err = tx.InsertInstallments(ctx, cur.ID, schedule); err != nil {
				return err
			}
		}
		if err := s.applyStatus(ctx, tx, &cur, input.Target, input.ActorID, actionLabel(cur.Status, input.Target, input.Reason)); err != nil {
			return err
		}
		inv = cur
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}

	s.metrics.InvoiceTransitioned(string(inv.Status))
	s.afterWrite(ctx, input.TenantID, input.ActorID, "invoice.transition", inv.ID, map[string]any{
		"from": from,
		"to":   inv.Status,
	})
	return inv, nil
}

// SettleInstallment marks one installment paid and advances the invoice to
// PARTIALLY_PAID or PAID accordingly.
func (s *Service) SettleInstallment(ctx context.Context, input SettleInstallmentInput) (Invoice, error) {
	if err := shared.ValidateStruct("installment", input); err != nil {
		return Invoice{}, err
	}
	var inv Invoice
	var sequence int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetInvoiceForUpdate(ctx, input.TenantID, input.InvoiceID)
		if err != nil {
			return err
		}
		if cur.Status != StatusSent && cur.Status != StatusPartiallyPaid {
			return &shared.Error{
				Kind:    shared.KindInvalidTransition,
				Entity:  "invoice",
				ID:      strconv.FormatInt(cur.ID, 10),
				Rule:    string(cur.Status) + ":settle_installment",
				Message: fmt.Sprintf("installments cannot be settled while the invoice is %s", cur.Status),
			}
		}
		idx := -1
		for i, inst := range cur.Installments {
			if inst.ID == input.InstallmentID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return shared.NotFound("installment", input.InstallmentID)
		}
		if cur.Installments[idx].Status == InstallmentPaid {
			return shared.InvalidTransition("installment", input.InstallmentID, string(InstallmentPaid), string(InstallmentPaid))
		}
		paidAt := s.now()
		if input.PaidAt != nil {
			paidAt = *input.PaidAt
		}
		if err := tx.MarkInstallmentPaid(ctx, cur.ID, input.InstallmentID, paidAt); err != nil {
			return err
		}
		cur.Installments[idx].Status = InstallmentPaid
		cur.Installments[idx].PaidAt = &paidAt
		sequence = cur.Installments[idx].Sequence

		if next := StatusAfterSettlement(cur); next != cur.Status {
			if err := CheckTransition(cur, next); err != nil {
				return err
			}
			label := fmt.Sprintf("Installment %d Settled", sequence)
			if err := s.applyStatus(ctx, tx, &cur, next, input.ActorID, label); err != nil {
				return err
			}
		}
		inv = cur
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}

	s.metrics.InstallmentSettled()
	s.afterWrite(ctx, input.TenantID, input.ActorID, "invoice.installment.settle", inv.ID, map[string]any{
		"installment_id": input.InstallmentID,
		"sequence":       sequence,
		"status":         inv.Status,
	})
	return inv, nil
}

// SettleInvoice records full payment of an invoice without a schedule.
func (s *Service) SettleInvoice(ctx context.Context, input SettleInvoiceInput) (Invoice, error) {
	if err := shared.ValidateStruct("invoice", input); err != nil {
		return Invoice{}, err
	}
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetInvoiceForUpdate(ctx, input.TenantID, input.InvoiceID)
		if err != nil {
			return err
		}
		if cur.PartialPaymentsAllowed {
			return shared.Validation("invoice", "partial_payments_enabled", "invoice %s is paid through its installments", cur.Number)
		}
		if cur.Status != StatusSent {
			return shared.InvalidTransition("invoice", cur.ID, string(cur.Status), string(StatusPaid))
		}
		paidAt := s.now()
		if input.PaidAt != nil {
			paidAt = *input.PaidAt
		}
		cur.SettledAt = &paidAt
		if err := CheckTransition(cur, StatusPaid); err != nil {
			return err
		}
		if err := s.applyStatus(ctx, tx, &cur, StatusPaid, input.ActorID, "Invoice Settled"); err != nil {
			return err
		}
		inv = cur
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}

	s.metrics.InvoiceTransitioned(string(StatusPaid))
	s.afterWrite(ctx, input.TenantID, input.ActorID, "invoice.settle", inv.ID, map[string]any{"total": inv.TotalAmount.StringFixed(2)})
	return inv, nil
}

// ReviseDraft replaces the lines of a DRAFT invoice and recomputes its totals.
func (s *Service) ReviseDraft(ctx context.Context, input ReviseDraftInput) (Invoice, error) {
	if err := shared.ValidateStruct("invoice", input); err != nil {
		return Invoice{}, err
	}
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetInvoiceForUpdate(ctx, input.TenantID, input.InvoiceID)
		if err != nil {
			return err
		}
		if cur.Status != StatusDraft {
			return &shared.Error{
				Kind:    shared.KindInvalidTransition,
				Entity:  "invoice",
				ID:      strconv.FormatInt(cur.ID, 10),
				Rule:    string(cur.Status) + ":lines_frozen",
				Message: "line items are immutable once the invoice leaves DRAFT",
			}
		}
		if err := checkLineOperations(input.Lines, cur.OperationIDs); err != nil {
			return err
		}
		lines, totals, err := buildLines(input.Lines)
		if err != nil {
			return err
		}
		if input.DueDate != nil {
			cur.DueDate = dateOnly(*input.DueDate)
			if cur.DueDate.Before(cur.IssueDate) {
				return shared.Validation("invoice", "due_after_issue", "due date precedes issue date")
			}
		}
		if input.Notes != nil {
			cur.Notes = *input.Notes
		}
		if cur.PartialPaymentsAllowed {
			if _, err := BuildSchedule(ScheduleInput{
				Total:                totals.Total,
				MinPaymentPercentage: cur.MinPaymentPercentage,
				MaxInstallments:      cur.MaxInstallments,
				Start:                cur.IssueDate,
				End:                  cur.DueDate,
				CadenceDays:          cur.InstallmentCadenceDays,
			}); err != nil {
				return err
			}
		}
		if cur.Lines, err = tx.ReplaceLines(ctx, cur.ID, lines); err != nil {
			return err
		}
		cur.Subtotal, cur.TaxAmount, cur.TotalAmount = totals.Subtotal, totals.Tax, totals.Total
		cur.UpdatedAt = s.now()
		if err := tx.UpdateInvoice(ctx, cur); err != nil {
			return err
		}
		inv = cur
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}

	s.afterWrite(ctx, input.TenantID, input.ActorID, "invoice.revise", inv.ID, map[string]any{"total": inv.TotalAmount.StringFixed(2)})
	return inv, nil
}

// GetInvoice returns an invoice with lines, installments and history.
func (s *Service) GetInvoice(ctx context.Context, tenantID, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, tenantID, id)
}

// ListInvoices returns invoice headers matching filter.
func (s *Service) ListInvoices(ctx context.Context, filter ListFilter, page, perPage int) ([]Invoice, shared.Pagination, error) {
	if filter.TenantID <= 0 {
		return nil, shared.Pagination{}, shared.Validation("invoice", "tenant_required", "tenant is required")
	}
	window := shared.NewPagination(page, perPage, 0)
	filter.Limit = window.PerPage
	filter.Offset = window.Offset()
	invoices, total, err := s.repo.ListInvoices(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return invoices, shared.NewPagination(window.Page, window.PerPage, total), nil
}

func (s *Service) applyStatus(ctx context.Context, tx TxRepository, inv *Invoice, target InvoiceStatus, actorID int64, action string) error {
	now := s.now()
	entry := HistoryEntry{
		ID:        uuid.New(),
		InvoiceID: inv.ID,
		From:      inv.Status,
		To:        target,
		ActorID:   actorID,
		Action:    action,
		At:        now,
	}
	inv.Status = target
	inv.UpdatedAt = now
	if err := tx.UpdateInvoice(ctx, *inv); err != nil {
		return err
	}
	if err := tx.AppendHistory(ctx, entry); err != nil {
		return err
	}
	inv.History = append(inv.History, entry)
	return nil
}

func (s *Service) afterWrite(ctx context.Context, tenantID, actorID int64, action string, invoiceID int64, meta map[string]any) {
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "invoice",
		EntityID: strconv.FormatInt(invoiceID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit invoice write", slog.String("action", action), slog.Any("error", err))
	}
	if err := s.notifier.LedgerChanged(ctx, tenantID); err != nil {
		s.logger.Warn("notify ledger change", slog.Any("error", err))
	}
}

func checkBindable(input BindInput, locked []operations.Operation) ([]operations.Operation, error) {
	byID := make(map[int64]operations.Operation, len(locked))
	for _, op := range locked {
		byID[op.ID] = op
	}
	ordered := make([]operations.Operation, 0, len(input.OperationIDs))
	for _, id := range input.OperationIDs {
		op, ok := byID[id]
		if !ok {
			return nil, shared.NotFound("operation", id)
		}
		if op.ClientID != input.ClientID {
			return nil, &shared.Error{
				Kind:    shared.KindValidation,
				Entity:  "operation",
				ID:      strconv.FormatInt(id, 10),
				Rule:    "client_mismatch",
				Message: fmt.Sprintf("operation %s belongs to client %d", op.Reference, op.ClientID),
			}
		}
		if op.Status == operations.StatusCancelled {
			return nil, &shared.Error{
				Kind:    shared.KindValidation,
				Entity:  "operation",
				ID:      strconv.FormatInt(id, 10),
				Rule:    "operation_cancelled",
				Message: fmt.Sprintf("operation %s is cancelled", op.Reference),
			}
		}
		if op.Invoiced() {
			return nil, shared.Conflict("operation", id, "already_invoiced", "operation %s is already on invoice %d", op.Reference, *op.InvoiceID)
		}
		ordered = append(ordered, op)
	}
	return ordered, nil
}

func checkLineOperations(lines []LineDraft, allowed []int64) error {
	set := make(map[int64]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}
	for i, line := range lines {
		if line.OperationID == nil {
			continue
		}
		if _, ok := set[*line.OperationID]; !ok {
			return shared.Validation("invoice_line", "operation_not_bound", "line %d references operation %d which is not bound to the invoice", i, *line.OperationID)
		}
	}
	return nil
}

func synthesizeLines(ops []operations.Operation, vat decimal.Decimal) []LineDraft {
	out := make([]LineDraft, len(ops))
	for i, op := range ops {
		id := op.ID
		out[i] = LineDraft{
			Description: fmt.Sprintf("Transport %s (%s)", op.Reference, op.Date.Format("2006-01-02")),
			Quantity:    1,
			UnitPrice:   op.SalePrice,
			VATRate:     vat,
			OperationID: &id,
		}
	}
	return out
}

func buildLines(drafts []LineDraft) ([]LineItem, money.Totals, error) {
	inputs := make([]money.LineInput, len(drafts))
	for i, d := range drafts {
		inputs[i] = money.LineInput{Quantity: d.Quantity, UnitPrice: d.UnitPrice, VATRate: d.VATRate}
	}
	totals, err := money.ComputeTotals(inputs)
	if err != nil {
		return nil, money.Totals{}, err
	}
	lines := make([]LineItem, len(drafts))
	for i, d := range drafts {
		amounts := totals.Lines[i]
		lines[i] = LineItem{
			Position:    i + 1,
			Description: d.Description,
			Quantity:    d.Quantity,
			UnitPrice:   d.UnitPrice,
			VATRate:     d.VATRate,
			NetAmount:   amounts.Net,
			TaxAmount:   amounts.Tax,
			LineTotal:   amounts.Total,
			OperationID: d.OperationID,
		}
	}
	return lines, totals, nil
}

func actionLabel(from, to InvoiceStatus, reason string) string {
	var label string
	switch to {
	case StatusApproved:
		label = "Invoice Approved"
	case StatusSent:
		if from == StatusPartiallyPaid {
			label = "Invoice Reopened"
		} else {
			label = "Invoice Sent"
		}
	case StatusPartiallyPaid:
		label = "Invoice Partially Paid"
	case StatusPaid:
		label = "Invoice Paid"
	case StatusCancelled:
		label = "Invoice Cancelled"
	default:
		label = "Invoice " + string(to)
	}
	if reason != "" {
		label += ": " + reason
	}
	return label
}
