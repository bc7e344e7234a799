package operations

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/freightledger/ledger/internal/shared"
)

// Service ingests operations published by the assignment workflow.
type Service struct {
	repo     Repository
	audit    shared.AuditPort
	notifier shared.ChangeNotifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the operations service.
func NewService(repo Repository, audit shared.AuditPort, notifier shared.ChangeNotifier, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if notifier == nil {
		notifier = shared.NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, notifier: notifier, logger: logger, now: time.Now}
}

// Upsert validates and stores an operation.
func (s *Service) Upsert(ctx context.Context, input UpsertInput) (Operation, error) {
	if err := shared.ValidateStruct("operation", input); err != nil {
		return Operation{}, err
	}
	status, err := ParseStatus(input.Status)
	if err != nil {
		return Operation{}, err
	}
	if input.SalePrice.IsNegative() {
		return Operation{}, shared.Validation("operation", "sale_price_non_negative", "sale price must not be negative")
	}
	if input.PurchasePrice.Valid && input.PurchasePrice.Decimal.IsNegative() {
		return Operation{}, shared.Validation("operation", "purchase_price_non_negative", "purchase price must not be negative")
	}
	if input.PurchasePrice.Valid && input.SubcontractorID == nil {
		return Operation{}, shared.Validation("operation", "purchase_requires_subcontractor", "purchase price requires a subcontractor")
	}
	if err := s.repo.CheckParties(ctx, input.TenantID, input.ClientID, input.SubcontractorID); err != nil {
		return Operation{}, err
	}
	op := Operation{
		TenantID:        input.TenantID,
		ClientID:        input.ClientID,
		SubcontractorID: input.SubcontractorID,
		Reference:       input.Reference,
		Date:            input.Date,
		Status:          status,
		SalePrice:       input.SalePrice.Round(2),
		PurchasePrice:   input.PurchasePrice,
	}
	if op.PurchasePrice.Valid {
		op.PurchasePrice.Decimal = op.PurchasePrice.Decimal.Round(2)
	}
	saved, err := s.repo.Upsert(ctx, op)
	if err != nil {
		return Operation{}, err
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: saved.TenantID,
		ActorID:  input.ActorID,
		Action:   "operation.upsert",
		Entity:   "operation",
		EntityID: strconv.FormatInt(saved.ID, 10),
		Meta:     map[string]any{"reference": saved.Reference, "status": saved.Status},
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit operation upsert", slog.Any("error", err))
	}
	if err := s.notifier.LedgerChanged(ctx, saved.TenantID); err != nil {
		s.logger.Warn("notify ledger change", slog.Any("error", err))
	}
	return saved, nil
}

// Get returns a single operation of the tenant.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Operation, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// List returns operations matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Operation, error) {
	if filter.TenantID <= 0 {
		return nil, shared.Validation("operation", "tenant_required", "tenant is required")
	}
	return s.repo.List(ctx, filter)
}
