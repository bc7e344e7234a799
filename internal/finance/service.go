package finance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/freightledger/ledger/internal/shared"
)

// SummaryRequest scopes a financial summary.
type SummaryRequest struct {
	TenantID int64 `validate:"required,gt=0"`
	AsOf     *time.Time
	From     *time.Time
	To       *time.Time
	Horizons []int `validate:"omitempty,max=12,dive,gt=0,lte=3650"`
	TopN     int   `validate:"gte=0,lte=100"`
}

// Service serves financial summaries. Snapshots are cached per tenant;
// metrics, including overdue status, are recomputed on every read.
type Service struct {
	repo     Repository
	cache    *Cache
	group    singleflight.Group
	horizons []int
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the aggregator service. cache may be nil.
func NewService(repo Repository, cache *Cache, horizons []int, logger *slog.Logger) *Service {
	if len(horizons) == 0 {
		horizons = DefaultHorizons
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, horizons: horizons, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetFinancialSummary returns revenue, margin, profit, forecast, overdue and
// ranking metrics for the tenant.
func (s *Service) GetFinancialSummary(ctx context.Context, req SummaryRequest) (Summary, error) {
	if err := shared.ValidateStruct("financial_summary", req); err != nil {
		return Summary{}, err
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return Summary{}, shared.Validation("financial_summary", "range_order", "to precedes from")
	}
	snap, err := s.Snapshot(ctx, req.TenantID)
	if err != nil {
		return Summary{}, err
	}
	asOf := s.now()
	if req.AsOf != nil {
		asOf = *req.AsOf
	}
	horizons := req.Horizons
	if len(horizons) == 0 {
		horizons = s.horizons
	}
	return Summarize(snap, asOf, Options{From: req.From, To: req.To, Horizons: horizons, TopN: req.TopN}), nil
}

// OverdueAlerts lists the tenant's overdue invoices at asOf.
func (s *Service) OverdueAlerts(ctx context.Context, tenantID int64, asOf time.Time) ([]OverdueAlert, error) {
	snap, err := s.Snapshot(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return DetectOverdue(snap.Invoices, snap.ClientNames, asOf, DefaultCriticalAfter), nil
}

// Snapshot returns the tenant ledger, from cache when the version is current.
// Concurrent misses for one tenant share a single load.
func (s *Service) Snapshot(ctx context.Context, tenantID int64) (Snapshot, error) {
	key, err := s.cache.BuildKey(ctx, tenantID, "snapshot")
	if err != nil {
		s.logger.Warn("finance cache key", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
		return s.repo.LoadSnapshot(ctx, tenantID)
	}
	res := s.group.DoChan(key, func() (any, error) {
		var snap Snapshot
		err := s.cache.FetchJSON(ctx, key, &snap, func(ctx context.Context) (any, error) {
			return s.repo.LoadSnapshot(ctx, tenantID)
		})
		return snap, err
	})
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case out := <-res:
		if out.Err != nil {
			return Snapshot{}, fmt.Errorf("finance: snapshot tenant %d: %w", tenantID, out.Err)
		}
		return out.Val.(Snapshot), nil
	}
}

// Warm loads the tenant snapshot into the cache.
func (s *Service) Warm(ctx context.Context, tenantID int64) error {
	_, err := s.Snapshot(ctx, tenantID)
	return err
}

// Tenants lists tenants that have ledger data.
func (s *Service) Tenants(ctx context.Context) ([]int64, error) {
	return s.repo.ListTenants(ctx)
}

// LedgerChanged invalidates the tenant's cached snapshot.
func (s *Service) LedgerChanged(ctx context.Context, tenantID int64) error {
	return s.cache.Bump(ctx, tenantID)
}

var _ shared.ChangeNotifier = (*Service)(nil)
