package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/freightledger/ledger/internal/finance"
	jobmetrics "github.com/freightledger/ledger/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// FinanceService is the slice of the finance aggregator the jobs drive.
type FinanceService interface {
	Tenants(ctx context.Context) ([]int64, error)
	Warm(ctx context.Context, tenantID int64) error
	OverdueAlerts(ctx context.Context, tenantID int64, asOf time.Time) ([]finance.OverdueAlert, error)
}

// SummaryWarmupJob pre-populates the finance snapshot cache.
type SummaryWarmupJob struct {
	Finance     FinanceService
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
}

// NewSummaryWarmupJob wires dependencies for the warmup handler.
func NewSummaryWarmupJob(svc FinanceService, logger *slog.Logger, metrics *jobmetrics.Metrics) *SummaryWarmupJob {
	return &SummaryWarmupJob{Finance: svc, Logger: logger, Metrics: metrics, Concurrency: 4}
}

// Handle processes warmup tasks.
func (j *SummaryWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Finance == nil {
		return errors.New("summary warmup: handler not configured")
	}
	payload, err := decodeFinancePayload(t)
	if err != nil {
		return asynq.SkipRetry
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskFinanceSummaryWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskFinanceSummaryWarmup)
	start := time.Now()
	tenants, err := tenantsFor(ctx, j.Finance, payload)
	if err != nil {
		logger.Error("load warmup tenants", slog.Any("error", err))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := j.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, tenantID := range tenants {
		tenantID := tenantID
		g.Go(func() error {
			// Bound each tenant so one slow ledger cannot stall the run.
			tctx, cancel := context.WithTimeout(gctx, 20*time.Second)
			defer cancel()
			if err := j.Finance.Warm(tctx, tenantID); err != nil {
				logger.Error("warm tenant", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("completed summary warmup", slog.Int("tenants", len(tenants)), slog.Duration("duration", time.Since(start)))
	return nil
}

// OverdueScanJob counts overdue invoices per tenant and publishes gauges.
type OverdueScanJob struct {
	Finance FinanceService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewOverdueScanJob initialises the overdue scan handler.
func NewOverdueScanJob(svc FinanceService, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueScanJob {
	return &OverdueScanJob{
		Finance: svc,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the overdue scan.
func (j *OverdueScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Finance == nil {
		return errors.New("overdue scan: handler not configured")
	}
	payload, err := decodeFinancePayload(t)
	if err != nil {
		return asynq.SkipRetry
	}

	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskFinanceOverdueScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskFinanceOverdueScan)
	asOf := j.now()
	tenants, err := tenantsFor(ctx, j.Finance, payload)
	if err != nil {
		logger.Error("load scan tenants", slog.Any("error", err))
		return err
	}

	total := 0
	for _, tenantID := range tenants {
		alerts, err := j.Finance.OverdueAlerts(ctx, tenantID, asOf)
		if err != nil {
			logger.Error("scan tenant", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
			return err
		}
		critical := 0
		for _, a := range alerts {
			if !a.Critical {
				continue
			}
			critical++
			logger.Warn("critical overdue invoice",
				slog.Int64("tenant_id", tenantID),
				slog.String("number", a.Number),
				slog.String("client", a.ClientName),
				slog.Int("days_overdue", a.DaysOverdue),
				slog.String("outstanding", a.Outstanding.StringFixed(2)),
			)
		}
		metrics.SetOverdue(tenantID, len(alerts), critical)
		total += len(alerts)
	}

	logger.Info("completed overdue scan",
		slog.Int("tenants", len(tenants)),
		slog.Int("overdue", total),
		slog.Duration("duration", time.Since(asOf)),
	)
	return nil
}

func (j *OverdueScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func tenantsFor(ctx context.Context, svc FinanceService, payload FinancePayload) ([]int64, error) {
	if payload.TenantID > 0 {
		return []int64{payload.TenantID}, nil
	}
	return svc.Tenants(ctx)
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}
