package finance_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/freightledger/ledger/internal/finance"
	"github.com/freightledger/ledger/internal/shared"
	"github.com/freightledger/ledger/internal/testing/memstore"
)

const tenant int64 = 1

var now = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type countingRepo struct {
	finance.Repository
	loads atomic.Int32
}

func (c *countingRepo) LoadSnapshot(ctx context.Context, tenantID int64) (finance.Snapshot, error) {
	c.loads.Add(1)
	return c.Repository.LoadSnapshot(ctx, tenantID)
}

func seed(t *testing.T) *memstore.Store {
	t.Helper()
	store := memstore.New()
	client := store.AddClient(tenant, "Acme")
	sub := store.AddSubcontractor(tenant, "Rapid Haulage")
	store.AddOperation(memstore.OperationSeed{
		TenantID: tenant, ClientID: client, SubcontractorID: sub, Reference: "OP-1",
		Date: now.AddDate(0, 0, -20), SalePrice: "2500.00", PurchasePrice: "2000.00",
	})
	return store
}

func newCache(t *testing.T) (*finance.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return finance.NewCache(client, time.Minute), mr
}

func TestSummaryIsServedFromCacheUntilBumped(t *testing.T) {
	store := seed(t)
	repo := &countingRepo{Repository: store.Finance()}
	cache, mr := newCache(t)
	svc := finance.NewService(repo, cache, nil, nil)
	svc.WithNow(func() time.Time { return now })

	sum, err := svc.GetFinancialSummary(context.Background(), finance.SummaryRequest{TenantID: tenant})
	require.NoError(t, err)
	require.Equal(t, "2500.00", sum.Revenue.StringFixed(2))
	require.Equal(t, "20.00", sum.Margin.Percentage.StringFixed(2))
	require.Equal(t, "2000.00", sum.Expenses.Unpaid.StringFixed(2))
	require.Equal(t, "Acme", sum.TopClients[0].Name)

	_, err = svc.GetFinancialSummary(context.Background(), finance.SummaryRequest{TenantID: tenant})
	require.NoError(t, err)
	require.EqualValues(t, 1, repo.loads.Load())
	require.True(t, mr.Exists("finance:1:snapshot:1"))

	store.AddOperation(memstore.OperationSeed{TenantID: tenant, ClientID: 1, Reference: "OP-2", Date: now, SalePrice: "500.00"})
	require.NoError(t, svc.LedgerChanged(context.Background(), tenant))

	sum, err = svc.GetFinancialSummary(context.Background(), finance.SummaryRequest{TenantID: tenant})
	require.NoError(t, err)
	require.EqualValues(t, 2, repo.loads.Load())
	require.Equal(t, "3000.00", sum.Revenue.StringFixed(2))

	ver, err := cache.Version(context.Background(), tenant)
	require.NoError(t, err)
	require.EqualValues(t, 2, ver)
}

func TestOverdueIsRecomputedOnCachedSnapshot(t *testing.T) {
	store := seed(t)
	inv := bindAndSend(t, store)
	repo := &countingRepo{Repository: store.Finance()}
	cache, _ := newCache(t)
	svc := finance.NewService(repo, cache, nil, nil)

	alerts, err := svc.OverdueAlerts(context.Background(), tenant, inv.DueDate)
	require.NoError(t, err)
	require.Empty(t, alerts)

	alerts, err = svc.OverdueAlerts(context.Background(), tenant, inv.DueDate.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, inv.Number, alerts[0].Number)
	require.False(t, alerts[0].Critical)

	alerts, err = svc.OverdueAlerts(context.Background(), tenant, inv.DueDate.AddDate(0, 0, 61))
	require.NoError(t, err)
	require.True(t, alerts[0].Critical)
	require.EqualValues(t, 1, repo.loads.Load())
}

func TestSummaryWithoutCache(t *testing.T) {
	store := seed(t)
	repo := &countingRepo{Repository: store.Finance()}
	svc := finance.NewService(repo, nil, []int{15}, nil)
	svc.WithNow(func() time.Time { return now })

	sum, err := svc.GetFinancialSummary(context.Background(), finance.SummaryRequest{TenantID: tenant})
	require.NoError(t, err)
	require.Len(t, sum.Forecast, 1)
	require.Equal(t, 15, sum.Forecast[0].HorizonDays)

	_, err = svc.GetFinancialSummary(context.Background(), finance.SummaryRequest{TenantID: tenant})
	require.NoError(t, err)
	require.EqualValues(t, 2, repo.loads.Load())
	require.NoError(t, svc.LedgerChanged(context.Background(), tenant))
}

func TestSummaryValidation(t *testing.T) {
	svc := finance.NewService(memstore.New().Finance(), nil, nil, nil)
	_, err := svc.GetFinancialSummary(context.Background(), finance.SummaryRequest{})
	require.ErrorIs(t, err, shared.ErrValidation)

	from, to := now, now.AddDate(0, 0, -1)
	_, err = svc.GetFinancialSummary(context.Background(), finance.SummaryRequest{TenantID: tenant, From: &from, To: &to})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.GetFinancialSummary(context.Background(), finance.SummaryRequest{TenantID: tenant, Horizons: []int{-5}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTenants(t *testing.T) {
	store := seed(t)
	store.AddOperation(memstore.OperationSeed{TenantID: 7, ClientID: 1, Reference: "OP-1", Date: now, SalePrice: "1.00"})
	svc := finance.NewService(store.Finance(), nil, nil, nil)
	tenants, err := svc.Tenants(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{1, 7}, tenants)
}
