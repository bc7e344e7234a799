package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/freightledger/ledger/internal/billing"
	"github.com/freightledger/ledger/internal/finance"
	"github.com/freightledger/ledger/internal/observability"
	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/payouts"
	"github.com/freightledger/ledger/internal/testing/memstore"
	"github.com/freightledger/ledger/jobs"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newTestRouter(t *testing.T, pinger Pinger) (http.Handler, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	metrics := observability.NewMetrics()
	cfg := &Config{AppEnv: "development", RateLimitPerMinute: 1000}

	billingSvc := billing.NewService(store.Billing(), store, billing.Config{DefaultVATRate: decimal.NewFromInt(20)})
	billingSvc.WithMetrics(metrics.Ledger())
	payoutsSvc := payouts.NewService(store.Payouts(), store)
	financeSvc := finance.NewService(store.Finance(), nil, nil, logger)

	return NewRouter(RouterParams{
		Logger:            logger,
		Config:            cfg,
		Metrics:           metrics,
		Pool:              pinger,
		OperationsHandler: operations.NewHandler(logger, operations.NewService(store.Operations(), store, financeSvc, logger)),
		BillingHandler:    billing.NewHandler(logger, billingSvc),
		PayoutsHandler:    payouts.NewHandler(logger, payoutsSvc),
		FinanceHandler:    finance.NewHandler(logger, financeSvc),
		JobHandler:        jobs.NewHandler(nil, logger),
	}), store
}

func serve(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthz(t *testing.T) {
	h, _ := newTestRouter(t, stubPinger{})
	rr := serve(h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	h, _ = newTestRouter(t, stubPinger{err: errors.New("connection refused")})
	rr = serve(h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouterRequiresTenant(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	rr := serve(h, http.MethodGet, "/api/invoices", "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(h, http.MethodGet, "/api/invoices", "", map[string]string{HeaderTenantID: "abc"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(h, http.MethodGet, "/api/invoices", "", map[string]string{HeaderTenantID: "1", HeaderActorID: "-4"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouterLedgerFlow(t *testing.T) {
	h, store := newTestRouter(t, nil)
	client := store.AddClient(1, "Acme Logistics")
	headers := map[string]string{HeaderTenantID: "1", HeaderActorID: "7"}

	date := time.Now().UTC().AddDate(0, 0, -2).Format("2006-01-02")
	body := fmt.Sprintf(`{"client_id": %d, "reference": "OP-77", "date": %q, "status": "DELIVERED", "sale_price": "900.00"}`, client, date)
	rr := serve(h, http.MethodPut, "/api/operations", body, headers)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = serve(h, http.MethodGet, "/api/operations", "", headers)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "OP-77")

	rr = serve(h, http.MethodGet, "/api/finance/summary", "", headers)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = serve(h, http.MethodGet, "/api/invoices", "", map[string]string{HeaderTenantID: "2"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(h, http.MethodGet, "/jobs/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rr.Body.String())

	rr = serve(h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "ledger_http_requests_total")
}
