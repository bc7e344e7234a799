package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/freightledger/ledger/internal/jobs"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	ledger          *LedgerMetrics
	jobs            *jobmetrics.Metrics
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	registry.MustRegister(requests, duration)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		ledger:          newLedgerMetrics(registry),
		jobs:            jobmetrics.NewMetrics(registry),
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Ledger returns the business event counters.
func (m *Metrics) Ledger() *LedgerMetrics {
	if m == nil {
		return nil
	}
	return m.ledger
}

// Jobs returns the background job collectors.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// LedgerMetrics counts invoicing and payout events. It satisfies the metrics
// ports of the billing and payouts services.
type LedgerMetrics struct {
	invoices     prometheus.Counter
	transitions  *prometheus.CounterVec
	installments prometheus.Counter
	payments     prometheus.Counter
	conflicts    *prometheus.CounterVec
}

func newLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		invoices: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_invoices_created_total",
			Help: "Invoices created from operations or explicit lines.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_invoice_transitions_total",
			Help: "Invoice status changes by target status.",
		}, []string{"to"}),
		installments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_installments_settled_total",
			Help: "Installments marked paid.",
		}),
		payments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_subcontractor_payments_total",
			Help: "Subcontractor payments recorded.",
		}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_conflicts_total",
			Help: "Rejected writes that would invoice or pay an operation twice.",
		}, []string{"operation"}),
	}
	registerer.MustRegister(m.invoices, m.transitions, m.installments, m.payments, m.conflicts)
	return m
}

func (m *LedgerMetrics) InvoiceBound() { m.invoices.Inc() }

func (m *LedgerMetrics) BindConflict() { m.conflicts.WithLabelValues("bind").Inc() }

func (m *LedgerMetrics) InvoiceTransitioned(to string) { m.transitions.WithLabelValues(to).Inc() }

func (m *LedgerMetrics) InstallmentSettled() { m.installments.Inc() }

func (m *LedgerMetrics) PaymentRecorded() { m.payments.Inc() }

func (m *LedgerMetrics) ReconcileConflict() { m.conflicts.WithLabelValues("reconcile").Inc() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
