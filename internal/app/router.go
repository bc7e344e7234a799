package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/freightledger/ledger/internal/billing"
	"github.com/freightledger/ledger/internal/finance"
	"github.com/freightledger/ledger/internal/observability"
	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/payouts"
	"github.com/freightledger/ledger/jobs"
)

// Pinger reports storage liveness for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Metrics           *observability.Metrics
	Pool              Pinger
	OperationsHandler *operations.Handler
	BillingHandler    *billing.Handler
	PayoutsHandler    *payouts.Handler
	FinanceHandler    *finance.Handler
	JobHandler        *jobs.Handler
}

// NewRouter constructs the chi.Router with ledger defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Pool.Ping(ctx); err != nil {
				logger.Warn("healthz ping", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(IdentityMiddleware(logger))
		if params.OperationsHandler != nil {
			r.Route("/operations", params.OperationsHandler.MountRoutes)
		}
		if params.BillingHandler != nil {
			r.Route("/invoices", params.BillingHandler.MountRoutes)
		}
		if params.PayoutsHandler != nil {
			r.Route("/subcontractors", params.PayoutsHandler.MountRoutes)
		}
		if params.FinanceHandler != nil {
			r.Route("/finance", params.FinanceHandler.MountRoutes)
		}
	})

	return r
}
