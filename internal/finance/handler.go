package finance

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/freightledger/ledger/internal/platform/httpx"
)

// Handler exposes financial aggregates over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers finance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/summary", h.summary)
	r.Get("/overdue", h.overdue)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req := SummaryRequest{TenantID: id.TenantID}
	if req.AsOf, err = httpx.QueryDate(r, "as_of"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.From, err = httpx.QueryDate(r, "from"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.To, err = httpx.QueryDate(r, "to"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	top, err := httpx.QueryInt64(r, "top")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.TopN = int(top)
	if raw := r.URL.Query().Get("horizons"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			days, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				httpx.RespondError(w, httpx.ErrBadRequest)
				return
			}
			req.Horizons = append(req.Horizons, days)
		}
	}
	summary, err := h.service.GetFinancialSummary(r.Context(), req)
	if err != nil {
		h.logger.Error("financial summary", slog.Int64("tenant_id", id.TenantID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) overdue(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf := h.service.now()
	if at, err := httpx.QueryDate(r, "as_of"); err != nil {
		httpx.RespondError(w, err)
		return
	} else if at != nil {
		asOf = *at
	}
	alerts, err := h.service.OverdueAlerts(r.Context(), id.TenantID, asOf)
	if err != nil {
		h.logger.Error("overdue alerts", slog.Int64("tenant_id", id.TenantID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"as_of": asOf, "alerts": alerts})
}
