package operations

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/freightledger/ledger/internal/platform/httpx"
)

// Handler exposes operation ingestion over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers operation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Put("/", h.upsert)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
}

type upsertRequest struct {
	ClientID        int64               `json:"client_id"`
	SubcontractorID *int64              `json:"subcontractor_id"`
	Reference       string              `json:"reference"`
	Date            httpx.Date          `json:"date"`
	Status          string              `json:"status"`
	SalePrice       decimal.Decimal     `json:"sale_price"`
	PurchasePrice   decimal.NullDecimal `json:"purchase_price"`
}

func (h *Handler) upsert(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req upsertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	op, err := h.service.Upsert(r.Context(), UpsertInput{
		TenantID:        id.TenantID,
		ClientID:        req.ClientID,
		SubcontractorID: req.SubcontractorID,
		Reference:       req.Reference,
		Date:            req.Date.Time,
		Status:          req.Status,
		SalePrice:       req.SalePrice,
		PurchasePrice:   req.PurchasePrice,
		ActorID:         id.ActorID,
	})
	if err != nil {
		h.logger.Warn("upsert operation", slog.String("reference", req.Reference), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, op)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	opID, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	op, err := h.service.Get(r.Context(), id.TenantID, opID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, op)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := ListFilter{TenantID: id.TenantID, Uninvoiced: r.URL.Query().Get("uninvoiced") == "true"}
	if filter.ClientID, err = httpx.QueryInt64(r, "client_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.SubcontractorID, err = httpx.QueryInt64(r, "subcontractor_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.From, err = httpx.QueryDate(r, "from"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = httpx.QueryDate(r, "to"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		if filter.Status, err = ParseStatus(raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	limit, err := httpx.QueryInt64(r, "limit")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	offset, err := httpx.QueryInt64(r, "offset")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Limit, filter.Offset = int(limit), int(offset)

	ops, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list operations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if ops == nil {
		ops = []Operation{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"operations": ops})
}
