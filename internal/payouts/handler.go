package payouts

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/freightledger/ledger/internal/platform/httpx"
	"github.com/freightledger/ledger/internal/shared"
)

// Handler exposes subcontractor payouts over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers payout routes under /subcontractors.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/unpaid", h.unpaid)
		r.Get("/payments", h.list)
		r.Post("/payments", h.reconcile)
		r.Get("/payments/{paymentID}", h.get)
		r.Get("/payments/{paymentID}/document", h.document)
	})
}

type reconcileRequest struct {
	OperationIDs []int64    `json:"operation_ids"`
	PaymentDate  httpx.Date `json:"payment_date"`
	Notes        string     `json:"notes"`
}

func (h *Handler) unpaid(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	subID, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, err := httpx.QueryDate(r, "from")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.QueryDate(r, "to")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ListUnpaid(r.Context(), UnpaidInput{TenantID: id.TenantID, SubcontractorID: subID, From: from, To: to})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	subID, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reconcileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := h.service.Reconcile(r.Context(), ReconcileInput{
		TenantID:        id.TenantID,
		SubcontractorID: subID,
		OperationIDs:    req.OperationIDs,
		PaymentDate:     req.PaymentDate.Ptr(),
		Notes:           req.Notes,
		ActorID:         id.ActorID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	subID, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
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
	payments, err := h.service.ListPayments(r.Context(), ListFilter{
		TenantID:        id.TenantID,
		SubcontractorID: subID,
		Limit:           int(limit),
		Offset:          int(offset),
	})
	if err != nil {
		h.logger.Error("list subcontractor payments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if payments == nil {
		payments = []Payment{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	paymentID, err := httpx.URLInt64(r, "paymentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	subID, err := httpx.URLInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := h.service.GetPayment(r.Context(), id.TenantID, paymentID)
	if err == nil && payment.SubcontractorID != subID {
		err = shared.NotFound("subcontractor_payment", paymentID)
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) document(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	paymentID, err := httpx.URLInt64(r, "paymentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pdf, filename, err := h.service.RenderDocument(r.Context(), id.TenantID, paymentID)
	if errors.Is(err, ErrRendererUnavailable) {
		httpx.Problem(w, http.StatusServiceUnavailable, "Renderer Unavailable", err.Error())
		return
	}
	if err != nil {
		h.logger.Error("render payment", slog.Int64("payment_id", paymentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.PDF(w, filename, pdf)
}
