package billing

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/freightledger/ledger/internal/platform/httpx"
	"github.com/freightledger/ledger/internal/shared"
)

// Handler exposes invoicing over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.bind)
	r.Get("/", h.list)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/lines", h.revise)
		r.Post("/transitions", h.transition)
		r.Post("/settle", h.settle)
		r.Post("/installments/{installmentID}/settle", h.settleInstallment)
		r.Get("/document", h.document)
	})
}

type bindRequest struct {
	ClientID               int64               `json:"client_id"`
	OperationIDs           []int64             `json:"operation_ids"`
	Lines                  []LineDraft         `json:"lines"`
	IssueDate              httpx.Date          `json:"issue_date"`
	DueDate                httpx.Date          `json:"due_date"`
	PartialPaymentsAllowed bool                `json:"partial_payments_allowed"`
	MinPaymentPercentage   decimal.Decimal     `json:"min_payment_percentage"`
	MaxInstallments        int                 `json:"max_installments"`
	InstallmentCadenceDays int                 `json:"installment_cadence_days"`
	VATRate                decimal.NullDecimal `json:"vat_rate"`
	Notes                  string              `json:"notes"`
}

type transitionRequest struct {
	Target InvoiceStatus `json:"target"`
	Reason string        `json:"reason"`
}

type settleRequest struct {
	PaidAt httpx.Date `json:"paid_at"`
}

type reviseRequest struct {
	Lines   []LineDraft `json:"lines"`
	DueDate httpx.Date  `json:"due_date"`
	Notes   *string     `json:"notes"`
}

func (h *Handler) bind(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req bindRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.BindOperations(r.Context(), BindInput{
		TenantID:               id.TenantID,
		ClientID:               req.ClientID,
		ActorID:                id.ActorID,
		OperationIDs:           req.OperationIDs,
		Lines:                  req.Lines,
		IssueDate:              req.IssueDate.Ptr(),
		DueDate:                req.DueDate.Ptr(),
		PartialPaymentsAllowed: req.PartialPaymentsAllowed,
		MinPaymentPercentage:   req.MinPaymentPercentage,
		MaxInstallments:        req.MaxInstallments,
		InstallmentCadenceDays: req.InstallmentCadenceDays,
		VATRate:                req.VATRate,
		Notes:                  req.Notes,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := ListFilter{TenantID: id.TenantID, Status: InvoiceStatus(r.URL.Query().Get("status"))}
	if filter.ClientID, err = httpx.QueryInt64(r, "client_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := httpx.QueryInt64(r, "page")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perPage, err := httpx.QueryInt64(r, "per_page")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoices, pagination, err := h.service.ListInvoices(r.Context(), filter, int(page), int(perPage))
	if err != nil {
		h.logger.Error("list invoices", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if invoices == nil {
		invoices = []Invoice{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": invoices, "pagination": pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, invoiceID, ok := h.ids(w, r)
	if !ok {
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id.TenantID, invoiceID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) revise(w http.ResponseWriter, r *http.Request) {
	id, invoiceID, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req reviseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.ReviseDraft(r.Context(), ReviseDraftInput{
		TenantID:  id.TenantID,
		InvoiceID: invoiceID,
		Lines:     req.Lines,
		DueDate:   req.DueDate.Ptr(),
		Notes:     req.Notes,
		ActorID:   id.ActorID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, invoiceID, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.TransitionInvoice(r.Context(), TransitionInput{
		TenantID:  id.TenantID,
		InvoiceID: invoiceID,
		Target:    req.Target,
		ActorID:   id.ActorID,
		Reason:    req.Reason,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	id, invoiceID, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req settleRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	inv, err := h.service.SettleInvoice(r.Context(), SettleInvoiceInput{
		TenantID:  id.TenantID,
		InvoiceID: invoiceID,
		ActorID:   id.ActorID,
		PaidAt:    req.PaidAt.Ptr(),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) settleInstallment(w http.ResponseWriter, r *http.Request) {
	id, invoiceID, ok := h.ids(w, r)
	if !ok {
		return
	}
	installmentID, err := httpx.URLInt64(r, "installmentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req settleRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	inv, err := h.service.SettleInstallment(r.Context(), SettleInstallmentInput{
		TenantID:      id.TenantID,
		InvoiceID:     invoiceID,
		InstallmentID: installmentID,
		ActorID:       id.ActorID,
		PaidAt:        req.PaidAt.Ptr(),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) document(w http.ResponseWriter, r *http.Request) {
	id, invoiceID, ok := h.ids(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("format") == "json" {
		doc, err := h.service.BuildDocument(r.Context(), id.TenantID, invoiceID)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
		return
	}
	pdf, filename, err := h.service.RenderDocument(r.Context(), id.TenantID, invoiceID)
	if errors.Is(err, ErrRendererUnavailable) {
		httpx.Problem(w, http.StatusServiceUnavailable, "Renderer Unavailable", err.Error())
		return
	}
	if err != nil {
		h.logger.Error("render invoice", slog.Int64("invoice_id", invoiceID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.PDF(w, filename, pdf)
}

func (h *Handler) ids(w http.ResponseWriter, r *http.Request) (identity shared.Identity, invoiceID int64, ok bool) {
	identity, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return identity, 0, false
	}
	invoiceID, err = httpx.URLInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return identity, 0, false
	}
	return identity, invoiceID, true
}
