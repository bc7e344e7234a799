package billing_test

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/freightledger/ledger/internal/billing"
	"github.com/freightledger/ledger/internal/shared"
)

func newRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("X-Anonymous") != "" {
				next.ServeHTTP(w, req)
				return
			}
			ctx := shared.ContextWithIdentity(req.Context(), shared.Identity{TenantID: tenant, ActorID: 9})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/invoices", billing.NewHandler(slog.Default(), f.svc).MountRoutes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerBindAndTransition(t *testing.T) {
	f := newFixture(t)
	h := newRouter(f)

	body := fmt.Sprintf(`{"client_id": %d, "operation_ids": [%d, %d], "vat_rate": "0"}`, f.client, f.ops[0], f.ops[1])
	rr := do(t, h, http.MethodPost, "/invoices", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var inv billing.Invoice
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &inv))
	require.Equal(t, "INV-0001", inv.Number)
	require.Equal(t, "2500.00", inv.TotalAmount.StringFixed(2))

	rr = do(t, h, http.MethodPost, fmt.Sprintf("/invoices/%d/transitions", inv.ID), `{"target": "SENT"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "urn:freight-ledger:invalid_transition", problem["type"])
	require.Equal(t, "DRAFT->SENT", problem["rule"])

	rr = do(t, h, http.MethodPost, fmt.Sprintf("/invoices/%d/transitions", inv.ID), `{"target": "APPROVED"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/invoices?status=APPROVED", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var listed struct {
		Invoices   []billing.Invoice `json:"invoices"`
		Pagination shared.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listed))
	require.Len(t, listed.Invoices, 1)
	require.Equal(t, 1, listed.Pagination.Total)
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture(t)
	h := newRouter(f)

	rr := do(t, h, http.MethodPost, "/invoices", fmt.Sprintf(`{"client_id": %d, "operation_ids": [%d], "bogus": 1}`, f.client, f.ops[0]))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/invoices", fmt.Sprintf(`{"client_id": %d}`, f.client))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/invoices/999", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/invoices/abc", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/invoices", nil)
	req.Header.Set("X-Anonymous", "1")
	anon := httptest.NewRecorder()
	h.ServeHTTP(anon, req)
	require.Equal(t, http.StatusUnauthorized, anon.Code)

	body := fmt.Sprintf(`{"client_id": %d, "operation_ids": [%d]}`, f.client, f.ops[0])
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/invoices", body).Code)
	rr = do(t, h, http.MethodPost, "/invoices", body)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandlerDocumentWithoutRenderer(t *testing.T) {
	f := newFixture(t)
	h := newRouter(f)
	inv := f.bind(t, billing.BindInput{OperationIDs: f.ops})

	rr := do(t, h, http.MethodGet, fmt.Sprintf("/invoices/%d/document", inv.ID), "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = do(t, h, http.MethodGet, fmt.Sprintf("/invoices/%d/document?format=json", inv.ID), "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var doc billing.Document
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	require.Equal(t, "INV-0001", doc.Number)
}
