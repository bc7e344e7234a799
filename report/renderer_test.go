package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freightledger/ledger/internal/billing"
	"github.com/freightledger/ledger/internal/payouts"
)

func newGotenberg(t *testing.T, received *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/forms/chromium/convert/html":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			file, _, err := r.FormFile("files")
			require.NoError(t, err)
			data, err := io.ReadAll(file)
			require.NoError(t, err)
			*received = string(data)
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.7"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRenderInvoice(t *testing.T) {
	var html string
	srv := newGotenberg(t, &html)
	client := NewClient(srv.URL)
	require.NoError(t, client.Ping(context.Background()))

	r, err := NewRenderer(client)
	require.NoError(t, err)
	pdf, err := r.RenderInvoice(context.Background(), billing.Document{
		Number:    "INV-0001",
		IssueDate: "2024-01-10",
		DueDate:   "2024-02-09",
		Status:    "DRAFT",
		Total:     "€3,000.00",
		Lines: []billing.DocumentLine{
			{Position: 1, Description: "Transport <OP-1>", Quantity: 1, Total: "€1,200.00"},
		},
		Installments: []billing.DocumentInstallment{{Sequence: 1, DueDate: "2024-01-25", Amount: "€1,500.00", Status: "PENDING"}},
	})
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7", string(pdf))
	require.Contains(t, html, "Invoice INV-0001")
	require.Contains(t, html, "Transport &lt;OP-1&gt;")
	require.Contains(t, html, "Payment schedule")
}

func TestRenderPayment(t *testing.T) {
	var html string
	srv := newGotenberg(t, &html)
	r, err := NewRenderer(NewClient(srv.URL))
	require.NoError(t, err)

	_, err = r.RenderPayment(context.Background(), payouts.Document{
		Number:          "PAY-0001",
		Subcontractor:   "Rapid Haulage",
		PaymentDate:     "2024-01-12",
		Total:           "€2,000.00",
		OperationIDs:    []int64{3, 4},
		OperationsCount: 2,
	})
	require.NoError(t, err)
	require.Contains(t, html, "Remittance PAY-0001")
	require.Contains(t, html, "2 (3, 4)")
}

func TestRenderHTMLSurfacesUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "chromium crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).RenderHTML(context.Background(), "<p>x</p>")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "500"))
}

func TestNewRendererRequiresClient(t *testing.T) {
	_, err := NewRenderer(nil)
	require.Error(t, err)
}
