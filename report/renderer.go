package report

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"github.com/freightledger/ledger/internal/billing"
	"github.com/freightledger/ledger/internal/payouts"
)

//go:embed templates/*.html
var templates embed.FS

// PDFClient exposes the subset of the Gotenberg client used by the renderer.
type PDFClient interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Renderer turns invoice and remittance documents into PDFs via html/template
// and the PDF client.
type Renderer struct {
	tpl    *template.Template
	client PDFClient
}

// NewRenderer parses the document templates and wires the PDF client.
func NewRenderer(client PDFClient) (*Renderer, error) {
	if client == nil {
		return nil, fmt.Errorf("report renderer: pdf client required")
	}
	funcMap := template.FuncMap{
		"join": func(ids []int64) string {
			parts := make([]string, len(ids))
			for i, id := range ids {
				parts[i] = strconv.FormatInt(id, 10)
			}
			return strings.Join(parts, ", ")
		},
	}
	tpl, err := template.New("report").Funcs(funcMap).ParseFS(templates, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{tpl: tpl, client: client}, nil
}

// RenderInvoice implements billing.DocumentRenderer.
func (r *Renderer) RenderInvoice(ctx context.Context, doc billing.Document) ([]byte, error) {
	return r.render(ctx, "invoice.html", doc)
}

// RenderPayment implements payouts.DocumentRenderer.
func (r *Renderer) RenderPayment(ctx context.Context, doc payouts.Document) ([]byte, error) {
	return r.render(ctx, "payment.html", doc)
}

// HTML executes a template without converting it.
func (r *Renderer) HTML(name string, data any) (string, error) {
	if r == nil || r.tpl == nil {
		return "", fmt.Errorf("report renderer not initialised")
	}
	buf := &bytes.Buffer{}
	if err := r.tpl.ExecuteTemplate(buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (r *Renderer) render(ctx context.Context, name string, data any) ([]byte, error) {
	html, err := r.HTML(name, data)
	if err != nil {
		return nil, err
	}
	return r.client.RenderHTML(ctx, html)
}

var (
	_ billing.DocumentRenderer = (*Renderer)(nil)
	_ payouts.DocumentRenderer = (*Renderer)(nil)
)
