package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/freightledger/ledger/internal/money"
)

// ErrRendererUnavailable is returned when no document renderer is configured.
var ErrRendererUnavailable = errors.New("billing: document renderer not configured")

// DocumentRenderer turns invoice documents into printable bytes.
type DocumentRenderer interface {
	RenderInvoice(ctx context.Context, doc Document) ([]byte, error)
}

// Document is the renderer-ready view of an invoice. Amounts are preformatted.
type Document struct {
	Number       string
	ClientID     int64
	IssueDate    string
	DueDate      string
	Status       string
	Currency     string
	Lines        []DocumentLine
	VATSummary   []DocumentVAT
	Subtotal     string
	Tax          string
	Total        string
	Paid         string
	Outstanding  string
	Installments []DocumentInstallment
	Notes        string
}

// DocumentLine is one printable line.
type DocumentLine struct {
	Position    int
	Description string
	Quantity    int
	UnitPrice   string
	VATRate     string
	Net         string
	Tax         string
	Total       string
}

// DocumentVAT is one printable VAT summary row.
type DocumentVAT struct {
	Rate string
	Base string
	Tax  string
}

// DocumentInstallment is one printable schedule row.
type DocumentInstallment struct {
	Sequence int
	DueDate  string
	Amount   string
	Status   string
}

// BuildDocument assembles the printable view of an invoice.
func (s *Service) BuildDocument(ctx context.Context, tenantID, id int64) (Document, error) {
	inv, err := s.repo.GetInvoice(ctx, tenantID, id)
	if err != nil {
		return Document{}, err
	}
	return NewDocument(inv, s.formatter)
}

// RenderDocument renders the invoice through the configured renderer.
func (s *Service) RenderDocument(ctx context.Context, tenantID, id int64) ([]byte, string, error) {
	if s.renderer == nil {
		return nil, "", ErrRendererUnavailable
	}
	doc, err := s.BuildDocument(ctx, tenantID, id)
	if err != nil {
		return nil, "", err
	}
	pdf, err := s.renderer.RenderInvoice(ctx, doc)
	if err != nil {
		return nil, "", fmt.Errorf("billing: render invoice %s: %w", doc.Number, err)
	}
	return pdf, doc.Number + ".pdf", nil
}

// NewDocument formats inv for printing.
func NewDocument(inv Invoice, f money.Formatter) (Document, error) {
	totals, err := recompute(inv.Lines)
	if err != nil {
		return Document{}, err
	}
	doc := Document{
		Number:      inv.Number,
		ClientID:    inv.ClientID,
		IssueDate:   inv.IssueDate.Format("2006-01-02"),
		DueDate:     inv.DueDate.Format("2006-01-02"),
		Status:      string(inv.Status),
		Currency:    f.Currency(),
		Subtotal:    f.Amount(inv.Subtotal),
		Tax:         f.Amount(inv.TaxAmount),
		Total:       f.Amount(inv.TotalAmount),
		Paid:        f.Amount(inv.PaidAmount()),
		Outstanding: f.Amount(inv.Outstanding()),
		Notes:       inv.Notes,
	}
	for _, l := range inv.Lines {
		doc.Lines = append(doc.Lines, DocumentLine{
			Position:    l.Position,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   f.Amount(l.UnitPrice),
			VATRate:     f.Percent(l.VATRate),
			Net:         f.Amount(l.NetAmount),
			Tax:         f.Amount(l.TaxAmount),
			Total:       f.Amount(l.LineTotal),
		})
	}
	for _, g := range totals.VATSummary {
		doc.VATSummary = append(doc.VATSummary, DocumentVAT{
			Rate: f.Percent(g.Rate),
			Base: f.Amount(g.Base),
			Tax:  f.Amount(g.Tax),
		})
	}
	for _, inst := range inv.Installments {
		doc.Installments = append(doc.Installments, DocumentInstallment{
			Sequence: inst.Sequence,
			DueDate:  inst.DueDate.Format("2006-01-02"),
			Amount:   f.Amount(inst.Amount),
			Status:   string(inst.Status),
		})
	}
	if doc.Number == "" {
		doc.Number = "invoice-" + strconv.FormatInt(inv.ID, 10)
	}
	return doc, nil
}
