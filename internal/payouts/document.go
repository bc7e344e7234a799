package payouts

import (
	"context"
	"errors"
	"fmt"

	"github.com/freightledger/ledger/internal/money"
)

// ErrRendererUnavailable is returned when no document renderer is configured.
var ErrRendererUnavailable = errors.New("payouts: document renderer not configured")

// DocumentRenderer turns payment statements into printable bytes.
type DocumentRenderer interface {
	RenderPayment(ctx context.Context, doc Document) ([]byte, error)
}

// Document is the renderer-ready remittance statement.
type Document struct {
	Number          string
	Subcontractor   string
	PaymentDate     string
	Currency        string
	Total           string
	Notes           string
	OperationIDs    []int64
	OperationsCount int
}

// BuildDocument assembles the statement for a payment.
func (s *Service) BuildDocument(ctx context.Context, tenantID, id int64) (Document, error) {
	p, err := s.repo.GetPayment(ctx, tenantID, id)
	if err != nil {
		return Document{}, err
	}
	sub, err := s.repo.GetSubcontractor(ctx, tenantID, p.SubcontractorID)
	if err != nil {
		return Document{}, err
	}
	return NewDocument(p, sub, s.formatter), nil
}

// RenderDocument renders the payment statement through the configured renderer.
func (s *Service) RenderDocument(ctx context.Context, tenantID, id int64) ([]byte, string, error) {
	if s.renderer == nil {
		return nil, "", ErrRendererUnavailable
	}
	doc, err := s.BuildDocument(ctx, tenantID, id)
	if err != nil {
		return nil, "", err
	}
	pdf, err := s.renderer.RenderPayment(ctx, doc)
	if err != nil {
		return nil, "", fmt.Errorf("payouts: render payment %s: %w", doc.Number, err)
	}
	return pdf, doc.Number + ".pdf", nil
}

// NewDocument formats a payment for printing.
func NewDocument(p Payment, sub Subcontractor, f money.Formatter) Document {
	return Document{
		Number:          p.Number,
		Subcontractor:   sub.Name,
		PaymentDate:     p.PaymentDate.Format("2006-01-02"),
		Currency:        f.Currency(),
		Total:           f.Amount(p.TotalAmount),
		Notes:           p.Notes,
		OperationIDs:    p.OperationIDs,
		OperationsCount: len(p.OperationIDs),
	}
}
