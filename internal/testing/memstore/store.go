// Package memstore is an in-memory ledger used by service tests. Transactions
// run one at a time against a private copy of the state that is committed
// only when the callback succeeds, mirroring serializable isolation.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/freightledger/ledger/internal/testing/guard"

	"github.com/freightledger/ledger/internal/billing"
	"github.com/freightledger/ledger/internal/numbering"
	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/payouts"
	"github.com/freightledger/ledger/internal/shared"
)

type state struct {
	nextID         int64
	clients        map[int64]Client
	subcontractors map[int64]payouts.Subcontractor
	operations     map[int64]operations.Operation
	invoices       map[int64]billing.Invoice
	payments       map[int64]payouts.Payment
	invoiceLinks   map[int64]int64
	paymentLinks   map[int64]int64
	seq            *numbering.Sequence
}

// Client is a seeded client record.
type Client struct {
	ID       int64
	TenantID int64
	Name     string
}

// Store holds the ledger state.
type Store struct {
	mu    sync.Mutex
	state *state
	audit []shared.AuditLog
}

// New returns an empty store.
func New() *Store {
	return &Store{state: &state{
		clients:        map[int64]Client{},
		subcontractors: map[int64]payouts.Subcontractor{},
		operations:     map[int64]operations.Operation{},
		invoices:       map[int64]billing.Invoice{},
		payments:       map[int64]payouts.Payment{},
		invoiceLinks:   map[int64]int64{},
		paymentLinks:   map[int64]int64{},
		seq:            numbering.NewSequence(),
	}}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *state) clone() *state {
	out := &state{
		nextID:         s.nextID,
		clients:        make(map[int64]Client, len(s.clients)),
		subcontractors: make(map[int64]payouts.Subcontractor, len(s.subcontractors)),
		operations:     make(map[int64]operations.Operation, len(s.operations)),
		invoices:       make(map[int64]billing.Invoice, len(s.invoices)),
		payments:       make(map[int64]payouts.Payment, len(s.payments)),
		invoiceLinks:   make(map[int64]int64, len(s.invoiceLinks)),
		paymentLinks:   make(map[int64]int64, len(s.paymentLinks)),
		seq:            s.seq.Clone(),
	}
	for k, v := range s.clients {
		out.clients[k] = v
	}
	for k, v := range s.subcontractors {
		out.subcontractors[k] = v
	}
	for k, v := range s.operations {
		out.operations[k] = v
	}
	for k, v := range s.invoices {
		out.invoices[k] = copyInvoice(v)
	}
	for k, v := range s.payments {
		v.OperationIDs = append([]int64(nil), v.OperationIDs...)
		out.payments[k] = v
	}
	for k, v := range s.invoiceLinks {
		out.invoiceLinks[k] = v
	}
	for k, v := range s.paymentLinks {
		out.paymentLinks[k] = v
	}
	return out
}

func copyInvoice(inv billing.Invoice) billing.Invoice {
	inv.Lines = append([]billing.LineItem(nil), inv.Lines...)
	inv.Installments = append([]billing.Installment(nil), inv.Installments...)
	inv.History = append([]billing.HistoryEntry(nil), inv.History...)
	inv.OperationIDs = append([]int64(nil), inv.OperationIDs...)
	return inv
}

// withTx runs fn against a copy of the state and commits it on success.
func (s *Store) withTx(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) read(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// AddClient seeds a client.
func (s *Store) AddClient(tenantID int64, name string) int64 {
	var id int64
	_ = s.withTx(func(st *state) error {
		id = st.id()
		st.clients[id] = Client{ID: id, TenantID: tenantID, Name: name}
		return nil
	})
	return id
}

// AddSubcontractor seeds a subcontractor.
func (s *Store) AddSubcontractor(tenantID int64, name string) int64 {
	var id int64
	_ = s.withTx(func(st *state) error {
		id = st.id()
		st.subcontractors[id] = payouts.Subcontractor{ID: id, TenantID: tenantID, Name: name}
		return nil
	})
	return id
}

// OperationSeed describes an operation to seed.
type OperationSeed struct {
	TenantID        int64
	ClientID        int64
	SubcontractorID int64
	Reference       string
	Date            time.Time
	Status          operations.Status
	SalePrice       string
	PurchasePrice   string
}

// AddOperation seeds an operation. Empty PurchasePrice leaves it unset.
func (s *Store) AddOperation(seed OperationSeed) int64 {
	op := operations.Operation{
		TenantID:      seed.TenantID,
		ClientID:      seed.ClientID,
		Reference:     seed.Reference,
		Date:          seed.Date,
		Status:        seed.Status,
		SalePrice:     decimal.RequireFromString(seed.SalePrice),
		PaymentStatus: operations.PaymentUnpaid,
	}
	if op.Status == "" {
		op.Status = operations.StatusDelivered
	}
	if seed.SubcontractorID > 0 {
		sub := seed.SubcontractorID
		op.SubcontractorID = &sub
	}
	if seed.PurchasePrice != "" {
		op.PurchasePrice = decimal.NewNullDecimal(decimal.RequireFromString(seed.PurchasePrice))
	}
	var id int64
	_ = s.withTx(func(st *state) error {
		id = st.id()
		op.ID = id
		st.operations[id] = op
		return nil
	})
	return id
}

// Operation returns a copy of an operation.
func (s *Store) Operation(id int64) (operations.Operation, bool) {
	var op operations.Operation
	var ok bool
	s.read(func(st *state) { op, ok = st.operations[id] })
	return op, ok
}

// InvoiceCount returns the number of stored invoices.
func (s *Store) InvoiceCount() int {
	var n int
	s.read(func(st *state) { n = len(st.invoices) })
	return n
}

// PaymentCount returns the number of stored subcontractor payments.
func (s *Store) PaymentCount() int {
	var n int
	s.read(func(st *state) { n = len(st.payments) })
	return n
}

// Record implements shared.AuditPort.
func (s *Store) Record(_ context.Context, log shared.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, log)
	return nil
}

// AuditLogs returns recorded audit entries.
func (s *Store) AuditLogs() []shared.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shared.AuditLog(nil), s.audit...)
}

func lockOperations(st *state, tenantID int64, ids []int64) []operations.Operation {
	var out []operations.Operation
	for _, id := range ids {
		if op, ok := st.operations[id]; ok && op.TenantID == tenantID {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
