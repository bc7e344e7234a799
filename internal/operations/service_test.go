package operations

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/freightledger/ledger/internal/shared"
)

type party struct{ tenant, id int64 }

type memoryOpsRepo struct {
	mu             sync.Mutex
	nextID         int64
	byRef          map[string]Operation
	clients        map[party]bool
	subcontractors map[party]bool
}

func newMemoryOpsRepo() *memoryOpsRepo {
	return &memoryOpsRepo{
		byRef:          make(map[string]Operation),
		clients:        map[party]bool{{1, 2}: true, {2, 5}: true},
		subcontractors: map[party]bool{{1, 3}: true, {2, 6}: true},
	}
}

func (m *memoryOpsRepo) CheckParties(_ context.Context, tenantID, clientID int64, subcontractorID *int64) error {
	if !m.clients[party{tenantID, clientID}] {
		return shared.NotFound("client", clientID)
	}
	if subcontractorID != nil && !m.subcontractors[party{tenantID, *subcontractorID}] {
		return shared.NotFound("subcontractor", *subcontractorID)
	}
	return nil
}

func (m *memoryOpsRepo) Upsert(_ context.Context, op Operation) (Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byRef[op.Reference]; ok {
		if existing.Invoiced() && !existing.SalePrice.Equal(op.SalePrice) {
			return Operation{}, shared.Conflict("operation", op.Reference, "billing_fields_frozen", "frozen")
		}
		op.ID = existing.ID
		op.InvoiceID = existing.InvoiceID
	} else {
		m.nextID++
		op.ID = m.nextID
		op.PaymentStatus = PaymentUnpaid
	}
	m.byRef[op.Reference] = op
	return op, nil
}

func (m *memoryOpsRepo) Get(_ context.Context, tenantID, id int64) (Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.byRef {
		if op.ID == id && op.TenantID == tenantID {
			return op, nil
		}
	}
	return Operation{}, shared.NotFound("operation", id)
}

func (m *memoryOpsRepo) List(_ context.Context, filter ListFilter) ([]Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Operation
	for _, op := range m.byRef {
		if op.TenantID == filter.TenantID {
			out = append(out, op)
		}
	}
	return out, nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (r *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	r.logs = append(r.logs, log)
	return nil
}

type countingNotifier struct{ calls int }

func (c *countingNotifier) LedgerChanged(context.Context, int64) error {
	c.calls++
	return nil
}

func validInput() UpsertInput {
	sub := int64(3)
	return UpsertInput{
		TenantID:        1,
		ClientID:        2,
		SubcontractorID: &sub,
		Reference:       "OP-1",
		Date:            time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Status:          "LIVREE",
		SalePrice:       decimal.NewFromInt(2500),
		PurchasePrice:   decimal.NewNullDecimal(decimal.NewFromInt(2000)),
		ActorID:         9,
	}
}

func TestUpsertNormalisesAndAudits(t *testing.T) {
	audit := &recordingAudit{}
	notifier := &countingNotifier{}
	svc := NewService(newMemoryOpsRepo(), audit, notifier, nil)

	op, err := svc.Upsert(context.Background(), validInput())
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, op.Status)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "operation.upsert", audit.logs[0].Action)
	require.Equal(t, 1, notifier.calls)
}

func TestUpsertValidation(t *testing.T) {
	svc := NewService(newMemoryOpsRepo(), nil, nil, nil)

	in := validInput()
	in.Reference = ""
	_, err := svc.Upsert(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = validInput()
	in.SalePrice = decimal.NewFromInt(-1)
	_, err = svc.Upsert(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = validInput()
	in.SubcontractorID = nil
	_, err = svc.Upsert(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = validInput()
	in.Status = "LOST"
	_, err = svc.Upsert(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpsertRejectsPartiesOutsideTenant(t *testing.T) {
	repo := newMemoryOpsRepo()
	svc := NewService(repo, nil, nil, nil)

	in := validInput()
	in.ClientID = 5
	_, err := svc.Upsert(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrNotFound)
	e, ok := shared.AsError(err)
	require.True(t, ok)
	require.Equal(t, "client", e.Entity)

	in = validInput()
	in.ClientID = 424242
	_, err = svc.Upsert(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrNotFound)

	in = validInput()
	foreignSub := int64(6)
	in.SubcontractorID = &foreignSub
	_, err = svc.Upsert(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrNotFound)
	e, _ = shared.AsError(err)
	require.Equal(t, "subcontractor", e.Entity)

	require.Empty(t, repo.byRef)
}

func TestListRequiresTenant(t *testing.T) {
	svc := NewService(newMemoryOpsRepo(), nil, nil, nil)
	_, err := svc.List(context.Background(), ListFilter{})
	require.ErrorIs(t, err, shared.ErrValidation)
}
