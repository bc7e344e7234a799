package numbering

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	value int64
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.value
	return nil
}

type fakeQuerier struct {
	next  int64
	err   error
	calls []any
}

func (q *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	q.calls = append(q.calls, args...)
	q.next++
	return fakeRow{value: q.next, err: q.err}
}

func TestFormat(t *testing.T) {
	require.Equal(t, "INV-0001", Format(KindInvoice, 1))
	require.Equal(t, "PAY-0042", Format(KindPayment, 42))
	require.Equal(t, "INV-12345", Format(KindInvoice, 12345))
}

func TestParse(t *testing.T) {
	kind, n, err := Parse("INV-0007")
	require.NoError(t, err)
	require.Equal(t, KindInvoice, kind)
	require.Equal(t, int64(7), n)

	_, _, err = Parse("INV0007")
	require.Error(t, err)
	_, _, err = Parse("PAY-0000")
	require.Error(t, err)
}

func TestNextUsesQuerier(t *testing.T) {
	q := &fakeQuerier{}
	first, err := Next(context.Background(), q, 9, KindInvoice)
	require.NoError(t, err)
	second, err := Next(context.Background(), q, 9, KindInvoice)
	require.NoError(t, err)
	require.Equal(t, "INV-0001", first)
	require.Equal(t, "INV-0002", second)
	require.Equal(t, []any{int64(9), "INV", int64(9), "INV"}, q.calls)
}

func TestNextWrapsError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Next(context.Background(), &fakeQuerier{err: boom}, 1, KindPayment)
	require.ErrorIs(t, err, boom)
}

func TestSequenceIsPerTenantAndKind(t *testing.T) {
	seq := NewSequence()
	require.Equal(t, "INV-0001", seq.Next(1, KindInvoice))
	require.Equal(t, "INV-0002", seq.Next(1, KindInvoice))
	require.Equal(t, "INV-0001", seq.Next(2, KindInvoice))
	require.Equal(t, "PAY-0001", seq.Next(1, KindPayment))

	clone := seq.Clone()
	require.Equal(t, "INV-0003", clone.Next(1, KindInvoice))
	require.Equal(t, "INV-0003", seq.Next(1, KindInvoice))
}
