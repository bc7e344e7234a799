// Package numbering allocates gap-free, per-tenant document numbers.
package numbering

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Kind identifies a numbering series.
type Kind string

const (
	KindInvoice Kind = "INV"
	KindPayment Kind = "PAY"
)

// Querier is satisfied by pgx.Tx. Allocation must happen inside the
// transaction that inserts the numbered document so a rollback releases it.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Format renders the n-th number of a series, e.g. INV-0001.
func Format(kind Kind, n int64) string {
	return fmt.Sprintf("%s-%04d", kind, n)
}

// Parse splits a formatted number back into its kind and sequence.
func Parse(number string) (Kind, int64, error) {
	prefix, seq, ok := strings.Cut(number, "-")
	if !ok || prefix == "" {
		return "", 0, fmt.Errorf("numbering: malformed number %q", number)
	}
	n, err := strconv.ParseInt(seq, 10, 64)
	if err != nil || n < 1 {
		return "", 0, fmt.Errorf("numbering: malformed sequence in %q", number)
	}
	return Kind(prefix), n, nil
}

// Next allocates the next value of the tenant series and returns it formatted.
// The row lock taken by the upsert serializes concurrent allocators.
func Next(ctx context.Context, q Querier, tenantID int64, kind Kind) (string, error) {
	const stmt = `INSERT INTO number_sequences (tenant_id, kind, last_value)
VALUES ($1, $2, 1)
ON CONFLICT (tenant_id, kind) DO UPDATE SET last_value = number_sequences.last_value + 1
RETURNING last_value`
	var n int64
	if err := q.QueryRow(ctx, stmt, tenantID, string(kind)).Scan(&n); err != nil {
		return "", fmt.Errorf("numbering: next %s: %w", kind, err)
	}
	return Format(kind, n), nil
}

// Sequence is an in-process allocator used by tests and tooling.
type Sequence struct {
	last map[string]int64
}

// NewSequence constructs an empty Sequence.
func NewSequence() *Sequence {
	return &Sequence{last: make(map[string]int64)}
}

// Next returns the next formatted number. Callers must synchronise access.
func (s *Sequence) Next(tenantID int64, kind Kind) string {
	key := strconv.FormatInt(tenantID, 10) + ":" + string(kind)
	s.last[key]++
	return Format(kind, s.last[key])
}

// Clone copies the sequence state.
func (s *Sequence) Clone() *Sequence {
	out := NewSequence()
	for k, v := range s.last {
		out.last[k] = v
	}
	return out
}
