package shared

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	tenants []int64
	err     error
}

func (r *recordingNotifier) LedgerChanged(_ context.Context, tenantID int64) error {
	r.tenants = append(r.tenants, tenantID)
	return r.err
}

func TestNotifiersFanOut(t *testing.T) {
	first := &recordingNotifier{err: errors.New("redis down")}
	second := &recordingNotifier{}
	n := Notifiers{first, nil, second}

	err := n.LedgerChanged(context.Background(), 4)
	require.ErrorContains(t, err, "redis down")
	require.Equal(t, []int64{4}, first.tenants)
	require.Equal(t, []int64{4}, second.tenants)

	require.NoError(t, Notifiers{NopNotifier{}}.LedgerChanged(context.Background(), 4))
}
