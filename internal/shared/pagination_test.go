package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPaginationWindow(t *testing.T) {
	p := NewPagination(3, 20, 45)
	require.Equal(t, 40, p.Offset())
	require.Equal(t, 3, p.TotalPages)

	p = NewPagination(-1, 9000, 0)
	require.Equal(t, 0, p.Offset())
	require.Equal(t, 500, p.PerPage)
}
