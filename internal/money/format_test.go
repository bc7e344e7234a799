package money

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatterAmount(t *testing.T) {
	f := NewFormatter("en", "eur")
	require.Equal(t, "2,500.00 EUR", f.Amount(dec("2500")))
	require.Equal(t, "20.00 %", f.Percent(dec("20")))
	require.Equal(t, "EUR", f.Currency())
}

func TestFormatterFallsBackOnBadLocale(t *testing.T) {
	f := NewFormatter("!!", "")
	require.Equal(t, "1,000.50", f.Amount(dec("1000.5")))
}
