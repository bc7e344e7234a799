package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://u:p@db:5432/ledger")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, "20", cfg.DefaultVATRate.String())
	require.Equal(t, 30, cfg.DefaultDueDays)
	require.Equal(t, 3, cfg.DefaultMaxInstallments)
	require.Equal(t, []int{30, 60, 90}, cfg.ForecastHorizons)
	require.Equal(t, 10*time.Minute, cfg.SummaryCacheTTL)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("LEDGER_DEFAULT_VAT_RATE", "5.5")
	t.Setenv("LEDGER_FORECAST_HORIZONS", "15,45")
	t.Setenv("PG_AUTO_MIGRATE", "true")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, "5.5", cfg.DefaultVATRate.String())
	require.Equal(t, []int{15, 45}, cfg.ForecastHorizons)
	require.True(t, cfg.PGAutoMigrate)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("LEDGER_DEFAULT_MAX_INSTALLMENTS", "0")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("LEDGER_DEFAULT_MAX_INSTALLMENTS", "3")
	t.Setenv("LEDGER_DEFAULT_VAT_RATE", "-1")
	_, err = LoadConfig()
	require.Error(t, err)

	t.Setenv("LEDGER_DEFAULT_VAT_RATE", "abc")
	_, err = LoadConfig()
	require.Error(t, err)
}
