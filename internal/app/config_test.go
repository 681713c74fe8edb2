package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LEDGER_CURRENCY", "ars")
	t.Setenv("ACCOUNT_CODES", "cost_of_goods_sold:5.1.1.09")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "ARS", cfg.LedgerCurrency)
	require.Equal(t, "RESPONSABLE_INSCRIPTO", cfg.CompanyTaxCondition)
	require.Equal(t, []string{"customers", "products"}, cfg.ExternalSync)
	require.False(t, cfg.IsProduction())

	codes, err := cfg.ChartCodes()
	require.NoError(t, err)
	require.Equal(t, "5.1.1.09", codes[accounts.KeyCostOfGoodsSold])
	require.Equal(t, accounts.DefaultCodes()[accounts.KeyAccountsReceivable], codes[accounts.KeyAccountsReceivable])

	opts := cfg.AsynqRedis()
	require.Equal(t, cfg.RedisAddr, opts.Addr)
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"currency":      {"LEDGER_CURRENCY": "PESOS"},
		"tax condition": {"COMPANY_TAX_CONDITION": "INSCRIPTO"},
		"rate limit":    {"RATE_LIMIT_PER_MINUTE": "0"},
		"credentials":   {"EXTERNAL_USERNAME": "pampa"},
		"account key":   {"ACCOUNT_CODES": "petty_cash:1.1.1.09"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}
