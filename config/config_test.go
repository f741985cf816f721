package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"edulend/crypto"
)

func testOperator() string {
	var h [20]byte
	for i := range h {
		h[i] = 0x42
	}
	return crypto.MustAddress(h).String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, "dev", cfg.Environment)
	require.Equal(t, int64(60*60*24*30), cfg.DefaultSecondsToExpiration)

	// the default file leaves the operator blank; it must be filled in
	// before the file loads again
	_, err = Load(path)
	require.ErrorContains(t, err, "Operator")
}

func TestLoadParsesFile(t *testing.T) {
	path := writeConfig(t, `
Operator = "`+testOperator()+`"
MarketFeeAttoPerNano = "100000000"
DefaultFundingFeeAttoPerWhole = "100000000000000000"
DefaultPaymentFeeAttoPerWhole = "0"
DefaultSecondsToExpiration = 3600
Environment = "prod"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	handle, err := cfg.OperatorHandle()
	require.NoError(t, err)
	require.Equal(t, byte(0x42), handle[0])

	fee, err := cfg.MarketFee()
	require.NoError(t, err)
	require.Equal(t, "100000000", fee.String())

	funding, err := cfg.DefaultFundingFee()
	require.NoError(t, err)
	require.Equal(t, "100000000000000000", funding.String())

	payment, err := cfg.DefaultPaymentFee()
	require.NoError(t, err)
	require.Zero(t, payment.Sign())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Operator:                   testOperator(),
			DefaultSecondsToExpiration: 3600,
		}
	}

	require.NoError(t, base().Validate())

	cases := []struct {
		name    string
		mutate  func(*Config)
		errText string
	}{
		{"missing operator", func(c *Config) { c.Operator = "" }, "Operator"},
		{"bad operator", func(c *Config) { c.Operator = "not-bech32" }, "Operator"},
		{"non-integer rate", func(c *Config) { c.MarketFeeAttoPerNano = "1.5" }, "MarketFeeAttoPerNano"},
		{"negative rate", func(c *Config) { c.DefaultFundingFeeAttoPerWhole = "-1" }, "non-negative"},
		{"zero expiration", func(c *Config) { c.DefaultSecondsToExpiration = 0 }, "DefaultSecondsToExpiration"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tc.errText)
		})
	}
}

func TestEmptyRatesDefaultToZero(t *testing.T) {
	cfg := &Config{
		Operator:                   testOperator(),
		DefaultSecondsToExpiration: 1,
	}
	require.NoError(t, cfg.Validate())
	fee, err := cfg.MarketFee()
	require.NoError(t, err)
	require.Zero(t, fee.Sign())
}

func TestLoadRejectsMalformedToml(t *testing.T) {
	path := writeConfig(t, "Operator = [broken")
	_, err := Load(path)
	require.Error(t, err)
}
