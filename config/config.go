package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"edulend/crypto"

	"github.com/BurntSushi/toml"
)

// Config carries the platform-level settings: the privileged operator, the
// market purchase fee, and the default loan fee rates applied by tooling
// when creating loans. Currency rates are decimal strings so atto precision
// survives the TOML round trip.
type Config struct {
	Operator                      string `toml:"Operator"`
	MarketFeeAttoPerNano          string `toml:"MarketFeeAttoPerNano"`
	DefaultFundingFeeAttoPerWhole string `toml:"DefaultFundingFeeAttoPerWhole"`
	DefaultPaymentFeeAttoPerWhole string `toml:"DefaultPaymentFeeAttoPerWhole"`
	DefaultSecondsToExpiration    int64  `toml:"DefaultSecondsToExpiration"`
	Environment                   string `toml:"Environment"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		MarketFeeAttoPerNano:          "0",
		DefaultFundingFeeAttoPerWhole: "0",
		DefaultPaymentFeeAttoPerWhole: "0",
		DefaultSecondsToExpiration:    60 * 60 * 24 * 30,
		Environment:                   "dev",
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every populated field parses; Operator is required.
func (c *Config) Validate() error {
	if _, err := c.OperatorHandle(); err != nil {
		return err
	}
	for name, value := range map[string]string{
		"MarketFeeAttoPerNano":          c.MarketFeeAttoPerNano,
		"DefaultFundingFeeAttoPerWhole": c.DefaultFundingFeeAttoPerWhole,
		"DefaultPaymentFeeAttoPerWhole": c.DefaultPaymentFeeAttoPerWhole,
	} {
		if _, err := parseRate(name, value); err != nil {
			return err
		}
	}
	if c.DefaultSecondsToExpiration <= 0 {
		return fmt.Errorf("DefaultSecondsToExpiration must be positive")
	}
	return nil
}

// OperatorHandle decodes the configured operator address.
func (c *Config) OperatorHandle() ([20]byte, error) {
	if c.Operator == "" {
		return [20]byte{}, fmt.Errorf("Operator address is required")
	}
	addr, err := crypto.DecodeAddress(c.Operator)
	if err != nil {
		return [20]byte{}, fmt.Errorf("Operator: %w", err)
	}
	return addr.Handle(), nil
}

// MarketFee parses the configured market purchase fee rate.
func (c *Config) MarketFee() (*big.Int, error) {
	return parseRate("MarketFeeAttoPerNano", c.MarketFeeAttoPerNano)
}

// DefaultFundingFee parses the default funding fee rate.
func (c *Config) DefaultFundingFee() (*big.Int, error) {
	return parseRate("DefaultFundingFeeAttoPerWhole", c.DefaultFundingFeeAttoPerWhole)
}

// DefaultPaymentFee parses the default payment fee rate.
func (c *Config) DefaultPaymentFee() (*big.Int, error) {
	return parseRate("DefaultPaymentFeeAttoPerWhole", c.DefaultPaymentFeeAttoPerWhole)
}

func parseRate(name, value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	rate, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("%s is not a valid integer: %q", name, value)
	}
	if rate.Sign() < 0 {
		return nil, fmt.Errorf("%s must be non-negative", name)
	}
	return rate, nil
}
