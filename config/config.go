// Package config loads the flipd service configuration from a TOML file.
// Secrets never live in the file: the payout signing key is read from the
// environment variable the file names.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	Environment   string `toml:"Environment"`

	// DatabaseURL points at a postgres instance. When empty the service
	// falls back to the single-process file store at DataFile.
	DatabaseURL string `toml:"DatabaseURL"`
	DataFile    string `toml:"DataFile"`

	// IndexEndpoint serves the transfer event feed, transaction history, and
	// (unless PathfinderEndpoint overrides it) the pathfinder RPC.
	IndexEndpoint      string `toml:"IndexEndpoint"`
	PathfinderEndpoint string `toml:"PathfinderEndpoint"`
	ChainRPCEndpoint   string `toml:"ChainRPCEndpoint"`
	ChainID            int64  `toml:"ChainID"`

	// OrgAddress receives entry payments and funds direct payouts.
	// SafeAddress, when set, routes payouts through the safe contract.
	OrgAddress  string `toml:"OrgAddress"`
	SafeAddress string `toml:"SafeAddress"`

	// PayoutKeyEnv names the environment variable holding the hex-encoded
	// payout signing key. The key itself is never written to this file.
	PayoutKeyEnv string `toml:"PayoutKeyEnv"`

	EntryAmount  string `toml:"EntryAmount"`
	PayoutAmount string `toml:"PayoutAmount"`
	LinkBase     string `toml:"LinkBase"`

	CreateRatePerMinute float64 `toml:"CreateRatePerMinute"`
	CreateBurst         int     `toml:"CreateBurst"`

	LogFile      string `toml:"LogFile"`
	OTLPEndpoint string `toml:"OTLPEndpoint"`
	OTLPHeaders  string `toml:"OTLPHeaders"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ListenAddress:       ":8080",
		Environment:         "development",
		DataFile:            "flipd-rounds.json",
		EntryAmount:         "0.1",
		PayoutAmount:        "0.5",
		CreateRatePerMinute: 30,
		CreateBurst:         5,
		PayoutKeyEnv:        "FLIPD_PAYOUT_KEY",
	}
}

// Validate checks the loaded configuration for internal consistency.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("ListenAddress is required")
	}
	if strings.TrimSpace(c.IndexEndpoint) == "" {
		return fmt.Errorf("IndexEndpoint is required")
	}
	if !common.IsHexAddress(c.OrgAddress) {
		return fmt.Errorf("OrgAddress %q is not a valid address", c.OrgAddress)
	}
	if c.SafeAddress != "" && !common.IsHexAddress(c.SafeAddress) {
		return fmt.Errorf("SafeAddress %q is not a valid address", c.SafeAddress)
	}
	if strings.TrimSpace(c.LinkBase) == "" {
		return fmt.Errorf("LinkBase is required")
	}
	if strings.TrimSpace(c.EntryAmount) == "" || strings.TrimSpace(c.PayoutAmount) == "" {
		return fmt.Errorf("EntryAmount and PayoutAmount are required")
	}
	if c.DatabaseURL == "" && strings.TrimSpace(c.DataFile) == "" {
		return fmt.Errorf("either DatabaseURL or DataFile is required")
	}
	return nil
}

// PathfinderURL returns the pathfinder endpoint, defaulting to the index
// endpoint when not set separately.
func (c *Config) PathfinderURL() string {
	if strings.TrimSpace(c.PathfinderEndpoint) != "" {
		return c.PathfinderEndpoint
	}
	return c.IndexEndpoint
}

// PayoutKey reads the hex signing key from the configured environment
// variable. An empty result means payouts run unsigned and fail with a
// recorded error rather than blocking resolution.
func (c *Config) PayoutKey() string {
	if strings.TrimSpace(c.PayoutKeyEnv) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.PayoutKeyEnv))
}
