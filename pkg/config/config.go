package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/force23airr/stableguard/pkg/utils"
)

// Config is the full stableguard configuration, loaded from a YAML file.
// Connection endpoints stay env-driven (POSTGRES_URL, REDIS_ADDR, OPS_ADDR).
type Config struct {
	Chains      []ChainConfig     `yaml:"chains"`
	Anomaly     AnomalyConfig     `yaml:"anomaly"`
	Attribution AttributionConfig `yaml:"attribution"`
}

// ChainConfig describes one chain to ingest.
type ChainConfig struct {
	Name           string        `yaml:"name"`
	ChainID        uint64        `yaml:"chain_id"`
	StartBlock     uint64        `yaml:"start_block"`
	PollIntervalMS uint64        `yaml:"poll_interval_ms"`
	MaxReorgDepth  uint64        `yaml:"max_reorg_depth"`
	Tokens         []TokenConfig `yaml:"tokens"`
}

// PollInterval returns the configured poll interval as a duration.
func (c ChainConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// TokenConfig identifies one watched stablecoin contract on a chain.
type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int16  `yaml:"decimals"`
}

// AnomalyConfig holds thresholds for the detection rules.
type AnomalyConfig struct {
	Enabled                 bool               `yaml:"enabled"`
	LargeTransferThresholds map[string]float64 `yaml:"large_transfer_thresholds"`
	Velocity                VelocityConfig     `yaml:"velocity"`
	RoundNumber             RoundNumberConfig  `yaml:"round_number"`
	NewWallet               NewWalletConfig    `yaml:"new_wallet"`
	CrossChain              CrossChainConfig   `yaml:"cross_chain"`
}

type VelocityConfig struct {
	WindowSecs   uint64 `yaml:"window_secs"`
	MaxTransfers int64  `yaml:"max_transfers"`
}

type RoundNumberConfig struct {
	Tolerance float64 `yaml:"tolerance"`
}

type NewWalletConfig struct {
	ThresholdUSD float64 `yaml:"threshold_usd"`
}

type CrossChainConfig struct {
	WindowSecs uint64 `yaml:"window_secs"`
}

// AttributionConfig seeds entity labels and on-ramp provider registries.
// The external watchlist loader writes the same tables independently.
type AttributionConfig struct {
	ManualLabels []ManualLabelConfig `yaml:"manual_labels"`
	Providers    []ProviderConfig    `yaml:"providers"`
}

type ManualLabelConfig struct {
	Address    string  `yaml:"address"`
	ChainID    *uint64 `yaml:"chain_id"` // nil means the label is global
	EntityName string  `yaml:"entity_name"`
	EntityType string  `yaml:"entity_type"`
	Source     string  `yaml:"source"`
	Confidence float64 `yaml:"confidence"`
}

type ProviderConfig struct {
	Name         string                 `yaml:"name"`
	ProviderType string                 `yaml:"provider_type"`
	Website      string                 `yaml:"website"`
	KYCRequired  bool                   `yaml:"kyc_required"`
	Wallets      []ProviderWalletConfig `yaml:"wallets"`
}

type ProviderWalletConfig struct {
	ChainID uint64 `yaml:"chain_id"`
	Address string `yaml:"address"`
	Label   string `yaml:"label"`
}

const (
	defaultPollIntervalMS = 2000
	defaultMaxReorgDepth  = 64
)

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return Parse(content)
}

// Parse decodes raw YAML, applies defaults, and validates.
func Parse(content []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Chains {
		if c.Chains[i].PollIntervalMS == 0 {
			c.Chains[i].PollIntervalMS = defaultPollIntervalMS
		}
		if c.Chains[i].MaxReorgDepth == 0 {
			c.Chains[i].MaxReorgDepth = defaultMaxReorgDepth
		}
	}
	if c.Anomaly.Velocity.WindowSecs == 0 {
		c.Anomaly.Velocity.WindowSecs = 3600
	}
	if c.Anomaly.Velocity.MaxTransfers == 0 {
		c.Anomaly.Velocity.MaxTransfers = 50
	}
	if c.Anomaly.RoundNumber.Tolerance == 0 {
		c.Anomaly.RoundNumber.Tolerance = 0.01
	}
	if c.Anomaly.NewWallet.ThresholdUSD == 0 {
		c.Anomaly.NewWallet.ThresholdUSD = 10_000
	}
	if c.Anomaly.CrossChain.WindowSecs == 0 {
		c.Anomaly.CrossChain.WindowSecs = 3600
	}
}

func (c *Config) validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	seen := map[uint64]string{}
	for _, chain := range c.Chains {
		if chain.Name == "" {
			return fmt.Errorf("chain %d must have a name", chain.ChainID)
		}
		if prev, ok := seen[chain.ChainID]; ok {
			return fmt.Errorf("chain_id %d configured twice (%s, %s)", chain.ChainID, prev, chain.Name)
		}
		seen[chain.ChainID] = chain.Name
		if len(chain.Tokens) == 0 {
			return fmt.Errorf("chain %q must have at least one token configured", chain.Name)
		}
		for _, token := range chain.Tokens {
			if err := validateAddress(token.Address); err != nil {
				return fmt.Errorf("token %s on chain %q: %w", token.Symbol, chain.Name, err)
			}
		}
	}
	for _, label := range c.Attribution.ManualLabels {
		if err := validateAddress(label.Address); err != nil {
			return fmt.Errorf("manual label %q: %w", label.EntityName, err)
		}
	}
	for _, provider := range c.Attribution.Providers {
		for _, wallet := range provider.Wallets {
			if err := validateAddress(wallet.Address); err != nil {
				return fmt.Errorf("provider %q wallet: %w", provider.Name, err)
			}
		}
	}
	return nil
}

func validateAddress(addr string) error {
	if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
		return fmt.Errorf("invalid address %q", addr)
	}
	if _, err := utils.ParseAddress(addr); err != nil {
		return err
	}
	return nil
}
