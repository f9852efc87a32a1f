package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/pushchain/txledger/txledger/constant"
)

//go:embed default_config.json
var defaultConfigJSON []byte

func validateConfig(cfg *Config) error {
	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	// Validate log format
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	if cfg.NodeHome == "" {
		cfg.NodeHome = constant.DefaultNodeHome
	}

	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = DatabaseDriverSQLite
	}
	if cfg.DatabaseDriver != DatabaseDriverSQLite && cfg.DatabaseDriver != DatabaseDriverPostgres {
		return fmt.Errorf("database driver must be 'sqlite' or 'postgres'")
	}

	if cfg.QueryServerPort == 0 {
		cfg.QueryServerPort = 8080
	}

	if cfg.Chain.Name == "" && cfg.Chain.ChainID > 0 {
		cfg.Chain.Name = fmt.Sprintf("eip155:%d", cfg.Chain.ChainID)
	}
	if cfg.Chain.RPCTimeoutSeconds == 0 {
		cfg.Chain.RPCTimeoutSeconds = 10
	}

	// Gas defaults follow a 2 gwei price and a 60000 gas token transfer
	if cfg.Gas.GasLimit == 0 {
		cfg.Gas.GasLimit = 60000
	}
	if cfg.Gas.MinBalanceWei == "" {
		cfg.Gas.MinBalanceWei = "360000000000000"
	}
	if cfg.Gas.RefillAmountWei == "" {
		cfg.Gas.RefillAmountWei = "1800000000000000"
	}
	for name, v := range map[string]string{
		"gas.min_balance_wei":   cfg.Gas.MinBalanceWei,
		"gas.refill_amount_wei": cfg.Gas.RefillAmountWei,
		"gas.max_gas_price_wei": cfg.Gas.MaxGasPriceWei,
	} {
		if v == "" {
			continue
		}
		if _, ok := new(big.Int).SetString(v, 10); !ok {
			return fmt.Errorf("%s must be a decimal integer", name)
		}
	}
	if cfg.Gas.ResendGasFactor == 0 {
		cfg.Gas.ResendGasFactor = 1.1
	}
	if cfg.Gas.ResendGasFactor < 1 {
		return fmt.Errorf("gas.resend_gas_factor must be at least 1")
	}
	if cfg.Gas.MaxResendAttempts == 0 {
		cfg.Gas.MaxResendAttempts = 3
	}

	if cfg.Sync.PollIntervalSeconds == 0 {
		cfg.Sync.PollIntervalSeconds = 2
	}
	if cfg.Sync.HistoryBatchSize == 0 {
		cfg.Sync.HistoryBatchSize = 500
	}

	if cfg.Retry.IntervalSeconds == 0 {
		cfg.Retry.IntervalSeconds = 15
	}
	if cfg.Retry.GracePeriodSeconds == 0 {
		cfg.Retry.GracePeriodSeconds = 60
	}
	if cfg.Retry.BatchSize == 0 {
		cfg.Retry.BatchSize = 50
	}

	if cfg.Dispatch.IntervalSeconds == 0 {
		cfg.Dispatch.IntervalSeconds = 5
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 50
	}
	if cfg.Dispatch.SendFailBackoffSeconds == 0 {
		cfg.Dispatch.SendFailBackoffSeconds = 30
	}

	if cfg.WorkerPoolSize == 0 {
		cfg.WorkerPoolSize = 8
	}

	if cfg.Filters.AccountGiftWei == "" {
		cfg.Filters.AccountGiftWei = cfg.Gas.RefillAmountWei
	}
	if cfg.Filters.DedupeCacheSize == 0 {
		cfg.Filters.DedupeCacheSize = 4096
	}
	if cfg.Filters.DedupeCacheTTLSeconds == 0 {
		cfg.Filters.DedupeCacheTTLSeconds = 300
	}

	if cfg.AuditOutputDir == "" {
		cfg.AuditOutputDir = filepath.Join(cfg.NodeHome, constant.AuditSubdir)
	}

	return nil
}

// Save writes the given config to <NodeHome>/config/txledger_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, constant.ConfigSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, constant.ConfigFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads the config from <basePath>/config/txledger_config.json and fills defaults.
func Load(basePath string) (Config, error) {
	configFile := filepath.Join(basePath, constant.ConfigSubdir, constant.ConfigFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
	return &cfg, nil
}

// WeiOrZero parses a decimal wei amount already checked by validateConfig.
func WeiOrZero(v string) *big.Int {
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}
