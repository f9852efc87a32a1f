package config

import "fmt"

// DatabaseDriver selects the ledger store backend
type DatabaseDriver string

const (
	// DatabaseDriverSQLite stores the ledger in <NodeHome>/databases/ledger.db
	DatabaseDriverSQLite DatabaseDriver = "sqlite"

	// DatabaseDriverPostgres stores the ledger in the database at DatabaseDSN
	DatabaseDriverPostgres DatabaseDriver = "postgres"
)

type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Node Config
	NodeHome string `json:"node_home"` // Node home directory (default: ~/.txledger)

	// Ledger store
	DatabaseDriver DatabaseDriver `json:"database_driver"` // "sqlite" or "postgres" (default: sqlite)
	DatabaseDSN    string         `json:"database_dsn"`    // Postgres DSN, ignored for sqlite
	TraceStateLog  bool           `json:"trace_state_log"` // Append an otx_state_log row for every status transition

	// Query Server Config
	QueryServerPort int `json:"query_server_port"` // Port for HTTP server (default: 8080)

	// Chain
	Chain ChainConfig `json:"chain"`

	// Gas & send pipeline
	Gas GasConfig `json:"gas"`

	// Background loops
	Sync     SyncConfig     `json:"sync"`
	Retry    RetryConfig    `json:"retry"`
	Dispatch DispatchConfig `json:"dispatch"`

	WorkerPoolSize int `json:"worker_pool_size"` // Concurrent pipeline tasks (default: 8)

	// Follow-on work triggered by the block syncer
	Filters FilterConfig `json:"filters"`

	// Offline reconciliation
	AuditOutputDir string `json:"audit_output_dir"` // Directory for audit module output (default: <NodeHome>/audit)
}

// ChainConfig identifies the EVM network the ledger is custodian on
type ChainConfig struct {
	Name    string   `json:"name"`     // CAIP-2 style name, e.g. eip155:8996
	ChainID int64    `json:"chain_id"` // EIP-155 chain id
	RPCURLs []string `json:"rpc_urls"` // RPC endpoints, tried round-robin

	RPCTimeoutSeconds int `json:"rpc_timeout_seconds"` // Per-call timeout (default: 10)
}

// GasConfig holds gas funding and pricing settings. Wei amounts are decimal strings.
type GasConfig struct {
	GasProvider       string  `json:"gas_provider"`         // Funded address that refills custodial accounts (required)
	GasLimit          uint64  `json:"gas_limit"`            // Gas limit for token calls (default: 60000)
	MinBalanceWei     string  `json:"min_balance_wei"`      // Safety threshold that triggers background refill (default: 3.6e14)
	RefillAmountWei   string  `json:"refill_amount_wei"`    // Value of a refill transaction (default: 1.8e15)
	ResendGasFactor   float64 `json:"resend_gas_factor"`    // Multiplier applied to old gas price on resend (default: 1.1)
	MaxResendAttempts int     `json:"max_resend_attempts"`  // Rows per (sender, nonce) before automatic resend stops (default: 3)
	MaxGasPriceWei    string  `json:"max_gas_price_wei"`    // Upper bound for computed gas prices, empty for none
	DefaultNonceStart uint64  `json:"default_nonce_start"`  // Counter value used when an address has no counter row
	SyncNonceFromNode bool    `json:"sync_nonce_from_node"` // Initialise missing counters from the node's pending nonce
}

// SyncConfig holds block syncer settings
type SyncConfig struct {
	PollIntervalSeconds int `json:"poll_interval_seconds"` // Head driver wait when the next block is not mined (default: 2)
	HistoryBatchSize    int `json:"history_batch_size"`    // Blocks per history tick (default: 500)

	// StartFrom sets the first head block when no cursor exists.
	// -1 or absent starts at the latest block.
	StartFrom *int64 `json:"start_from,omitempty"`
}

// RetryConfig holds retry syncer settings
type RetryConfig struct {
	IntervalSeconds    int `json:"interval_seconds"`     // Scan interval (default: 15)
	GracePeriodSeconds int `json:"grace_period_seconds"` // SENT rows unchecked for this long are resent (default: 60)
	BatchSize          int `json:"batch_size"`           // Rows per scan (default: 50)
}

// DispatchConfig holds settings for the loop that sends queued rows
type DispatchConfig struct {
	IntervalSeconds        int `json:"interval_seconds"`         // Scan interval (default: 5)
	BatchSize              int `json:"batch_size"`               // Rows per scan (default: 50)
	SendFailBackoffSeconds int `json:"sendfail_backoff_seconds"` // SENDFAIL rows older than this are retried (default: 30)
}

// FilterConfig wires the block syncer follow-on filters. Empty addresses disable a filter.
type FilterConfig struct {
	AccountRegistry string `json:"account_registry"` // Contract emitting AccountRegistered(address)
	AccountGiftWei  string `json:"account_gift_wei"` // Gas gifted to new accounts (default: refill amount)

	CallbackURL    string   `json:"callback_url"`    // Endpoint receiving token transfer notifications
	CallbackTokens []string `json:"callback_tokens"` // ERC-20 contracts whose transfers are forwarded

	DedupeCacheSize       int `json:"dedupe_cache_size"`        // Recently handled events remembered per filter (default: 4096)
	DedupeCacheTTLSeconds int `json:"dedupe_cache_ttl_seconds"` // Lifetime of a remembered event (default: 300)
}

// Validate checks fields that have no usable default
func (c *Config) Validate() error {
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("chain.chain_id is required")
	}
	if len(c.Chain.RPCURLs) == 0 {
		return fmt.Errorf("chain.rpc_urls is required")
	}
	if c.Gas.GasProvider == "" {
		return fmt.Errorf("gas.gas_provider is required")
	}
	if c.DatabaseDriver == DatabaseDriverPostgres && c.DatabaseDSN == "" {
		return fmt.Errorf("database_dsn is required for postgres")
	}
	return nil
}
