package constant

import "os"

// <NodeDir>/                    (e.g., /home/ledger/.txledger)
// └── config/
//	└── txledger_config.json
// └── databases/
//	└── ledger.db
// └── audit/
//	└── reconcile
//	└── blockage
//	└── error

const (
	NodeDir = ".txledger"

	ConfigSubdir   = "config"
	ConfigFileName = "txledger_config.json"

	DatabasesSubdir = "databases"
	DatabaseFile    = "ledger.db"

	AuditSubdir = "audit"

	// EnvPrefix is the prefix for environment overrides (TXLEDGER_LOG_LEVEL, ...).
	EnvPrefix = "TXLEDGER"

	// EnvSignerKeys holds comma separated hex private keys of custodial accounts.
	EnvSignerKeys = "TXLEDGER_SIGNER_KEYS"
)

var DefaultNodeHome = os.ExpandEnv("$HOME/") + NodeDir
