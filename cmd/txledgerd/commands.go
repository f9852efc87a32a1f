package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pushchain/txledger/txledger/audit"
	"github.com/pushchain/txledger/txledger/chains/common"
	"github.com/pushchain/txledger/txledger/config"
	"github.com/pushchain/txledger/txledger/constant"
	"github.com/pushchain/txledger/txledger/core"
	"github.com/pushchain/txledger/txledger/logger"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(versionCmd())
}

func initCmd() *cobra.Command {
	var (
		chainID     int64
		rpcURLs     []string
		gasProvider string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to <home>/config",
		Long: `
Write txledger_config.json with default settings. Chain and gas provider
flags override the defaults. An existing config is left untouched.

Examples:
  txledgerd init --chain-id 8996 --rpc http://localhost:8545 --gas-provider 0xabc...
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := cmd.Flags().GetString(flagHome)
			if err != nil {
				return err
			}
			path := filepath.Join(home, constant.ConfigSubdir, constant.ConfigFileName)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}

			cfg, err := config.LoadDefaultConfig()
			if err != nil {
				return err
			}
			cfg.NodeHome = home
			cfg.AuditOutputDir = filepath.Join(home, constant.AuditSubdir)
			if chainID > 0 {
				cfg.Chain.ChainID = chainID
				cfg.Chain.Name = fmt.Sprintf("eip155:%d", chainID)
			}
			if len(rpcURLs) > 0 {
				cfg.Chain.RPCURLs = rpcURLs
			}
			if gasProvider != "" {
				cfg.Gas.GasProvider = gasProvider
			}

			if err := config.Save(cfg, home); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().Int64Var(&chainID, "chain-id", 0, "EIP-155 chain id")
	cmd.Flags().StringSliceVar(&rpcURLs, "rpc", nil, "RPC endpoints, comma separated")
	cmd.Flags().StringVar(&gasProvider, "gas-provider", "", "Address funding custodial accounts")
	return cmd
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the ledger daemon",
		Long: `
Start the block syncers, dispatcher, retrier and query server. Custodial keys
are read from ` + constant.EnvSignerKeys + ` (comma separated hex). Every config
key listed below can be overridden with a ` + constant.EnvPrefix + `_ variable, e.g.
` + constant.EnvPrefix + `_DATABASE_DSN or ` + constant.EnvPrefix + `_CHAIN_RPC_URLS.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

			database, err := core.OpenDB(&cfg)
			if err != nil {
				return fmt.Errorf("failed to open ledger store: %w", err)
			}
			defer database.Close()

			chain, err := core.Dial(&cfg, log)
			if err != nil {
				return err
			}
			ledger, err := core.New(cfg, database, chain, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return ledger.Start(ctx)
		},
	}
	cmd.Flags().Int("query-port", 0, "Query server port")
	cmd.Flags().Int("log-level", 1, "Log level, 0 = debug")
	return cmd
}

func auditCmd() *cobra.Command {
	var (
		include   []string
		exclude   []string
		outputDir string
		dryRun    bool
		offline   bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Reconcile the ledger against the chain",
		Long: `
Run the audit modules (reconcile, blockage, error) over every transaction
group. Module output goes to one file per module in the output directory.
With --dry-run every status correction is rolled back.

Examples:
  txledgerd audit --include reconcile --dry-run
  txledgerd audit --exclude error --output-dir /tmp/audit
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

			database, err := core.OpenDB(&cfg)
			if err != nil {
				return fmt.Errorf("failed to open ledger store: %w", err)
			}
			defer database.Close()

			var chain *common.Context
			if !offline {
				if chain, err = core.Dial(&cfg, log); err != nil {
					log.Warn().Err(err).Msg("chain unavailable, flagged groups stay unresolved")
				}
			}

			report, err := core.RunAudit(cmd.Context(), &cfg, database, chain, audit.Options{
				Include:   include,
				Exclude:   exclude,
				OutputDir: outputDir,
				DryRun:    dryRun,
			}, log)
			if err != nil {
				return err
			}
			for _, outcome := range []string{
				audit.OutcomeClean,
				audit.OutcomeConfirmed,
				audit.OutcomeCancelled,
				audit.OutcomeUnresolved,
				audit.OutcomeBlocked,
				audit.OutcomeErrored,
			} {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %d\n", outcome, report.Outcomes[outcome])
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&include, "include", nil, "Modules to run (default: all)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Modules to skip")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory receiving module output (default: audit_output_dir)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Roll back every status correction")
	cmd.Flags().BoolVar(&offline, "offline", false, "Do not contact the chain")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print txledgerd version info",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:       %s\n", "txledgerd")
			fmt.Fprintf(out, "Version:    %s\n", Version)
			if info, ok := debug.ReadBuildInfo(); ok {
				fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
			}
		},
	}
}
