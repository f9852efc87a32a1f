package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pushchain/txledger/txledger/config"
	"github.com/pushchain/txledger/txledger/constant"
)

// Overlay keys. Each maps to TXLEDGER_<KEY> with dots as underscores.
const (
	keyLogLevel       = "log_level"
	keyLogFormat      = "log_format"
	keyDatabaseDriver = "database_driver"
	keyDatabaseDSN    = "database_dsn"
	keyQueryPort      = "query_server_port"
	keyRPCURLs        = "chain.rpc_urls"
	keyGasProvider    = "gas.gas_provider"
	keyCallbackURL    = "filters.callback_url"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(constant.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// bindFlag binds a flag to an overlay key when the command defines it
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) error {
	f := cmd.Flags().Lookup(flag)
	if f == nil {
		return nil
	}
	return v.BindPFlag(key, f)
}

// loadConfig reads the config file under the home flag and overlays
// environment variables and flags
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	home, err := cmd.Flags().GetString(flagHome)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(home)
	if err != nil {
		return config.Config{}, err
	}

	v := newViper()
	if err := bindFlag(v, cmd, keyQueryPort, "query-port"); err != nil {
		return config.Config{}, err
	}
	if err := bindFlag(v, cmd, keyLogLevel, "log-level"); err != nil {
		return config.Config{}, err
	}
	applyOverlay(v, &cfg)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func applyOverlay(v *viper.Viper, cfg *config.Config) {
	if v.IsSet(keyLogLevel) {
		cfg.LogLevel = v.GetInt(keyLogLevel)
	}
	if v.IsSet(keyLogFormat) {
		cfg.LogFormat = v.GetString(keyLogFormat)
	}
	if v.IsSet(keyDatabaseDriver) {
		cfg.DatabaseDriver = config.DatabaseDriver(v.GetString(keyDatabaseDriver))
	}
	if v.IsSet(keyDatabaseDSN) {
		cfg.DatabaseDSN = v.GetString(keyDatabaseDSN)
	}
	if v.IsSet(keyQueryPort) {
		cfg.QueryServerPort = v.GetInt(keyQueryPort)
	}
	if v.IsSet(keyRPCURLs) {
		var urls []string
		for _, u := range strings.Split(v.GetString(keyRPCURLs), ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		cfg.Chain.RPCURLs = urls
	}
	if v.IsSet(keyGasProvider) {
		cfg.Gas.GasProvider = v.GetString(keyGasProvider)
	}
	if v.IsSet(keyCallbackURL) {
		cfg.Filters.CallbackURL = v.GetString(keyCallbackURL)
	}
}
