// Package config loads apctl's configuration file.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Config is the CLI's view of the world: which ledger to talk to and where
// the gate lives.
type Config struct {
	// ProgramID scopes every derived address. Required.
	ProgramID string `mapstructure:"program_id"`

	// LedgerSnapshot is the local ledger state file. Used when RPCURL is
	// empty; mutated commands rewrite it after each submit.
	LedgerSnapshot string `mapstructure:"ledger_snapshot"`

	// RPCURL, when set, serves reads and scans from a live endpoint.
	RPCURL string `mapstructure:"rpc_url"`

	// GateURL is the merchant gate for order commands.
	GateURL string `mapstructure:"gate_url"`
}

// Load reads the config at path, or the defaults when path is empty and no
// apctl.yaml is found in the working directory.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("ledger_snapshot", "ledger.json")
	v.SetDefault("gate_url", "http://localhost:8090")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("apctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		var nf viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &nf) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ProgramID == "" {
		return Config{}, errors.New("program_id is required")
	}
	return cfg, nil
}
