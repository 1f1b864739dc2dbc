package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"vaultledger/internal/sim"
)

// SimulateConfig holds configuration for the simulate command.
type SimulateConfig struct {
	Scenario    string
	Out         string
	PGDSN       string
	MetricsAddr string
	Result      string
	LogLevel    string
}

// LoadSimulate merges config file, environment variables, and flags into
// SimulateConfig. The scenario itself is read by LoadScenario.
func LoadSimulate(cfgFile string, flags *pflag.FlagSet) (SimulateConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"out": "./data/logs.jsonl",
	})
	if err != nil {
		return SimulateConfig{}, err
	}

	cfg := SimulateConfig{
		Scenario:    v.GetString("scenario"),
		Out:         v.GetString("out"),
		PGDSN:       v.GetString("pg-dsn"),
		MetricsAddr: v.GetString("metrics-addr"),
		Result:      v.GetString("result"),
		LogLevel:    v.GetString("log-level"),
	}
	if cfg.Scenario == "" {
		return cfg, fmt.Errorf("scenario path is required")
	}
	return cfg, nil
}

// LoadScenario reads a scenario file in any format viper understands. Amounts
// may be written as numbers or strings and durations as "1h30m".
func LoadScenario(path string) (sim.Scenario, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return sim.Scenario{}, fmt.Errorf("read scenario: %w", err)
	}

	var sc sim.Scenario
	if err := v.Unmarshal(&sc); err != nil {
		return sim.Scenario{}, fmt.Errorf("decode scenario %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return sim.Scenario{}, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}
