package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// PredictConfig holds configuration for the predict command.
type PredictConfig struct {
	Factory        string
	Implementation string
	Deployer       string
	Asset          string
	Name           string
	Symbol         string
	LogLevel       string
}

// LoadPredict merges config file, environment variables, and flags into PredictConfig.
func LoadPredict(cfgFile string, flags *pflag.FlagSet) (PredictConfig, error) {
	v, err := load(cfgFile, flags, nil)
	if err != nil {
		return PredictConfig{}, err
	}

	cfg := PredictConfig{
		Factory:        v.GetString("factory"),
		Implementation: v.GetString("implementation"),
		Deployer:       v.GetString("deployer"),
		Asset:          v.GetString("asset"),
		Name:           v.GetString("name"),
		Symbol:         v.GetString("symbol"),
		LogLevel:       v.GetString("log-level"),
	}
	required := []struct{ key, value string }{
		{"factory", cfg.Factory},
		{"implementation", cfg.Implementation},
		{"deployer", cfg.Deployer},
		{"asset", cfg.Asset},
	}
	for _, field := range required {
		if field.value == "" {
			return cfg, fmt.Errorf("%s is required", field.key)
		}
	}
	return cfg, nil
}

// InspectConfig holds configuration for the inspect command.
type InspectConfig struct {
	RPCURL       string
	Vault        string
	Amounts      []string
	Block        uint64
	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string
}

// LoadInspect merges config file, environment variables, and flags into InspectConfig.
func LoadInspect(cfgFile string, flags *pflag.FlagSet) (InspectConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"amount":        []string{"1000000"},
		"max-retries":   5,
		"retry-backoff": 500 * time.Millisecond,
	})
	if err != nil {
		return InspectConfig{}, err
	}

	cfg := InspectConfig{
		RPCURL:       v.GetString("rpc"),
		Vault:        v.GetString("vault"),
		Amounts:      getStringSlice(v, "amount"),
		Block:        v.GetUint64("block"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		LogLevel:     v.GetString("log-level"),
	}
	if cfg.RPCURL == "" {
		return cfg, fmt.Errorf("rpc url is required")
	}
	if cfg.Vault == "" {
		return cfg, fmt.Errorf("vault address is required")
	}
	return cfg, nil
}
