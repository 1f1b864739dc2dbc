package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// SummarizeConfig holds configuration for the summarize command.
type SummarizeConfig struct {
	RPCURL        string
	Input         string
	Out           string
	PGDSN         string
	WindowSeconds uint64
	Decimals      uint8
	BatchSize     int
	StateFile     string
	RecomputeFrom uint64
	MaxRetries    int
	RetryBackoff  time.Duration
	LogLevel      string
}

// LoadSummarize merges config file, environment variables, and flags into
// SummarizeConfig. Summaries go to Postgres when pg-dsn is set and to the
// out JSONL file otherwise.
func LoadSummarize(cfgFile string, flags *pflag.FlagSet) (SummarizeConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"window":        "24h",
		"out":           "./data/strategy_summaries.jsonl",
		"decimals":      18,
		"batch-size":    1000,
		"max-retries":   5,
		"retry-backoff": 500 * time.Millisecond,
	})
	if err != nil {
		return SummarizeConfig{}, err
	}

	cfg := SummarizeConfig{
		RPCURL:       v.GetString("rpc"),
		Input:        v.GetString("in"),
		Out:          v.GetString("out"),
		PGDSN:        v.GetString("pg-dsn"),
		BatchSize:    v.GetInt("batch-size"),
		StateFile:    v.GetString("state-file"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		LogLevel:     v.GetString("log-level"),
	}
	if cfg.Input == "" {
		return cfg, fmt.Errorf("input path is required")
	}
	if cfg.PGDSN == "" && cfg.Out == "" {
		return cfg, fmt.Errorf("either pg-dsn or out is required")
	}
	if cfg.PGDSN == "" && cfg.StateFile == "" {
		// Progress lives next to the output when there is no database.
		cfg.StateFile = cfg.Out + ".state"
	}

	if cfg.WindowSeconds, err = ParseWindow(v.GetString("window")); err != nil {
		return cfg, err
	}
	decimals := v.GetInt("decimals")
	if decimals < 0 || decimals > 255 {
		return cfg, fmt.Errorf("decimals out of range: %d", decimals)
	}
	cfg.Decimals = uint8(decimals)
	if cfg.RecomputeFrom, err = ParseTimestamp(v.GetString("recompute-from")); err != nil {
		return cfg, fmt.Errorf("parse recompute-from: %w", err)
	}
	return cfg, nil
}

// ParseWindow parses a window duration and returns it in whole seconds.
func ParseWindow(input string) (uint64, error) {
	d, err := time.ParseDuration(strings.TrimSpace(input))
	if err != nil {
		return 0, fmt.Errorf("invalid window: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}
	seconds := uint64(d / time.Second)
	if seconds == 0 {
		return 0, fmt.Errorf("window must be at least 1s")
	}
	return seconds, nil
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (uint64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, nil
	}

	if isNumeric(input) {
		return strconv.ParseUint(input, 10, 64)
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	return uint64(tm.Unix()), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}
