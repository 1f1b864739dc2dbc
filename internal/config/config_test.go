package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func indexFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("index", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.StringSlice("address", nil, "")
	flags.Uint64("batch-size", 2000, "")
	if err := flags.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return flags
}

func TestLoadIndexPrecedence(t *testing.T) {
	cfgFile := writeFile(t, "config.yaml", `
rpc: http://localhost:8545
address: 0x0000000000000000000000000000000000000001, 0x0000000000000000000000000000000000000002
batch-size: 500
`)

	cfg, err := LoadIndex(cfgFile, indexFlags(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchSize != 500 {
		t.Fatalf("config file should override default, got %d", cfg.BatchSize)
	}
	if len(cfg.Addresses) != 2 || cfg.Addresses[1] != "0x0000000000000000000000000000000000000002" {
		t.Fatalf("addresses: %v", cfg.Addresses)
	}
	if !cfg.FollowFactories || !cfg.CheckpointEnabled || cfg.RetryBackoff != 500*time.Millisecond {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	t.Setenv("VAULTCTL_BATCH_SIZE", "700")
	cfg, err = LoadIndex(cfgFile, indexFlags(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchSize != 700 {
		t.Fatalf("env should override config file, got %d", cfg.BatchSize)
	}

	cfg, err = LoadIndex(cfgFile, indexFlags(t, "--batch-size=900"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchSize != 900 {
		t.Fatalf("flag should override env, got %d", cfg.BatchSize)
	}
}

func TestLoadIndexRequiresAddresses(t *testing.T) {
	cfgFile := writeFile(t, "config.yaml", "rpc: http://localhost:8545\n")
	if _, err := LoadIndex(cfgFile, indexFlags(t)); err == nil {
		t.Fatalf("expected error without addresses")
	}
}

func TestLoadSummarizeDefaults(t *testing.T) {
	cfgFile := writeFile(t, "config.yaml", `
in: ./data/typed_events.jsonl
out: ./out/summaries.jsonl
recompute-from: "2026-01-02T00:00:00Z"
`)
	cfg, err := LoadSummarize(cfgFile, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WindowSeconds != 86400 || cfg.Decimals != 18 {
		t.Fatalf("defaults: window=%d decimals=%d", cfg.WindowSeconds, cfg.Decimals)
	}
	if cfg.StateFile != "./out/summaries.jsonl.state" {
		t.Fatalf("state file: %s", cfg.StateFile)
	}
	if cfg.RecomputeFrom != 1767312000 {
		t.Fatalf("recompute from: %d", cfg.RecomputeFrom)
	}

	withDB := writeFile(t, "config.yaml", "in: x.jsonl\npg-dsn: postgres://localhost/vaults\nwindow: 1h\n")
	cfg, err = LoadSummarize(withDB, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StateFile != "" || cfg.WindowSeconds != 3600 {
		t.Fatalf("db config: %+v", cfg)
	}
}

func TestParseWindow(t *testing.T) {
	cases := map[string]uint64{"1s": 1, "5m": 300, "24h": 86400, "90m": 5400}
	for input, want := range cases {
		got, err := ParseWindow(input)
		if err != nil {
			t.Fatalf("%s: %v", input, err)
		}
		if got != want {
			t.Fatalf("%s: got %d want %d", input, got, want)
		}
	}
	for _, input := range []string{"", "0s", "-1h", "500ms", "daily"} {
		if _, err := ParseWindow(input); err == nil {
			t.Fatalf("%q: expected error", input)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	if ts, err := ParseTimestamp(""); err != nil || ts != 0 {
		t.Fatalf("empty: %d %v", ts, err)
	}
	if ts, err := ParseTimestamp("1767225600"); err != nil || ts != 1767225600 {
		t.Fatalf("unix: %d %v", ts, err)
	}
	if ts, err := ParseTimestamp("2026-01-01T00:00:00Z"); err != nil || ts != 1767225600 {
		t.Fatalf("rfc3339: %d %v", ts, err)
	}
	if _, err := ParseTimestamp("last tuesday"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadScenario(t *testing.T) {
	path := writeFile(t, "scenario.yaml", `
name: smoke
start: "2026-03-01T00:00:00Z"
factory:
  protocol_fee_bps: 500
  fee_recipient: treasury
vault:
  min_report_interval: 2h
strategies:
  - name: idle
    debt_ceiling: 5000
  - name: lend
    kind: lending
    rate_bps: 400
steps:
  - action: fund
    to: alice
    amount: 1000
  - action: advance
    duration: 24h
  - action: report
    strategy: idle
    expect_error: report too soon
`)
	sc, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	if sc.Name != "smoke" || sc.Factory.ProtocolFeeBps != 500 || sc.Factory.FeeRecipient != "treasury" {
		t.Fatalf("factory: %+v", sc.Factory)
	}
	if sc.Vault.MinReportInterval != 2*time.Hour {
		t.Fatalf("min report interval: %s", sc.Vault.MinReportInterval)
	}
	if len(sc.Strategies) != 2 || sc.Strategies[0].DebtCeiling != "5000" || sc.Strategies[1].RateBps != 400 {
		t.Fatalf("strategies: %+v", sc.Strategies)
	}
	if len(sc.Steps) != 3 || sc.Steps[0].Amount != "1000" || sc.Steps[1].Duration != 24*time.Hour {
		t.Fatalf("steps: %+v", sc.Steps)
	}
	if sc.Steps[2].ExpectError != "report too soon" {
		t.Fatalf("expect_error: %q", sc.Steps[2].ExpectError)
	}
	if sc.Asset.Symbol != "USDC" || sc.Vault.Manager != "manager" {
		t.Fatalf("validation defaults not applied: %+v %+v", sc.Asset, sc.Vault)
	}
}

func TestLoadScenarioRejectsUnknownAction(t *testing.T) {
	path := writeFile(t, "scenario.yaml", "steps:\n  - action: teleport\n")
	if _, err := LoadScenario(path); err == nil {
		t.Fatalf("expected validation error")
	}
}
