package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vaultledger/internal/storage"
	"vaultledger/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "vaultctl",
		Short:        "Multi-strategy vault ledger: simulate, index and summarize",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newSimulateCmd(),
		newIndexCmd(),
		newDecodeCmd(),
		newSummarizeCmd(),
		newPredictCmd(),
		newInspectCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func configFile(cmd *cobra.Command) string {
	cfgFile, _ := cmd.Flags().GetString("config")
	return cfgFile
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// openLogSink returns a Postgres store when dsn is set and a JSONL file
// otherwise. The returned close func is never nil.
func openLogSink(ctx context.Context, dsn, out string) (storage.Storage, func(), error) {
	if dsn == "" {
		if out == "" {
			return nil, nil, fmt.Errorf("either pg-dsn or out is required")
		}
		return storage.NewJsonlStorage(out), func() {}, nil
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return store, store.Close, nil
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
