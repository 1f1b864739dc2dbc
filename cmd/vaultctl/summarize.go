package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vaultledger/internal/aggregate"
	"vaultledger/internal/chain"
	"vaultledger/internal/config"
	"vaultledger/internal/onchain"
	"vaultledger/internal/storage"
	"vaultledger/internal/storage/postgres"
)

func newSummarizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Fold typed events into per-strategy window summaries",
		RunE:  runSummarize,
	}
	cmd.Flags().String("in", "", "input typed events JSONL")
	cmd.Flags().String("window", "24h", "summary window (e.g. 1h, 24h)")
	cmd.Flags().String("out", "./data/strategy_summaries.jsonl", "output summaries JSONL when no pg-dsn is set")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN; upserts into strategy_window_metrics")
	cmd.Flags().String("rpc", "", "optional node RPC URL used to look up asset decimals per vault")
	cmd.Flags().Int("decimals", 18, "asset decimals when no rpc is set")
	cmd.Flags().Int("batch-size", 1000, "summaries per write")
	cmd.Flags().String("state-file", "", "local state file for progress tracking")
	cmd.Flags().String("recompute-from", "", "recompute from timestamp (unix seconds or RFC3339)")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts per RPC call")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	return cmd
}

func runSummarize(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadSummarize(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		sink       storage.SummarySink
		stateStore aggregate.StateStore
	)
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		sink = store
		stateStore = &aggregate.DBStateStore{Store: store, WindowSeconds: cfg.WindowSeconds}
	} else {
		sink = storage.NewJsonlStorage(cfg.Out)
	}
	if cfg.StateFile != "" {
		stateStore = &aggregate.FileStateStore{Path: cfg.StateFile, WindowSeconds: cfg.WindowSeconds}
	}

	var resolver aggregate.DecimalsResolver
	if cfg.RPCURL != "" {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL, cfg.MaxRetries, cfg.RetryBackoff)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		resolver = onchain.NewInspector(chainClient, logger)
	}

	agg := aggregate.NewAggregator(aggregate.Config{
		WindowSeconds: cfg.WindowSeconds,
		BatchSize:     cfg.BatchSize,
		RecomputeFrom: cfg.RecomputeFrom,
		Decimals:      cfg.Decimals,
		Resolver:      resolver,
		StateStore:    stateStore,
	}, sink, logger)

	logger.Info("summarize start",
		zap.String("input", cfg.Input),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Uint64("window_seconds", cfg.WindowSeconds),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Uint64("recompute_from", cfg.RecomputeFrom),
		zap.Bool("resolve_decimals", resolver != nil),
	)

	return agg.Run(ctx, cfg.Input)
}
