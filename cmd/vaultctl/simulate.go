package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vaultledger/internal/config"
	"vaultledger/internal/metrics"
	"vaultledger/internal/sim"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scenario against an in-process factory, vault and strategies",
		RunE:  runSimulate,
	}
	cmd.Flags().String("scenario", "", "scenario file (yaml, json or toml)")
	cmd.Flags().String("out", "./data/logs.jsonl", "output raw logs JSONL")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN; stores logs in vault_events instead of out")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address after the run until interrupted")
	cmd.Flags().String("result", "", "write the run result as JSON to this path instead of stdout")
	return cmd
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadSimulate(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	scenario, err := config.LoadScenario(cfg.Scenario)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, closeSink, err := openLogSink(ctx, cfg.PGDSN, cfg.Out)
	if err != nil {
		return err
	}
	defer closeSink()

	recorder := metrics.NewRecorder()
	runner := sim.NewRunner(sink, recorder, logger)

	logger.Info("simulate start",
		zap.String("scenario", cfg.Scenario),
		zap.String("name", scenario.Name),
		zap.Int("strategies", len(scenario.Strategies)),
		zap.Int("steps", len(scenario.Steps)),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	result, err := runner.Run(ctx, scenario)
	if err != nil {
		return err
	}
	if err := writeResult(cfg.Result, result); err != nil {
		return err
	}

	if cfg.MetricsAddr == "" {
		return nil
	}
	return serveMetrics(ctx, cfg.MetricsAddr, recorder, logger)
}

func writeResult(path string, result *sim.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func serveMetrics(ctx context.Context, addr string, recorder *metrics.Recorder, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
