package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vaultledger/internal/chain"
	"vaultledger/internal/config"
	"vaultledger/internal/fixedpoint"
	"vaultledger/internal/onchain"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Check a live ERC-4626 vault's previews against local rounding",
		RunE:  runInspect,
	}
	cmd.Flags().String("rpc", "", "node RPC URL")
	cmd.Flags().String("vault", "", "vault address")
	cmd.Flags().StringSlice("amount", []string{"1000000"}, "raw amounts to preview (comma-separated)")
	cmd.Flags().Uint64("block", 0, "block to read at, 0 means latest")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts per RPC call")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	return cmd
}

type inspectPreview struct {
	Amount          string   `json:"amount"`
	ConvertToShares string   `json:"convert_to_shares"`
	ConvertToAssets string   `json:"convert_to_assets"`
	PreviewDeposit  string   `json:"preview_deposit"`
	PreviewWithdraw string   `json:"preview_withdraw"`
	PreviewRedeem   string   `json:"preview_redeem"`
	Mismatches      []string `json:"mismatches,omitempty"`
}

type inspectReport struct {
	Vault         string           `json:"vault"`
	Name          string           `json:"name"`
	Symbol        string           `json:"symbol"`
	Asset         string           `json:"asset"`
	AssetSymbol   string           `json:"asset_symbol"`
	AssetDecimals uint8            `json:"asset_decimals"`
	TotalAssets   string           `json:"total_assets"`
	TotalSupply   string           `json:"total_supply"`
	Previews      []inspectPreview `json:"previews"`
}

func runInspect(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadInspect(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !common.IsHexAddress(cfg.Vault) {
		return fmt.Errorf("invalid vault address: %q", cfg.Vault)
	}
	var block *big.Int
	if cfg.Block > 0 {
		block = new(big.Int).SetUint64(cfg.Block)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, cfg.MaxRetries, cfg.RetryBackoff)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	inspector := onchain.NewInspector(chainClient, logger)
	info, err := inspector.VaultInfo(ctx, common.HexToAddress(cfg.Vault), block)
	if err != nil {
		return err
	}

	report := inspectReport{
		Vault:         info.Address.Hex(),
		Name:          info.Name,
		Symbol:        info.Symbol,
		Asset:         info.Asset.Hex(),
		AssetSymbol:   info.AssetSymbol,
		AssetDecimals: info.AssetDecimals,
		TotalAssets:   info.TotalAssets.Dec(),
		TotalSupply:   info.TotalSupply.Dec(),
	}
	mismatches := 0
	for _, raw := range cfg.Amounts {
		amount, err := fixedpoint.Parse(raw)
		if err != nil {
			return fmt.Errorf("amount %q: %w", raw, err)
		}
		preview, err := inspector.Preview(ctx, info, amount, block)
		if err != nil {
			return err
		}
		mismatches += len(preview.Mismatches)
		report.Previews = append(report.Previews, inspectPreview{
			Amount:          preview.Amount.Dec(),
			ConvertToShares: preview.ConvertToShares.Dec(),
			ConvertToAssets: preview.ConvertToAssets.Dec(),
			PreviewDeposit:  preview.PreviewDeposit.Dec(),
			PreviewWithdraw: preview.PreviewWithdraw.Dec(),
			PreviewRedeem:   preview.PreviewRedeem.Dec(),
			Mismatches:      preview.Mismatches,
		})
	}

	logger.Info("inspect complete",
		zap.String("vault", report.Vault),
		zap.Int("amounts", len(report.Previews)),
		zap.Int("mismatches", mismatches),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
