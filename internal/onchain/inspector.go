// Package onchain reads ERC-4626 vault state from a live node and checks the
// vault's conversion previews against locally computed rounding.
package onchain

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"vaultledger/internal/fixedpoint"
)

// Caller performs read-only contract calls. chain.Client implements it.
type Caller interface {
	CallContract(ctx context.Context, to common.Address, data []byte, blockNumber *big.Int) ([]byte, error)
}

// VaultInfo is a vault's identity and totals at one block.
type VaultInfo struct {
	Address       common.Address
	Name          string
	Symbol        string
	Asset         common.Address
	AssetSymbol   string
	AssetDecimals uint8
	TotalAssets   *uint256.Int
	TotalSupply   *uint256.Int
}

// Preview holds the vault's answers for one amount next to the values the
// local rounding rules produce from the same totals.
type Preview struct {
	Amount          *uint256.Int
	ConvertToShares *uint256.Int
	ConvertToAssets *uint256.Int
	PreviewDeposit  *uint256.Int
	PreviewWithdraw *uint256.Int
	PreviewRedeem   *uint256.Int
	Expected        LocalPreview
	Mismatches      []string
}

// LocalPreview is computed from totalAssets and totalSupply alone: deposits
// and redemptions round down, withdrawals round up.
type LocalPreview struct {
	ConvertToShares *uint256.Int
	ConvertToAssets *uint256.Int
	PreviewWithdraw *uint256.Int
}

// Inspector reads vault state through a Caller.
type Inspector struct {
	caller Caller
	logger *zap.Logger
}

func NewInspector(caller Caller, logger *zap.Logger) *Inspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{caller: caller, logger: logger}
}

// VaultInfo loads identity and totals at block, or latest when block is nil.
func (i *Inspector) VaultInfo(ctx context.Context, vault common.Address, block *big.Int) (VaultInfo, error) {
	info := VaultInfo{Address: vault}
	vaultABI, err := VaultABI()
	if err != nil {
		return info, fmt.Errorf("parse vault abi: %w", err)
	}

	values, err := i.call(ctx, vault, vaultABI, "asset", block)
	if err != nil {
		return info, err
	}
	asset, ok := values[0].(common.Address)
	if !ok {
		return info, fmt.Errorf("asset: unexpected type %T", values[0])
	}
	info.Asset = asset

	if values, err := i.call(ctx, vault, vaultABI, "name", block); err == nil {
		info.Name, _ = values[0].(string)
	} else {
		i.logger.Debug("vault name call failed", zap.String("vault", vault.Hex()), zap.Error(err))
	}
	if values, err := i.call(ctx, vault, vaultABI, "symbol", block); err == nil {
		info.Symbol, _ = values[0].(string)
	} else {
		i.logger.Debug("vault symbol call failed", zap.String("vault", vault.Hex()), zap.Error(err))
	}

	if info.TotalAssets, err = i.callUint(ctx, vault, vaultABI, "totalAssets", block); err != nil {
		return info, err
	}
	if info.TotalSupply, err = i.callUint(ctx, vault, vaultABI, "totalSupply", block); err != nil {
		return info, err
	}

	decimals, symbol, err := i.assetMeta(ctx, asset)
	if err != nil {
		return info, err
	}
	info.AssetDecimals, info.AssetSymbol = decimals, symbol
	return info, nil
}

// AssetDecimals returns the decimals of the vault's asset.
func (i *Inspector) AssetDecimals(ctx context.Context, vault common.Address) (uint8, error) {
	vaultABI, err := VaultABI()
	if err != nil {
		return 0, fmt.Errorf("parse vault abi: %w", err)
	}
	values, err := i.call(ctx, vault, vaultABI, "asset", nil)
	if err != nil {
		return 0, err
	}
	asset, ok := values[0].(common.Address)
	if !ok {
		return 0, fmt.Errorf("asset: unexpected type %T", values[0])
	}
	decimals, _, err := i.assetMeta(ctx, asset)
	return decimals, err
}

// Preview asks the vault to convert amount every way and compares the
// answers with LocalPreview over info's totals.
func (i *Inspector) Preview(ctx context.Context, info VaultInfo, amount *uint256.Int, block *big.Int) (Preview, error) {
	out := Preview{Amount: amount}
	vaultABI, err := VaultABI()
	if err != nil {
		return out, fmt.Errorf("parse vault abi: %w", err)
	}

	calls := []struct {
		method string
		dst    **uint256.Int
	}{
		{"convertToShares", &out.ConvertToShares},
		{"convertToAssets", &out.ConvertToAssets},
		{"previewDeposit", &out.PreviewDeposit},
		{"previewWithdraw", &out.PreviewWithdraw},
		{"previewRedeem", &out.PreviewRedeem},
	}
	for _, c := range calls {
		value, err := i.callUint(ctx, info.Address, vaultABI, c.method, block, amount.ToBig())
		if err != nil {
			return out, err
		}
		*c.dst = value
	}

	expected, err := ComputeLocalPreview(info.TotalAssets, info.TotalSupply, amount)
	if err != nil {
		return out, err
	}
	out.Expected = expected
	out.Mismatches = compare(out, expected)
	return out, nil
}

// ComputeLocalPreview converts amount using the ledger's rounding rules. An
// empty vault converts 1:1.
func ComputeLocalPreview(totalAssets, totalSupply, amount *uint256.Int) (LocalPreview, error) {
	if totalSupply.IsZero() || totalAssets.IsZero() {
		same := new(uint256.Int).Set(amount)
		return LocalPreview{ConvertToShares: same, ConvertToAssets: same, PreviewWithdraw: same}, nil
	}
	shares, err := fixedpoint.MulDiv(amount, totalSupply, totalAssets, fixedpoint.Floor)
	if err != nil {
		return LocalPreview{}, err
	}
	assets, err := fixedpoint.MulDiv(amount, totalAssets, totalSupply, fixedpoint.Floor)
	if err != nil {
		return LocalPreview{}, err
	}
	withdraw, err := fixedpoint.MulDiv(amount, totalSupply, totalAssets, fixedpoint.Ceil)
	if err != nil {
		return LocalPreview{}, err
	}
	return LocalPreview{ConvertToShares: shares, ConvertToAssets: assets, PreviewWithdraw: withdraw}, nil
}

func compare(got Preview, want LocalPreview) []string {
	var out []string
	check := func(name string, a, b *uint256.Int) {
		if !a.Eq(b) {
			out = append(out, fmt.Sprintf("%s: vault %s, expected %s", name, a, b))
		}
	}
	check("convertToShares", got.ConvertToShares, want.ConvertToShares)
	check("convertToAssets", got.ConvertToAssets, want.ConvertToAssets)
	check("previewDeposit", got.PreviewDeposit, want.ConvertToShares)
	check("previewWithdraw", got.PreviewWithdraw, want.PreviewWithdraw)
	check("previewRedeem", got.PreviewRedeem, want.ConvertToAssets)
	return out
}

func (i *Inspector) assetMeta(ctx context.Context, asset common.Address) (uint8, string, error) {
	stringABI, err := erc20ABIStringInstance()
	if err != nil {
		return 0, "", fmt.Errorf("parse erc20 string abi: %w", err)
	}
	values, err := i.call(ctx, asset, stringABI, "decimals", nil)
	if err != nil {
		return 0, "", err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, "", fmt.Errorf("decimals: unexpected type %T", values[0])
	}

	var symbol string
	if values, err := i.call(ctx, asset, stringABI, "symbol", nil); err == nil {
		symbol, _ = values[0].(string)
	} else if bytes32ABI, abiErr := erc20ABIBytes32Instance(); abiErr == nil {
		if values, err := i.call(ctx, asset, bytes32ABI, "symbol", nil); err == nil {
			if raw, ok := values[0].([32]byte); ok {
				symbol = string(bytes.TrimRight(raw[:], "\x00"))
			}
		}
	}
	return decimals, symbol, nil
}

func (i *Inspector) callUint(ctx context.Context, to common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) (*uint256.Int, error) {
	values, err := i.call(ctx, to, parsed, method, block, args...)
	if err != nil {
		return nil, err
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, values[0])
	}
	out, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, fmt.Errorf("%s: value overflows uint256", method)
	}
	return out, nil
}

func (i *Inspector) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	if i.caller == nil {
		return nil, fmt.Errorf("contract caller is nil")
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := i.caller.CallContract(ctx, to, data, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return values, nil
}
