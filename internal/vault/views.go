package vault

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vaultledger/internal/errs"
	"vaultledger/internal/fixedpoint"
)

// read runs fn under a view of an initialized vault.
func (v *Vault) read(ctx context.Context, fn func(ctx context.Context) error) error {
	return v.env.View(ctx, func(ctx context.Context) error {
		if !v.state.initialized {
			return errs.ErrNotInitialized
		}
		return fn(ctx)
	})
}

// Asset returns the custodied asset address.
func (v *Vault) Asset(ctx context.Context) common.Address {
	var out common.Address
	_ = v.read(ctx, func(context.Context) error {
		out = v.state.asset.Address()
		return nil
	})
	return out
}

// Name returns the share token name.
func (v *Vault) Name(ctx context.Context) string {
	var out string
	_ = v.read(ctx, func(context.Context) error {
		out = v.state.shares.Name()
		return nil
	})
	return out
}

// Symbol returns the share token symbol.
func (v *Vault) Symbol(ctx context.Context) string {
	var out string
	_ = v.read(ctx, func(context.Context) error {
		out = v.state.shares.Symbol()
		return nil
	})
	return out
}

// Manager returns the current manager.
func (v *Vault) Manager(ctx context.Context) common.Address {
	var out common.Address
	_ = v.env.View(ctx, func(context.Context) error {
		out = v.state.manager
		return nil
	})
	return out
}

// IsPaused reports whether deposits are blocked.
func (v *Vault) IsPaused(ctx context.Context) bool {
	var out bool
	_ = v.env.View(ctx, func(context.Context) error {
		out = v.state.paused
		return nil
	})
	return out
}

// MinReportInterval returns the minimum time between reports per strategy.
func (v *Vault) MinReportInterval() time.Duration { return v.cfg.MinReportInterval }

// TotalAssets returns idle plus total debt.
func (v *Vault) TotalAssets(ctx context.Context) *uint256.Int {
	out := new(uint256.Int)
	_ = v.env.View(ctx, func(context.Context) error {
		out = v.totalAssets()
		return nil
	})
	return out
}

// TotalIdle returns the asset held by the vault itself.
func (v *Vault) TotalIdle(ctx context.Context) *uint256.Int {
	out := new(uint256.Int)
	_ = v.env.View(ctx, func(context.Context) error {
		out.Set(&v.state.idle)
		return nil
	})
	return out
}

// TotalDebt returns the capital attributed to all strategies.
func (v *Vault) TotalDebt(ctx context.Context) *uint256.Int {
	out := new(uint256.Int)
	_ = v.env.View(ctx, func(context.Context) error {
		out.Set(&v.state.totalDebt)
		return nil
	})
	return out
}

// TotalSupply returns the outstanding shares.
func (v *Vault) TotalSupply(ctx context.Context) *uint256.Int {
	out := new(uint256.Int)
	_ = v.read(ctx, func(ctx context.Context) error {
		out = v.state.shares.TotalSupply(ctx)
		return nil
	})
	return out
}

// BalanceOf returns the shares held by account.
func (v *Vault) BalanceOf(ctx context.Context, account common.Address) *uint256.Int {
	out := new(uint256.Int)
	_ = v.read(ctx, func(ctx context.Context) error {
		out = v.state.shares.BalanceOf(ctx, account)
		return nil
	})
	return out
}

// Allowance returns how many of owner's shares spender may withdraw.
func (v *Vault) Allowance(ctx context.Context, owner, spender common.Address) *uint256.Int {
	out := new(uint256.Int)
	_ = v.read(ctx, func(ctx context.Context) error {
		out = v.state.shares.Allowance(ctx, owner, spender)
		return nil
	})
	return out
}

// ConvertToShares converts assets to shares, rounding down.
func (v *Vault) ConvertToShares(ctx context.Context, assets *uint256.Int) (*uint256.Int, error) {
	return v.convert(ctx, assets, true, fixedpoint.Floor)
}

// ConvertToAssets converts shares to assets, rounding down.
func (v *Vault) ConvertToAssets(ctx context.Context, shares *uint256.Int) (*uint256.Int, error) {
	return v.convert(ctx, shares, false, fixedpoint.Floor)
}

// PreviewDeposit returns the shares a deposit of assets would mint now.
func (v *Vault) PreviewDeposit(ctx context.Context, assets *uint256.Int) (*uint256.Int, error) {
	return v.ConvertToShares(ctx, assets)
}

// PreviewWithdraw returns the shares a withdrawal of assets would burn now.
func (v *Vault) PreviewWithdraw(ctx context.Context, assets *uint256.Int) (*uint256.Int, error) {
	return v.convert(ctx, assets, true, fixedpoint.Ceil)
}

// PreviewRedeem returns the assets a redemption of shares would pay now.
func (v *Vault) PreviewRedeem(ctx context.Context, shares *uint256.Int) (*uint256.Int, error) {
	return v.ConvertToAssets(ctx, shares)
}

func (v *Vault) convert(ctx context.Context, amount *uint256.Int, toShares bool, rounding fixedpoint.Rounding) (*uint256.Int, error) {
	var out *uint256.Int
	err := v.read(ctx, func(ctx context.Context) error {
		supply := v.state.shares.TotalSupply(ctx)
		total := v.totalAssets()
		var err error
		if toShares {
			out, err = v.toShares(amount, supply, total, rounding)
		} else {
			out, err = v.toAssets(amount, supply, total, rounding)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MaxDeposit is zero while paused and unbounded otherwise.
func (v *Vault) MaxDeposit(ctx context.Context, _ common.Address) *uint256.Int {
	if v.IsPaused(ctx) {
		return new(uint256.Int)
	}
	return fixedpoint.MaxUint256()
}

// MaxWithdraw returns the floor asset value of owner's shares. Strategies
// may still lack the liquidity to pay it.
func (v *Vault) MaxWithdraw(ctx context.Context, owner common.Address) *uint256.Int {
	assets, err := v.ConvertToAssets(ctx, v.BalanceOf(ctx, owner))
	if err != nil {
		return new(uint256.Int)
	}
	return assets
}

// MaxRedeem returns owner's share balance.
func (v *Vault) MaxRedeem(ctx context.Context, owner common.Address) *uint256.Int {
	return v.BalanceOf(ctx, owner)
}

// Strategies returns the registered strategies in registration order.
func (v *Vault) Strategies(ctx context.Context) []common.Address {
	var out []common.Address
	_ = v.env.View(ctx, func(context.Context) error {
		out = append([]common.Address(nil), v.state.order...)
		return nil
	})
	return out
}

// Strategy returns the vault's record for strategy.
func (v *Vault) Strategy(ctx context.Context, strategy common.Address) (StrategyRecord, bool) {
	var (
		out StrategyRecord
		ok  bool
	)
	_ = v.env.View(ctx, func(context.Context) error {
		out, ok = v.state.strategies[strategy]
		return nil
	})
	return out, ok
}
