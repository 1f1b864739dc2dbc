package vault

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"vaultledger/internal/errs"
	"vaultledger/internal/events"
	"vaultledger/internal/fixedpoint"
)

// Deposit pulls amount of the asset from caller and mints shares to
// receiver. Shares round down.
func (v *Vault) Deposit(ctx context.Context, caller common.Address, amount *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	if amount.IsZero() {
		return nil, errs.ErrZeroAmount
	}
	if receiver == (common.Address{}) {
		return nil, errs.ErrInvalidReceiver
	}

	var shares *uint256.Int
	err := v.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := v.enter()
		if err != nil {
			return err
		}
		defer release()

		if v.state.paused {
			return fmt.Errorf("%w: vault %s", errs.ErrPaused, v.address.Hex())
		}

		supply := v.state.shares.TotalSupply(ctx)
		total := v.totalAssets()
		if !supply.IsZero() && total.IsZero() {
			return fmt.Errorf("%w: supply %s backed by zero assets", errs.ErrNoBackingAssets, supply)
		}
		if shares, err = v.toShares(amount, supply, total, fixedpoint.Floor); err != nil {
			return err
		}
		if shares.IsZero() {
			return fmt.Errorf("%w: deposit of %s", errs.ErrZeroShares, amount)
		}

		if err := v.state.asset.TransferFrom(ctx, v.address, caller, v.address, amount); err != nil {
			return fmt.Errorf("pull deposit: %w", err)
		}
		v.state.idle.Add(&v.state.idle, amount)
		if err := v.state.shares.Mint(ctx, receiver, shares); err != nil {
			return err
		}

		v.logger.Debug("deposit",
			zap.String("caller", caller.Hex()),
			zap.String("receiver", receiver.Hex()),
			zap.Stringer("assets", amount),
			zap.Stringer("shares", shares),
		)
		if err := v.emit(ctx, events.Deposit, caller, receiver, amount, shares); err != nil {
			return err
		}
		return v.autoAllocate(ctx, amount)
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// Withdraw pays amount of the asset to receiver, burning owner's shares.
// Shares round up.
func (v *Vault) Withdraw(ctx context.Context, caller common.Address, amount *uint256.Int, receiver, owner common.Address) (*uint256.Int, error) {
	if amount.IsZero() {
		return nil, errs.ErrZeroAmount
	}
	if receiver == (common.Address{}) {
		return nil, errs.ErrInvalidReceiver
	}

	var shares *uint256.Int
	err := v.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := v.enter()
		if err != nil {
			return err
		}
		defer release()

		total := v.totalAssets()
		if total.IsZero() {
			return fmt.Errorf("%w: vault holds no assets", errs.ErrInsufficientLiquidity)
		}
		if shares, err = v.toShares(amount, v.state.shares.TotalSupply(ctx), total, fixedpoint.Ceil); err != nil {
			return err
		}
		return v.withdraw(ctx, caller, receiver, owner, amount, shares)
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// Redeem burns shares of owner and pays the asset value to receiver. Assets
// round down.
func (v *Vault) Redeem(ctx context.Context, caller common.Address, shares *uint256.Int, receiver, owner common.Address) (*uint256.Int, error) {
	if shares.IsZero() {
		return nil, errs.ErrZeroAmount
	}
	if receiver == (common.Address{}) {
		return nil, errs.ErrInvalidReceiver
	}

	var assets *uint256.Int
	err := v.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := v.enter()
		if err != nil {
			return err
		}
		defer release()

		if assets, err = v.toAssets(shares, v.state.shares.TotalSupply(ctx), v.totalAssets(), fixedpoint.Floor); err != nil {
			return err
		}
		if assets.IsZero() {
			return fmt.Errorf("%w: %s shares redeem for zero assets", errs.ErrZeroAmount, shares)
		}
		return v.withdraw(ctx, caller, receiver, owner, assets, shares)
	})
	if err != nil {
		return nil, err
	}
	return assets, nil
}

// withdraw is the shared tail of Withdraw and Redeem. The asset leaves the
// vault only after every ledger update is done.
func (v *Vault) withdraw(ctx context.Context, caller, receiver, owner common.Address, assets, shares *uint256.Int) error {
	if caller != owner {
		if err := v.state.shares.SpendAllowance(ctx, owner, caller, shares); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
		}
	}
	if bal := v.state.shares.BalanceOf(ctx, owner); bal.Lt(shares) {
		return fmt.Errorf("%w: owner %s has %s shares, needs %s", errs.ErrInsufficientBalance, owner.Hex(), bal, shares)
	}

	if v.state.idle.Lt(assets) {
		if err := v.sweep(ctx, new(uint256.Int).Sub(assets, &v.state.idle)); err != nil {
			return err
		}
	}

	if err := v.state.shares.Burn(ctx, owner, shares); err != nil {
		return err
	}
	v.state.idle.Sub(&v.state.idle, assets)

	v.logger.Debug("withdraw",
		zap.String("caller", caller.Hex()),
		zap.String("receiver", receiver.Hex()),
		zap.String("owner", owner.Hex()),
		zap.Stringer("assets", assets),
		zap.Stringer("shares", shares),
	)
	if err := v.emit(ctx, events.Withdraw, caller, receiver, owner, assets, shares); err != nil {
		return err
	}
	return v.state.asset.Transfer(ctx, v.address, receiver, assets)
}

// sweep pulls shortfall back to idle from strategies in registration order.
func (v *Vault) sweep(ctx context.Context, shortfall *uint256.Int) error {
	remaining := new(uint256.Int).Set(shortfall)
	for _, addr := range v.state.order {
		if remaining.IsZero() {
			break
		}
		record, handle, err := v.lookup(addr)
		if err != nil {
			return err
		}
		take := fixedpoint.Min(remaining, &record.CurrentDebt)
		take = fixedpoint.Min(take, handle.TotalAssets(ctx))
		if take.IsZero() {
			continue
		}
		if _, err := handle.Withdraw(ctx, v.address, take, v.address); err != nil {
			return fmt.Errorf("pull %s from strategy %s: %w", take, addr.Hex(), err)
		}
		if err := v.setDebt(ctx, addr, record, new(uint256.Int).Sub(&record.CurrentDebt, take)); err != nil {
			return err
		}
		v.state.idle.Add(&v.state.idle, take)
		remaining.Sub(remaining, take)
	}
	if !remaining.IsZero() {
		return fmt.Errorf("%w: %s short after sweeping %d strategies", errs.ErrInsufficientLiquidity, remaining, len(v.state.order))
	}
	return nil
}

// autoAllocate pushes up to amount of idle capital into the first registered
// strategy, bounded by its remaining ceiling.
func (v *Vault) autoAllocate(ctx context.Context, amount *uint256.Int) error {
	if len(v.state.order) == 0 {
		return nil
	}
	addr := v.state.order[0]
	record, handle, err := v.lookup(addr)
	if err != nil {
		return err
	}
	if handle.IsShutdown(ctx) {
		return nil
	}
	room := fixedpoint.SaturatingSub(&record.DebtCeiling, &record.CurrentDebt)
	delta := fixedpoint.Min(fixedpoint.Min(amount, room), &v.state.idle)
	if delta.IsZero() {
		return nil
	}
	return v.allocate(ctx, addr, record, handle, delta)
}

// Approve lets spender move or burn owner's shares.
func (v *Vault) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	return v.env.Atomic(ctx, func(ctx context.Context) error {
		if !v.state.initialized {
			return errs.ErrNotInitialized
		}
		return v.state.shares.Approve(ctx, owner, spender, amount)
	})
}

// Transfer moves shares between holders.
func (v *Vault) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	return v.env.Atomic(ctx, func(ctx context.Context) error {
		if !v.state.initialized {
			return errs.ErrNotInitialized
		}
		return v.state.shares.Transfer(ctx, from, to, amount)
	})
}

func (v *Vault) totalAssets() *uint256.Int {
	return new(uint256.Int).Add(&v.state.idle, &v.state.totalDebt)
}

// toShares converts assets at the current price. An empty vault converts 1:1.
func (v *Vault) toShares(assets, supply, total *uint256.Int, rounding fixedpoint.Rounding) (*uint256.Int, error) {
	if supply.IsZero() || total.IsZero() {
		return new(uint256.Int).Set(assets), nil
	}
	return fixedpoint.MulDiv(assets, supply, total, rounding)
}

// toAssets converts shares at the current price. An empty vault converts 1:1.
func (v *Vault) toAssets(shares, supply, total *uint256.Int, rounding fixedpoint.Rounding) (*uint256.Int, error) {
	if supply.IsZero() {
		return new(uint256.Int).Set(shares), nil
	}
	return fixedpoint.MulDiv(shares, total, supply, rounding)
}
