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

// AddStrategy registers a strategy with zero debt and the given ceiling. The
// strategy must be deployed, owned by this vault and share its asset.
func (v *Vault) AddStrategy(ctx context.Context, caller, strategy common.Address, debtCeiling *uint256.Int) error {
	return v.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := v.enterManager(caller)
		if err != nil {
			return err
		}
		defer release()

		if _, ok := v.state.strategies[strategy]; ok {
			return fmt.Errorf("%w: %s", errs.ErrAlreadyRegistered, strategy.Hex())
		}
		handle, err := v.resolve(ctx, strategy)
		if err != nil {
			return err
		}

		now := v.env.Now()
		v.state.strategies[strategy] = StrategyRecord{
			ActivatedAt:  now,
			LastReportAt: now,
			DebtCeiling:  *debtCeiling,
		}
		v.state.handles[strategy] = handle
		v.state.order = append(v.state.order, strategy)

		v.logger.Info("strategy added", zap.String("strategy", strategy.Hex()), zap.Stringer("debt_ceiling", debtCeiling))
		return v.emit(ctx, events.StrategyAdded, strategy, debtCeiling)
	})
}

func (v *Vault) resolve(ctx context.Context, addr common.Address) (Strategy, error) {
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero strategy address", errs.ErrInvalidArgument)
	}
	account, ok := v.env.Account(ctx, addr)
	if !ok {
		return nil, fmt.Errorf("%w: no strategy deployed at %s", errs.ErrInvalidArgument, addr.Hex())
	}
	handle, ok := account.(Strategy)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a strategy", errs.ErrInvalidArgument, addr.Hex())
	}
	if handle.Vault() != v.address {
		return nil, fmt.Errorf("%w: strategy %s belongs to vault %s", errs.ErrInvalidArgument, addr.Hex(), handle.Vault().Hex())
	}
	if handle.Asset() != v.state.asset.Address() {
		return nil, fmt.Errorf("%w: strategy %s asset %s", errs.ErrInvalidArgument, addr.Hex(), handle.Asset().Hex())
	}
	return handle, nil
}

// RemoveStrategy unregisters a strategy that carries no debt.
func (v *Vault) RemoveStrategy(ctx context.Context, caller, strategy common.Address) error {
	return v.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := v.enterManager(caller)
		if err != nil {
			return err
		}
		defer release()

		record, _, err := v.lookup(strategy)
		if err != nil {
			return err
		}
		if !record.CurrentDebt.IsZero() {
			return fmt.Errorf("%w: %s owes %s", errs.ErrNonzeroDebt, strategy.Hex(), &record.CurrentDebt)
		}

		delete(v.state.strategies, strategy)
		delete(v.state.handles, strategy)
		order := make([]common.Address, 0, len(v.state.order))
		for _, addr := range v.state.order {
			if addr != strategy {
				order = append(order, addr)
			}
		}
		v.state.order = order

		v.logger.Info("strategy removed", zap.String("strategy", strategy.Hex()))
		return v.emit(ctx, events.StrategyRemoved, strategy)
	})
}

// UpdateDebt moves capital between idle and strategy until the strategy's
// debt equals target.
func (v *Vault) UpdateDebt(ctx context.Context, caller, strategy common.Address, target *uint256.Int) error {
	return v.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := v.enterManager(caller)
		if err != nil {
			return err
		}
		defer release()

		record, handle, err := v.lookup(strategy)
		if err != nil {
			return err
		}
		if target.Gt(&record.DebtCeiling) {
			return fmt.Errorf("%w: target %s above ceiling %s", errs.ErrExceedsCeiling, target, &record.DebtCeiling)
		}

		switch {
		case target.Gt(&record.CurrentDebt):
			delta := new(uint256.Int).Sub(target, &record.CurrentDebt)
			if delta.Gt(&v.state.idle) {
				return fmt.Errorf("%w: need %s, idle %s", errs.ErrInsufficientIdle, delta, &v.state.idle)
			}
			return v.allocate(ctx, strategy, record, handle, delta)
		case target.Lt(&record.CurrentDebt):
			delta := new(uint256.Int).Sub(&record.CurrentDebt, target)
			if _, err := handle.Withdraw(ctx, v.address, delta, v.address); err != nil {
				return fmt.Errorf("pull %s from strategy %s: %w", delta, strategy.Hex(), err)
			}
			v.state.idle.Add(&v.state.idle, delta)
			return v.setDebt(ctx, strategy, record, target)
		default:
			return nil
		}
	})
}

// UpdateDebtCeiling changes a strategy's ceiling. Lowering it below the
// current debt does not pull capital back.
func (v *Vault) UpdateDebtCeiling(ctx context.Context, caller, strategy common.Address, ceiling *uint256.Int) error {
	return v.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := v.enterManager(caller)
		if err != nil {
			return err
		}
		defer release()

		record, _, err := v.lookup(strategy)
		if err != nil {
			return err
		}
		record.DebtCeiling = *ceiling
		v.state.strategies[strategy] = record
		return v.emit(ctx, events.DebtCeilingUpdated, strategy, ceiling)
	})
}

// ShutdownStrategy stops new capital flowing into a strategy.
func (v *Vault) ShutdownStrategy(ctx context.Context, caller, strategy common.Address) error {
	return v.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := v.enterManager(caller)
		if err != nil {
			return err
		}
		defer release()

		_, handle, err := v.lookup(strategy)
		if err != nil {
			return err
		}
		if err := handle.Shutdown(ctx, v.address); err != nil {
			return err
		}
		v.logger.Info("strategy shutdown", zap.String("strategy", strategy.Hex()))
		return v.emit(ctx, events.StrategyShutdown, strategy)
	})
}

// EmergencyWithdrawStrategy recovers everything from a shut-down strategy
// into idle. Any shortfall against the recorded debt is realized as a loss;
// any surplus is a gain charged the protocol fee from idle.
func (v *Vault) EmergencyWithdrawStrategy(ctx context.Context, caller, strategy common.Address) (*uint256.Int, error) {
	recovered := new(uint256.Int)
	err := v.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := v.enterManager(caller)
		if err != nil {
			return err
		}
		defer release()

		record, handle, err := v.lookup(strategy)
		if err != nil {
			return err
		}
		amount, err := handle.EmergencyWithdraw(ctx, v.address)
		if err != nil {
			return err
		}
		recovered.Set(amount)
		v.state.idle.Add(&v.state.idle, recovered)

		gain := fixedpoint.SaturatingSub(recovered, &record.CurrentDebt)
		loss := fixedpoint.SaturatingSub(&record.CurrentDebt, recovered)
		if err := v.setDebt(ctx, strategy, record, new(uint256.Int)); err != nil {
			return err
		}

		// A surplus over the recorded debt is a gain and owes the protocol fee.
		fee, recipient, err := v.protocolFee(ctx, gain)
		if err != nil {
			return err
		}
		if !fee.IsZero() {
			v.state.idle.Sub(&v.state.idle, fee)
			gain.Sub(gain, fee)
			if err := v.state.asset.Transfer(ctx, v.address, recipient, fee); err != nil {
				return fmt.Errorf("pay protocol fee on %s surplus: %w", strategy.Hex(), err)
			}
		}

		v.logger.Warn("strategy emergency withdraw",
			zap.String("strategy", strategy.Hex()),
			zap.Stringer("recovered", recovered),
			zap.Stringer("gain", gain),
			zap.Stringer("loss", loss),
			zap.Stringer("protocol_fee", fee),
		)
		return v.emit(ctx, events.StrategyReported, strategy, gain, loss, new(uint256.Int), fee)
	})
	if err != nil {
		return nil, err
	}
	return recovered, nil
}

// allocate pushes delta of idle capital into a strategy.
func (v *Vault) allocate(ctx context.Context, addr common.Address, record StrategyRecord, handle Strategy, delta *uint256.Int) error {
	if err := v.state.asset.Approve(ctx, v.address, addr, delta); err != nil {
		return err
	}
	if _, err := handle.Deposit(ctx, v.address, delta); err != nil {
		return fmt.Errorf("push %s to strategy %s: %w", delta, addr.Hex(), err)
	}
	v.state.idle.Sub(&v.state.idle, delta)
	return v.setDebt(ctx, addr, record, new(uint256.Int).Add(&record.CurrentDebt, delta))
}

// setDebt records a strategy's new debt and keeps the vault total in step.
func (v *Vault) setDebt(ctx context.Context, addr common.Address, record StrategyRecord, debt *uint256.Int) error {
	previous := record.CurrentDebt
	v.state.totalDebt.Sub(&v.state.totalDebt, &previous)
	v.state.totalDebt.Add(&v.state.totalDebt, debt)
	record.CurrentDebt = *debt
	v.state.strategies[addr] = record

	v.logger.Debug("debt updated",
		zap.String("strategy", addr.Hex()),
		zap.Stringer("previous", &previous),
		zap.Stringer("current", debt),
	)
	return v.emit(ctx, events.DebtUpdated, addr, &previous, debt)
}
