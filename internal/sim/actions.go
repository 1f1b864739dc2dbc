package sim

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"vaultledger/internal/fixedpoint"
)

type action func(ctx context.Context, rn *run, step Step) error

var actions map[string]action

func init() {
	actions = map[string]action{
		"fund":               fund,
		"approve":            approve,
		"deposit":            deposit,
		"withdraw":           withdraw,
		"redeem":             redeem,
		"transfer":           transfer,
		"update_debt":        updateDebt,
		"set_ceiling":        setCeiling,
		"report":             report,
		"advance":            advance,
		"yield":              yield,
		"loss":               loss,
		"pause":              pause,
		"unpause":            unpause,
		"set_manager":        setManager,
		"shutdown_strategy":  shutdownStrategy,
		"emergency_withdraw": emergencyWithdraw,
		"remove_strategy":    removeStrategy,
		"set_protocol_fee":   setProtocolFee,
		"set_fee_recipient":  setFeeRecipient,
		"shutdown_factory":   shutdownFactory,
	}
}

// fund mints asset to the account and approves the vault to pull it.
func fund(ctx context.Context, rn *run, step Step) error {
	amount, err := step.amount()
	if err != nil {
		return err
	}
	to := Account(step.To)
	if err := rn.asset.Mint(ctx, to, amount); err != nil {
		return err
	}
	return rn.asset.Approve(ctx, to, rn.vault.Address(), fixedpoint.MaxUint256())
}

// approve lets To spend From's vault shares.
func approve(ctx context.Context, rn *run, step Step) error {
	amount, err := step.amount()
	if err != nil {
		return err
	}
	return rn.vault.Approve(ctx, Account(step.From), Account(step.To), amount)
}

func deposit(ctx context.Context, rn *run, step Step) error {
	amount, err := step.amount()
	if err != nil {
		return err
	}
	shares, err := rn.vault.Deposit(ctx, Account(step.From), amount, Account(or(step.To, step.From)))
	if err != nil {
		return err
	}
	rn.logger.Info("deposit", zap.String("from", step.From), zap.Stringer("assets", amount), zap.Stringer("shares", shares))
	return nil
}

func withdraw(ctx context.Context, rn *run, step Step) error {
	amount, err := step.amount()
	if err != nil {
		return err
	}
	shares, err := rn.vault.Withdraw(ctx, Account(step.From), amount, Account(or(step.To, step.From)), Account(or(step.Owner, step.From)))
	if err != nil {
		return err
	}
	rn.logger.Info("withdraw", zap.String("from", step.From), zap.Stringer("assets", amount), zap.Stringer("shares", shares))
	return nil
}

func redeem(ctx context.Context, rn *run, step Step) error {
	shares, err := step.amount()
	if err != nil {
		return err
	}
	assets, err := rn.vault.Redeem(ctx, Account(step.From), shares, Account(or(step.To, step.From)), Account(or(step.Owner, step.From)))
	if err != nil {
		return err
	}
	rn.logger.Info("redeem", zap.String("from", step.From), zap.Stringer("shares", shares), zap.Stringer("assets", assets))
	return nil
}

func transfer(ctx context.Context, rn *run, step Step) error {
	amount, err := step.amount()
	if err != nil {
		return err
	}
	return rn.vault.Transfer(ctx, Account(step.From), Account(step.To), amount)
}

func updateDebt(ctx context.Context, rn *run, step Step) error {
	addr, err := rn.strategyAddr(step)
	if err != nil {
		return err
	}
	target, err := step.amount()
	if err != nil {
		return err
	}
	return rn.vault.UpdateDebt(ctx, rn.manager(step), addr, target)
}

func setCeiling(ctx context.Context, rn *run, step Step) error {
	addr, err := rn.strategyAddr(step)
	if err != nil {
		return err
	}
	ceiling, err := step.amount()
	if err != nil {
		return err
	}
	return rn.vault.UpdateDebtCeiling(ctx, rn.manager(step), addr, ceiling)
}

func report(ctx context.Context, rn *run, step Step) error {
	addr, err := rn.strategyAddr(step)
	if err != nil {
		return err
	}
	gain, loss, err := rn.vault.ProcessReport(ctx, addr)
	if err != nil {
		return err
	}
	rn.logger.Info("report", zap.String("strategy", step.Strategy), zap.Stringer("gain", gain), zap.Stringer("loss", loss))
	return nil
}

func advance(_ context.Context, rn *run, step Step) error {
	if step.Duration <= 0 {
		return fmt.Errorf("advance: duration must be positive")
	}
	rn.env.Advance(step.Duration)
	return nil
}

// yield mints amount straight to the strategy, standing in for profit.
func yield(ctx context.Context, rn *run, step Step) error {
	addr, err := rn.strategyAddr(step)
	if err != nil {
		return err
	}
	amount, err := step.amount()
	if err != nil {
		return err
	}
	return rn.asset.Mint(ctx, addr, amount)
}

// loss burns amount from the strategy's idle balance, or writes down its
// market position for lending strategies.
func loss(ctx context.Context, rn *run, step Step) error {
	addr, err := rn.strategyAddr(step)
	if err != nil {
		return err
	}
	amount, err := step.amount()
	if err != nil {
		return err
	}
	if market, ok := rn.markets[step.Strategy]; ok {
		_, err := market.Haircut(ctx, addr, amount)
		return err
	}
	return rn.asset.Burn(ctx, addr, amount)
}

func pause(ctx context.Context, rn *run, step Step) error {
	return rn.vault.Pause(ctx, rn.manager(step))
}

func unpause(ctx context.Context, rn *run, step Step) error {
	return rn.vault.Unpause(ctx, rn.manager(step))
}

func setManager(ctx context.Context, rn *run, step Step) error {
	if err := rn.vault.SetManager(ctx, rn.manager(step), Account(step.To)); err != nil {
		return err
	}
	rn.scenario.Vault.Manager = step.To
	return nil
}

func shutdownStrategy(ctx context.Context, rn *run, step Step) error {
	addr, err := rn.strategyAddr(step)
	if err != nil {
		return err
	}
	return rn.vault.ShutdownStrategy(ctx, rn.manager(step), addr)
}

func emergencyWithdraw(ctx context.Context, rn *run, step Step) error {
	addr, err := rn.strategyAddr(step)
	if err != nil {
		return err
	}
	recovered, err := rn.vault.EmergencyWithdrawStrategy(ctx, rn.manager(step), addr)
	if err != nil {
		return err
	}
	rn.logger.Info("emergency withdraw", zap.String("strategy", step.Strategy), zap.Stringer("recovered", recovered))
	return nil
}

func removeStrategy(ctx context.Context, rn *run, step Step) error {
	addr, err := rn.strategyAddr(step)
	if err != nil {
		return err
	}
	return rn.vault.RemoveStrategy(ctx, rn.manager(step), addr)
}

func setProtocolFee(ctx context.Context, rn *run, step Step) error {
	return rn.factory.SetProtocolFee(ctx, rn.owner(step), step.Bps)
}

func setFeeRecipient(ctx context.Context, rn *run, step Step) error {
	return rn.factory.SetFeeRecipient(ctx, rn.owner(step), Account(step.To))
}

func shutdownFactory(ctx context.Context, rn *run, step Step) error {
	return rn.factory.Shutdown(ctx, rn.owner(step))
}
