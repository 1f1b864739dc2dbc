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

// ProcessReport reconciles a strategy's self-reported gain or loss into its
// debt. The protocol fee on a gain is paid by the strategy straight to the
// fee recipient. Returned gain is net of that fee.
func (v *Vault) ProcessReport(ctx context.Context, strategy common.Address) (*uint256.Int, *uint256.Int, error) {
	var gain, loss *uint256.Int
	err := v.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := v.enter()
		if err != nil {
			return err
		}
		defer release()

		record, handle, err := v.lookup(strategy)
		if err != nil {
			return err
		}
		now := v.env.Now()
		if elapsed := now.Sub(record.LastReportAt); elapsed < v.cfg.MinReportInterval {
			return fmt.Errorf("%w: %s since last report, minimum %s", errs.ErrReportTooSoon, elapsed, v.cfg.MinReportInterval)
		}

		if gain, loss, err = handle.Report(ctx, v.address); err != nil {
			return fmt.Errorf("strategy %s report: %w", strategy.Hex(), err)
		}

		protocolFee := new(uint256.Int)
		if !gain.IsZero() {
			if protocolFee, err = v.chargeProtocolFee(ctx, strategy, handle, gain); err != nil {
				return err
			}
			gain.Sub(gain, protocolFee)
		}

		debt := new(uint256.Int).Add(&record.CurrentDebt, gain)
		debt = fixedpoint.SaturatingSub(debt, loss)
		previous := record.CurrentDebt
		v.state.totalDebt.Sub(&v.state.totalDebt, &previous)
		v.state.totalDebt.Add(&v.state.totalDebt, debt)
		record.CurrentDebt = *debt
		record.LastReportAt = now
		v.state.strategies[strategy] = record

		v.logger.Info("strategy reported",
			zap.String("strategy", strategy.Hex()),
			zap.Stringer("gain", gain),
			zap.Stringer("loss", loss),
			zap.Stringer("protocol_fee", protocolFee),
			zap.Stringer("current_debt", debt),
		)
		return v.emit(ctx, events.StrategyReported, strategy, gain, loss, debt, protocolFee)
	})
	if err != nil {
		return nil, nil, err
	}
	return gain, loss, nil
}

func (v *Vault) chargeProtocolFee(ctx context.Context, strategy common.Address, handle Strategy, gain *uint256.Int) (*uint256.Int, error) {
	fee, recipient, err := v.protocolFee(ctx, gain)
	if err != nil || fee.IsZero() {
		return fee, err
	}
	if _, err := handle.Withdraw(ctx, v.address, fee, recipient); err != nil {
		return nil, fmt.Errorf("pay protocol fee from %s: %w", strategy.Hex(), err)
	}
	return fee, nil
}

// protocolFee returns the fee owed on gain and where it goes. The fee is zero
// without a fee source or recipient.
func (v *Vault) protocolFee(ctx context.Context, gain *uint256.Int) (*uint256.Int, common.Address, error) {
	if v.cfg.Fees == nil || gain.IsZero() {
		return new(uint256.Int), common.Address{}, nil
	}
	bps, recipient, err := v.cfg.Fees.ProtocolFeeConfig(ctx, v.address)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("protocol fee config: %w", err)
	}
	if recipient == (common.Address{}) {
		return new(uint256.Int), recipient, nil
	}
	return fixedpoint.BpsOf(gain, bps), recipient, nil
}
