// Package strategy implements the share-based ledger every yield strategy
// runs, independent of where the funds are deployed.
package strategy

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"vaultledger/internal/chain"
	"vaultledger/internal/errs"
	"vaultledger/internal/events"
	"vaultledger/internal/fixedpoint"
	"vaultledger/internal/token"
)

// Config holds the performance-fee parameters of a strategy.
type Config struct {
	Name              string
	PerformanceFeeBps uint16
	FeeRecipient      common.Address
}

// Strategy accepts capital from exactly one vault and accounts for it with
// internal shares held by that vault.
type Strategy struct {
	env     *chain.Env
	logger  *zap.Logger
	address common.Address
	vault   common.Address
	asset   *token.Token
	adapter Adapter
	cfg     Config

	guard chain.Guard
	state ledgerState
}

type ledgerState struct {
	recordedAssets uint256.Int
	totalShares    uint256.Int
	shutdown       bool
}

// Deploy registers a strategy owned by vault at address.
func Deploy(ctx context.Context, env *chain.Env, address, vault common.Address, asset *token.Token, adapter Adapter, cfg Config) (*Strategy, error) {
	if vault == (common.Address{}) || asset == nil || adapter == nil {
		return nil, fmt.Errorf("%w: strategy needs a vault, an asset and an adapter", errs.ErrInvalidArgument)
	}
	if cfg.PerformanceFeeBps > fixedpoint.MaxBps {
		return nil, fmt.Errorf("%w: performance fee %d bps", errs.ErrFeeTooHigh, cfg.PerformanceFeeBps)
	}
	if cfg.PerformanceFeeBps > 0 && cfg.FeeRecipient == (common.Address{}) {
		return nil, fmt.Errorf("%w: performance fee without recipient", errs.ErrInvalidArgument)
	}

	s := &Strategy{
		env:     env,
		logger:  env.Logger().With(zap.String("strategy", address.Hex()), zap.String("name", cfg.Name)),
		address: address,
		vault:   vault,
		asset:   asset,
		adapter: adapter,
		cfg:     cfg,
	}
	if err := env.Deploy(ctx, address, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Strategy) Address() common.Address { return s.address }
func (s *Strategy) Vault() common.Address   { return s.vault }
func (s *Strategy) Asset() common.Address   { return s.asset.Address() }
func (s *Strategy) Name() string            { return s.cfg.Name }

// PerformanceFee returns the fee rate and recipient.
func (s *Strategy) PerformanceFee() (uint16, common.Address) {
	return s.cfg.PerformanceFeeBps, s.cfg.FeeRecipient
}

// TotalAssets returns the last recorded value of the strategy's holdings.
func (s *Strategy) TotalAssets(ctx context.Context) *uint256.Int {
	out := new(uint256.Int)
	_ = s.env.View(ctx, func(context.Context) error {
		out.Set(&s.state.recordedAssets)
		return nil
	})
	return out
}

// TotalShares returns the internal shares held by the vault.
func (s *Strategy) TotalShares(ctx context.Context) *uint256.Int {
	out := new(uint256.Int)
	_ = s.env.View(ctx, func(context.Context) error {
		out.Set(&s.state.totalShares)
		return nil
	})
	return out
}

// IsShutdown reports whether the strategy has been wound down.
func (s *Strategy) IsShutdown(ctx context.Context) bool {
	var shutdown bool
	_ = s.env.View(ctx, func(context.Context) error {
		shutdown = s.state.shutdown
		return nil
	})
	return shutdown
}

// Deposit pulls amount from the vault and invests it.
func (s *Strategy) Deposit(ctx context.Context, caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var shares *uint256.Int
	err := s.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := s.enter(caller)
		if err != nil {
			return err
		}
		defer release()

		if s.state.shutdown {
			return fmt.Errorf("%w: strategy %s", errs.ErrShutdown, s.address.Hex())
		}
		if amount.IsZero() {
			return errs.ErrZeroAmount
		}

		if s.state.totalShares.IsZero() || s.state.recordedAssets.IsZero() {
			shares = new(uint256.Int).Set(amount)
		} else if shares, err = fixedpoint.MulDiv(amount, &s.state.totalShares, &s.state.recordedAssets, fixedpoint.Floor); err != nil {
			return err
		}

		if err := s.asset.TransferFrom(ctx, s.address, s.vault, s.address, amount); err != nil {
			return fmt.Errorf("pull deposit: %w", err)
		}
		if err := s.adapter.DeployFunds(ctx, amount); err != nil {
			return fmt.Errorf("deploy funds: %w", err)
		}

		recorded, err := fixedpoint.Add(&s.state.recordedAssets, amount)
		if err != nil {
			return err
		}
		s.state.recordedAssets = *recorded
		s.state.totalShares.Add(&s.state.totalShares, shares)

		s.logger.Debug("strategy deposit", zap.Stringer("assets", amount), zap.Stringer("shares", shares))
		return s.emit(ctx, events.Deposited, s.vault, amount, shares)
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// Withdraw frees amount from the yield source and pays it to receiver.
func (s *Strategy) Withdraw(ctx context.Context, caller common.Address, amount *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	err := s.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := s.enter(caller)
		if err != nil {
			return err
		}
		defer release()

		if amount.IsZero() {
			return errs.ErrZeroAmount
		}
		if receiver == (common.Address{}) {
			return errs.ErrInvalidReceiver
		}
		if amount.Gt(&s.state.recordedAssets) {
			return fmt.Errorf("%w: withdraw %s of %s recorded", errs.ErrInsufficientAssets, amount, &s.state.recordedAssets)
		}

		burned, err := fixedpoint.MulDiv(amount, &s.state.totalShares, &s.state.recordedAssets, fixedpoint.Ceil)
		if err != nil {
			return err
		}
		if burned.Gt(&s.state.totalShares) {
			burned.Set(&s.state.totalShares)
		}

		if err := s.adapter.FreeFunds(ctx, amount); err != nil {
			return fmt.Errorf("free funds: %w", err)
		}
		s.state.recordedAssets.Sub(&s.state.recordedAssets, amount)
		s.state.totalShares.Sub(&s.state.totalShares, burned)

		if err := s.asset.Transfer(ctx, s.address, receiver, amount); err != nil {
			return fmt.Errorf("pay receiver: %w", err)
		}

		s.logger.Debug("strategy withdraw", zap.Stringer("assets", amount), zap.String("receiver", receiver.Hex()))
		return s.emit(ctx, events.Withdrawn, receiver, amount, burned)
	})
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(amount), nil
}

// Report revalues the strategy, takes the performance fee on any gain and
// returns the net gain or the loss against the previous recorded value.
func (s *Strategy) Report(ctx context.Context, caller common.Address) (*uint256.Int, *uint256.Int, error) {
	gain, loss := new(uint256.Int), new(uint256.Int)
	err := s.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := s.enter(caller)
		if err != nil {
			return err
		}
		defer release()

		valuation, err := s.adapter.EstimateTotalAssets(ctx)
		if err != nil {
			return fmt.Errorf("estimate total assets: %w", err)
		}

		recorded := &s.state.recordedAssets
		fee := new(uint256.Int)
		switch {
		case valuation.Gt(recorded):
			gain.Sub(valuation, recorded)
			if s.cfg.FeeRecipient != (common.Address{}) {
				fee = fixedpoint.BpsOf(gain, s.cfg.PerformanceFeeBps)
			}
			if !fee.IsZero() {
				if err := s.adapter.FreeFunds(ctx, fee); err != nil {
					return fmt.Errorf("free performance fee: %w", err)
				}
				if err := s.asset.Transfer(ctx, s.address, s.cfg.FeeRecipient, fee); err != nil {
					return fmt.Errorf("pay performance fee: %w", err)
				}
			}
			gain.Sub(gain, fee)
		case valuation.Lt(recorded):
			loss.Sub(recorded, valuation)
		}
		s.state.recordedAssets.Sub(valuation, fee)

		s.logger.Info("strategy report",
			zap.Stringer("gain", gain),
			zap.Stringer("loss", loss),
			zap.Stringer("performance_fee", fee),
			zap.Stringer("recorded_assets", &s.state.recordedAssets),
		)
		return s.emit(ctx, events.Reported, gain, loss, s.cfg.PerformanceFeeBps)
	})
	if err != nil {
		return nil, nil, err
	}
	return gain, loss, nil
}

// Shutdown permanently stops deposits. It does not move funds.
func (s *Strategy) Shutdown(ctx context.Context, caller common.Address) error {
	return s.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := s.enter(caller)
		if err != nil {
			return err
		}
		defer release()

		if s.state.shutdown {
			return fmt.Errorf("%w: strategy %s", errs.ErrShutdown, s.address.Hex())
		}
		s.state.shutdown = true
		s.logger.Info("strategy shutdown")
		return s.emit(ctx, events.Shutdown)
	})
}

// EmergencyWithdraw recovers everything from the yield source and sends the
// strategy's whole balance to the vault.
func (s *Strategy) EmergencyWithdraw(ctx context.Context, caller common.Address) (*uint256.Int, error) {
	recovered := new(uint256.Int)
	err := s.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := s.enter(caller)
		if err != nil {
			return err
		}
		defer release()

		if !s.state.shutdown {
			return fmt.Errorf("%w: strategy %s", errs.ErrNotShutdown, s.address.Hex())
		}

		valuation, err := s.adapter.EstimateTotalAssets(ctx)
		if err != nil {
			return fmt.Errorf("estimate total assets: %w", err)
		}
		idle := s.asset.BalanceOf(ctx, s.address)
		if deployed := fixedpoint.SaturatingSub(valuation, idle); !deployed.IsZero() {
			if err := s.adapter.FreeFunds(ctx, deployed); err != nil {
				return fmt.Errorf("free funds: %w", err)
			}
		}

		recovered.Set(s.asset.BalanceOf(ctx, s.address))
		s.state.recordedAssets.Clear()
		s.state.totalShares.Clear()
		if !recovered.IsZero() {
			if err := s.asset.Transfer(ctx, s.address, s.vault, recovered); err != nil {
				return fmt.Errorf("return funds: %w", err)
			}
		}

		s.logger.Warn("strategy emergency withdraw", zap.Stringer("recovered", recovered))
		return s.emit(ctx, events.EmergencyWithdrawn, recovered)
	})
	if err != nil {
		return nil, err
	}
	return recovered, nil
}

func (s *Strategy) enter(caller common.Address) (func(), error) {
	if caller != s.vault {
		return nil, fmt.Errorf("%w: %s is not the strategy's vault", errs.ErrUnauthorized, caller.Hex())
	}
	return s.guard.Enter()
}

func (s *Strategy) emit(ctx context.Context, name string, args ...interface{}) error {
	topics, data, err := events.Pack(name, args...)
	if err != nil {
		return err
	}
	return s.env.EmitLog(ctx, s.address, topics, data)
}

// Snapshot implements chain.Snapshotter.
func (s *Strategy) Snapshot() any { return s.state }

// Restore implements chain.Snapshotter.
func (s *Strategy) Restore(snapshot any) { s.state = snapshot.(ledgerState) }
