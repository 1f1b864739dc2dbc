package vault

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vaultledger/internal/errs"
	"vaultledger/internal/events"
)

// SetManager hands the manager role to newManager.
func (v *Vault) SetManager(ctx context.Context, caller, newManager common.Address) error {
	if newManager == (common.Address{}) {
		return fmt.Errorf("%w: zero manager", errs.ErrInvalidArgument)
	}
	return v.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := v.enterManager(caller)
		if err != nil {
			return err
		}
		defer release()

		v.state.manager = newManager
		v.logger.Info("manager updated", zap.String("manager", newManager.Hex()))
		return v.emit(ctx, events.UpdateManager, newManager)
	})
}

// Pause blocks deposits. Withdrawals stay open.
func (v *Vault) Pause(ctx context.Context, caller common.Address) error {
	return v.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := v.enterManager(caller)
		if err != nil {
			return err
		}
		defer release()

		if v.state.paused {
			return fmt.Errorf("%w: vault %s", errs.ErrPaused, v.address.Hex())
		}
		v.state.paused = true
		v.logger.Info("vault paused", zap.String("by", caller.Hex()))
		return v.emit(ctx, events.Paused, caller)
	})
}

// Unpause reopens deposits.
func (v *Vault) Unpause(ctx context.Context, caller common.Address) error {
	return v.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := v.enterManager(caller)
		if err != nil {
			return err
		}
		defer release()

		if !v.state.paused {
			return fmt.Errorf("%w: vault %s", errs.ErrNotPaused, v.address.Hex())
		}
		v.state.paused = false
		v.logger.Info("vault unpaused", zap.String("by", caller.Hex()))
		return v.emit(ctx, events.Unpaused, caller)
	})
}
