// Package factory deploys vault clones at deterministic addresses and holds
// the protocol fee configuration those vaults read.
package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vaultledger/internal/chain"
	"vaultledger/internal/errs"
	"vaultledger/internal/events"
	"vaultledger/internal/token"
	"vaultledger/internal/vault"
)

// MaxProtocolFeeBps caps the protocol fee at 50%.
const MaxProtocolFeeBps = 5_000

// Config holds the factory's construction parameters.
type Config struct {
	Owner             common.Address
	Implementation    common.Address
	ProtocolFeeBps    uint16
	FeeRecipient      common.Address
	MinReportInterval time.Duration
}

// Factory is the vault deployer.
type Factory struct {
	env               *chain.Env
	logger            *zap.Logger
	address           common.Address
	implementation    common.Address
	minReportInterval time.Duration

	guard chain.Guard
	state factoryState
}

type factoryState struct {
	owner     common.Address
	feeBps    uint16
	recipient common.Address
	shutdown  bool
	pools     map[common.Address]common.Address
	order     []common.Address
}

// Deploy registers a factory at address.
func Deploy(ctx context.Context, env *chain.Env, address common.Address, cfg Config) (*Factory, error) {
	if cfg.Owner == (common.Address{}) || cfg.Implementation == (common.Address{}) {
		return nil, fmt.Errorf("%w: factory needs an owner and an implementation", errs.ErrInvalidArgument)
	}
	if cfg.ProtocolFeeBps > MaxProtocolFeeBps {
		return nil, fmt.Errorf("%w: %d bps", errs.ErrFeeTooHigh, cfg.ProtocolFeeBps)
	}
	f := &Factory{
		env:               env,
		logger:            env.Logger().With(zap.String("factory", address.Hex())),
		address:           address,
		implementation:    cfg.Implementation,
		minReportInterval: cfg.MinReportInterval,
		state: factoryState{
			owner:     cfg.Owner,
			feeBps:    cfg.ProtocolFeeBps,
			recipient: cfg.FeeRecipient,
			pools:     make(map[common.Address]common.Address),
		},
	}
	if err := env.Deploy(ctx, address, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Factory) Address() common.Address        { return f.address }
func (f *Factory) Implementation() common.Address { return f.implementation }

// PredictAddress returns the address DeployPool would use for the same
// arguments sent by deployer.
func (f *Factory) PredictAddress(asset common.Address, name, symbol string, deployer common.Address) (common.Address, error) {
	salt, err := Salt(deployer, asset, name, symbol)
	if err != nil {
		return common.Address{}, err
	}
	return CloneAddress(f.address, f.implementation, salt), nil
}

// DeployPool clones and initializes a vault for asset. Repeating the same
// arguments from the same caller collides with the first deployment.
func (f *Factory) DeployPool(ctx context.Context, caller common.Address, asset *token.Token, name, symbol string, manager common.Address) (*vault.Vault, error) {
	if asset == nil || asset.Address() == (common.Address{}) {
		return nil, fmt.Errorf("%w: pool asset is required", errs.ErrInvalidArgument)
	}
	if manager == (common.Address{}) {
		return nil, fmt.Errorf("%w: pool manager is required", errs.ErrInvalidArgument)
	}

	var pool *vault.Vault
	err := f.env.Atomic(ctx, func(ctx context.Context) error {
		release, err := f.guard.Enter()
		if err != nil {
			return err
		}
		defer release()

		if f.state.shutdown {
			return fmt.Errorf("%w: factory %s", errs.ErrShutdown, f.address.Hex())
		}
		addr, err := f.PredictAddress(asset.Address(), name, symbol, caller)
		if err != nil {
			return err
		}
		pool, err = vault.Deploy(ctx, f.env, addr, vault.Config{Fees: f, MinReportInterval: f.minReportInterval})
		if err != nil {
			return err
		}
		if err := pool.Initialize(ctx, asset, name, symbol, manager); err != nil {
			return err
		}
		f.state.pools[addr] = asset.Address()
		f.state.order = append(f.state.order, addr)

		f.logger.Info("pool deployed",
			zap.String("pool", addr.Hex()),
			zap.String("asset", asset.Address().Hex()),
			zap.String("name", name),
			zap.String("symbol", symbol),
			zap.String("manager", manager.Hex()),
		)
		return f.emit(ctx, events.NewVault, addr, asset.Address(), name, symbol, manager)
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// ProtocolFeeConfig implements vault.FeeConfigProvider for pools this
// factory deployed.
func (f *Factory) ProtocolFeeConfig(ctx context.Context, pool common.Address) (uint16, common.Address, error) {
	var (
		bps       uint16
		recipient common.Address
	)
	err := f.env.View(ctx, func(context.Context) error {
		if _, ok := f.state.pools[pool]; !ok {
			return fmt.Errorf("%w: %s", errs.ErrUnknownPool, pool.Hex())
		}
		bps, recipient = f.state.feeBps, f.state.recipient
		return nil
	})
	return bps, recipient, err
}

// SetProtocolFee changes the protocol fee rate.
func (f *Factory) SetProtocolFee(ctx context.Context, caller common.Address, bps uint16) error {
	if bps > MaxProtocolFeeBps {
		return fmt.Errorf("%w: %d bps above %d", errs.ErrFeeTooHigh, bps, MaxProtocolFeeBps)
	}
	return f.env.Atomic(ctx, func(ctx context.Context) error {
		if err := f.onlyOwner(caller); err != nil {
			return err
		}
		old := f.state.feeBps
		f.state.feeBps = bps
		f.logger.Info("protocol fee updated", zap.Uint16("old_bps", old), zap.Uint16("new_bps", bps))
		return f.emit(ctx, events.UpdateProtocolFee, old, bps)
	})
}

// SetFeeRecipient changes where protocol fees are paid.
func (f *Factory) SetFeeRecipient(ctx context.Context, caller, recipient common.Address) error {
	if recipient == (common.Address{}) {
		return fmt.Errorf("%w: zero fee recipient", errs.ErrInvalidArgument)
	}
	return f.env.Atomic(ctx, func(ctx context.Context) error {
		if err := f.onlyOwner(caller); err != nil {
			return err
		}
		old := f.state.recipient
		f.state.recipient = recipient
		f.logger.Info("fee recipient updated", zap.String("old", old.Hex()), zap.String("new", recipient.Hex()))
		return f.emit(ctx, events.UpdateFeeRecipient, old, recipient)
	})
}

// Shutdown stops new deployments. Existing pools keep running.
func (f *Factory) Shutdown(ctx context.Context, caller common.Address) error {
	return f.env.Atomic(ctx, func(ctx context.Context) error {
		if err := f.onlyOwner(caller); err != nil {
			return err
		}
		if f.state.shutdown {
			return fmt.Errorf("%w: factory %s", errs.ErrShutdown, f.address.Hex())
		}
		f.state.shutdown = true
		f.logger.Warn("factory shutdown")
		return f.emit(ctx, events.FactoryShutdown)
	})
}

// TransferOwnership hands the owner role to newOwner.
func (f *Factory) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	if newOwner == (common.Address{}) {
		return fmt.Errorf("%w: zero owner", errs.ErrInvalidArgument)
	}
	return f.env.Atomic(ctx, func(ctx context.Context) error {
		if err := f.onlyOwner(caller); err != nil {
			return err
		}
		previous := f.state.owner
		f.state.owner = newOwner
		return f.emit(ctx, events.OwnershipTransfer, previous, newOwner)
	})
}

// Owner returns the current owner.
func (f *Factory) Owner(ctx context.Context) common.Address {
	var out common.Address
	_ = f.env.View(ctx, func(context.Context) error {
		out = f.state.owner
		return nil
	})
	return out
}

// IsShutdown reports whether deployments are disabled.
func (f *Factory) IsShutdown(ctx context.Context) bool {
	var out bool
	_ = f.env.View(ctx, func(context.Context) error {
		out = f.state.shutdown
		return nil
	})
	return out
}

// IsDeployedPool reports whether pool was created by this factory.
func (f *Factory) IsDeployedPool(ctx context.Context, pool common.Address) bool {
	_, ok := f.PoolAsset(ctx, pool)
	return ok
}

// PoolAsset returns the asset a deployed pool was created for.
func (f *Factory) PoolAsset(ctx context.Context, pool common.Address) (common.Address, bool) {
	var (
		asset common.Address
		ok    bool
	)
	_ = f.env.View(ctx, func(context.Context) error {
		asset, ok = f.state.pools[pool]
		return nil
	})
	return asset, ok
}

// Pools lists deployed pools in creation order.
func (f *Factory) Pools(ctx context.Context) []common.Address {
	var out []common.Address
	_ = f.env.View(ctx, func(context.Context) error {
		out = append([]common.Address(nil), f.state.order...)
		return nil
	})
	return out
}

func (f *Factory) onlyOwner(caller common.Address) error {
	if caller != f.state.owner {
		return fmt.Errorf("%w: %s is not the factory owner", errs.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func (f *Factory) emit(ctx context.Context, name string, args ...interface{}) error {
	topics, data, err := events.Pack(name, args...)
	if err != nil {
		return err
	}
	return f.env.EmitLog(ctx, f.address, topics, data)
}

// Snapshot implements chain.Snapshotter.
func (f *Factory) Snapshot() any {
	state := f.state
	state.pools = make(map[common.Address]common.Address, len(f.state.pools))
	for pool, asset := range f.state.pools {
		state.pools[pool] = asset
	}
	state.order = append([]common.Address(nil), f.state.order...)
	return state
}

// Restore implements chain.Snapshotter.
func (f *Factory) Restore(snapshot any) { f.state = snapshot.(factoryState) }
