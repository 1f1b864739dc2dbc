// Package vault implements the pool ledger: share accounting over a single
// asset and allocation of that asset across registered strategies.
package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"vaultledger/internal/chain"
	"vaultledger/internal/errs"
	"vaultledger/internal/events"
	"vaultledger/internal/token"
)

// DefaultMinReportInterval is applied when Config leaves it unset.
const DefaultMinReportInterval = time.Hour

// FeeConfigProvider answers the protocol fee charged on a pool's gains.
type FeeConfigProvider interface {
	ProtocolFeeConfig(ctx context.Context, pool common.Address) (uint16, common.Address, error)
}

// Strategy is the surface a vault needs from a registered strategy.
type Strategy interface {
	Address() common.Address
	Vault() common.Address
	Asset() common.Address
	TotalAssets(ctx context.Context) *uint256.Int
	IsShutdown(ctx context.Context) bool
	Deposit(ctx context.Context, caller common.Address, amount *uint256.Int) (*uint256.Int, error)
	Withdraw(ctx context.Context, caller common.Address, amount *uint256.Int, receiver common.Address) (*uint256.Int, error)
	Report(ctx context.Context, caller common.Address) (*uint256.Int, *uint256.Int, error)
	Shutdown(ctx context.Context, caller common.Address) error
	EmergencyWithdraw(ctx context.Context, caller common.Address) (*uint256.Int, error)
}

// Config holds construction-time dependencies. Every clone deployed by one
// factory shares the same Config.
type Config struct {
	Fees              FeeConfigProvider
	MinReportInterval time.Duration
}

// StrategyRecord is the vault's view of one registered strategy.
type StrategyRecord struct {
	ActivatedAt  time.Time
	LastReportAt time.Time
	CurrentDebt  uint256.Int
	DebtCeiling  uint256.Int
}

// Vault is one pool instance. It is its own share token.
type Vault struct {
	env     *chain.Env
	logger  *zap.Logger
	address common.Address
	cfg     Config

	guard chain.Guard
	state vaultState
}

type vaultState struct {
	initialized bool
	asset       *token.Token
	shares      *token.Token
	manager     common.Address
	paused      bool

	idle      uint256.Int
	totalDebt uint256.Int

	strategies map[common.Address]StrategyRecord
	handles    map[common.Address]Strategy
	order      []common.Address
}

// Deploy registers an uninitialized vault at address.
func Deploy(ctx context.Context, env *chain.Env, address common.Address, cfg Config) (*Vault, error) {
	if cfg.MinReportInterval <= 0 {
		cfg.MinReportInterval = DefaultMinReportInterval
	}
	v := &Vault{
		env:     env,
		logger:  env.Logger().With(zap.String("vault", address.Hex())),
		address: address,
		cfg:     cfg,
		state: vaultState{
			strategies: make(map[common.Address]StrategyRecord),
			handles:    make(map[common.Address]Strategy),
		},
	}
	if err := env.Deploy(ctx, address, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Initialize binds the vault to its asset, share identity and manager. It
// can run once.
func (v *Vault) Initialize(ctx context.Context, asset *token.Token, name, symbol string, manager common.Address) error {
	if asset == nil || asset.Address() == (common.Address{}) {
		return fmt.Errorf("%w: vault asset is required", errs.ErrInvalidArgument)
	}
	if manager == (common.Address{}) {
		return fmt.Errorf("%w: vault manager is required", errs.ErrInvalidArgument)
	}
	return v.env.Atomic(ctx, func(ctx context.Context) error {
		if v.state.initialized {
			return fmt.Errorf("%w: vault %s", errs.ErrAlreadyInitialized, v.address.Hex())
		}
		v.state.initialized = true
		v.state.asset = asset
		v.state.shares = token.New(v.env, v.address, name, symbol, asset.Decimals())
		v.state.manager = manager
		v.logger.Info("vault initialized",
			zap.String("asset", asset.Address().Hex()),
			zap.String("name", name),
			zap.String("symbol", symbol),
			zap.String("manager", manager.Hex()),
		)
		return v.emit(ctx, events.UpdateManager, manager)
	})
}

func (v *Vault) Address() common.Address { return v.address }

// enter opens a guarded mutating operation on an initialized vault.
func (v *Vault) enter() (func(), error) {
	if !v.state.initialized {
		return nil, fmt.Errorf("%w: vault %s", errs.ErrNotInitialized, v.address.Hex())
	}
	return v.guard.Enter()
}

// enterManager is enter restricted to the manager.
func (v *Vault) enterManager(caller common.Address) (func(), error) {
	release, err := v.enter()
	if err != nil {
		return nil, err
	}
	if caller != v.state.manager {
		release()
		return nil, fmt.Errorf("%w: %s is not the vault manager", errs.ErrUnauthorized, caller.Hex())
	}
	return release, nil
}

func (v *Vault) lookup(strategy common.Address) (StrategyRecord, Strategy, error) {
	record, ok := v.state.strategies[strategy]
	if !ok {
		return StrategyRecord{}, nil, fmt.Errorf("%w: %s", errs.ErrUnknownStrategy, strategy.Hex())
	}
	return record, v.state.handles[strategy], nil
}

func (v *Vault) emit(ctx context.Context, name string, args ...interface{}) error {
	topics, data, err := events.Pack(name, args...)
	if err != nil {
		return err
	}
	return v.env.EmitLog(ctx, v.address, topics, data)
}

type vaultSnapshot struct {
	state  vaultState
	shares any
}

// Snapshot implements chain.Snapshotter.
func (v *Vault) Snapshot() any {
	state := v.state
	state.strategies = make(map[common.Address]StrategyRecord, len(v.state.strategies))
	for addr, record := range v.state.strategies {
		state.strategies[addr] = record
	}
	state.handles = make(map[common.Address]Strategy, len(v.state.handles))
	for addr, handle := range v.state.handles {
		state.handles[addr] = handle
	}
	state.order = append([]common.Address(nil), v.state.order...)

	snap := vaultSnapshot{state: state}
	if v.state.shares != nil {
		snap.shares = v.state.shares.Snapshot()
	}
	return snap
}

// Restore implements chain.Snapshotter.
func (v *Vault) Restore(snapshot any) {
	snap := snapshot.(vaultSnapshot)
	v.state = snap.state
	if v.state.shares != nil && snap.shares != nil {
		v.state.shares.Restore(snap.shares)
	}
}
