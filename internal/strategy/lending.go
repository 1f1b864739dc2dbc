package strategy

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vaultledger/internal/chain"
	"vaultledger/internal/errs"
	"vaultledger/internal/fixedpoint"
	"vaultledger/internal/token"
)

const secondsPerYear = 365 * 24 * 60 * 60

// LendingMarket is a simulated money market paying simple interest at a fixed
// annual rate. Interest is minted by the market when its own liquidity runs
// short, so it must hold mint rights over the asset.
type LendingMarket struct {
	env     *chain.Env
	address common.Address
	asset   *token.Token
	rateBps uint16

	positions map[common.Address]position
}

type position struct {
	balance   uint256.Int
	accruedAt int64
}

// DeployLendingMarket registers a market for asset paying rateBps per year.
func DeployLendingMarket(ctx context.Context, env *chain.Env, address common.Address, asset *token.Token, rateBps uint16) (*LendingMarket, error) {
	m := &LendingMarket{
		env:       env,
		address:   address,
		asset:     asset,
		rateBps:   rateBps,
		positions: make(map[common.Address]position),
	}
	if err := env.Deploy(ctx, address, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *LendingMarket) Address() common.Address { return m.address }
func (m *LendingMarket) RateBps() uint16         { return m.rateBps }

// BalanceOf returns account's principal plus interest accrued up to now.
func (m *LendingMarket) BalanceOf(ctx context.Context, account common.Address) *uint256.Int {
	out := new(uint256.Int)
	_ = m.env.View(ctx, func(context.Context) error {
		out = m.accrued(account)
		return nil
	})
	return out
}

// Supply moves amount from account into the market.
func (m *LendingMarket) Supply(ctx context.Context, account common.Address, amount *uint256.Int) error {
	return m.env.Atomic(ctx, func(ctx context.Context) error {
		if amount.IsZero() {
			return errs.ErrZeroAmount
		}
		if err := m.asset.TransferFrom(ctx, m.address, account, m.address, amount); err != nil {
			return fmt.Errorf("supply: %w", err)
		}
		bal := m.accrued(account)
		bal.Add(bal, amount)
		m.positions[account] = position{balance: *bal, accruedAt: m.env.Now().Unix()}
		return nil
	})
}

// Withdraw pays amount of account's position back to account.
func (m *LendingMarket) Withdraw(ctx context.Context, account common.Address, amount *uint256.Int) error {
	return m.env.Atomic(ctx, func(ctx context.Context) error {
		bal := m.accrued(account)
		if bal.Lt(amount) {
			return fmt.Errorf("%w: market position %s < %s", errs.ErrInsufficientLiquidity, bal, amount)
		}
		bal.Sub(bal, amount)
		if bal.IsZero() {
			delete(m.positions, account)
		} else {
			m.positions[account] = position{balance: *bal, accruedAt: m.env.Now().Unix()}
		}

		if reserves := m.asset.BalanceOf(ctx, m.address); reserves.Lt(amount) {
			if err := m.asset.Mint(ctx, m.address, new(uint256.Int).Sub(amount, reserves)); err != nil {
				return fmt.Errorf("mint interest: %w", err)
			}
		}
		return m.asset.Transfer(ctx, m.address, account, amount)
	})
}

// Haircut writes down account's position by amount, capped at the position,
// and burns the matching reserves. It returns the amount written off.
func (m *LendingMarket) Haircut(ctx context.Context, account common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var cut *uint256.Int
	err := m.env.Atomic(ctx, func(ctx context.Context) error {
		bal := m.accrued(account)
		cut = fixedpoint.Min(bal, amount)
		if cut.IsZero() {
			return fmt.Errorf("%w: no position for %s", errs.ErrZeroAmount, account.Hex())
		}
		bal.Sub(bal, cut)
		if bal.IsZero() {
			delete(m.positions, account)
		} else {
			m.positions[account] = position{balance: *bal, accruedAt: m.env.Now().Unix()}
		}
		burn := fixedpoint.Min(m.asset.BalanceOf(ctx, m.address), cut)
		if burn.IsZero() {
			return nil
		}
		return m.asset.Burn(ctx, m.address, burn)
	})
	if err != nil {
		return nil, err
	}
	return cut, nil
}

func (m *LendingMarket) accrued(account common.Address) *uint256.Int {
	pos, ok := m.positions[account]
	if !ok {
		return new(uint256.Int)
	}
	out := new(uint256.Int).Set(&pos.balance)
	elapsed := m.env.Now().Unix() - pos.accruedAt
	if elapsed <= 0 || m.rateBps == 0 {
		return out
	}
	rate := new(uint256.Int).Mul(uint256.NewInt(uint64(m.rateBps)), uint256.NewInt(uint64(elapsed)))
	interest, err := fixedpoint.MulDiv(&pos.balance, rate, uint256.NewInt(fixedpoint.MaxBps*secondsPerYear), fixedpoint.Floor)
	if err != nil {
		return out
	}
	return out.Add(out, interest)
}

type marketSnapshot map[common.Address]position

// Snapshot implements chain.Snapshotter.
func (m *LendingMarket) Snapshot() any {
	cp := make(marketSnapshot, len(m.positions))
	for addr, pos := range m.positions {
		cp[addr] = pos
	}
	return cp
}

// Restore implements chain.Snapshotter.
func (m *LendingMarket) Restore(snapshot any) { m.positions = snapshot.(marketSnapshot) }

// LendingAdapter deploys a strategy's funds into a LendingMarket.
type LendingAdapter struct {
	market *LendingMarket
	asset  *token.Token
	holder common.Address
}

// NewLendingAdapter supplies holder's funds to market.
func NewLendingAdapter(market *LendingMarket, holder common.Address) *LendingAdapter {
	return &LendingAdapter{market: market, asset: market.asset, holder: holder}
}

func (a *LendingAdapter) DeployFunds(ctx context.Context, amount *uint256.Int) error {
	if err := a.asset.Approve(ctx, a.holder, a.market.Address(), amount); err != nil {
		return err
	}
	return a.market.Supply(ctx, a.holder, amount)
}

func (a *LendingAdapter) FreeFunds(ctx context.Context, amount *uint256.Int) error {
	idle := a.asset.BalanceOf(ctx, a.holder)
	if !idle.Lt(amount) {
		return nil
	}
	return a.market.Withdraw(ctx, a.holder, new(uint256.Int).Sub(amount, idle))
}

func (a *LendingAdapter) EstimateTotalAssets(ctx context.Context) (*uint256.Int, error) {
	idle := a.asset.BalanceOf(ctx, a.holder)
	return fixedpoint.Add(idle, a.market.BalanceOf(ctx, a.holder))
}
