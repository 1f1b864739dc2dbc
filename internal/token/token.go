// Package token implements fungible-token bookkeeping on a chain.Env.
package token

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vaultledger/internal/chain"
	"vaultledger/internal/errs"
	"vaultledger/internal/events"
	"vaultledger/internal/fixedpoint"
)

// ReceiveHook is invoked after a transfer or mint credits its account. It runs
// inside the caller's transaction, so it may re-enter other contracts.
type ReceiveHook func(ctx context.Context, from common.Address, amount *uint256.Int) error

// Token is an ERC-20 style balance ledger.
type Token struct {
	env      *chain.Env
	address  common.Address
	name     string
	symbol   string
	decimals uint8

	supply     uint256.Int
	balances   map[common.Address]uint256.Int
	allowances map[common.Address]map[common.Address]uint256.Int

	hooks map[common.Address]ReceiveHook
}

// New builds a token ledger without deploying it. Contracts that are their
// own share token embed one and include it in their snapshots.
func New(env *chain.Env, address common.Address, name, symbol string, decimals uint8) *Token {
	return &Token{
		env:        env,
		address:    address,
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]uint256.Int),
		allowances: make(map[common.Address]map[common.Address]uint256.Int),
		hooks:      make(map[common.Address]ReceiveHook),
	}
}

// Deploy builds a token and registers it with env.
func Deploy(ctx context.Context, env *chain.Env, address common.Address, name, symbol string, decimals uint8) (*Token, error) {
	t := New(env, address, name, symbol, decimals)
	if err := env.Deploy(ctx, address, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

// OnReceive registers a hook called whenever account is credited.
func (t *Token) OnReceive(account common.Address, hook ReceiveHook) {
	if hook == nil {
		delete(t.hooks, account)
		return
	}
	t.hooks[account] = hook
}

// TotalSupply returns the outstanding supply.
func (t *Token) TotalSupply(ctx context.Context) *uint256.Int {
	out := new(uint256.Int)
	_ = t.env.View(ctx, func(context.Context) error {
		out.Set(&t.supply)
		return nil
	})
	return out
}

// BalanceOf returns the balance of account.
func (t *Token) BalanceOf(ctx context.Context, account common.Address) *uint256.Int {
	out := new(uint256.Int)
	_ = t.env.View(ctx, func(context.Context) error {
		bal := t.balances[account]
		out.Set(&bal)
		return nil
	})
	return out
}

// Allowance returns how much spender may move on behalf of owner.
func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) *uint256.Int {
	out := new(uint256.Int)
	_ = t.env.View(ctx, func(context.Context) error {
		allowance := t.allowances[owner][spender]
		out.Set(&allowance)
		return nil
	})
	return out
}

// Transfer moves amount from `from` to `to`. The caller is trusted to be
// `from`; contracts call it for their own balance.
func (t *Token) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	return t.env.Atomic(ctx, func(ctx context.Context) error {
		return t.transfer(ctx, from, to, amount)
	})
}

// TransferFrom moves amount from `from` to `to`, spending spender's allowance.
func (t *Token) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	return t.env.Atomic(ctx, func(ctx context.Context) error {
		if spender != from {
			if err := t.spendAllowance(from, spender, amount); err != nil {
				return err
			}
		}
		return t.transfer(ctx, from, to, amount)
	})
}

// SpendAllowance consumes amount of spender's allowance over owner's balance
// without moving tokens. Contracts that burn on behalf of an owner use it.
func (t *Token) SpendAllowance(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	return t.env.Atomic(ctx, func(context.Context) error {
		return t.spendAllowance(owner, spender, amount)
	})
}

// Approve sets spender's allowance over owner's balance.
func (t *Token) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return fmt.Errorf("%w: approve with zero address", errs.ErrInvalidArgument)
	}
	return t.env.Atomic(ctx, func(ctx context.Context) error {
		spenders := t.allowances[owner]
		if spenders == nil {
			spenders = make(map[common.Address]uint256.Int)
			t.allowances[owner] = spenders
		}
		spenders[spender] = *amount
		return t.emit(ctx, events.Approval, owner, spender, amount)
	})
}

// Mint credits amount to `to` and grows the supply.
func (t *Token) Mint(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%w: mint to zero address", errs.ErrInvalidReceiver)
	}
	return t.env.Atomic(ctx, func(ctx context.Context) error {
		supply, err := fixedpoint.Add(&t.supply, amount)
		if err != nil {
			return fmt.Errorf("mint %s: %w", t.symbol, err)
		}
		t.supply = *supply
		bal := t.balances[to]
		bal.Add(&bal, amount)
		t.balances[to] = bal
		if err := t.emit(ctx, events.Transfer, common.Address{}, to, amount); err != nil {
			return err
		}
		return t.notify(ctx, common.Address{}, to, amount)
	})
}

// Burn destroys amount from `from`.
func (t *Token) Burn(ctx context.Context, from common.Address, amount *uint256.Int) error {
	return t.env.Atomic(ctx, func(ctx context.Context) error {
		bal := t.balances[from]
		if bal.Lt(amount) {
			return fmt.Errorf("%w: burn %s from %s: balance %s", errs.ErrInsufficientBalance, amount, from.Hex(), &bal)
		}
		bal.Sub(&bal, amount)
		t.setBalance(from, bal)
		t.supply.Sub(&t.supply, amount)
		return t.emit(ctx, events.Transfer, from, common.Address{}, amount)
	})
}

func (t *Token) transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%w: transfer to zero address", errs.ErrInvalidReceiver)
	}
	bal := t.balances[from]
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s %s has %s, needs %s", errs.ErrInsufficientBalance, t.symbol, from.Hex(), &bal, amount)
	}
	bal.Sub(&bal, amount)
	t.setBalance(from, bal)

	dst := t.balances[to]
	dst.Add(&dst, amount)
	t.balances[to] = dst

	if err := t.emit(ctx, events.Transfer, from, to, amount); err != nil {
		return err
	}
	return t.notify(ctx, from, to, amount)
}

func (t *Token) spendAllowance(owner, spender common.Address, amount *uint256.Int) error {
	current := t.allowances[owner][spender]
	if amount.IsZero() || current.Eq(fixedpoint.MaxUint256()) {
		return nil
	}
	if current.Lt(amount) {
		return fmt.Errorf("%w: %s allowance %s < %s", errs.ErrInsufficientAllowance, spender.Hex(), &current, amount)
	}
	current.Sub(&current, amount)
	t.allowances[owner][spender] = current
	return nil
}

func (t *Token) setBalance(account common.Address, bal uint256.Int) {
	if bal.IsZero() {
		delete(t.balances, account)
		return
	}
	t.balances[account] = bal
}

func (t *Token) notify(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	hook, ok := t.hooks[to]
	if !ok {
		return nil
	}
	return hook(ctx, from, new(uint256.Int).Set(amount))
}

func (t *Token) emit(ctx context.Context, name string, args ...interface{}) error {
	topics, data, err := events.Pack(name, args...)
	if err != nil {
		return err
	}
	return t.env.EmitLog(ctx, t.address, topics, data)
}

type tokenSnapshot struct {
	supply     uint256.Int
	balances   map[common.Address]uint256.Int
	allowances map[common.Address]map[common.Address]uint256.Int
}

// Snapshot implements chain.Snapshotter.
func (t *Token) Snapshot() any {
	balances := make(map[common.Address]uint256.Int, len(t.balances))
	for addr, bal := range t.balances {
		balances[addr] = bal
	}
	allowances := make(map[common.Address]map[common.Address]uint256.Int, len(t.allowances))
	for owner, spenders := range t.allowances {
		cp := make(map[common.Address]uint256.Int, len(spenders))
		for spender, amount := range spenders {
			cp[spender] = amount
		}
		allowances[owner] = cp
	}
	return tokenSnapshot{supply: t.supply, balances: balances, allowances: allowances}
}

// Restore implements chain.Snapshotter.
func (t *Token) Restore(snapshot any) {
	snap := snapshot.(tokenSnapshot)
	t.supply = snap.supply
	t.balances = snap.balances
	t.allowances = snap.allowances
}
