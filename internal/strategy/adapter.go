package strategy

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vaultledger/internal/errs"
	"vaultledger/internal/token"
)

// Adapter moves a strategy's funds in and out of one yield source. All
// amounts are in the strategy's asset.
type Adapter interface {
	// DeployFunds invests amount, which the strategy already holds.
	DeployFunds(ctx context.Context, amount *uint256.Int) error
	// FreeFunds returns exactly amount to the strategy's balance or fails.
	FreeFunds(ctx context.Context, amount *uint256.Int) error
	// EstimateTotalAssets values everything the strategy controls, including
	// idle balance and unrealized yield.
	EstimateTotalAssets(ctx context.Context) (*uint256.Int, error)
}

// IdleAdapter keeps funds on the strategy's own balance. Yield arrives as
// direct transfers to the strategy.
type IdleAdapter struct {
	asset  *token.Token
	holder common.Address
}

// NewIdleAdapter values holder's balance of asset.
func NewIdleAdapter(asset *token.Token, holder common.Address) *IdleAdapter {
	return &IdleAdapter{asset: asset, holder: holder}
}

func (a *IdleAdapter) DeployFunds(context.Context, *uint256.Int) error { return nil }

func (a *IdleAdapter) FreeFunds(ctx context.Context, amount *uint256.Int) error {
	if bal := a.asset.BalanceOf(ctx, a.holder); bal.Lt(amount) {
		return fmt.Errorf("%w: idle balance %s < %s", errs.ErrInsufficientAssets, bal, amount)
	}
	return nil
}

func (a *IdleAdapter) EstimateTotalAssets(ctx context.Context) (*uint256.Int, error) {
	return a.asset.BalanceOf(ctx, a.holder), nil
}
