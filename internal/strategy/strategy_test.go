package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vaultledger/internal/chain"
	"vaultledger/internal/errs"
	"vaultledger/internal/token"
)

var (
	vaultAddr    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	strategyAddr = common.HexToAddress("0x2000000000000000000000000000000000000002")
	marketAddr   = common.HexToAddress("0x3000000000000000000000000000000000000003")
	treasury     = common.HexToAddress("0x4000000000000000000000000000000000000004")
	stranger     = common.HexToAddress("0x5000000000000000000000000000000000000005")
)

type fixture struct {
	env      *chain.Env
	asset    *token.Token
	market   *LendingMarket
	strategy *Strategy
}

func newFixture(t *testing.T, cfg Config, lendingRateBps uint16) *fixture {
	t.Helper()
	ctx := context.Background()
	env := chain.NewEnv(0, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil)
	asset, err := token.Deploy(ctx, env, common.HexToAddress("0x7070707070707070707070707070707070707070"), "USD Coin", "USDC", 6)
	if err != nil {
		t.Fatalf("deploy asset: %v", err)
	}

	var (
		adapter Adapter = NewIdleAdapter(asset, strategyAddr)
		market  *LendingMarket
	)
	if lendingRateBps > 0 {
		market, err = DeployLendingMarket(ctx, env, marketAddr, asset, lendingRateBps)
		if err != nil {
			t.Fatalf("deploy market: %v", err)
		}
		adapter = NewLendingAdapter(market, strategyAddr)
	}

	s, err := Deploy(ctx, env, strategyAddr, vaultAddr, asset, adapter, cfg)
	if err != nil {
		t.Fatalf("deploy strategy: %v", err)
	}
	if err := asset.Mint(ctx, vaultAddr, uint256.NewInt(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := asset.Approve(ctx, vaultAddr, strategyAddr, uint256.NewInt(10_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	return &fixture{env: env, asset: asset, market: market, strategy: s}
}

func (f *fixture) deposit(t *testing.T, amount uint64) {
	t.Helper()
	if _, err := f.strategy.Deposit(context.Background(), vaultAddr, uint256.NewInt(amount)); err != nil {
		t.Fatalf("deposit %d: %v", amount, err)
	}
}

func TestReportGainTakesPerformanceFee(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Name: "idle", PerformanceFeeBps: 1_000, FeeRecipient: treasury}, 0)
	f.deposit(t, 100)

	if err := f.asset.Mint(ctx, strategyAddr, uint256.NewInt(50)); err != nil {
		t.Fatalf("mint yield: %v", err)
	}
	gain, loss, err := f.strategy.Report(ctx, vaultAddr)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if gain.Uint64() != 45 || !loss.IsZero() {
		t.Fatalf("gain/loss mismatch: %s/%s", gain, loss)
	}
	if got := f.strategy.TotalAssets(ctx).Uint64(); got != 145 {
		t.Fatalf("recorded assets: %d", got)
	}
	if got := f.asset.BalanceOf(ctx, treasury).Uint64(); got != 5 {
		t.Fatalf("fee recipient balance: %d", got)
	}
}

func TestReportLoss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Name: "idle", PerformanceFeeBps: 1_000, FeeRecipient: treasury}, 0)
	f.deposit(t, 100)

	if err := f.asset.Burn(ctx, strategyAddr, uint256.NewInt(20)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	gain, loss, err := f.strategy.Report(ctx, vaultAddr)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !gain.IsZero() || loss.Uint64() != 20 {
		t.Fatalf("gain/loss mismatch: %s/%s", gain, loss)
	}
	if got := f.strategy.TotalAssets(ctx).Uint64(); got != 80 {
		t.Fatalf("recorded assets: %d", got)
	}
	if got := f.asset.BalanceOf(ctx, treasury).Uint64(); got != 0 {
		t.Fatalf("no fee on loss, got %d", got)
	}
}

func TestDepositMintsProportionalShares(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Name: "idle"}, 0)
	f.deposit(t, 100)

	if err := f.asset.Mint(ctx, strategyAddr, uint256.NewInt(100)); err != nil {
		t.Fatalf("mint yield: %v", err)
	}
	if _, _, err := f.strategy.Report(ctx, vaultAddr); err != nil {
		t.Fatalf("report: %v", err)
	}
	shares, err := f.strategy.Deposit(ctx, vaultAddr, uint256.NewInt(50))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares.Uint64() != 25 {
		t.Fatalf("shares at 2x price: %d", shares.Uint64())
	}
	if got := f.strategy.TotalShares(ctx).Uint64(); got != 125 {
		t.Fatalf("total shares: %d", got)
	}
}

func TestWithdrawRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Name: "idle"}, 0)
	f.deposit(t, 100)

	if _, err := f.strategy.Withdraw(ctx, stranger, uint256.NewInt(1), stranger); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := f.strategy.Withdraw(ctx, vaultAddr, uint256.NewInt(101), vaultAddr); !errors.Is(err, errs.ErrInsufficientAssets) {
		t.Fatalf("expected insufficient assets, got %v", err)
	}
	if _, err := f.strategy.Withdraw(ctx, vaultAddr, uint256.NewInt(30), vaultAddr); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.strategy.TotalAssets(ctx).Uint64(); got != 70 {
		t.Fatalf("recorded assets: %d", got)
	}
	if got := f.strategy.TotalShares(ctx).Uint64(); got != 70 {
		t.Fatalf("total shares: %d", got)
	}
	if got := f.asset.BalanceOf(ctx, vaultAddr).Uint64(); got != 9_930 {
		t.Fatalf("vault balance: %d", got)
	}
}

func TestShutdownAndEmergencyWithdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Name: "idle"}, 0)
	f.deposit(t, 100)

	if _, err := f.strategy.EmergencyWithdraw(ctx, vaultAddr); !errors.Is(err, errs.ErrNotShutdown) {
		t.Fatalf("expected not shutdown, got %v", err)
	}
	if err := f.strategy.Shutdown(ctx, vaultAddr); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !f.strategy.IsShutdown(ctx) {
		t.Fatalf("strategy should be shut down")
	}
	if _, err := f.strategy.Deposit(ctx, vaultAddr, uint256.NewInt(1)); !errors.Is(err, errs.ErrShutdown) {
		t.Fatalf("expected shutdown, got %v", err)
	}

	if err := f.asset.Mint(ctx, strategyAddr, uint256.NewInt(7)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	recovered, err := f.strategy.EmergencyWithdraw(ctx, vaultAddr)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if recovered.Uint64() != 107 {
		t.Fatalf("recovered: %d", recovered.Uint64())
	}
	if !f.strategy.TotalAssets(ctx).IsZero() || !f.strategy.TotalShares(ctx).IsZero() {
		t.Fatalf("ledger should be empty after emergency withdraw")
	}
}

func TestLendingAdapterAccruesInterest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Name: "lending"}, 1_000)
	f.deposit(t, 1_000)

	if got := f.asset.BalanceOf(ctx, marketAddr).Uint64(); got != 1_000 {
		t.Fatalf("market reserves: %d", got)
	}

	f.env.Advance(365 * 24 * time.Hour)
	gain, _, err := f.strategy.Report(ctx, vaultAddr)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if gain.Uint64() != 100 {
		t.Fatalf("expected one year of 10%% interest, got %s", gain)
	}

	if _, err := f.strategy.Withdraw(ctx, vaultAddr, uint256.NewInt(1_100), vaultAddr); err != nil {
		t.Fatalf("withdraw all: %v", err)
	}
	if got := f.asset.BalanceOf(ctx, vaultAddr).Uint64(); got != 10_100 {
		t.Fatalf("vault balance: %d", got)
	}
}

func TestDeployValidation(t *testing.T) {
	ctx := context.Background()
	env := chain.NewEnv(0, time.Now(), nil)
	asset := token.New(env, common.HexToAddress("0x01"), "A", "A", 18)
	adapter := NewIdleAdapter(asset, strategyAddr)

	if _, err := Deploy(ctx, env, strategyAddr, common.Address{}, asset, adapter, Config{}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := Deploy(ctx, env, strategyAddr, vaultAddr, asset, adapter, Config{PerformanceFeeBps: 10_001, FeeRecipient: treasury}); !errors.Is(err, errs.ErrFeeTooHigh) {
		t.Fatalf("expected fee too high, got %v", err)
	}
	if _, err := Deploy(ctx, env, strategyAddr, vaultAddr, asset, adapter, Config{PerformanceFeeBps: 100}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected missing recipient error, got %v", err)
	}
}

func TestLendingHaircutReportsLoss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Name: "lend"}, 500)
	f.deposit(t, 1_000)

	cut, err := f.market.Haircut(ctx, strategyAddr, uint256.NewInt(250))
	if err != nil {
		t.Fatalf("haircut: %v", err)
	}
	if cut.Uint64() != 250 {
		t.Fatalf("cut: %s", cut)
	}
	gain, loss, err := f.strategy.Report(ctx, vaultAddr)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !gain.IsZero() || loss.Uint64() != 250 {
		t.Fatalf("gain %s loss %s", gain, loss)
	}
	if _, err := f.market.Haircut(ctx, common.HexToAddress("0x01"), uint256.NewInt(1)); err == nil {
		t.Fatalf("expected error for empty position")
	}
}
