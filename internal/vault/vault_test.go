package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vaultledger/internal/chain"
	"vaultledger/internal/errs"
	"vaultledger/internal/fixedpoint"
	"vaultledger/internal/strategy"
	"vaultledger/internal/token"
)

var (
	vaultAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	assetAddr = common.HexToAddress("0x7070707070707070707070707070707070707070")
	manager   = common.HexToAddress("0x4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d")
	alice     = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob       = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	treasury  = common.HexToAddress("0x7e7e7e7e7e7e7e7e7e7e7e7e7e7e7e7e7e7e7e7e")
	protocol  = common.HexToAddress("0xfefefefefefefefefefefefefefefefefefefefe")
)

type fixedFees struct {
	bps       uint16
	recipient common.Address
}

func (f fixedFees) ProtocolFeeConfig(context.Context, common.Address) (uint16, common.Address, error) {
	return f.bps, f.recipient, nil
}

type fixture struct {
	env   *chain.Env
	asset *token.Token
	vault *Vault
}

func newFixture(t *testing.T, fees FeeConfigProvider) *fixture {
	t.Helper()
	ctx := context.Background()
	env := chain.NewEnv(0, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil)
	asset, err := token.Deploy(ctx, env, assetAddr, "USD Coin", "USDC", 6)
	if err != nil {
		t.Fatalf("deploy asset: %v", err)
	}
	v, err := Deploy(ctx, env, vaultAddr, Config{Fees: fees})
	if err != nil {
		t.Fatalf("deploy vault: %v", err)
	}
	if err := v.Initialize(ctx, asset, "Vault USDC", "vUSDC", manager); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for _, holder := range []common.Address{alice, bob} {
		if err := asset.Mint(ctx, holder, uint256.NewInt(1_000)); err != nil {
			t.Fatalf("mint: %v", err)
		}
		if err := asset.Approve(ctx, holder, vaultAddr, fixedpoint.MaxUint256()); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	return &fixture{env: env, asset: asset, vault: v}
}

func (f *fixture) addStrategy(t *testing.T, addr common.Address, cfg strategy.Config, ceiling uint64) *strategy.Strategy {
	t.Helper()
	ctx := context.Background()
	s, err := strategy.Deploy(ctx, f.env, addr, vaultAddr, f.asset, strategy.NewIdleAdapter(f.asset, addr), cfg)
	if err != nil {
		t.Fatalf("deploy strategy: %v", err)
	}
	if err := f.vault.AddStrategy(ctx, manager, addr, uint256.NewInt(ceiling)); err != nil {
		t.Fatalf("add strategy: %v", err)
	}
	return s
}

func (f *fixture) deposit(t *testing.T, who common.Address, amount uint64) *uint256.Int {
	t.Helper()
	shares, err := f.vault.Deposit(context.Background(), who, uint256.NewInt(amount), who)
	if err != nil {
		t.Fatalf("deposit %d: %v", amount, err)
	}
	return shares
}

func (f *fixture) debt(t *testing.T, addr common.Address) uint64 {
	t.Helper()
	record, ok := f.vault.Strategy(context.Background(), addr)
	if !ok {
		t.Fatalf("strategy %s not registered", addr.Hex())
	}
	return record.CurrentDebt.Uint64()
}

func (f *fixture) checkInvariant(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	sum := new(uint256.Int).Set(f.vault.TotalIdle(ctx))
	for _, addr := range f.vault.Strategies(ctx) {
		record, _ := f.vault.Strategy(ctx, addr)
		sum.Add(sum, &record.CurrentDebt)
	}
	if total := f.vault.TotalAssets(ctx); !total.Eq(sum) {
		t.Fatalf("total assets %s != idle + debts %s", total, sum)
	}
	if bal := f.asset.BalanceOf(ctx, vaultAddr); !bal.Eq(f.vault.TotalIdle(ctx)) {
		t.Fatalf("vault balance %s != idle %s", bal, f.vault.TotalIdle(ctx))
	}
}

func TestDepositMintsProportionalShares(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	if shares := f.deposit(t, alice, 100); shares.Uint64() != 100 {
		t.Fatalf("first deposit should mint 1:1, got %s", shares)
	}
	if shares := f.deposit(t, bob, 50); shares.Uint64() != 50 {
		t.Fatalf("second deposit shares: %s", shares)
	}
	if got := f.vault.TotalSupply(ctx).Uint64(); got != 150 {
		t.Fatalf("total supply: %d", got)
	}
	f.checkInvariant(t)

	if _, err := f.vault.Deposit(ctx, alice, new(uint256.Int), alice); !errors.Is(err, errs.ErrZeroAmount) {
		t.Fatalf("expected zero amount, got %v", err)
	}
	if _, err := f.vault.Deposit(ctx, alice, uint256.NewInt(1), common.Address{}); !errors.Is(err, errs.ErrInvalidReceiver) {
		t.Fatalf("expected invalid receiver, got %v", err)
	}
}

func TestDepositAutoAllocatesToFirstStrategy(t *testing.T) {
	f := newFixture(t, nil)
	first := common.HexToAddress("0x2000000000000000000000000000000000000001")
	second := common.HexToAddress("0x2000000000000000000000000000000000000002")
	f.addStrategy(t, first, strategy.Config{Name: "first"}, 60)
	f.addStrategy(t, second, strategy.Config{Name: "second"}, 1_000)

	f.deposit(t, alice, 100)
	if got := f.debt(t, first); got != 60 {
		t.Fatalf("first strategy debt: %d", got)
	}
	if got := f.debt(t, second); got != 0 {
		t.Fatalf("second strategy debt: %d", got)
	}
	if got := f.vault.TotalIdle(context.Background()).Uint64(); got != 40 {
		t.Fatalf("idle: %d", got)
	}
	f.checkInvariant(t)
}

func TestWithdrawRoundsSharesUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)

	addr := common.HexToAddress("0x2000000000000000000000000000000000000001")
	f.addStrategy(t, addr, strategy.Config{Name: "idle"}, 1_000)
	if err := f.vault.UpdateDebt(ctx, manager, addr, uint256.NewInt(100)); err != nil {
		t.Fatalf("update debt: %v", err)
	}
	if err := f.asset.Mint(ctx, addr, uint256.NewInt(90)); err != nil {
		t.Fatalf("mint yield: %v", err)
	}
	f.env.Advance(time.Hour)
	if _, _, err := f.vault.ProcessReport(ctx, addr); err != nil {
		t.Fatalf("report: %v", err)
	}
	if got := f.vault.TotalAssets(ctx).Uint64(); got != 190 {
		t.Fatalf("total assets: %d", got)
	}

	if down, _ := f.vault.ConvertToShares(ctx, uint256.NewInt(1)); !down.IsZero() {
		t.Fatalf("convertToShares should round down to 0, got %s", down)
	}
	if up, _ := f.vault.PreviewWithdraw(ctx, uint256.NewInt(1)); up.Uint64() != 1 {
		t.Fatalf("previewWithdraw should round up to 1, got %s", up)
	}
	burned, err := f.vault.Withdraw(ctx, alice, uint256.NewInt(1), alice, alice)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if burned.Uint64() != 1 {
		t.Fatalf("withdraw of 1 should burn 1 share, burned %s", burned)
	}
	f.checkInvariant(t)
}

func TestConvertRoundTripNeverCreatesValue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)
	addr := common.HexToAddress("0x2000000000000000000000000000000000000001")
	f.addStrategy(t, addr, strategy.Config{Name: "idle"}, 1_000)
	if err := f.vault.UpdateDebt(ctx, manager, addr, uint256.NewInt(100)); err != nil {
		t.Fatalf("update debt: %v", err)
	}
	if err := f.asset.Mint(ctx, addr, uint256.NewInt(37)); err != nil {
		t.Fatalf("mint yield: %v", err)
	}
	f.env.Advance(time.Hour)
	if _, _, err := f.vault.ProcessReport(ctx, addr); err != nil {
		t.Fatalf("report: %v", err)
	}

	for s := uint64(0); s <= 500; s++ {
		shares := uint256.NewInt(s)
		assets, err := f.vault.ConvertToAssets(ctx, shares)
		if err != nil {
			t.Fatalf("convertToAssets(%d): %v", s, err)
		}
		back, err := f.vault.ConvertToShares(ctx, assets)
		if err != nil {
			t.Fatalf("convertToShares(%s): %v", assets, err)
		}
		if back.Gt(shares) {
			t.Fatalf("round trip of %d shares returned %s", s, back)
		}
	}
}

func TestProcessReportChargesProtocolFee(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixedFees{bps: 1_000, recipient: protocol})
	f.deposit(t, alice, 100)

	addr := common.HexToAddress("0x2000000000000000000000000000000000000001")
	s := f.addStrategy(t, addr, strategy.Config{Name: "idle", PerformanceFeeBps: 1_000, FeeRecipient: treasury}, 1_000)
	if err := f.vault.UpdateDebt(ctx, manager, addr, uint256.NewInt(100)); err != nil {
		t.Fatalf("update debt: %v", err)
	}
	if err := f.asset.Mint(ctx, addr, uint256.NewInt(50)); err != nil {
		t.Fatalf("mint yield: %v", err)
	}

	if _, _, err := f.vault.ProcessReport(ctx, addr); !errors.Is(err, errs.ErrReportTooSoon) {
		t.Fatalf("expected report too soon, got %v", err)
	}
	f.env.Advance(time.Hour)
	gain, loss, err := f.vault.ProcessReport(ctx, addr)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if gain.Uint64() != 41 || !loss.IsZero() {
		t.Fatalf("gain/loss: %s/%s", gain, loss)
	}
	if got := f.debt(t, addr); got != 141 {
		t.Fatalf("debt: %d", got)
	}
	if got := f.asset.BalanceOf(ctx, protocol).Uint64(); got != 4 {
		t.Fatalf("protocol fee paid: %d", got)
	}
	if got := f.asset.BalanceOf(ctx, treasury).Uint64(); got != 5 {
		t.Fatalf("performance fee paid: %d", got)
	}
	if got := s.TotalAssets(ctx).Uint64(); got != 141 {
		t.Fatalf("strategy recorded assets: %d", got)
	}
	f.checkInvariant(t)
}

func TestProcessReportLossReducesDebt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixedFees{bps: 1_000, recipient: protocol})
	f.deposit(t, alice, 100)

	addr := common.HexToAddress("0x2000000000000000000000000000000000000001")
	f.addStrategy(t, addr, strategy.Config{Name: "idle"}, 1_000)
	if err := f.vault.UpdateDebt(ctx, manager, addr, uint256.NewInt(100)); err != nil {
		t.Fatalf("update debt: %v", err)
	}
	if err := f.asset.Burn(ctx, addr, uint256.NewInt(20)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	f.env.Advance(time.Hour)
	gain, loss, err := f.vault.ProcessReport(ctx, addr)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !gain.IsZero() || loss.Uint64() != 20 {
		t.Fatalf("gain/loss: %s/%s", gain, loss)
	}
	if got := f.vault.TotalAssets(ctx).Uint64(); got != 80 {
		t.Fatalf("total assets: %d", got)
	}
	if got := f.vault.MaxWithdraw(ctx, alice).Uint64(); got != 80 {
		t.Fatalf("max withdraw: %d", got)
	}
	f.checkInvariant(t)

	if _, _, err := f.vault.ProcessReport(ctx, common.HexToAddress("0x99")); !errors.Is(err, errs.ErrUnknownStrategy) {
		t.Fatalf("expected unknown strategy, got %v", err)
	}
}

func TestUpdateDebtEnforcesCeilingAndIdle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)

	addr := common.HexToAddress("0x2000000000000000000000000000000000000001")
	f.addStrategy(t, addr, strategy.Config{Name: "idle"}, 50)

	if err := f.vault.UpdateDebt(ctx, manager, addr, uint256.NewInt(51)); !errors.Is(err, errs.ErrExceedsCeiling) {
		t.Fatalf("expected exceeds ceiling, got %v", err)
	}
	if err := f.vault.UpdateDebt(ctx, manager, addr, uint256.NewInt(50)); err != nil {
		t.Fatalf("update to ceiling: %v", err)
	}
	if err := f.vault.UpdateDebt(ctx, alice, addr, uint256.NewInt(10)); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	if err := f.vault.UpdateDebtCeiling(ctx, manager, addr, uint256.NewInt(500)); err != nil {
		t.Fatalf("raise ceiling: %v", err)
	}
	if err := f.vault.UpdateDebt(ctx, manager, addr, uint256.NewInt(101)); !errors.Is(err, errs.ErrInsufficientIdle) {
		t.Fatalf("expected insufficient idle, got %v", err)
	}
	if err := f.vault.UpdateDebt(ctx, manager, addr, uint256.NewInt(20)); err != nil {
		t.Fatalf("lower debt: %v", err)
	}
	if got := f.debt(t, addr); got != 20 {
		t.Fatalf("debt: %d", got)
	}
	f.checkInvariant(t)

	if err := f.vault.RemoveStrategy(ctx, manager, addr); !errors.Is(err, errs.ErrNonzeroDebt) {
		t.Fatalf("expected nonzero debt, got %v", err)
	}
	if err := f.vault.UpdateDebt(ctx, manager, addr, new(uint256.Int)); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := f.vault.RemoveStrategy(ctx, manager, addr); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(f.vault.Strategies(ctx)) != 0 {
		t.Fatalf("strategy should be removed")
	}
	if err := f.vault.AddStrategy(ctx, manager, addr, uint256.NewInt(10)); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if err := f.vault.AddStrategy(ctx, manager, addr, uint256.NewInt(10)); !errors.Is(err, errs.ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
}

func TestWithdrawSweepsStrategiesInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)

	first := common.HexToAddress("0x2000000000000000000000000000000000000001")
	second := common.HexToAddress("0x2000000000000000000000000000000000000002")
	f.addStrategy(t, first, strategy.Config{Name: "first"}, 100)
	f.addStrategy(t, second, strategy.Config{Name: "second"}, 100)
	if err := f.vault.UpdateDebt(ctx, manager, first, uint256.NewInt(30)); err != nil {
		t.Fatalf("update first: %v", err)
	}
	if err := f.vault.UpdateDebt(ctx, manager, second, uint256.NewInt(50)); err != nil {
		t.Fatalf("update second: %v", err)
	}

	if _, err := f.vault.Withdraw(ctx, alice, uint256.NewInt(60), alice, alice); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.debt(t, first); got != 0 {
		t.Fatalf("first debt: %d", got)
	}
	if got := f.debt(t, second); got != 40 {
		t.Fatalf("second debt: %d", got)
	}
	if got := f.asset.BalanceOf(ctx, alice).Uint64(); got != 960 {
		t.Fatalf("alice assets: %d", got)
	}
	f.checkInvariant(t)
}

// illiquidStrategy holds funds it reports as unavailable beyond a lock.
type illiquidStrategy struct {
	address common.Address
	asset   *token.Token
	locked  uint256.Int
}

func (s *illiquidStrategy) Address() common.Address { return s.address }
func (s *illiquidStrategy) Vault() common.Address   { return vaultAddr }
func (s *illiquidStrategy) Asset() common.Address   { return s.asset.Address() }

func (s *illiquidStrategy) TotalAssets(ctx context.Context) *uint256.Int {
	return fixedpoint.SaturatingSub(s.asset.BalanceOf(ctx, s.address), &s.locked)
}

func (s *illiquidStrategy) IsShutdown(context.Context) bool { return false }

func (s *illiquidStrategy) Deposit(ctx context.Context, caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	return amount, s.asset.TransferFrom(ctx, s.address, caller, s.address, amount)
}

func (s *illiquidStrategy) Withdraw(ctx context.Context, _ common.Address, amount *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	return amount, s.asset.Transfer(ctx, s.address, receiver, amount)
}

func (s *illiquidStrategy) Report(context.Context, common.Address) (*uint256.Int, *uint256.Int, error) {
	return new(uint256.Int), new(uint256.Int), nil
}

func (s *illiquidStrategy) Shutdown(context.Context, common.Address) error { return nil }

func (s *illiquidStrategy) EmergencyWithdraw(context.Context, common.Address) (*uint256.Int, error) {
	return new(uint256.Int), nil
}

func TestWithdrawIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)

	addr := common.HexToAddress("0x2000000000000000000000000000000000000003")
	locked := &illiquidStrategy{address: addr, asset: f.asset}
	if err := f.env.Deploy(ctx, addr, locked); err != nil {
		t.Fatalf("deploy illiquid strategy: %v", err)
	}
	if err := f.vault.AddStrategy(ctx, manager, addr, uint256.NewInt(100)); err != nil {
		t.Fatalf("add strategy: %v", err)
	}
	if err := f.vault.UpdateDebt(ctx, manager, addr, uint256.NewInt(80)); err != nil {
		t.Fatalf("update debt: %v", err)
	}
	locked.locked.SetUint64(80)

	logs := len(f.env.Logs(0))
	if _, err := f.vault.Withdraw(ctx, alice, uint256.NewInt(50), alice, alice); !errors.Is(err, errs.ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	if got := f.vault.BalanceOf(ctx, alice).Uint64(); got != 100 {
		t.Fatalf("shares burned on failed withdraw: %d", got)
	}
	if got := f.asset.BalanceOf(ctx, alice).Uint64(); got != 900 {
		t.Fatalf("assets paid on failed withdraw: %d", got)
	}
	if got := f.vault.TotalIdle(ctx).Uint64(); got != 20 {
		t.Fatalf("idle changed: %d", got)
	}
	if got := len(f.env.Logs(0)); got != logs {
		t.Fatalf("failed withdraw left %d logs", got-logs)
	}

	if _, err := f.vault.Withdraw(ctx, alice, uint256.NewInt(20), alice, alice); err != nil {
		t.Fatalf("withdraw from idle: %v", err)
	}
	f.checkInvariant(t)
}

func TestRedeemRoundsAssetsDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)

	addr := common.HexToAddress("0x2000000000000000000000000000000000000001")
	f.addStrategy(t, addr, strategy.Config{Name: "idle"}, 1_000)
	if err := f.vault.UpdateDebt(ctx, manager, addr, uint256.NewInt(100)); err != nil {
		t.Fatalf("update debt: %v", err)
	}
	if err := f.asset.Mint(ctx, addr, uint256.NewInt(90)); err != nil {
		t.Fatalf("mint yield: %v", err)
	}
	f.env.Advance(time.Hour)
	if _, _, err := f.vault.ProcessReport(ctx, addr); err != nil {
		t.Fatalf("report: %v", err)
	}
	if supply, total := f.vault.TotalSupply(ctx).Uint64(), f.vault.TotalAssets(ctx).Uint64(); supply != 100 || total != 190 {
		t.Fatalf("supply/total: %d/%d", supply, total)
	}

	if preview, err := f.vault.PreviewRedeem(ctx, uint256.NewInt(1)); err != nil || preview.Uint64() != 1 {
		t.Fatalf("preview redeem: %v %v", preview, err)
	}
	assets, err := f.vault.Redeem(ctx, alice, uint256.NewInt(1), alice, alice)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if assets.Uint64() != 1 {
		t.Fatalf("1 share at 190/100 should pay 1, got %s", assets)
	}
	if got := f.vault.BalanceOf(ctx, alice).Uint64(); got != 99 {
		t.Fatalf("alice shares: %d", got)
	}
	if got := f.asset.BalanceOf(ctx, alice).Uint64(); got != 901 {
		t.Fatalf("alice assets: %d", got)
	}
	if got := f.debt(t, addr); got != 189 {
		t.Fatalf("strategy debt after sweep: %d", got)
	}
	if got := f.vault.TotalIdle(ctx).Uint64(); got != 0 {
		t.Fatalf("idle: %d", got)
	}
	f.checkInvariant(t)
}

func TestRedeemIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)

	addr := common.HexToAddress("0x2000000000000000000000000000000000000003")
	locked := &illiquidStrategy{address: addr, asset: f.asset}
	if err := f.env.Deploy(ctx, addr, locked); err != nil {
		t.Fatalf("deploy illiquid strategy: %v", err)
	}
	if err := f.vault.AddStrategy(ctx, manager, addr, uint256.NewInt(100)); err != nil {
		t.Fatalf("add strategy: %v", err)
	}
	if err := f.vault.UpdateDebt(ctx, manager, addr, uint256.NewInt(80)); err != nil {
		t.Fatalf("update debt: %v", err)
	}
	locked.locked.SetUint64(80)

	if _, err := f.vault.Redeem(ctx, alice, uint256.NewInt(50), alice, alice); !errors.Is(err, errs.ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	if got := f.vault.BalanceOf(ctx, alice).Uint64(); got != 100 {
		t.Fatalf("shares burned on failed redeem: %d", got)
	}
	if got := f.asset.BalanceOf(ctx, alice).Uint64(); got != 900 {
		t.Fatalf("assets paid on failed redeem: %d", got)
	}
	if got := f.debt(t, addr); got != 80 {
		t.Fatalf("debt changed: %d", got)
	}
	f.checkInvariant(t)
}

func TestDelegatedWithdrawNeedsAllowance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)

	if _, err := f.vault.Withdraw(ctx, bob, uint256.NewInt(10), bob, alice); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.vault.Approve(ctx, alice, bob, uint256.NewInt(10)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.vault.Redeem(ctx, bob, uint256.NewInt(10), bob, alice); err != nil {
		t.Fatalf("delegated redeem: %v", err)
	}
	if got := f.asset.BalanceOf(ctx, bob).Uint64(); got != 1_010 {
		t.Fatalf("bob assets: %d", got)
	}
	if got := f.vault.Allowance(ctx, alice, bob).Uint64(); got != 0 {
		t.Fatalf("allowance left: %d", got)
	}
}

func TestReentrantCallIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)

	f.asset.OnReceive(bob, func(ctx context.Context, _ common.Address, _ *uint256.Int) error {
		_, err := f.vault.Deposit(ctx, bob, uint256.NewInt(1), bob)
		return err
	})
	if _, err := f.vault.Withdraw(ctx, alice, uint256.NewInt(10), bob, alice); !errors.Is(err, errs.ErrReentrant) {
		t.Fatalf("expected reentrant, got %v", err)
	}
	if got := f.vault.BalanceOf(ctx, alice).Uint64(); got != 100 {
		t.Fatalf("alice shares: %d", got)
	}
	if got := f.asset.BalanceOf(ctx, bob).Uint64(); got != 1_000 {
		t.Fatalf("bob assets: %d", got)
	}
	f.checkInvariant(t)
}

func TestPauseBlocksDepositsOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)

	if err := f.vault.Pause(ctx, alice); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.vault.Pause(ctx, manager); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := f.vault.Pause(ctx, manager); !errors.Is(err, errs.ErrPaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	if _, err := f.vault.Deposit(ctx, alice, uint256.NewInt(1), alice); !errors.Is(err, errs.ErrPaused) {
		t.Fatalf("expected paused deposit error, got %v", err)
	}
	if !f.vault.MaxDeposit(ctx, alice).IsZero() {
		t.Fatalf("max deposit should be zero while paused")
	}
	if _, err := f.vault.Withdraw(ctx, alice, uint256.NewInt(10), alice, alice); err != nil {
		t.Fatalf("withdraw while paused: %v", err)
	}
	if err := f.vault.Unpause(ctx, manager); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := f.vault.Unpause(ctx, manager); !errors.Is(err, errs.ErrNotPaused) {
		t.Fatalf("expected not paused, got %v", err)
	}
	f.deposit(t, alice, 1)
}

func TestSetManager(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	if err := f.vault.SetManager(ctx, manager, common.Address{}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if err := f.vault.SetManager(ctx, alice, bob); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.vault.SetManager(ctx, manager, bob); err != nil {
		t.Fatalf("set manager: %v", err)
	}
	if f.vault.Manager(ctx) != bob {
		t.Fatalf("manager not updated")
	}
	if err := f.vault.Pause(ctx, manager); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("old manager should lose rights, got %v", err)
	}
}

func TestInitializeOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if err := f.vault.Initialize(ctx, f.asset, "Again", "AGN", manager); !errors.Is(err, errs.ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}

	other, err := Deploy(ctx, f.env, common.HexToAddress("0x1000000000000000000000000000000000000002"), Config{})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if _, err := other.Deposit(ctx, alice, uint256.NewInt(1), alice); !errors.Is(err, errs.ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if err := other.Initialize(ctx, f.asset, "X", "X", common.Address{}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestEmergencyWithdrawStrategyRealizesLoss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deposit(t, alice, 100)

	addr := common.HexToAddress("0x2000000000000000000000000000000000000001")
	f.addStrategy(t, addr, strategy.Config{Name: "idle"}, 100)
	if err := f.vault.UpdateDebt(ctx, manager, addr, uint256.NewInt(100)); err != nil {
		t.Fatalf("update debt: %v", err)
	}
	if _, err := f.vault.EmergencyWithdrawStrategy(ctx, manager, addr); !errors.Is(err, errs.ErrNotShutdown) {
		t.Fatalf("expected not shutdown, got %v", err)
	}
	if err := f.asset.Burn(ctx, addr, uint256.NewInt(30)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if err := f.vault.ShutdownStrategy(ctx, manager, addr); err != nil {
		t.Fatalf("shutdown strategy: %v", err)
	}
	recovered, err := f.vault.EmergencyWithdrawStrategy(ctx, manager, addr)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if recovered.Uint64() != 70 {
		t.Fatalf("recovered: %s", recovered)
	}
	if got := f.debt(t, addr); got != 0 {
		t.Fatalf("debt after emergency: %d", got)
	}
	if got := f.vault.TotalAssets(ctx).Uint64(); got != 70 {
		t.Fatalf("total assets: %d", got)
	}
	f.checkInvariant(t)

	if err := f.vault.RemoveStrategy(ctx, manager, addr); err != nil {
		t.Fatalf("remove after emergency: %v", err)
	}
}

func TestEmergencyWithdrawStrategyChargesFeeOnSurplus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixedFees{bps: 1_000, recipient: protocol})
	f.deposit(t, alice, 100)

	addr := common.HexToAddress("0x2000000000000000000000000000000000000001")
	f.addStrategy(t, addr, strategy.Config{Name: "idle"}, 100)
	if err := f.vault.UpdateDebt(ctx, manager, addr, uint256.NewInt(100)); err != nil {
		t.Fatalf("update debt: %v", err)
	}
	if err := f.asset.Mint(ctx, addr, uint256.NewInt(20)); err != nil {
		t.Fatalf("mint yield: %v", err)
	}
	if err := f.vault.ShutdownStrategy(ctx, manager, addr); err != nil {
		t.Fatalf("shutdown strategy: %v", err)
	}
	recovered, err := f.vault.EmergencyWithdrawStrategy(ctx, manager, addr)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if recovered.Uint64() != 120 {
		t.Fatalf("recovered: %s", recovered)
	}
	if got := f.asset.BalanceOf(ctx, protocol).Uint64(); got != 2 {
		t.Fatalf("protocol fee on surplus: %d", got)
	}
	if got := f.vault.TotalAssets(ctx).Uint64(); got != 118 {
		t.Fatalf("total assets: %d", got)
	}
	f.checkInvariant(t)
}
