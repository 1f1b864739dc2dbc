package sim

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"vaultledger/internal/chain"
	"vaultledger/internal/events"
	"vaultledger/internal/factory"
	"vaultledger/internal/fixedpoint"
	"vaultledger/internal/indexer"
	"vaultledger/internal/metrics"
	"vaultledger/internal/model"
	"vaultledger/internal/storage"
	"vaultledger/internal/strategy"
	"vaultledger/internal/token"
	"vaultledger/internal/vault"
)

// Result summarizes a scenario run.
type Result struct {
	RunID      string                    `json:"run_id"`
	Factory    common.Address            `json:"factory"`
	Vault      common.Address            `json:"vault"`
	Strategies map[string]common.Address `json:"strategies"`
	Steps      []StepResult              `json:"steps"`
	Logs       int                       `json:"logs"`
	Final      VaultState                `json:"final"`
}

// StepResult records the outcome of one step. Err holds an expected error.
type StepResult struct {
	Index  int    `json:"index"`
	Action string `json:"action"`
	Block  uint64 `json:"block"`
	Err    string `json:"error,omitempty"`
}

// VaultState is the closing accounting of the scenario vault.
type VaultState struct {
	TotalAssets  string            `json:"total_assets"`
	TotalIdle    string            `json:"total_idle"`
	TotalDebt    string            `json:"total_debt"`
	TotalSupply  string            `json:"total_supply"`
	StrategyDebt map[string]string `json:"strategy_debt"`
}

// Runner executes scenarios. The sink and recorder are optional.
type Runner struct {
	sink     storage.Storage
	recorder *metrics.Recorder
	logger   *zap.Logger
}

func NewRunner(sink storage.Storage, recorder *metrics.Recorder, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{sink: sink, recorder: recorder, logger: logger}
}

// run is the live state of one scenario execution.
type run struct {
	*Runner
	id       string
	scenario Scenario
	env      *chain.Env
	decoder  *events.Decoder
	asset    *token.Token
	factory  *factory.Factory
	vault    *vault.Vault
	handles  map[string]*strategy.Strategy
	markets  map[string]*strategy.LendingMarket
	exported int
}

// Run deploys the scenario and executes its steps in order. A step whose
// error does not match its expect_error aborts the run.
func (r *Runner) Run(ctx context.Context, sc Scenario) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	start, err := sc.startTime()
	if err != nil {
		return nil, err
	}
	decoder, err := events.NewDecoder()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := r.logger.With(zap.String("run_id", id), zap.String("scenario", sc.Name))
	rn := &run{
		Runner:   &Runner{sink: r.sink, recorder: r.recorder, logger: logger},
		id:       id,
		scenario: sc,
		env:      chain.NewEnv(sc.ChainID, start, logger),
		decoder:  decoder,
		handles:  make(map[string]*strategy.Strategy),
		markets:  make(map[string]*strategy.LendingMarket),
	}

	if err := rn.deploy(ctx); err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	if err := rn.export(ctx); err != nil {
		return nil, err
	}

	result := &Result{
		RunID:      id,
		Factory:    rn.factory.Address(),
		Vault:      rn.vault.Address(),
		Strategies: make(map[string]common.Address, len(rn.handles)),
	}
	for name, handle := range rn.handles {
		result.Strategies[name] = handle.Address()
	}

	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		stepErr := actions[step.Action](ctx, rn, step)
		if r.recorder != nil {
			r.recorder.ObserveStep(step.Action, stepErr)
		}
		outcome := StepResult{Index: i, Action: step.Action, Block: rn.env.BlockNumber()}

		switch {
		case step.ExpectError != "" && stepErr == nil:
			return result, fmt.Errorf("step %d (%s): expected error containing %q", i, step.Action, step.ExpectError)
		case stepErr != nil && step.ExpectError == "":
			return result, fmt.Errorf("step %d (%s): %w", i, step.Action, stepErr)
		case stepErr != nil && !strings.Contains(stepErr.Error(), step.ExpectError):
			return result, fmt.Errorf("step %d (%s): error %q does not contain %q", i, step.Action, stepErr, step.ExpectError)
		case stepErr != nil:
			outcome.Err = stepErr.Error()
			logger.Debug("step failed as expected", zap.Int("step", i), zap.String("action", step.Action), zap.Error(stepErr))
		default:
			logger.Debug("step ok", zap.Int("step", i), zap.String("action", step.Action))
		}
		result.Steps = append(result.Steps, outcome)

		if err := rn.export(ctx); err != nil {
			return result, err
		}
	}

	result.Logs = rn.exported
	result.Final = rn.state(ctx)
	logger.Info("scenario complete",
		zap.Int("steps", len(result.Steps)),
		zap.Int("logs", result.Logs),
		zap.String("vault", result.Vault.Hex()),
		zap.String("total_assets", result.Final.TotalAssets),
	)
	return result, nil
}

func (rn *run) deploy(ctx context.Context) error {
	sc := rn.scenario
	asset, err := token.Deploy(ctx, rn.env, Account("asset:"+sc.Asset.Symbol), sc.Asset.Name, sc.Asset.Symbol, sc.Asset.Decimals)
	if err != nil {
		return err
	}
	rn.asset = asset

	var recipient common.Address
	if sc.Factory.FeeRecipient != "" {
		recipient = Account(sc.Factory.FeeRecipient)
	}
	rn.factory, err = factory.Deploy(ctx, rn.env, Account("factory"), factory.Config{
		Owner:             Account(sc.Factory.Owner),
		Implementation:    Account("vault-implementation"),
		ProtocolFeeBps:    sc.Factory.ProtocolFeeBps,
		FeeRecipient:      recipient,
		MinReportInterval: sc.Vault.MinReportInterval,
	})
	if err != nil {
		return err
	}

	rn.vault, err = rn.factory.DeployPool(ctx, Account(sc.Vault.Deployer), asset, sc.Vault.Name, sc.Vault.Symbol, Account(sc.Vault.Manager))
	if err != nil {
		return err
	}

	for _, spec := range sc.Strategies {
		addr := Account("strategy:" + spec.Name)
		var adapter strategy.Adapter = strategy.NewIdleAdapter(asset, addr)
		if spec.Kind == KindLending {
			market, err := strategy.DeployLendingMarket(ctx, rn.env, Account("market:"+spec.Name), asset, spec.RateBps)
			if err != nil {
				return err
			}
			rn.markets[spec.Name] = market
			adapter = strategy.NewLendingAdapter(market, addr)
		}
		cfg := strategy.Config{Name: spec.Name, PerformanceFeeBps: spec.PerformanceFeeBps}
		if spec.FeeRecipient != "" {
			cfg.FeeRecipient = Account(spec.FeeRecipient)
		}
		handle, err := strategy.Deploy(ctx, rn.env, addr, rn.vault.Address(), asset, adapter, cfg)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", spec.Name, err)
		}
		ceiling, err := fixedpoint.Parse(spec.DebtCeiling)
		if err != nil {
			return err
		}
		if err := rn.vault.AddStrategy(ctx, Account(sc.Vault.Manager), addr, ceiling); err != nil {
			return fmt.Errorf("add strategy %s: %w", spec.Name, err)
		}
		rn.handles[spec.Name] = handle
	}
	return nil
}

// export writes logs emitted since the last call to the sink and the
// recorder.
func (rn *run) export(ctx context.Context) error {
	logs := rn.env.Logs(rn.exported)
	if len(logs) == 0 {
		return nil
	}
	ingestedAt := time.Now().UTC()
	records := make([]model.LogRecord, 0, len(logs))
	for _, log := range logs {
		ts, _ := rn.env.BlockTimestamp(log.BlockNumber)
		record := indexer.BuildLogRecord(rn.env.ChainID(), log, ts, ingestedAt)
		record.RunID = rn.id
		records = append(records, record)
	}
	rn.exported += len(logs)

	if rn.sink != nil {
		if err := rn.sink.PutLogBatch(ctx, records); err != nil {
			return fmt.Errorf("store logs: %w", err)
		}
	}
	if rn.recorder != nil {
		for _, record := range records {
			event, err := rn.decoder.Decode(record)
			if err != nil {
				rn.logger.Warn("decode emitted log", zap.Error(err), zap.String("tx", record.TxHash))
				continue
			}
			rn.recorder.ObserveEvent(event)
		}
		rn.recorder.ObserveVault(rn.vault.Address().Hex(), rn.snapshot(ctx))
	}
	return nil
}

func (rn *run) snapshot(ctx context.Context) metrics.VaultSnapshot {
	snap := metrics.VaultSnapshot{
		TotalAssets:  rn.vault.TotalAssets(ctx),
		TotalIdle:    rn.vault.TotalIdle(ctx),
		TotalDebt:    rn.vault.TotalDebt(ctx),
		TotalSupply:  rn.vault.TotalSupply(ctx),
		StrategyDebt: make(map[string]*uint256.Int),
	}
	for _, addr := range rn.vault.Strategies(ctx) {
		if record, ok := rn.vault.Strategy(ctx, addr); ok {
			snap.StrategyDebt[addr.Hex()] = new(uint256.Int).Set(&record.CurrentDebt)
		}
	}
	return snap
}

func (rn *run) state(ctx context.Context) VaultState {
	snap := rn.snapshot(ctx)
	out := VaultState{
		TotalAssets:  snap.TotalAssets.Dec(),
		TotalIdle:    snap.TotalIdle.Dec(),
		TotalDebt:    snap.TotalDebt.Dec(),
		TotalSupply:  snap.TotalSupply.Dec(),
		StrategyDebt: make(map[string]string, len(rn.handles)),
	}
	names := make([]string, 0, len(rn.handles))
	for name := range rn.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if debt, ok := snap.StrategyDebt[rn.handles[name].Address().Hex()]; ok {
			out.StrategyDebt[name] = debt.Dec()
		}
	}
	return out
}

func (rn *run) strategyAddr(step Step) (common.Address, error) {
	handle, ok := rn.handles[step.Strategy]
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unknown strategy %q", step.Action, step.Strategy)
	}
	return handle.Address(), nil
}

func (rn *run) manager(step Step) common.Address {
	return Account(or(step.From, rn.scenario.Vault.Manager))
}

func (rn *run) owner(step Step) common.Address {
	return Account(or(step.From, rn.scenario.Factory.Owner))
}
