package aggregate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vaultledger/internal/events"
	"vaultledger/internal/model"
	"vaultledger/internal/storage"
)

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds uint64
	BatchSize     int
	RecomputeFrom uint64
	// Decimals scales amounts when no resolver is set or it fails.
	Decimals   uint8
	Resolver   DecimalsResolver
	StateStore StateStore
}

// Aggregator folds decoded vault events into per-strategy window summaries.
type Aggregator struct {
	cfg          Config
	sink         storage.SummarySink
	logger       *zap.Logger
	decimals     *DecimalsCache
	accumulators map[string]*Accumulator
}

func NewAggregator(cfg Config, sink storage.SummarySink, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		cfg:          cfg,
		sink:         sink,
		logger:       logger,
		decimals:     NewDecimalsCache(),
		accumulators: make(map[string]*Accumulator),
	}
}

// Run aggregates a typed events JSONL file.
func (a *Aggregator) Run(ctx context.Context, inputPath string) error {
	file, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()
	return a.Consume(ctx, file)
}

// Consume aggregates typed event JSON lines read from r. Events must arrive
// in timestamp order per strategy.
func (a *Aggregator) Consume(ctx context.Context, r io.Reader) error {
	if a.sink == nil {
		return fmt.Errorf("summary sink is nil")
	}
	if a.cfg.WindowSeconds == 0 {
		return fmt.Errorf("window seconds must be > 0")
	}
	if a.cfg.BatchSize <= 0 {
		a.cfg.BatchSize = 1000
	}

	startTs, err := a.loadStartTimestamp(ctx)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	batch := make([]model.StrategySummary, 0, a.cfg.BatchSize)
	maxTs := startTs
	var total, summarized, skipped, failed int

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++

		var record model.TypedEventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			failed++
			a.logger.Warn("decode typed event", zap.Error(err))
			continue
		}
		if record.EventName != events.StrategyReported && record.EventName != events.DebtUpdated {
			skipped++
			continue
		}
		if record.Timestamp <= startTs {
			skipped++
			continue
		}

		strategy, err := strategyOf(record)
		if err != nil {
			failed++
			a.logger.Warn("event strategy", zap.Error(err), zap.String("tx", record.TxHash))
			continue
		}

		start := windowStart(record.Timestamp, a.cfg.WindowSeconds)
		end := start + a.cfg.WindowSeconds

		key := strategyKey(record.Address, strategy)
		acc := a.accumulators[key]
		switch {
		case acc == nil:
			acc = NewAccumulator(record.ChainID, common.HexToAddress(record.Address).Hex(), strategy, start, end, nil)
			a.accumulators[key] = acc
		case start < acc.WindowStart:
			skipped++
			a.logger.Warn("out of order event", zap.String("strategy", strategy), zap.Uint64("ts", record.Timestamp))
			continue
		case start != acc.WindowStart:
			batch = append(batch, a.flushAccumulator(ctx, acc))
			summarized++
			acc = NewAccumulator(acc.ChainID, acc.Vault, acc.Strategy, start, end, acc.Debt)
			a.accumulators[key] = acc
		}

		if err := acc.AddEvent(record); err != nil {
			failed++
			a.logger.Warn("aggregate event", zap.Error(err), zap.String("strategy", strategy), zap.String("event", record.EventName))
			continue
		}

		if record.Timestamp > maxTs {
			maxTs = record.Timestamp
		}

		if len(batch) >= a.cfg.BatchSize {
			if err := a.sink.UpsertStrategySummaries(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
			if err := a.saveState(ctx); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}

	keys := make([]string, 0, len(a.accumulators))
	for key := range a.accumulators {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		batch = append(batch, a.flushAccumulator(ctx, a.accumulators[key]))
		summarized++
	}

	if len(batch) > 0 {
		if err := a.sink.UpsertStrategySummaries(ctx, batch); err != nil {
			return err
		}
	}

	// Open windows were written as-is; state stays before the earliest of
	// them so the next run recomputes and upserts them.
	if err := a.saveState(ctx); err != nil {
		return err
	}
	a.accumulators = make(map[string]*Accumulator)

	a.logger.Info("summarize complete",
		zap.Int("total", total),
		zap.Int("summaries", summarized),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
		zap.Uint64("max_ts", maxTs),
	)
	return nil
}

func (a *Aggregator) loadStartTimestamp(ctx context.Context) (uint64, error) {
	if a.cfg.RecomputeFrom > 0 {
		return a.cfg.RecomputeFrom - 1, nil
	}
	if a.cfg.StateStore == nil {
		return 0, nil
	}
	last, ok, err := a.cfg.StateStore.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last, nil
}

func (a *Aggregator) saveState(ctx context.Context) error {
	if a.cfg.StateStore == nil {
		return nil
	}
	safeTs := minOpenWindowStart(a.accumulators)
	if safeTs > 0 {
		safeTs = safeTs - 1
	}
	if safeTs == 0 {
		safeTs = a.cfg.RecomputeFrom
	}
	return a.cfg.StateStore.Save(ctx, safeTs)
}

func (a *Aggregator) flushAccumulator(ctx context.Context, acc *Accumulator) model.StrategySummary {
	acc.Advance(acc.WindowEnd)
	decimals := a.vaultDecimals(ctx, acc.Vault)

	return model.StrategySummary{
		ChainID:        acc.ChainID,
		Vault:          acc.Vault,
		Strategy:       acc.Strategy,
		WindowSizeSecs: int64(a.cfg.WindowSeconds),
		WindowStart:    time.Unix(int64(acc.WindowStart), 0).UTC(),
		WindowEnd:      time.Unix(int64(acc.WindowEnd), 0).UTC(),
		Reports:        acc.Reports,
		Gain:           formatTokenAmount(acc.Gain, decimals),
		Loss:           formatTokenAmount(acc.Loss, decimals),
		ProtocolFees:   formatTokenAmount(acc.ProtocolFees, decimals),
		EndDebt:        formatTokenAmount(acc.Debt, decimals),
		AvgDebt:        computeAvgDebt(acc.DebtSeconds, a.cfg.WindowSeconds, decimals),
		APR:            computeAPR(acc.Gain, acc.Loss, acc.DebtSeconds),
	}
}

func (a *Aggregator) vaultDecimals(ctx context.Context, vault string) uint8 {
	if a.cfg.Resolver == nil {
		return a.cfg.Decimals
	}
	addr := common.HexToAddress(vault)
	if decimals, ok := a.decimals.Get(addr); ok {
		return decimals
	}
	decimals, err := a.cfg.Resolver.AssetDecimals(ctx, addr)
	if err != nil {
		a.logger.Warn("asset decimals", zap.String("vault", vault), zap.Error(err))
		return a.cfg.Decimals
	}
	a.decimals.Set(addr, decimals)
	return decimals
}

func strategyOf(record model.TypedEventRecord) (string, error) {
	var ref struct {
		Strategy string `json:"strategy"`
	}
	if err := json.Unmarshal(record.Decoded, &ref); err != nil {
		return "", fmt.Errorf("decode %s: %w", record.EventName, err)
	}
	if !common.IsHexAddress(ref.Strategy) {
		return "", fmt.Errorf("invalid strategy address: %q", ref.Strategy)
	}
	return common.HexToAddress(ref.Strategy).Hex(), nil
}

func windowStart(ts uint64, windowSec uint64) uint64 {
	return ts - (ts % windowSec)
}

func strategyKey(vault, strategy string) string {
	return strings.ToLower(vault) + "/" + strings.ToLower(strategy)
}

func minOpenWindowStart(acc map[string]*Accumulator) uint64 {
	var min uint64
	for _, entry := range acc {
		if entry == nil {
			continue
		}
		if min == 0 || entry.WindowStart < min {
			min = entry.WindowStart
		}
	}
	return min
}

