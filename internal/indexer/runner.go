package indexer

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"vaultledger/internal/events"
	"vaultledger/internal/model"
	"vaultledger/internal/storage"
)

// LogSource is the node access the runner needs. chain.Client implements it
// and retries each call itself.
type LogSource interface {
	GetChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// RunConfig holds runtime settings for the indexer.
type RunConfig struct {
	FromBlock         uint64
	ToBlock           uint64
	Addresses         []common.Address
	Topic0            []common.Hash
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	// FollowFactories adds every vault announced by a NewVault log to the
	// address filter.
	FollowFactories bool
}

// Runner streams ledger logs from the chain and writes them to storage.
type Runner struct {
	cfg        RunConfig
	source     LogSource
	storage    storage.Storage
	logger     *zap.Logger
	seen       map[string]struct{}
	watched    map[common.Address]struct{}
	checkpoint *CheckpointStore
	newVaultID common.Hash
}

// NewRunner builds a Runner with its dependencies. An empty topic0 filter
// selects every ledger event.
func NewRunner(cfg RunConfig, source LogSource, storageSink storage.Storage, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ledger, err := events.LedgerABI()
	if err != nil {
		return nil, fmt.Errorf("ledger abi: %w", err)
	}
	if len(cfg.Topic0) == 0 {
		for _, event := range ledger.Events {
			cfg.Topic0 = append(cfg.Topic0, event.ID)
		}
	}

	watched := make(map[common.Address]struct{}, len(cfg.Addresses))
	for _, addr := range cfg.Addresses {
		watched[addr] = struct{}{}
	}
	return &Runner{
		cfg:        cfg,
		source:     source,
		storage:    storageSink,
		logger:     logger,
		seen:       make(map[string]struct{}),
		watched:    watched,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
		newVaultID: ledger.Events[events.NewVault].ID,
	}, nil
}

// Run executes the indexing loop.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil {
		return fmt.Errorf("log source is nil")
	}
	if r.storage == nil {
		return fmt.Errorf("storage is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if len(r.cfg.Addresses) == 0 {
		return fmt.Errorf("at least one address is required")
	}

	chainID, err := r.source.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}
	chainIDValue := chainID.Uint64()

	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		latest, err := r.source.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	cp, ok, err := r.checkpoint.Load()
	if err != nil {
		return err
	}
	if ok {
		if cp.ChainID != 0 && cp.ChainID != chainIDValue {
			return fmt.Errorf("checkpoint is for chain %d, node is on chain %d", cp.ChainID, chainIDValue)
		}
		if cp.LastProcessedBlock >= from {
			from = cp.LastProcessedBlock + 1
			r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("from", from))
		}
		for _, vault := range cp.Vaults {
			if common.IsHexAddress(vault) {
				r.watch(common.HexToAddress(vault))
			}
		}
	}

	if from > to {
		r.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.logger.Info("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))

		logs, err := r.source.FilterLogs(ctx, blockRange.From, blockRange.To, r.addresses(), r.cfg.Topic0)
		if err != nil {
			return fmt.Errorf("filter logs: %w", err)
		}
		if discovered := r.discoverVaults(logs); len(discovered) > 0 {
			// Vaults created inside this range may already have logs in it.
			extra, err := r.source.FilterLogs(ctx, blockRange.From, blockRange.To, discovered, r.cfg.Topic0)
			if err != nil {
				return fmt.Errorf("filter new vault logs: %w", err)
			}
			logs = append(logs, extra...)
			SortLogs(logs)
		}

		ingestedAt := time.Now().UTC()
		records := make([]model.LogRecord, 0, len(logs))
		for _, log := range logs {
			if log.Removed || r.isDuplicate(log) {
				continue
			}
			ts, err := r.source.BlockTimestamp(ctx, log.BlockNumber)
			if err != nil {
				return fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
			}
			records = append(records, BuildLogRecord(chainIDValue, log, ts, ingestedAt))
		}

		if err := r.storage.PutLogBatch(ctx, records); err != nil {
			return fmt.Errorf("store logs: %w", err)
		}
		if err := r.checkpoint.Save(chainIDValue, blockRange.To, r.followedVaults()); err != nil {
			return err
		}

		r.logger.Info("batch complete", zap.Int("logs", len(records)), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	}

	return nil
}

func (r *Runner) discoverVaults(logs []types.Log) []common.Address {
	if !r.cfg.FollowFactories {
		return nil
	}
	var out []common.Address
	for _, log := range logs {
		if len(log.Topics) < 2 || log.Topics[0] != r.newVaultID {
			continue
		}
		if _, ok := r.watched[log.Address]; !ok {
			continue
		}
		vault := common.BytesToAddress(log.Topics[1].Bytes())
		if r.watch(vault) {
			r.logger.Info("following vault", zap.String("vault", vault.Hex()), zap.String("factory", log.Address.Hex()))
			out = append(out, vault)
		}
	}
	return out
}

func (r *Runner) watch(addr common.Address) bool {
	if _, ok := r.watched[addr]; ok {
		return false
	}
	r.watched[addr] = struct{}{}
	return true
}

func (r *Runner) addresses() []common.Address {
	out := append([]common.Address(nil), r.cfg.Addresses...)
	for _, vault := range r.followedVaults() {
		out = append(out, common.HexToAddress(vault))
	}
	return out
}

func (r *Runner) followedVaults() []string {
	configured := make(map[common.Address]struct{}, len(r.cfg.Addresses))
	for _, addr := range r.cfg.Addresses {
		configured[addr] = struct{}{}
	}
	out := make([]string, 0, len(r.watched))
	for addr := range r.watched {
		if _, ok := configured[addr]; !ok {
			out = append(out, addr.Hex())
		}
	}
	sort.Strings(out)
	return out
}

func (r *Runner) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}
