package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vaultledger/internal/model"
)

// Store provides Postgres persistence for ledger events and summaries.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// PutLogBatch inserts raw ledger logs, ignoring ones already stored.
func (s *Store) PutLogBatch(ctx context.Context, logs []model.LogRecord) error {
	if len(logs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, log := range logs {
		topic0 := ""
		if len(log.Topics) > 0 {
			topic0 = log.Topics[0]
		}
		batch.Queue(`
			INSERT INTO vault_events (
				chain_id, tx_hash, log_index, run_id, block_number, block_hash,
				address, topic0, topics, data, block_ts, ingested_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
			ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING
		`,
			int64(log.ChainID),
			log.TxHash,
			int64(log.LogIndex),
			log.RunID,
			int64(log.BlockNumber),
			log.BlockHash,
			log.Address,
			topic0,
			log.Topics,
			log.Data,
			int64(log.Timestamp),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range logs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertStrategySummaries inserts or updates strategy window summaries.
func (s *Store) UpsertStrategySummaries(ctx context.Context, summaries []model.StrategySummary) error {
	if len(summaries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range summaries {
		batch.Queue(`
			INSERT INTO strategy_window_metrics (
				chain_id, vault_address, strategy_address, window_size_seconds, window_start_ts, window_end_ts,
				report_count, gain, loss, protocol_fees, end_debt, avg_debt, apr, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())
			ON CONFLICT (chain_id, vault_address, strategy_address, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				report_count = EXCLUDED.report_count,
				gain = EXCLUDED.gain,
				loss = EXCLUDED.loss,
				protocol_fees = EXCLUDED.protocol_fees,
				end_debt = EXCLUDED.end_debt,
				avg_debt = EXCLUDED.avg_debt,
				apr = EXCLUDED.apr,
				updated_at = now()
		`,
			int64(m.ChainID),
			m.Vault,
			m.Strategy,
			m.WindowSizeSecs,
			m.WindowStart,
			m.WindowEnd,
			int64(m.Reports),
			m.Gain,
			m.Loss,
			m.ProtocolFees,
			m.EndDebt,
			m.AvgDebt,
			m.APR,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range summaries {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts uint64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return ts, true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, ts)
	return err
}
