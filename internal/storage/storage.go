package storage

import (
	"context"

	"vaultledger/internal/model"
)

// Storage defines a sink for log records.
type Storage interface {
	PutLogBatch(ctx context.Context, logs []model.LogRecord) error
}

// SummarySink receives per-strategy window summaries.
type SummarySink interface {
	UpsertStrategySummaries(ctx context.Context, summaries []model.StrategySummary) error
}
