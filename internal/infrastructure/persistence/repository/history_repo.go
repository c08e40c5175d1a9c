package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/evoucher/internal/application/port"
	"github.com/garyjia/evoucher/internal/domain/entity"
)

// HistoryRepository implements port.HistoryRepository. Append is not safe
// for concurrent calls on the same document; callers hold the document lock.
type HistoryRepository struct {
	store  port.DocumentStore
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(store port.DocumentStore, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		store:  store,
		logger: logger,
	}
}

// Append assigns record.Sequence as one past the last stored sequence
func (r *HistoryRepository) Append(ctx context.Context, record *entity.TransitionRecord) error {
	entries, err := r.store.ScanPrefix(ctx, HistoryPrefix(record.DocumentID))
	if err != nil {
		return fmt.Errorf("failed to read history for %s: %w", record.DocumentID, err)
	}

	var next int64 = 1
	if n := len(entries); n > 0 {
		last, err := parseHistorySeq(entries[n-1].Key)
		if err != nil {
			return err
		}
		next = last + 1
	}
	record.Sequence = next

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode history record: %w", err)
	}
	if err := r.store.Set(ctx, HistoryKey(record.DocumentID, next), raw); err != nil {
		return fmt.Errorf("failed to append history for %s: %w", record.DocumentID, err)
	}
	return nil
}

// ListByDocument returns the log in append order, never nil
func (r *HistoryRepository) ListByDocument(ctx context.Context, documentID string) ([]*entity.TransitionRecord, error) {
	entries, err := r.store.ScanPrefix(ctx, HistoryPrefix(documentID))
	if err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", documentID, err)
	}

	records := make([]*entity.TransitionRecord, 0, len(entries))
	for _, e := range entries {
		var rec entity.TransitionRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			r.logger.Warn("Skipping undecodable history record", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}
