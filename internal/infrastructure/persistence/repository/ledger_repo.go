package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/evoucher/internal/apperrors"
	"github.com/garyjia/evoucher/internal/application/port"
	"github.com/garyjia/evoucher/internal/domain/entity"
)

// LedgerRepository implements port.LedgerRepository. Records are write-once.
type LedgerRepository struct {
	store  port.DocumentStore
	logger *zap.Logger
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(store port.DocumentStore, logger *zap.Logger) *LedgerRepository {
	return &LedgerRepository{
		store:  store,
		logger: logger,
	}
}

// Create writes record unless its key is already taken
func (r *LedgerRepository) Create(ctx context.Context, record *entity.LedgerRecord) error {
	key := LedgerKey(record.Kind, record.ID)

	_, err := r.store.Get(ctx, key)
	if err == nil {
		return fmt.Errorf("%w: %s", port.ErrLedgerRecordExists, key)
	}
	if !errors.Is(err, port.ErrKeyNotFound) {
		return fmt.Errorf("failed to check ledger record %s: %w", key, err)
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode ledger record: %w", err)
	}
	if err := r.store.Set(ctx, key, raw); err != nil {
		r.logger.Error("Failed to write ledger record", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to write ledger record %s: %w", key, err)
	}
	return nil
}

// GetByID retrieves a ledger record
func (r *LedgerRepository) GetByID(ctx context.Context, kind entity.LedgerKind, id string) (*entity.LedgerRecord, error) {
	key := LedgerKey(kind, id)
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, port.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: ledger record %s", apperrors.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger record %s: %w", key, err)
	}

	var rec entity.LedgerRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode ledger record %s: %w", key, err)
	}
	return &rec, nil
}

// List returns all records of one kind ordered by ID
func (r *LedgerRepository) List(ctx context.Context, kind entity.LedgerKind) ([]*entity.LedgerRecord, error) {
	entries, err := r.store.ScanPrefix(ctx, LedgerPrefix(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ledger: %w", kind, err)
	}

	records := make([]*entity.LedgerRecord, 0, len(entries))
	for _, e := range entries {
		var rec entity.LedgerRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			r.logger.Warn("Skipping undecodable ledger record", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}
