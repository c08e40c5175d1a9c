package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/evoucher/internal/apperrors"
	"github.com/garyjia/evoucher/internal/application/port"
	"github.com/garyjia/evoucher/internal/domain/entity"
)

// VoucherRepository implements port.VoucherRepository
type VoucherRepository struct {
	store  port.DocumentStore
	logger *zap.Logger
}

// NewVoucherRepository creates a new voucher repository
func NewVoucherRepository(store port.DocumentStore, logger *zap.Logger) *VoucherRepository {
	return &VoucherRepository{
		store:  store,
		logger: logger,
	}
}

// Create stores a new document, refusing to overwrite an existing one
func (r *VoucherRepository) Create(ctx context.Context, doc *entity.FinancialDocument) error {
	_, err := r.store.Get(ctx, VoucherKey(doc.ID))
	if err == nil {
		return fmt.Errorf("%w: document %s already exists", apperrors.ErrValidation, doc.ID)
	}
	if !errors.Is(err, port.ErrKeyNotFound) {
		return fmt.Errorf("failed to check document %s: %w", doc.ID, err)
	}
	return r.Save(ctx, doc)
}

// GetByID retrieves a document by ID
func (r *VoucherRepository) GetByID(ctx context.Context, id string) (*entity.FinancialDocument, error) {
	raw, err := r.store.Get(ctx, VoucherKey(id))
	if errors.Is(err, port.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: document %s", apperrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}

	var doc entity.FinancialDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		r.logger.Error("Failed to decode document", zap.String("document_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return &doc, nil
}

// Save writes the full document
func (r *VoucherRepository) Save(ctx context.Context, doc *entity.FinancialDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
	}
	if err := r.store.Set(ctx, VoucherKey(doc.ID), raw); err != nil {
		r.logger.Error("Failed to save document", zap.String("document_id", doc.ID), zap.Error(err))
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

// List returns all documents ordered by ID
func (r *VoucherRepository) List(ctx context.Context) ([]*entity.FinancialDocument, error) {
	entries, err := r.store.ScanPrefix(ctx, voucherPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	docs := make([]*entity.FinancialDocument, 0, len(entries))
	for _, e := range entries {
		var doc entity.FinancialDocument
		if err := json.Unmarshal(e.Value, &doc); err != nil {
			r.logger.Warn("Skipping undecodable document", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		if strings.TrimPrefix(e.Key, voucherPrefix) != doc.ID {
			r.logger.Warn("Skipping document stored under foreign key", zap.String("key", e.Key))
			continue
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}
