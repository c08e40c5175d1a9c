package service

import (
	"context"

	"github.com/garyjia/evoucher/internal/application/port"
	"github.com/garyjia/evoucher/internal/domain/entity"
)

// HistoryReader returns a document's transition timeline
type HistoryReader interface {
	// GetHistory returns records in append order. A known document with no
	// transitions yields an empty, non-nil slice.
	GetHistory(ctx context.Context, documentID string) ([]entity.TransitionRecord, error)
}

type historyReaderImpl struct {
	docs    port.VoucherRepository
	history port.HistoryRepository
}

// NewHistoryReader creates a new HistoryReader
func NewHistoryReader(docs port.VoucherRepository, history port.HistoryRepository) HistoryReader {
	return &historyReaderImpl{docs: docs, history: history}
}

func (r *historyReaderImpl) GetHistory(ctx context.Context, documentID string) ([]entity.TransitionRecord, error) {
	if _, err := r.docs.GetByID(ctx, documentID); err != nil {
		return nil, err
	}

	records, err := r.history.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	out := make([]entity.TransitionRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, *rec)
	}
	return out, nil
}
