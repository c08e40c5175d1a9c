package port

import (
	"context"
	"errors"

	"github.com/garyjia/evoucher/internal/domain/entity"
)

// VoucherRepository defines persistence operations for FinancialDocument
type VoucherRepository interface {
	Create(ctx context.Context, doc *entity.FinancialDocument) error
	// GetByID returns apperrors.ErrNotFound when the document does not exist
	GetByID(ctx context.Context, id string) (*entity.FinancialDocument, error)
	Save(ctx context.Context, doc *entity.FinancialDocument) error
	List(ctx context.Context) ([]*entity.FinancialDocument, error)
}

// HistoryRepository defines persistence operations for TransitionRecord
type HistoryRepository interface {
	// Append assigns the next sequence number and stores the record
	Append(ctx context.Context, record *entity.TransitionRecord) error
	// ListByDocument returns records in append order
	ListByDocument(ctx context.Context, documentID string) ([]*entity.TransitionRecord, error)
}

// ErrLedgerRecordExists is returned by LedgerRepository.Create for a taken ID
var ErrLedgerRecordExists = errors.New("ledger record already exists")

// LedgerRepository defines persistence operations for LedgerRecord
type LedgerRepository interface {
	// Create fails if a record with the same kind and ID already exists
	Create(ctx context.Context, record *entity.LedgerRecord) error
	GetByID(ctx context.Context, kind entity.LedgerKind, id string) (*entity.LedgerRecord, error)
	List(ctx context.Context, kind entity.LedgerKind) ([]*entity.LedgerRecord, error)
}
