package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/evoucher/internal/apperrors"
	"github.com/garyjia/evoucher/internal/application/port"
	"github.com/garyjia/evoucher/internal/domain/entity"
	"github.com/garyjia/evoucher/internal/observability/metrics"
)

// ledgerNamespace scopes deterministic ledger record IDs
var ledgerNamespace = uuid.MustParse("6f1d3c2a-8b4e-4f5a-9c7d-2e8b1a0f4d63")

// LedgerRecordID is the ID the poster assigns to the record of documentID.
// Every retry computes the same ID, so a record written before a crash is
// found instead of duplicated.
func LedgerRecordID(kind entity.LedgerKind, documentID string) string {
	return uuid.NewSHA1(ledgerNamespace, []byte(string(kind)+":"+documentID)).String()
}

// ledgerPoster turns an approved document into exactly one ledger record.
// Only the engine holds one.
type ledgerPoster struct {
	ledger  port.LedgerRepository
	clock   func() time.Time
	logger  *zap.Logger
	metrics *metrics.WorkflowMetrics
}

// post returns the document's ledger record, creating it on first call.
// replayed is true when the record already existed.
func (p *ledgerPoster) post(ctx context.Context, doc *entity.FinancialDocument, actor entity.Actor) (rec *entity.LedgerRecord, replayed bool, err error) {
	kind, ok := entity.LedgerKindFor(doc.DocumentKind)
	if !ok {
		return nil, false, fmt.Errorf("%w: document %s has unknown kind %q", apperrors.ErrIntegrity, doc.ID, doc.DocumentKind)
	}

	defer func() {
		switch {
		case err != nil:
			p.metrics.IncPosting(string(kind), metrics.PostingFailed)
		case replayed:
			p.metrics.IncPosting(string(kind), metrics.PostingReplayed)
		default:
			p.metrics.IncPosting(string(kind), metrics.PostingCreated)
		}
	}()

	if doc.PostedLedgerRef != "" {
		rec, err := p.ledger.GetByID(ctx, kind, doc.PostedLedgerRef)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load posted ledger record %s: %w", doc.PostedLedgerRef, err)
		}
		return rec, true, nil
	}

	if err := checkTotals(doc); err != nil {
		return nil, false, err
	}

	id := LedgerRecordID(kind, doc.ID)
	existing, err := p.ledger.GetByID(ctx, kind, id)
	switch {
	case err == nil:
		return p.adopt(existing, doc)
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, false, fmt.Errorf("failed to check ledger record %s: %w", id, err)
	}

	rec = &entity.LedgerRecord{
		ID:               id,
		Kind:             kind,
		SourceDocumentID: doc.ID,
		Amount:           doc.Amount,
		Currency:         doc.Currency,
		Description:      doc.Purpose,
		CreatedBy:        actor,
		CreatedAt:        p.clock(),
	}
	if err := p.ledger.Create(ctx, rec); err != nil {
		if errors.Is(err, port.ErrLedgerRecordExists) {
			existing, getErr := p.ledger.GetByID(ctx, kind, id)
			if getErr != nil {
				return nil, false, fmt.Errorf("failed to reload ledger record %s: %w", id, getErr)
			}
			return p.adopt(existing, doc)
		}
		return nil, false, fmt.Errorf("failed to create ledger record: %w", err)
	}

	p.logger.Info("Ledger record created",
		zap.String("document_id", doc.ID),
		zap.String("ledger_kind", string(kind)),
		zap.String("ledger_ref", rec.ID),
		zap.String("amount", rec.Amount.StringFixed(2)),
		zap.String("currency", rec.Currency))
	return rec, false, nil
}

// adopt returns a record left by an earlier interrupted post
func (p *ledgerPoster) adopt(existing *entity.LedgerRecord, doc *entity.FinancialDocument) (*entity.LedgerRecord, bool, error) {
	if existing.SourceDocumentID != doc.ID {
		return nil, false, fmt.Errorf("%w: ledger record %s belongs to %s, not %s",
			apperrors.ErrIntegrity, existing.ID, existing.SourceDocumentID, doc.ID)
	}
	if !existing.Amount.Equal(doc.Amount) || existing.Currency != doc.Currency {
		return nil, false, fmt.Errorf("%w: ledger record %s is %s %s, document %s is %s %s",
			apperrors.ErrIntegrity, existing.ID, existing.Amount.StringFixed(2), existing.Currency,
			doc.ID, doc.Amount.StringFixed(2), doc.Currency)
	}
	p.logger.Info("Reusing ledger record from earlier attempt",
		zap.String("document_id", doc.ID),
		zap.String("ledger_ref", existing.ID))
	return existing, true, nil
}

// checkTotals validates, without recomputing, that line items agree with
// the document total and with their own frozen snapshots
func checkTotals(doc *entity.FinancialDocument) error {
	if len(doc.LineItems) == 0 {
		return nil
	}
	for _, item := range doc.LineItems {
		if err := item.CheckSnapshot(doc.Currency); err != nil {
			return fmt.Errorf("%w: document %s: %v", apperrors.ErrIntegrity, doc.ID, err)
		}
	}
	if total := doc.LineTotal(); !total.Equal(doc.Amount) {
		return fmt.Errorf("%w: document %s amount %s does not equal line total %s",
			apperrors.ErrIntegrity, doc.ID, doc.Amount.StringFixed(2), total.StringFixed(2))
	}
	return nil
}
