package workflow

import (
	"context"

	"github.com/garyjia/evoucher/internal/domain/entity"
	domainwf "github.com/garyjia/evoucher/internal/domain/workflow"
)

// Engine owns the E-Voucher lifecycle. Every transition takes an explicit
// actor and returns the updated document or a typed error from apperrors.
type Engine interface {
	// Create stores a new DRAFT document requested by actor
	Create(ctx context.Context, draft *entity.FinancialDocument, actor entity.Actor) (*entity.FinancialDocument, error)

	// Get reads the document record, the single source of truth for status
	Get(ctx context.Context, documentID string) (*entity.FinancialDocument, error)

	Submit(ctx context.Context, documentID string, actor entity.Actor) (*entity.FinancialDocument, error)
	Approve(ctx context.Context, documentID string, actor entity.Actor) (*entity.FinancialDocument, error)
	// Reject requires a non-empty reason
	Reject(ctx context.Context, documentID string, actor entity.Actor, reason string) (*entity.FinancialDocument, error)
	Cancel(ctx context.Context, documentID string, actor entity.Actor) (*entity.FinancialDocument, error)

	// PostToLedger creates the ledger record and marks the document POSTED.
	// Calling it again on a POSTED document returns the document unchanged.
	PostToLedger(ctx context.Context, documentID string, actor entity.Actor) (*entity.FinancialDocument, error)

	// PermittedActions lists triggers the actor may fire on the document now
	PermittedActions(ctx context.Context, documentID string, actor entity.Actor) ([]domainwf.Trigger, error)
}
