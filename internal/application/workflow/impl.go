package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/evoucher/internal/application/dispatcher"
	"github.com/garyjia/evoucher/internal/application/port"
	"github.com/garyjia/evoucher/internal/apperrors"
	"github.com/garyjia/evoucher/internal/currency"
	"github.com/garyjia/evoucher/internal/domain/entity"
	"github.com/garyjia/evoucher/internal/domain/event"
	domainwf "github.com/garyjia/evoucher/internal/domain/workflow"
	"github.com/garyjia/evoucher/internal/infrastructure/lock"
	"github.com/garyjia/evoucher/internal/observability/metrics"
	"github.com/garyjia/evoucher/pkg/utils"
)

// actionFor maps a trigger to the history action it records
var actionFor = map[domainwf.Trigger]string{
	domainwf.TriggerSubmit:       entity.ActionSubmitted,
	domainwf.TriggerApprove:      entity.ActionApproved,
	domainwf.TriggerReject:       entity.ActionRejected,
	domainwf.TriggerCancel:       entity.ActionCancelled,
	domainwf.TriggerPostToLedger: entity.ActionPostedToLedger,
}

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	docs    port.VoucherRepository
	history port.HistoryRepository
	poster  *ledgerPoster

	locker     port.Locker
	policy     *Policy
	dispatcher dispatcher.Dispatcher
	metrics    *metrics.WorkflowMetrics
	logger     *zap.Logger
	clock      func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLocker replaces the in-process document lock
func WithLocker(l port.Locker) EngineOption {
	return func(e *engineImpl) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithPolicy sets the authorization policy
func WithPolicy(p *Policy) EngineOption {
	return func(e *engineImpl) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithMetrics records transition and posting metrics
func WithMetrics(m *metrics.WorkflowMetrics) EngineOption {
	return func(e *engineImpl) {
		e.metrics = m
	}
}

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests
func WithClock(clock func() time.Time) EngineOption {
	return func(e *engineImpl) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	docs port.VoucherRepository,
	history port.HistoryRepository,
	ledger port.LedgerRepository,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		docs:    docs,
		history: history,
		locker:  lock.NewKeyedMutex(),
		policy:  NewPolicy(),
		logger:  zap.NewNop(),
		clock:   time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.poster = &ledgerPoster{
		ledger:  ledger,
		clock:   e.clock,
		logger:  e.logger,
		metrics: e.metrics,
	}
	return e
}

// DocumentLockKey is the lock key shared by every writer of a document
func DocumentLockKey(documentID string) string {
	return "voucher:" + documentID
}

// Create stores a new DRAFT document
func (e *engineImpl) Create(ctx context.Context, draft *entity.FinancialDocument, actor entity.Actor) (*entity.FinancialDocument, error) {
	if draft == nil {
		return nil, fmt.Errorf("%w: document is required", apperrors.ErrValidation)
	}
	if !actor.Authenticated() {
		return nil, fmt.Errorf("%w: creating a document requires an authenticated actor", apperrors.ErrForbidden)
	}

	doc, err := e.newDraft(draft, actor)
	if err != nil {
		return nil, err
	}

	unlock, err := e.lock(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := e.docs.Create(ctx, doc); err != nil {
		return nil, err
	}

	e.logger.Info("Voucher created",
		zap.String("document_id", doc.ID),
		zap.String("kind", string(doc.DocumentKind)),
		zap.String("requested_by", actor.ID))

	e.emit(ctx, event.TypeVoucherCreated, doc.ID, map[string]interface{}{
		"kind":         string(doc.DocumentKind),
		"requested_by": actor.ID,
		"amount":       doc.Amount.StringFixed(2),
		"currency":     doc.Currency,
	})
	return doc, nil
}

func (e *engineImpl) newDraft(draft *entity.FinancialDocument, actor entity.Actor) (*entity.FinancialDocument, error) {
	doc := &entity.FinancialDocument{
		ID:           strings.TrimSpace(draft.ID),
		DocumentKind: draft.DocumentKind,
		Status:       entity.StatusDraft,
		RequestedBy:  actor,
		Payee:        utils.SanitizeString(draft.Payee),
		Purpose:      utils.SanitizeString(draft.Purpose),
		BookingRef:   utils.SanitizeString(draft.BookingRef),
		Amount:       draft.Amount,
		Version:      1,
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if err := utils.ValidateDocumentID(doc.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	if !doc.DocumentKind.IsValid() {
		return nil, fmt.Errorf("%w: unknown document kind %q", apperrors.ErrValidation, draft.DocumentKind)
	}
	if err := utils.ValidateAmount(doc.Amount); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	cur, err := currency.Normalize(draft.Currency)
	if err != nil {
		return nil, err
	}
	doc.Currency = cur
	if len(draft.LineItems) > 0 {
		return nil, fmt.Errorf("%w: line items are attached after creation", apperrors.ErrValidation)
	}

	now := e.clock()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return doc, nil
}

// Get reads a document
func (e *engineImpl) Get(ctx context.Context, documentID string) (*entity.FinancialDocument, error) {
	return e.docs.GetByID(ctx, documentID)
}

// Submit moves DRAFT to PENDING
func (e *engineImpl) Submit(ctx context.Context, documentID string, actor entity.Actor) (*entity.FinancialDocument, error) {
	return e.transition(ctx, documentID, actor, domainwf.TriggerSubmit, "")
}

// Approve moves PENDING to APPROVED
func (e *engineImpl) Approve(ctx context.Context, documentID string, actor entity.Actor) (*entity.FinancialDocument, error) {
	return e.transition(ctx, documentID, actor, domainwf.TriggerApprove, "")
}

// Reject moves PENDING to REJECTED
func (e *engineImpl) Reject(ctx context.Context, documentID string, actor entity.Actor, reason string) (*entity.FinancialDocument, error) {
	return e.transition(ctx, documentID, actor, domainwf.TriggerReject, reason)
}

// Cancel moves DRAFT or REJECTED to CANCELLED
func (e *engineImpl) Cancel(ctx context.Context, documentID string, actor entity.Actor) (*entity.FinancialDocument, error) {
	return e.transition(ctx, documentID, actor, domainwf.TriggerCancel, "")
}

// PostToLedger moves APPROVED to POSTED once the ledger record exists
func (e *engineImpl) PostToLedger(ctx context.Context, documentID string, actor entity.Actor) (*entity.FinancialDocument, error) {
	return e.transition(ctx, documentID, actor, domainwf.TriggerPostToLedger, "")
}

// PermittedActions lists the triggers actor may fire on the document now
func (e *engineImpl) PermittedActions(ctx context.Context, documentID string, actor entity.Actor) ([]domainwf.Trigger, error) {
	doc, err := e.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	state := domainwf.State(doc.Status)
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: document %s has unknown status %q", apperrors.ErrIntegrity, doc.ID, doc.Status)
	}

	allowed := make([]domainwf.Trigger, 0)
	for _, trigger := range BuildVoucherStateMachine(state).PermittedTriggers() {
		if e.policy.Authorize(trigger, actor, doc) == nil {
			allowed = append(allowed, trigger)
		}
	}
	return allowed, nil
}

func (e *engineImpl) transition(ctx context.Context, documentID string, actor entity.Actor, trigger domainwf.Trigger, notes string) (*entity.FinancialDocument, error) {
	start := time.Now()
	doc, err := e.doTransition(ctx, documentID, actor, trigger, notes)
	e.metrics.ObserveTransition(trigger.String(), time.Since(start), err)

	if err != nil {
		fields := []zap.Field{
			zap.String("document_id", documentID),
			zap.String("action", trigger.String()),
			zap.String("actor_id", actor.ID),
			zap.Error(err),
		}
		if errors.Is(err, apperrors.ErrIntegrity) {
			e.logger.Error("Voucher integrity check failed", fields...)
			e.emit(ctx, event.TypeIntegrityViolated, documentID, map[string]interface{}{
				"action": trigger.String(),
				"error":  err.Error(),
			})
		} else {
			e.logger.Info("Voucher transition refused", fields...)
		}
	}
	return doc, err
}

func (e *engineImpl) doTransition(ctx context.Context, documentID string, actor entity.Actor, trigger domainwf.Trigger, notes string) (*entity.FinancialDocument, error) {
	unlock, err := e.lock(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, err := e.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	// authorization never depends on status
	if err := e.policy.Authorize(trigger, actor, doc); err != nil {
		return nil, err
	}

	notes = utils.SanitizeString(notes)
	if trigger == domainwf.TriggerReject && notes == "" {
		return nil, fmt.Errorf("%w: a rejection reason is required", apperrors.ErrValidation)
	}

	// retried post on an already posted document
	if trigger == domainwf.TriggerPostToLedger && doc.Status == entity.StatusPosted {
		if _, _, err := e.poster.post(ctx, doc, actor); err != nil {
			return nil, err
		}
		return doc, nil
	}

	previous := domainwf.State(doc.Status)
	if !previous.IsValid() {
		return nil, fmt.Errorf("%w: document %s has unknown status %q", apperrors.ErrIntegrity, doc.ID, doc.Status)
	}
	machine := BuildVoucherStateMachine(previous)
	if err := machine.Fire(trigger); err != nil {
		return nil, apperrors.NewTransitionError(doc.ID, doc.Status, trigger.String())
	}

	now := e.clock()
	updated := doc.Clone()
	updated.Status = machine.State().String()
	updated.UpdatedAt = now
	updated.Version++
	updated.RejectionReason = ""
	if trigger == domainwf.TriggerReject {
		updated.RejectionReason = notes
	}

	var ledgerRef string
	if trigger == domainwf.TriggerPostToLedger {
		// the document is only persisted as POSTED after the record exists
		rec, _, err := e.poster.post(ctx, doc, actor)
		if err != nil {
			return nil, err
		}
		ledgerRef = rec.ID
		updated.PostedLedgerRef = ledgerRef
	}

	if err := updated.CheckPostingInvariant(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrIntegrity, err)
	}

	if err := e.docs.Save(ctx, updated); err != nil {
		return nil, err
	}

	record := &entity.TransitionRecord{
		DocumentID:     updated.ID,
		Action:         actionFor[trigger],
		PreviousStatus: previous.String(),
		NewStatus:      updated.Status,
		PerformedBy:    actor,
		Notes:          notes,
		Timestamp:      now,
	}
	if err := e.history.Append(ctx, record); err != nil {
		// status on the document stays authoritative
		e.logger.Error("Failed to append transition history",
			zap.String("document_id", updated.ID),
			zap.String("action", record.Action),
			zap.Error(err))
	}

	e.logger.Info("Voucher transitioned",
		zap.String("document_id", updated.ID),
		zap.String("action", trigger.String()),
		zap.String("previous_status", previous.String()),
		zap.String("new_status", updated.Status),
		zap.String("actor_id", actor.ID))

	e.emit(ctx, event.TypeStatusChanged, updated.ID, map[string]interface{}{
		"previous_status": previous.String(),
		"new_status":      updated.Status,
		"trigger":         trigger.String(),
		"actor_id":        actor.ID,
		"notes":           notes,
	})
	if ledgerRef != "" {
		e.emit(ctx, event.TypeVoucherPosted, updated.ID, map[string]interface{}{
			"ledger_ref": ledgerRef,
			"kind":       string(updated.DocumentKind),
			"amount":     updated.Amount.StringFixed(2),
			"currency":   updated.Currency,
		})
	}

	return updated, nil
}

func (e *engineImpl) lock(ctx context.Context, documentID string) (func(), error) {
	waitStart := time.Now()
	unlock, err := e.locker.Lock(ctx, DocumentLockKey(documentID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock document %s: %w", documentID, err)
	}
	e.metrics.ObserveLockWait(time.Since(waitStart))
	return unlock, nil
}

func (e *engineImpl) emit(ctx context.Context, t event.Type, documentID string, payload map[string]interface{}) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.DispatchAsync(ctx, event.NewEvent(t, documentID, payload))
}
