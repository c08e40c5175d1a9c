package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/evoucher/internal/application/port"
	"github.com/garyjia/evoucher/internal/apperrors"
	"github.com/garyjia/evoucher/internal/domain/entity"
	"github.com/garyjia/evoucher/internal/domain/event"
)

// Audit finding reasons
const (
	ReasonSourceMissing  = "source_missing"
	ReasonNotPosted      = "not_posted"
	ReasonRefMismatch    = "ref_mismatch"
	ReasonAmountMismatch = "amount_mismatch"
	ReasonRecordMissing  = "record_missing"
)

// Finding is one inconsistency between the ledger and the vouchers
type Finding struct {
	Kind       entity.LedgerKind
	LedgerID   string
	DocumentID string
	Reason     string
	Detail     string
}

func (f Finding) key() string {
	return string(f.Kind) + "/" + f.LedgerID + "/" + f.DocumentID + "/" + f.Reason
}

// Publisher is the subset of the dispatcher the audit needs
type Publisher interface {
	DispatchAsync(ctx context.Context, evt *event.Event)
}

// LedgerAuditConfig holds configuration for the ledger audit
type LedgerAuditConfig struct {
	Interval time.Duration
	// Grace is how long a ledger record may exist before its voucher is
	// expected to be POSTED. It covers a posting still in flight.
	Grace time.Duration
}

// DefaultLedgerAuditConfig returns default configuration
func DefaultLedgerAuditConfig() LedgerAuditConfig {
	return LedgerAuditConfig{
		Interval: 10 * time.Minute,
		Grace:    time.Minute,
	}
}

// LedgerAudit periodically cross-checks ledger records against their source
// vouchers. It only reports; an unposted voucher with a ledger record is
// completed by retrying PostToLedger, which reuses the record.
type LedgerAudit struct {
	config    LedgerAuditConfig
	ledger    port.LedgerRepository
	docs      port.VoucherRepository
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	reported  map[string]bool
	lastRun   time.Time
	lastError error
}

// NewLedgerAudit creates the audit worker. publisher may be nil.
func NewLedgerAudit(config LedgerAuditConfig, ledger port.LedgerRepository, docs port.VoucherRepository, publisher Publisher, logger *zap.Logger) *LedgerAudit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerAudit{
		config:    config,
		ledger:    ledger,
		docs:      docs,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		reported:  make(map[string]bool),
	}
}

// Name returns the worker name for identification
func (a *LedgerAudit) Name() string {
	return "LedgerAudit"
}

// Start begins the audit loop
func (a *LedgerAudit) Start(ctx context.Context) error {
	if a.config.Interval <= 0 {
		return fmt.Errorf("ledger audit interval must be positive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.isRunning {
		return fmt.Errorf("ledger audit already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.isRunning = true

	a.logger.Info("LedgerAudit started", zap.Duration("interval", a.config.Interval))
	go a.loop(runCtx, a.done)
	return nil
}

// Stop terminates the loop and waits for an in-progress run to finish
func (a *LedgerAudit) Stop() error {
	a.mu.Lock()
	if !a.isRunning {
		a.mu.Unlock()
		return nil
	}
	a.isRunning = false
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	cancel()
	<-done
	a.logger.Info("LedgerAudit stopped")
	return nil
}

// LastRun returns when the last audit pass finished and its error
func (a *LedgerAudit) LastRun() (time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRun, a.lastError
}

func (a *LedgerAudit) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := a.RunOnce(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				a.logger.Error("Ledger audit failed", zap.Error(err))
			}
			a.mu.Lock()
			a.lastRun = a.now()
			a.lastError = err
			a.mu.Unlock()
		}
	}
}

// RunOnce performs one audit pass and returns every finding. Each distinct
// finding is logged and published only the first time it is seen.
func (a *LedgerAudit) RunOnce(ctx context.Context) ([]Finding, error) {
	var findings []Finding
	referenced := make(map[string]bool)

	for _, kind := range []entity.LedgerKind{entity.LedgerExpense, entity.LedgerCollection, entity.LedgerBilling} {
		records, err := a.ledger.List(ctx, kind)
		if err != nil {
			return findings, fmt.Errorf("failed to list %s ledger: %w", kind, err)
		}
		for _, rec := range records {
			referenced[string(rec.Kind)+"/"+rec.ID] = true
			f, ok, err := a.checkRecord(ctx, rec)
			if err != nil {
				return findings, err
			}
			if ok {
				findings = append(findings, f)
			}
		}
	}

	docs, err := a.docs.List(ctx)
	if err != nil {
		return findings, fmt.Errorf("failed to list vouchers: %w", err)
	}
	for _, doc := range docs {
		if doc.Status != entity.StatusPosted {
			continue
		}
		kind, _ := entity.LedgerKindFor(doc.DocumentKind)
		if referenced[string(kind)+"/"+doc.PostedLedgerRef] {
			continue
		}
		findings = append(findings, Finding{
			Kind:       kind,
			LedgerID:   doc.PostedLedgerRef,
			DocumentID: doc.ID,
			Reason:     ReasonRecordMissing,
			Detail:     fmt.Sprintf("voucher is POSTED but ledger record %q does not exist", doc.PostedLedgerRef),
		})
	}

	for _, f := range findings {
		a.report(ctx, f)
	}
	return findings, nil
}

func (a *LedgerAudit) checkRecord(ctx context.Context, rec *entity.LedgerRecord) (Finding, bool, error) {
	f := Finding{Kind: rec.Kind, LedgerID: rec.ID, DocumentID: rec.SourceDocumentID}

	doc, err := a.docs.GetByID(ctx, rec.SourceDocumentID)
	if errors.Is(err, apperrors.ErrNotFound) {
		f.Reason = ReasonSourceMissing
		f.Detail = "source voucher does not exist"
		return f, true, nil
	}
	if err != nil {
		return f, false, fmt.Errorf("failed to load voucher %s: %w", rec.SourceDocumentID, err)
	}

	switch {
	case doc.Status != entity.StatusPosted:
		if a.now().Sub(rec.CreatedAt) < a.config.Grace {
			return f, false, nil
		}
		f.Reason = ReasonNotPosted
		f.Detail = fmt.Sprintf("ledger record exists but voucher is %s", doc.Status)
	case doc.PostedLedgerRef != rec.ID:
		f.Reason = ReasonRefMismatch
		f.Detail = fmt.Sprintf("voucher references ledger record %q", doc.PostedLedgerRef)
	case !doc.Amount.Equal(rec.Amount) || doc.Currency != rec.Currency:
		f.Reason = ReasonAmountMismatch
		f.Detail = fmt.Sprintf("ledger %s %s, voucher %s %s",
			rec.Currency, rec.Amount.StringFixed(2), doc.Currency, doc.Amount.StringFixed(2))
	default:
		return f, false, nil
	}
	return f, true, nil
}

func (a *LedgerAudit) report(ctx context.Context, f Finding) {
	a.mu.Lock()
	seen := a.reported[f.key()]
	a.reported[f.key()] = true
	a.mu.Unlock()
	if seen {
		return
	}

	a.logger.Error("Ledger audit finding",
		zap.String("document_id", f.DocumentID),
		zap.String("ledger_kind", string(f.Kind)),
		zap.String("ledger_id", f.LedgerID),
		zap.String("reason", f.Reason),
		zap.String("detail", f.Detail))

	if a.publisher != nil {
		a.publisher.DispatchAsync(ctx, event.NewEvent(event.TypeIntegrityViolated, f.DocumentID, map[string]interface{}{
			"action":    "LEDGER_AUDIT",
			"reason":    f.Reason,
			"ledger_id": f.LedgerID,
			"error":     f.Detail,
		}))
	}
}
