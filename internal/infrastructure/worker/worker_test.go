package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/evoucher/internal/domain/entity"
	"github.com/garyjia/evoucher/internal/domain/event"
	"github.com/garyjia/evoucher/internal/infrastructure/persistence/kv"
	"github.com/garyjia/evoucher/internal/infrastructure/persistence/repository"
)

var auditNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type capturePublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *capturePublisher) DispatchAsync(_ context.Context, evt *event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type countingWorker struct {
	name    string
	started int
	stopped int
	failErr error
}

func (w *countingWorker) Start(ctx context.Context) error {
	if w.failErr != nil {
		return w.failErr
	}
	w.started++
	return nil
}

func (w *countingWorker) Stop() error {
	w.stopped++
	return nil
}

func (w *countingWorker) Name() string { return w.name }

func TestManager_StartStop(t *testing.T) {
	m := NewManager(zap.NewNop())
	a := &countingWorker{name: "a"}
	b := &countingWorker{name: "b", failErr: assert.AnError}
	m.Register(a)
	m.Register(b)
	assert.Equal(t, 2, m.Count())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Equal(t, 1, a.started)
	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.Equal(t, 1, a.stopped)

	// second stop is a no-op
	require.NoError(t, m.StopAll())
	assert.Equal(t, 1, a.stopped)
}

type auditFixture struct {
	audit     *LedgerAudit
	docs      *repository.VoucherRepository
	ledger    *repository.LedgerRepository
	publisher *capturePublisher
}

func newAuditFixture(t *testing.T) *auditFixture {
	t.Helper()
	store := kv.NewMemoryStore()
	f := &auditFixture{
		docs:      repository.NewVoucherRepository(store, zap.NewNop()),
		ledger:    repository.NewLedgerRepository(store, zap.NewNop()),
		publisher: &capturePublisher{},
	}
	f.audit = NewLedgerAudit(DefaultLedgerAuditConfig(), f.ledger, f.docs, f.publisher, zap.NewNop())
	f.audit.now = func() time.Time { return auditNow }
	return f
}

func (f *auditFixture) seedDoc(t *testing.T, id, status, ref, amount string) {
	t.Helper()
	require.NoError(t, f.docs.Create(context.Background(), &entity.FinancialDocument{
		ID:              id,
		DocumentKind:    entity.KindExpense,
		Status:          status,
		Amount:          decimal.RequireFromString(amount),
		Currency:        "PHP",
		PostedLedgerRef: ref,
		Version:         1,
	}))
}

func (f *auditFixture) seedRecord(t *testing.T, id, docID, amount string, age time.Duration) {
	t.Helper()
	require.NoError(t, f.ledger.Create(context.Background(), &entity.LedgerRecord{
		ID:               id,
		Kind:             entity.LedgerExpense,
		SourceDocumentID: docID,
		Amount:           decimal.RequireFromString(amount),
		Currency:         "PHP",
		CreatedAt:        auditNow.Add(-age),
	}))
}

func TestLedgerAudit_CleanLedger(t *testing.T) {
	f := newAuditFixture(t)
	f.seedDoc(t, "ev-1", entity.StatusPosted, "led-1", "1500.00")
	f.seedRecord(t, "led-1", "ev-1", "1500.00", time.Hour)
	f.seedDoc(t, "ev-2", entity.StatusDraft, "", "10.00")

	findings, err := f.audit.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Zero(t, f.publisher.count())
}

func TestLedgerAudit_Findings(t *testing.T) {
	tests := []struct {
		name   string
		seed   func(t *testing.T, f *auditFixture)
		reason string
	}{
		{
			name: "record without voucher",
			seed: func(t *testing.T, f *auditFixture) {
				f.seedRecord(t, "led-1", "ev-missing", "10.00", time.Hour)
			},
			reason: ReasonSourceMissing,
		},
		{
			name: "crash between ledger and voucher write",
			seed: func(t *testing.T, f *auditFixture) {
				f.seedDoc(t, "ev-1", entity.StatusApproved, "", "10.00")
				f.seedRecord(t, "led-1", "ev-1", "10.00", time.Hour)
			},
			reason: ReasonNotPosted,
		},
		{
			name: "amount drift",
			seed: func(t *testing.T, f *auditFixture) {
				f.seedDoc(t, "ev-1", entity.StatusPosted, "led-1", "10.00")
				f.seedRecord(t, "led-1", "ev-1", "11.00", time.Hour)
			},
			reason: ReasonAmountMismatch,
		},
		{
			name: "posted voucher without record",
			seed: func(t *testing.T, f *auditFixture) {
				f.seedDoc(t, "ev-1", entity.StatusPosted, "led-gone", "10.00")
			},
			reason: ReasonRecordMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuditFixture(t)
			tt.seed(t, f)

			findings, err := f.audit.RunOnce(context.Background())
			require.NoError(t, err)
			require.Len(t, findings, 1)
			assert.Equal(t, tt.reason, findings[0].Reason)
			assert.Equal(t, 1, f.publisher.count())
			assert.Equal(t, event.TypeIntegrityViolated, f.publisher.events[0].Type)

			// repeated findings are returned but only published once
			findings, err = f.audit.RunOnce(context.Background())
			require.NoError(t, err)
			assert.Len(t, findings, 1)
			assert.Equal(t, 1, f.publisher.count())
		})
	}
}

func TestLedgerAudit_GraceForInFlightPosting(t *testing.T) {
	f := newAuditFixture(t)
	f.seedDoc(t, "ev-1", entity.StatusApproved, "", "10.00")
	f.seedRecord(t, "led-1", "ev-1", "10.00", 5*time.Second)

	findings, err := f.audit.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestLedgerAudit_Lifecycle(t *testing.T) {
	f := newAuditFixture(t)
	f.audit.config.Interval = 10 * time.Millisecond
	f.seedRecord(t, "led-1", "ev-missing", "10.00", time.Hour)

	require.NoError(t, f.audit.Start(context.Background()))
	assert.Error(t, f.audit.Start(context.Background()))

	assert.Eventually(t, func() bool {
		last, _ := f.audit.LastRun()
		return !last.IsZero()
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, f.audit.Stop())

	last, err := f.audit.LastRun()
	assert.NoError(t, err)
	assert.Equal(t, auditNow, last)
	assert.Equal(t, 1, f.publisher.count())
}

func TestLedgerAudit_RejectsZeroInterval(t *testing.T) {
	f := newAuditFixture(t)
	f.audit.config.Interval = 0
	assert.Error(t, f.audit.Start(context.Background()))
}
