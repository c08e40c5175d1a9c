package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/evoucher/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, _ ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, _ ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) hasError(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.errors {
		if e == msg {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func postedEvent(docID string) *event.Event {
	return event.NewEvent(event.TypeVoucherPosted, docID, map[string]interface{}{"ledger_ref": "led-" + docID})
}

func TestSubscribe_ReplacesSameName(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	var first, second atomic.Int32
	d.Subscribe(event.TypeVoucherPosted, "notifier", func(context.Context, *event.Event) error {
		first.Add(1)
		return nil
	})
	d.Subscribe(event.TypeVoucherPosted, "notifier", func(context.Context, *event.Event) error {
		second.Add(1)
		return nil
	})

	if got := len(d.ListHandlers(event.TypeVoucherPosted)); got != 1 {
		t.Fatalf("expected 1 handler, got %d", got)
	}
	if err := d.Dispatch(context.Background(), postedEvent("ev-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Load() != 0 || second.Load() != 1 {
		t.Errorf("expected only the replacement to run, got first=%d second=%d", first.Load(), second.Load())
	}
}

func TestDispatch_RunsAllAndJoinsErrors(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	errA := errors.New("mail down")
	var order []string
	d.Subscribe(event.TypeVoucherPosted, "a", func(context.Context, *event.Event) error {
		order = append(order, "a")
		return errA
	})
	d.Subscribe(event.TypeVoucherPosted, "b", func(context.Context, *event.Event) error {
		order = append(order, "b")
		return nil
	})
	d.Subscribe(event.TypeVoucherPosted, "c", func(context.Context, *event.Event) error {
		order = append(order, "c")
		panic("boom")
	})

	err := d.Dispatch(context.Background(), postedEvent("ev-1"))
	if !errors.Is(err, errA) {
		t.Fatalf("expected joined error to wrap errA, got %v", err)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("expected handlers in registration order, got %v", order)
	}
}

func TestDispatch_NoHandlers(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	if err := d.Dispatch(context.Background(), postedEvent("ev-1")); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestDispatchAsync_Delivers(t *testing.T) {
	d := NewDispatcher(WithQueue(8, 2))

	var mu sync.Mutex
	seen := map[string]bool{}
	d.Subscribe(event.TypeVoucherPosted, "record", func(_ context.Context, evt *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen[evt.DocumentID] = true
		return nil
	})

	for _, id := range []string{"ev-1", "ev-2", "ev-3"} {
		d.DispatchAsync(context.Background(), postedEvent(id))
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Errorf("expected 3 deliveries, got %v", seen)
	}
	if s := d.Stats(); s.Delivered != 3 || s.Failed != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestDispatchAsync_DetachesCancellation(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan error, 1)
	d.Subscribe(event.TypeVoucherPosted, "ctx", func(hctx context.Context, _ *event.Event) error {
		got <- hctx.Err()
		return nil
	})

	cancel()
	d.DispatchAsync(ctx, postedEvent("ev-1"))

	select {
	case err := <-got:
		if err != nil {
			t.Errorf("expected detached context, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestDispatchAsync_Retries(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger), WithRetry(3, time.Millisecond))
	defer d.Close()

	var calls atomic.Int32
	d.Subscribe(event.TypeVoucherPosted, "flaky", func(context.Context, *event.Event) error {
		if calls.Add(1) < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	d.Subscribe(event.TypeVoucherPosted, "broken", func(context.Context, *event.Event) error {
		return errors.New("permanent")
	})

	d.DispatchAsync(context.Background(), postedEvent("ev-1"))
	waitFor(t, func() bool {
		s := d.Stats()
		return s.Delivered == 1 && s.Failed == 1
	})

	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	if !logger.hasError("Async handler error") {
		t.Error("expected permanent failure to be logged")
	}
}

func TestDispatchAsync_DropsWhenQueueFull(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger), WithQueue(1, 1))

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	d.Subscribe(event.TypeVoucherPosted, "slow", func(context.Context, *event.Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	d.DispatchAsync(context.Background(), postedEvent("ev-1"))
	<-started
	d.DispatchAsync(context.Background(), postedEvent("ev-2")) // fills the queue
	d.DispatchAsync(context.Background(), postedEvent("ev-3")) // dropped

	if s := d.Stats(); s.Dropped != 1 || s.Queued != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
	if !logger.hasError("Event queue full, event dropped") {
		t.Error("expected drop to be logged")
	}

	close(release)
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s := d.Stats(); s.Delivered != 2 {
		t.Errorf("expected queued events to drain on close, got %+v", s)
	}
}

func TestClose(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))

	var calls atomic.Int32
	d.Subscribe(event.TypeVoucherPosted, "count", func(context.Context, *event.Event) error {
		calls.Add(1)
		return nil
	})

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.Close(); err == nil {
		t.Error("expected error on second close")
	}
	if err := d.Dispatch(context.Background(), postedEvent("ev-1")); err == nil {
		t.Error("expected dispatch after close to fail")
	}

	d.DispatchAsync(context.Background(), postedEvent("ev-1"))
	if !logger.hasError("Cannot dispatch async event, dispatcher is closed") {
		t.Error("expected async dispatch after close to be logged")
	}
	if calls.Load() != 0 {
		t.Errorf("expected no deliveries after close, got %d", calls.Load())
	}
}

func TestConcurrentDispatchAndClose(t *testing.T) {
	d := NewDispatcher(WithQueue(1024, 4))
	var calls atomic.Int32
	d.Subscribe(event.TypeStatusChanged, "count", func(context.Context, *event.Event) error {
		calls.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.DispatchAsync(context.Background(), event.NewEvent(event.TypeStatusChanged, "ev-1", nil))
			}
		}()
	}
	wg.Wait()

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	s := d.Stats()
	if int(s.Delivered)+int(s.Dropped) != 400 || int(calls.Load()) != int(s.Delivered) {
		t.Errorf("lost events: calls=%d stats=%+v", calls.Load(), s)
	}
}
