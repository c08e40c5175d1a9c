// Package dispatcher delivers workflow events to in-process subscribers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garyjia/evoucher/internal/domain/event"
)

const (
	defaultQueueSize = 256
	defaultWorkers   = 2
)

// Dispatcher routes events to registered handlers
type Dispatcher interface {
	// Subscribe registers a handler under a name unique per event type.
	// Subscribing the same name again replaces the handler.
	Subscribe(eventType event.Type, name string, handler Handler)

	// Dispatch runs every handler in registration order and joins their errors
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync queues the event and returns immediately. Handlers run
	// with a context that keeps ctx values but is never cancelled with it.
	// The event is dropped when the queue is full.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// ListHandlers returns registered handlers for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	Stats() Stats

	// Close stops accepting events and waits for queued ones to be handled
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type job struct {
	ctx      context.Context
	evt      *event.Event
	handlers []HandlerInfo
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	closed   bool

	logger    Logger
	queueSize int
	workers   int
	attempts  int
	backoff   time.Duration

	queue chan job
	wg    sync.WaitGroup

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) { d.logger = logger }
}

// WithQueue sets the async queue capacity and the number of delivery workers
func WithQueue(size, workers int) Option {
	return func(d *eventDispatcher) {
		if size > 0 {
			d.queueSize = size
		}
		if workers > 0 {
			d.workers = workers
		}
	}
}

// WithRetry retries a failing async handler up to attempts times in total,
// sleeping backoff*n before attempt n+1
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(d *eventDispatcher) {
		if attempts > 0 {
			d.attempts = attempts
		}
		d.backoff = backoff
	}
}

// NewDispatcher creates a dispatcher and starts its delivery workers
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers:  make(map[event.Type][]HandlerInfo),
		logger:    nopLogger{},
		queueSize: defaultQueueSize,
		workers:   defaultWorkers,
		attempts:  1,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.queue = make(chan job, d.queueSize)
	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go d.run()
	}
	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := HandlerInfo{Name: name, EventType: eventType, Handler: handler}
	list := d.handlers[eventType]
	for i, h := range list {
		if h.Name == name {
			list[i] = info
			d.logger.Info("Handler replaced", "event_type", eventType, "handler_name", name)
			return
		}
	}
	d.handlers[eventType] = append(list, info)
	d.logger.Info("Handler registered", "event_type", eventType, "handler_name", name)
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return fmt.Errorf("dispatcher is closed")
	}
	handlers := append([]HandlerInfo(nil), d.handlers[evt.Type]...)
	d.mu.RUnlock()

	var errs []error
	for _, info := range handlers {
		if err := d.safeExecute(ctx, evt, info); err != nil {
			d.logger.Error("Handler error",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"handler_name", info.Name,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("handler %s: %w", info.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	// the read lock keeps Close from closing the queue mid-send
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Error("Cannot dispatch async event, dispatcher is closed",
			"event_type", evt.Type,
			"event_id", evt.ID,
		)
		return
	}

	handlers := append([]HandlerInfo(nil), d.handlers[evt.Type]...)
	if len(handlers) == 0 {
		return
	}

	select {
	case d.queue <- job{ctx: context.WithoutCancel(ctx), evt: evt, handlers: handlers}:
	default:
		d.dropped.Add(1)
		d.logger.Error("Event queue full, event dropped",
			"event_type", evt.Type,
			"event_id", evt.ID,
			"document_id", evt.DocumentID,
		)
	}
}

func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]HandlerInfo, len(d.handlers[eventType]))
	for i, h := range d.handlers[eventType] {
		out[i] = HandlerInfo{Name: h.Name, EventType: h.EventType}
	}
	return out
}

func (d *eventDispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Queued:    len(d.queue),
	}
}

func (d *eventDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already closed")
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.logger.Info("Closing dispatcher, draining queue", "queued", len(d.queue))
	d.wg.Wait()
	d.logger.Info("Dispatcher closed")
	return nil
}

func (d *eventDispatcher) run() {
	defer d.wg.Done()
	for j := range d.queue {
		for _, h := range j.handlers {
			d.deliver(j.ctx, j.evt, h)
		}
	}
}

func (d *eventDispatcher) deliver(ctx context.Context, evt *event.Event, h HandlerInfo) {
	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if err = d.safeExecute(ctx, evt, h); err == nil {
			d.delivered.Add(1)
			return
		}
		if attempt < d.attempts && d.backoff > 0 {
			time.Sleep(d.backoff * time.Duration(attempt))
		}
	}

	d.failed.Add(1)
	d.logger.Error("Async handler error",
		"event_type", evt.Type,
		"event_id", evt.ID,
		"document_id", evt.DocumentID,
		"handler_name", h.Name,
		"attempts", d.attempts,
		"error", err,
	)
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			d.logger.Error("Handler panic recovered",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"handler_name", info.Name,
				"panic", r,
			)
		}
	}()
	return info.Handler(ctx, evt)
}
