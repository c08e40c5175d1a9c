// Package notification tells people about voucher outcomes they act on.
package notification

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/garyjia/evoucher/internal/application/dispatcher"
	"github.com/garyjia/evoucher/internal/domain/entity"
	"github.com/garyjia/evoucher/internal/domain/event"
)

// Message is one notification to deliver
type Message struct {
	DocumentID string
	Subject    string
	Body       string
	// Severity is "info" or "alert"
	Severity string
}

// Sender delivers messages to a channel (chat, mail, pager)
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log. It is the default sender.
type LogSender struct {
	Logger *zap.Logger
}

// Send implements Sender
func (s LogSender) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := []zap.Field{
		zap.String("document_id", msg.DocumentID),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	}
	if msg.Severity == "alert" {
		logger.Error("Voucher alert", fields...)
		return nil
	}
	logger.Info("Voucher notification", fields...)
	return nil
}

// LedgerNotifier turns workflow events into messages. Each event is
// delivered at most once.
type LedgerNotifier struct {
	sender Sender
	logger *zap.Logger

	mu   sync.Mutex
	sent map[string]bool
}

// NewLedgerNotifier creates a new ledger notifier
func NewLedgerNotifier(sender Sender, logger *zap.Logger) *LedgerNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = LogSender{Logger: logger}
	}
	return &LedgerNotifier{
		sender: sender,
		logger: logger,
		sent:   make(map[string]bool),
	}
}

// Register subscribes the notifier to d
func (n *LedgerNotifier) Register(d dispatcher.Dispatcher) {
	d.Subscribe(event.TypeVoucherPosted, "ledger-notifier.posted", n.Handle)
	d.Subscribe(event.TypeStatusChanged, "ledger-notifier.status", n.Handle)
	d.Subscribe(event.TypeIntegrityViolated, "ledger-notifier.integrity", n.Handle)
}

// Handle is a dispatcher.Handler
func (n *LedgerNotifier) Handle(ctx context.Context, evt *event.Event) error {
	msg, ok := n.compose(evt)
	if !ok {
		return nil
	}

	n.mu.Lock()
	if n.sent[evt.ID] {
		n.mu.Unlock()
		n.logger.Debug("Notification already sent, skipping",
			zap.String("event_id", evt.ID),
			zap.String("document_id", evt.DocumentID))
		return nil
	}
	n.sent[evt.ID] = true
	n.mu.Unlock()

	if err := n.sender.Send(ctx, msg); err != nil {
		// allow a redelivered event to retry
		n.mu.Lock()
		delete(n.sent, evt.ID)
		n.mu.Unlock()
		return fmt.Errorf("failed to send notification for %s: %w", evt.DocumentID, err)
	}
	return nil
}

func (n *LedgerNotifier) compose(evt *event.Event) (Message, bool) {
	switch evt.Type {
	case event.TypeVoucherPosted:
		return Message{
			DocumentID: evt.DocumentID,
			Subject:    fmt.Sprintf("Voucher %s posted", evt.DocumentID),
			Body: fmt.Sprintf("%s ledger record %s for %s %s",
				evt.GetPayloadString("kind"), evt.GetPayloadString("ledger_ref"),
				evt.GetPayloadString("currency"), evt.GetPayloadString("amount")),
			Severity: "info",
		}, true

	case event.TypeStatusChanged:
		if evt.GetPayloadString("new_status") != entity.StatusRejected {
			return Message{}, false
		}
		return Message{
			DocumentID: evt.DocumentID,
			Subject:    fmt.Sprintf("Voucher %s rejected", evt.DocumentID),
			Body:       evt.GetPayloadString("notes"),
			Severity:   "info",
		}, true

	case event.TypeIntegrityViolated:
		return Message{
			DocumentID: evt.DocumentID,
			Subject:    fmt.Sprintf("Voucher %s failed integrity check", evt.DocumentID),
			Body:       evt.GetPayloadString("error"),
			Severity:   "alert",
		}, true
	}
	return Message{}, false
}
