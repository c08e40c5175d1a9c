package dispatcher

import (
	"context"

	"github.com/garyjia/evoucher/internal/domain/event"
)

// Handler reacts to a voucher or ledger event. A handler reached through
// DispatchAsync may be retried, so it must tolerate redelivery.
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo describes a subscription
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}

// Stats counts asynchronous deliveries since the dispatcher was created
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
}
