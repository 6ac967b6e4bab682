package payments

import (
	"context"
	"log/slog"
	"sync"
)

// PaymentEvent is published once per persisted PaymentRecord.
type PaymentEvent struct {
	Record   *PaymentRecord
	Approved bool
}

// EventHandler consumes payment events. Errors are logged, never
// propagated: by the time an event publishes, the record is durable and
// the webhook must ack.
type EventHandler func(ctx context.Context, ev *PaymentEvent) error

// Dispatcher is a synchronous in-process pub/sub for payment outcomes.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []EventHandler
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// Subscribe registers a handler. Not safe to call concurrently with
// Publish during startup wiring only by convention; it takes the lock
// regardless.
func (d *Dispatcher) Subscribe(fn EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, fn)
}

// Publish delivers the event to every handler in subscription order.
func (d *Dispatcher) Publish(ctx context.Context, ev *PaymentEvent) {
	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()

	for _, fn := range handlers {
		if err := fn(ctx, ev); err != nil {
			d.logger.Error("payment event handler failed",
				"paymentId", ev.Record.ProviderPaymentID,
				"target", ev.Record.TargetID,
				"error", err,
			)
		}
	}
}
