package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/innkeep/innkeep/internal/idgen"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "innkeep",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "innkeep",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter wraps a Dispatcher to emit lifecycle events across subsystems.
// All methods are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(siteID string, eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		SiteID:    siteID,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.DispatchToSite(ctx, siteID, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "site", siteID, "error", err)
	}
}

// --- Reservation events ---

// EmitReservationConfirmed emits a reservation.confirmed event.
func (e *Emitter) EmitReservationConfirmed(siteID, reservationID, paymentRef string) {
	e.emit(siteID, EventReservationConfirmed, map[string]interface{}{
		"reservationId": reservationID,
		"paymentRef":    paymentRef,
	})
}

// EmitReservationRejected emits a reservation.rejected event.
func (e *Emitter) EmitReservationRejected(siteID, reservationID, paymentRef string) {
	e.emit(siteID, EventReservationRejected, map[string]interface{}{
		"reservationId": reservationID,
		"paymentRef":    paymentRef,
	})
}

// EmitReservationExpired emits a reservation.expired event.
func (e *Emitter) EmitReservationExpired(siteID, reservationID string) {
	e.emit(siteID, EventReservationExpired, map[string]interface{}{
		"reservationId": reservationID,
	})
}

// EmitReservationCancelled emits a reservation.cancelled event.
func (e *Emitter) EmitReservationCancelled(siteID, reservationID string) {
	e.emit(siteID, EventReservationCancelled, map[string]interface{}{
		"reservationId": reservationID,
	})
}

// --- Payment events ---

// EmitPaymentRecorded emits a payment.recorded event.
func (e *Emitter) EmitPaymentRecorded(siteID, paymentID, targetKind, targetID, status string) {
	e.emit(siteID, EventPaymentRecorded, map[string]interface{}{
		"paymentId":  paymentID,
		"targetKind": targetKind,
		"targetId":   targetID,
		"status":     status,
	})
}

// --- Subscription events ---

// EmitSubscriptionActivated emits a subscription.activated event.
func (e *Emitter) EmitSubscriptionActivated(siteID, subscriptionID, plan string) {
	e.emit(siteID, EventSubscriptionActivated, map[string]interface{}{
		"subscriptionId": subscriptionID,
		"plan":           plan,
	})
}

// EmitSubscriptionPaymentFailed emits a subscription.payment_failed event.
func (e *Emitter) EmitSubscriptionPaymentFailed(siteID, subscriptionID string, graceDeadline time.Time) {
	e.emit(siteID, EventSubscriptionPaymentFailed, map[string]interface{}{
		"subscriptionId": subscriptionID,
		"graceDeadline":  graceDeadline,
	})
}

// EmitSubscriptionSuspended emits a subscription.suspended event.
func (e *Emitter) EmitSubscriptionSuspended(siteID, subscriptionID string) {
	e.emit(siteID, EventSubscriptionSuspended, map[string]interface{}{
		"subscriptionId": subscriptionID,
	})
}

// EmitSubscriptionCancelled emits a subscription.cancelled event.
func (e *Emitter) EmitSubscriptionCancelled(siteID, subscriptionID string) {
	e.emit(siteID, EventSubscriptionCancelled, map[string]interface{}{
		"subscriptionId": subscriptionID,
	})
}
