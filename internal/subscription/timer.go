package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultBillingInterval is how often the billing driver ticks. Dunning
// retries are scheduled in multiples of 6h, so a finer default buys
// nothing.
const DefaultBillingInterval = 6 * time.Hour

// Timer is the billing driver: each tick converts lapsed trials, renews
// due subscriptions, fires scheduled dunning retries, and suspends
// subscriptions whose grace window has closed.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates the billing driver.
func NewTimer(service *Service, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		interval: DefaultBillingInterval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// WithInterval overrides the tick cadence.
func (t *Timer) WithInterval(d time.Duration) *Timer {
	if d > 0 {
		t.interval = d
	}
	return t
}

// Running reports whether the driver loop is active.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the billing loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeTick(ctx)
		}
	}
}

// Stop signals the driver to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in billing driver", "panic", fmt.Sprint(r))
		}
	}()
	t.tick(ctx)
}

// tick runs the four billing phases in order of consequence: suspension
// first so a subscription past grace never receives another charge
// attempt in the same tick.
func (t *Timer) tick(ctx context.Context) {
	const batchSize = 100
	started := time.Now()
	defer func() { billingTickDuration.Observe(time.Since(started).Seconds()) }()

	suspended := t.service.SuspendGraceExpired(ctx, batchSize)
	converted := t.service.ConvertDueTrials(ctx, batchSize)
	renewed := t.service.RenewDue(ctx, batchSize)
	retried := t.service.RetryDue(ctx, batchSize)

	if suspended+converted+renewed+retried > 0 {
		t.logger.Info("billing tick",
			"suspended", suspended,
			"trialsConverted", converted,
			"renewals", renewed,
			"retries", retried,
			"took", time.Since(started),
		)
	}
}
