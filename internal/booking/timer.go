package booking

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultSweepInterval is how often the expiry sweeper runs.
const DefaultSweepInterval = 5 * time.Minute

// Timer periodically expires pending reservations whose payment window
// has lapsed, returning their units to the free pool.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates the expiry sweeper.
func NewTimer(service *Service, store Store, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		store:    store,
		interval: DefaultSweepInterval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// WithInterval overrides the sweep cadence.
func (t *Timer) WithInterval(d time.Duration) *Timer {
	if d > 0 {
		t.interval = d
	}
	return t
}

// Running reports whether the sweeper loop is active.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
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
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in expiry sweeper", "panic", fmt.Sprint(r))
		}
	}()
	t.sweep(ctx)
}

// sweep drains expired pending reservations in batches until a pass
// returns fewer than a full batch.
func (t *Timer) sweep(ctx context.Context) {
	const batchSize = 100
	started := time.Now()
	defer func() { sweepDuration.Observe(time.Since(started).Seconds()) }()

	for {
		expired, err := t.store.ListExpired(ctx, time.Now(), batchSize)
		if err != nil {
			t.logger.Warn("failed to list expired reservations", "error", err)
			return
		}

		progressed := 0
		for _, r := range expired {
			if err := t.service.Expire(ctx, r); err != nil {
				t.logger.Warn("failed to expire reservation",
					"reservationId", r.ID, "error", err)
				continue
			}
			progressed++
			t.logger.Info("reservation expired",
				"reservationId", r.ID,
				"siteId", r.SiteID,
				"range", r.Range.String(),
			)
		}

		// A full batch with no progress would repeat forever; let the
		// next tick retry instead.
		if len(expired) < batchSize || progressed == 0 {
			return
		}
	}
}
