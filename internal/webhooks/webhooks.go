// Package webhooks delivers platform events to endpoints registered by sites.
//
// Site operators register a URL plus an event filter and receive signed
// notifications about:
// - Reservation lifecycle (confirmed, rejected, expired, cancelled)
// - Recorded payments
// - Subscription billing transitions
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/innkeep/innkeep/internal/retry"
	"github.com/innkeep/innkeep/internal/security"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventReservationConfirmed EventType = "reservation.confirmed"
	EventReservationRejected  EventType = "reservation.rejected"
	EventReservationExpired   EventType = "reservation.expired"
	EventReservationCancelled EventType = "reservation.cancelled"

	EventPaymentRecorded EventType = "payment.recorded"

	EventSubscriptionActivated     EventType = "subscription.activated"
	EventSubscriptionPaymentFailed EventType = "subscription.payment_failed"
	EventSubscriptionSuspended     EventType = "subscription.suspended"
	EventSubscriptionCancelled     EventType = "subscription.cancelled"
)

// KnownEvents lists every event type the platform emits.
var KnownEvents = []EventType{
	EventReservationConfirmed,
	EventReservationRejected,
	EventReservationExpired,
	EventReservationCancelled,
	EventPaymentRecorded,
	EventSubscriptionActivated,
	EventSubscriptionPaymentFailed,
	EventSubscriptionSuspended,
	EventSubscriptionCancelled,
}

// IsKnownEvent reports whether t is an event type the platform emits.
func IsKnownEvent(t EventType) bool {
	for _, k := range KnownEvents {
		if k == t {
			return true
		}
	}
	return false
}

// Event represents a webhook event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	SiteID    string                 `json:"siteId"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Endpoint is a site-registered webhook destination.
type Endpoint struct {
	ID                  string      `json:"id"`
	SiteID              string      `json:"siteId"`
	URL                 string      `json:"url"`
	Secret              string      `json:"-"` // Used for HMAC signing
	Events              []EventType `json:"events"`
	Active              bool        `json:"active"`
	CreatedAt           time.Time   `json:"createdAt"`
	LastSuccess         *time.Time  `json:"lastSuccess,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	ConsecutiveFailures int         `json:"consecutiveFailures,omitempty"`
}

// Store persists webhook endpoints
type Store interface {
	Create(ctx context.Context, ep *Endpoint) error
	Get(ctx context.Context, id string) (*Endpoint, error)
	GetBySite(ctx context.Context, siteID string) ([]*Endpoint, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Endpoint, error)
	Update(ctx context.Context, ep *Endpoint) error
	Delete(ctx context.Context, id string) error
}

// Endpoints that keep failing get switched off rather than hammered forever.
const maxConsecutiveFailures = 10

const (
	deliveryAttempts  = 3
	deliveryBaseDelay = 2 * time.Second
)

// Dispatcher sends webhook events
type Dispatcher struct {
	store        Store
	client       *http.Client
	urlValidator func(string) error
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		urlValidator: security.ValidateEndpointURL,
	}
}

// DispatchToSite sends an event to a site's endpoints that subscribe to its type.
func (d *Dispatcher) DispatchToSite(ctx context.Context, siteID string, event *Event) error {
	eps, err := d.store.GetBySite(ctx, siteID)
	if err != nil {
		return fmt.Errorf("failed to get endpoints: %w", err)
	}

	for _, ep := range eps {
		if !ep.Active {
			continue
		}

		for _, et := range ep.Events {
			if et == event.Type {
				// Send async to avoid blocking the caller's request path.
				go d.send(ctx, ep, event)
				break
			}
		}
	}

	return nil
}

func (d *Dispatcher) send(ctx context.Context, ep *Endpoint, event *Event) {
	if err := d.urlValidator(ep.URL); err != nil {
		d.updateError(ctx, ep, "blocked URL: "+err.Error())
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.updateError(ctx, ep, "failed to marshal event")
		return
	}

	ts := strconv.FormatInt(event.Timestamp.Unix(), 10)

	err = retry.Do(ctx, deliveryAttempts, deliveryBaseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", ep.URL, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Innkeep-Event", string(event.Type))
		req.Header.Set("X-Innkeep-Timestamp", ts)
		req.Header.Set("X-Innkeep-Signature", Sign(ep.Secret, ts, payload))

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	})

	if err != nil {
		d.updateError(ctx, ep, err.Error())
		return
	}
	d.updateSuccess(ctx, ep)
}

// Sign computes the delivery signature: HMAC-SHA256 over "<unix-ts>.<body>".
// pkg/webhooksig mirrors this for receivers.
func Sign(secret, timestamp string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, ep *Endpoint) {
	now := time.Now()
	ep.LastSuccess = &now
	ep.LastError = ""
	ep.ConsecutiveFailures = 0
	d.store.Update(ctx, ep)
}

func (d *Dispatcher) updateError(ctx context.Context, ep *Endpoint, errMsg string) {
	ep.LastError = errMsg
	ep.ConsecutiveFailures++
	if ep.ConsecutiveFailures >= maxConsecutiveFailures {
		ep.Active = false
	}
	d.store.Update(ctx, ep)
}

// MemoryStore is an in-memory implementation for demo mode and tests.
type MemoryStore struct {
	eps map[string]*Endpoint
	mu  sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		eps: make(map[string]*Endpoint),
	}
}

func (m *MemoryStore) Create(ctx context.Context, ep *Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eps[ep.ID] = ep
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ep, ok := m.eps[id]; ok {
		return ep, nil
	}
	return nil, fmt.Errorf("endpoint not found")
}

func (m *MemoryStore) GetBySite(ctx context.Context, siteID string) ([]*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Endpoint
	for _, ep := range m.eps {
		if ep.SiteID == siteID {
			result = append(result, ep)
		}
	}
	return result, nil
}

func (m *MemoryStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Endpoint
	for _, ep := range m.eps {
		if !ep.Active {
			continue
		}
		for _, et := range ep.Events {
			if et == eventType {
				result = append(result, ep)
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, ep *Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eps[ep.ID] = ep
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.eps, id)
	return nil
}
