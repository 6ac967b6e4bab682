package subscription

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	bySite map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:   make(map[string]*Subscription),
		bySite: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bySite[sub.SiteID]; exists {
		return ErrAlreadyExists
	}
	s.subs[sub.ID] = copySub(sub)
	s.bySite[sub.SiteID] = sub.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySub(sub), nil
}

func (s *MemoryStore) GetBySite(ctx context.Context, siteID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySite[siteID]
	if !ok {
		return nil, ErrNotFound
	}
	return copySub(s.subs[id]), nil
}

func (s *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	s.subs[sub.ID] = copySub(sub)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, copySub(sub))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListDueTrials(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	return s.filter(limit, func(sub *Subscription) bool {
		return sub.Status == StatusTrial && !sub.TrialEnd.After(now)
	})
}

func (s *MemoryStore) ListDueRenewals(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	return s.filter(limit, func(sub *Subscription) bool {
		return sub.Status == StatusActive && !sub.PeriodEnd.After(now)
	})
}

func (s *MemoryStore) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	return s.filter(limit, func(sub *Subscription) bool {
		return sub.Status == StatusPaymentFailed &&
			sub.NextRetryAt != nil && !sub.NextRetryAt.After(now)
	})
}

func (s *MemoryStore) ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	return s.filter(limit, func(sub *Subscription) bool {
		return sub.Status == StatusPaymentFailed &&
			sub.GraceDeadline != nil && now.After(*sub.GraceDeadline)
	})
}

func (s *MemoryStore) filter(limit int, keep func(*Subscription) bool) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if keep(sub) {
			out = append(out, copySub(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copySub(sub *Subscription) *Subscription {
	cp := *sub
	cp.PaymentFailedAt = copyTime(sub.PaymentFailedAt)
	cp.GraceDeadline = copyTime(sub.GraceDeadline)
	cp.NextRetryAt = copyTime(sub.NextRetryAt)
	cp.CancelledAt = copyTime(sub.CancelledAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
