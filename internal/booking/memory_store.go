package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/innkeep/innkeep/internal/pagination"
)

// MemoryStore is an in-memory reservation store for demo/development mode.
// CreateIfAvailable recounts under the store mutex, so the capacity
// invariant holds even if a caller skips the service-level type lock.
type MemoryStore struct {
	mu           sync.RWMutex
	reservations map[string]*Reservation
}

// NewMemoryStore creates a new in-memory reservation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reservations: make(map[string]*Reservation),
	}
}

func (m *MemoryStore) CreateIfAvailable(_ context.Context, r *Reservation, capacityUnits int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, existing := range m.reservations {
		if existing.AccommodationTypeID == r.AccommodationTypeID &&
			existing.Status.IsActive() &&
			existing.Range.Overlaps(r.Range) {
			active++
		}
	}
	if active >= capacityUnits {
		return ErrNoUnits
	}

	cp := *r
	m.reservations[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, r *Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reservations[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.reservations[r.ID] = &cp
	return nil
}

func (m *MemoryStore) ListBySite(_ context.Context, siteID string, limit int) ([]*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Reservation
	for _, r := range m.reservations {
		if r.SiteID == siteID {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListBySitePage(_ context.Context, siteID string, before *pagination.Cursor, limit int) ([]*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Reservation
	for _, r := range m.reservations {
		if r.SiteID != siteID {
			continue
		}
		if before != nil {
			older := r.CreatedAt.Before(before.CreatedAt) ||
				(r.CreatedAt.Equal(before.CreatedAt) && r.ID < before.ID)
			if !older {
				continue
			}
		}
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) CountActiveOverlapping(_ context.Context, typeID string, dr DateRange, excludeID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.reservations {
		if r.ID == excludeID {
			continue
		}
		if r.AccommodationTypeID == typeID && r.Status.IsActive() && r.Range.Overlaps(dr) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListExpired(_ context.Context, before time.Time, limit int) ([]*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Reservation
	for _, r := range m.reservations {
		if r.Status == StatusPending && r.ExpiresAt.Before(before) {
			cp := *r
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListConfirmedSince(_ context.Context, since time.Time, limit int) ([]*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Reservation
	for _, r := range m.reservations {
		if r.Status == StatusConfirmed && r.ConfirmedAt != nil && !r.ConfirmedAt.Before(since) {
			cp := *r
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
