package site

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory site store for demo/development mode.
type MemoryStore struct {
	mu    sync.RWMutex
	sites map[string]*Site
	slugs map[string]string // slug → site ID
	types map[string]*AccommodationType
}

// NewMemoryStore creates a new in-memory site store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sites: make(map[string]*Site),
		slugs: make(map[string]string),
		types: make(map[string]*AccommodationType),
	}
}

func (m *MemoryStore) Create(_ context.Context, s *Site) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.slugs[s.Slug]; exists {
		return ErrSlugTaken
	}
	cp := *s
	m.sites[s.ID] = &cp
	m.slugs[s.Slug] = s.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sites[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetBySlug(_ context.Context, slug string) (*Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.slugs[slug]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.sites[id]
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, s *Site) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sites[s.ID]; !ok {
		return ErrNotFound
	}
	cp := *s
	m.sites[s.ID] = &cp
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Site
	for _, s := range m.sites {
		cp := *s
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) CreateType(_ context.Context, at *AccommodationType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sites[at.SiteID]; !ok {
		return ErrNotFound
	}
	cp := *at
	m.types[at.ID] = &cp
	return nil
}

func (m *MemoryStore) GetType(_ context.Context, id string) (*AccommodationType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	at, ok := m.types[id]
	if !ok {
		return nil, ErrTypeNotFound
	}
	cp := *at
	return &cp, nil
}

func (m *MemoryStore) UpdateType(_ context.Context, at *AccommodationType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.types[at.ID]; !ok {
		return ErrTypeNotFound
	}
	cp := *at
	m.types[at.ID] = &cp
	return nil
}

func (m *MemoryStore) ListTypes(_ context.Context, siteID string) ([]*AccommodationType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*AccommodationType
	for _, at := range m.types {
		if at.SiteID == siteID {
			cp := *at
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) CountTypes(_ context.Context, siteID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, at := range m.types {
		if at.SiteID == siteID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) SumUnits(_ context.Context, siteID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := 0
	for _, at := range m.types {
		if at.SiteID == siteID {
			sum += at.CapacityUnits
		}
	}
	return sum, nil
}

var _ Store = (*MemoryStore)(nil)
