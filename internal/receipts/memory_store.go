package receipts

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps receipts in process memory. Demo mode only; receipts
// vanish on restart, so signed receipts from a previous run cannot be
// verified against it.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Receipt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Receipt)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(_ context.Context, r *Receipt) error {
	cp := *r
	m.mu.Lock()
	m.byID[r.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListBySite(_ context.Context, siteID string, limit int) ([]*Receipt, error) {
	result := m.collect(func(r *Receipt) bool { return r.SiteID == siteID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListByTarget(_ context.Context, targetID string) ([]*Receipt, error) {
	return m.collect(func(r *Receipt) bool { return r.TargetID == targetID }), nil
}

// collect copies every receipt matching keep, newest first.
func (m *MemoryStore) collect(keep func(*Receipt) bool) []*Receipt {
	m.mu.RLock()
	var result []*Receipt
	for _, r := range m.byID {
		if keep(r) {
			cp := *r
			result = append(result, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}
