package payments

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/innkeep/innkeep/internal/money"
)

// MemoryStore is an in-memory append-only ledger for tests and local
// development.
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[string]*PaymentRecord
	byProvider map[string]string
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]*PaymentRecord),
		byProvider: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, rec *PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byProvider[rec.ProviderPaymentID]; exists {
		return ErrDuplicateRecord
	}
	cp := *rec
	s.records[rec.ID] = &cp
	s.byProvider[rec.ProviderPaymentID] = rec.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (*PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byProvider[providerPaymentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.records[id]
	return &cp, nil
}

func (s *MemoryStore) ListByTarget(ctx context.Context, kind TargetKind, targetID string) ([]*PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*PaymentRecord
	for _, rec := range s.records {
		if rec.TargetKind == kind && rec.TargetID == targetID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SumApproved(ctx context.Context, targetIDs []string, from, to time.Time) (money.Money, int, error) {
	wanted := make(map[string]bool, len(targetIDs))
	for _, id := range targetIDs {
		wanted[id] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var total money.Money
	count := 0
	for _, rec := range s.records {
		if rec.Status != StatusApproved || rec.TargetKind != TargetReservation || !wanted[rec.TargetID] {
			continue
		}
		if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		if count == 0 {
			total = rec.Amount
		} else {
			sum, err := total.Add(rec.Amount)
			if err != nil {
				return money.Money{}, 0, err
			}
			total = sum
		}
		count++
	}
	return total, count, nil
}
