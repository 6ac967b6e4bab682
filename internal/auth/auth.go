// Package auth issues and checks the API keys that identify site
// operators. Guests never authenticate: catalogue reads, availability,
// and booking are public. Everything that mutates a site requires a key
// scoped to that site, minted once at registration.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrNoAPIKey      = errors.New("API key required")
	ErrInvalidAPIKey = errors.New("invalid or expired API key")
	ErrNotOwner      = errors.New("not authorized for this site")
	ErrKeyNotFound   = errors.New("API key not found")
)

// APIKey is the stored form of a key. Only the SHA-256 hash is kept; the
// raw key is shown once at mint time and never again.
type APIKey struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"`
	SiteID    string     `json:"siteId"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Store persists API keys.
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	GetBySite(ctx context.Context, siteID string) ([]*APIKey, error)
	Update(ctx context.Context, key *APIKey) error
	Delete(ctx context.Context, id string) error
}

// Manager mints, validates, and revokes keys.
type Manager struct {
	store Store
}

// NewManager creates an auth manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateKey mints a key for a site. The first return value is the raw
// key; it is the caller's only chance to see it.
func (m *Manager) GenerateKey(ctx context.Context, siteID, name string) (rawKey string, key *APIKey, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	rawKey = "sk_" + hex.EncodeToString(b)

	key = &APIKey{
		ID:        "ak_" + hex.EncodeToString(b[:8]),
		Hash:      hashKey(rawKey),
		SiteID:    siteID,
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return rawKey, key, nil
}

// IssueKey mints a key and returns only its raw form. This is the site
// package's KeyIssuer, used during registration.
func (m *Manager) IssueKey(ctx context.Context, siteID, name string) (string, error) {
	raw, _, err := m.GenerateKey(ctx, siteID, name)
	return raw, err
}

// ValidateKey resolves a presented key to its metadata. Accepts the raw
// key with or without a "Bearer " prefix. Revoked and expired keys fail
// the same way as unknown ones.
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}
	rawKey = strings.TrimSpace(strings.TrimPrefix(rawKey, "Bearer "))
	if !strings.HasPrefix(rawKey, "sk_") {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if key.Revoked {
		return nil, ErrInvalidAPIKey
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, ErrInvalidAPIKey
	}

	// Last-used is advisory; don't hold the request for it.
	go func() {
		key.LastUsed = time.Now()
		m.store.Update(context.Background(), key)
	}()

	return key, nil
}

// ListKeys returns a site's keys, hashes omitted by the JSON encoding.
func (m *Manager) ListKeys(ctx context.Context, siteID string) ([]*APIKey, error) {
	return m.store.GetBySite(ctx, siteID)
}

// RevokeKey revokes one of a site's keys. The siteID check keeps one
// operator from revoking another's keys.
func (m *Manager) RevokeKey(ctx context.Context, keyID, siteID string) error {
	keys, err := m.store.GetBySite(ctx, siteID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == keyID {
			k.Revoked = true
			return m.store.Update(ctx, k)
		}
	}
	return ErrKeyNotFound
}

// MemoryStore keeps keys in a map, for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*APIKey
}

// NewMemoryStore creates an empty in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*APIKey)}
}

func (s *MemoryStore) Create(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[key.ID] = key
	return nil
}

func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.byID {
		if k.Hash == hash {
			return k, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (s *MemoryStore) GetBySite(_ context.Context, siteID string) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []*APIKey
	for _, k := range s.byID {
		if k.SiteID == siteID {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Update(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[key.ID] = key
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}
