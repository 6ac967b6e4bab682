// Package syncutil provides keyed locking for serialising per-resource
// critical sections, such as the check-then-reserve sequence for a single
// accommodation type.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const keyMutexShards = 128

// KeyedMutex serialises work per string key using a fixed pool of
// channel-backed locks. Memory stays bounded no matter how many keys pass
// through; two keys that hash to the same slot occasionally contend, which
// is harmless for correctness.
//
// The zero value is ready to use.
type KeyedMutex struct {
	slots [keyMutexShards]chan struct{}
	once  sync.Once
}

func (m *KeyedMutex) init() {
	m.once.Do(func() {
		for i := range m.slots {
			ch := make(chan struct{}, 1)
			ch <- struct{}{}
			m.slots[i] = ch
		}
	})
}

// Acquire takes the lock for key, waiting until it is free or ctx is done.
// On success the returned release function must be called exactly once.
func (m *KeyedMutex) Acquire(ctx context.Context, key string) (release func(), err error) {
	m.init()
	slot := m.slots[m.slot(key)]
	select {
	case <-slot:
		return func() { slot <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) slot(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % keyMutexShards
}
