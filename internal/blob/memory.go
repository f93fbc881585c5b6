package blob

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps documents in process memory. Used for tests and for
// development runs without Redis or Postgres.
//
// Versions keep counting across Delete and expiry: a key that comes back
// starts above the last version it had.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	retired map[string]int64
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	version   int64
	expiresAt time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		retired: make(map[string]int64),
		now:     time.Now,
	}
}

// lookup returns the live entry for key, retiring it if expired.
// Caller holds mu.
func (m *MemoryStore) lookup(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.retire(key, e)
		return memoryEntry{}, false
	}
	return e, true
}

// retire drops the entry and remembers its last version. Caller holds mu.
func (m *MemoryStore) retire(key string, e memoryEntry) {
	delete(m.entries, key)
	m.retired[key] = e.version
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return nil, 0, ErrNotFound
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, e.version, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, expected int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if expected != Any && e.version != expected {
		return 0, ErrVersionMismatch
	}

	base := e.version
	if !ok {
		base = m.retired[key]
		delete(m.retired, key)
	}
	next := memoryEntry{
		data:    append([]byte(nil), data...),
		version: base + 1,
	}
	if ttl > 0 {
		next.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = next
	return next.version, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		m.retire(key, e)
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := m.lookup(k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

var _ Store = (*MemoryStore)(nil)
