package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// MemoryOption customizes a MemoryStore
type MemoryOption func(*MemoryStore)

// WithMemoryTTL sets the record lifetime. Zero keeps records forever.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if ttl >= 0 {
			m.ttl = ttl
		}
	}
}

// WithMemoryClock injects a custom clock (useful for tests).
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if clock != nil {
			m.now = clock
		}
	}
}

// NewMemoryStore creates an in-memory session store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Get retrieves the record stored under handle
func (m *MemoryStore) Get(ctx context.Context, handle string) (*Record, error) {
	if handle == "" {
		return nil, ErrInvalidHandle
	}

	m.mu.RLock()
	entry, exists := m.entries[handle]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}

	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, handle)
		m.mu.Unlock()
		return nil, ErrNotFound
	}

	record := entry.record
	return &record, nil
}

// Put stores record under handle, replacing any previous one
func (m *MemoryStore) Put(ctx context.Context, handle string, record Record) error {
	if handle == "" {
		return ErrInvalidHandle
	}

	entry := memoryEntry{record: record}
	if m.ttl > 0 {
		entry.expiresAt = m.now().Add(m.ttl)
	}

	m.mu.Lock()
	m.entries[handle] = entry
	m.mu.Unlock()
	return nil
}

// Delete removes the record under handle
func (m *MemoryStore) Delete(ctx context.Context, handle string) error {
	m.mu.Lock()
	delete(m.entries, handle)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored records, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
