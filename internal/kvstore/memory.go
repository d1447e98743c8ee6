package kvstore

import (
	"sync"
)

// MemoryStore is a map-backed Store. A positive quota caps the sum of key
// and value lengths, mimicking the quota of browser-style storage.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]string
	quota  int64
	used   int64
	closed bool
}

// NewMemoryStore creates a memory store. A quota of zero means unlimited.
func NewMemoryStore(quota int64) *MemoryStore {
	return &MemoryStore{
		items: make(map[string]string),
		quota: quota,
	}
}

// Get retrieves a value from the store.
func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, ErrClosed
	}
	v, ok := s.items[key]
	return v, ok, nil
}

// Set stores a value, replacing any previous one.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	delta := int64(len(key) + len(value))
	if old, ok := s.items[key]; ok {
		delta -= int64(len(key) + len(old))
	}
	if s.quota > 0 && s.used+delta > s.quota {
		return ErrQuotaExceeded
	}

	s.items[key] = value
	s.used += delta
	return nil
}

// Remove deletes a key.
func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if old, ok := s.items[key]; ok {
		s.used -= int64(len(key) + len(old))
		delete(s.items, key)
	}
	return nil
}

// Keys returns all keys in the store.
func (s *MemoryStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	return keys, nil
}

// Size returns the byte length of the stored value.
func (s *MemoryStore) Size(key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}
	return int64(len(s.items[key])), nil
}

// Used returns the bytes counted against the quota.
func (s *MemoryStore) Used() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.used
}

// Close marks the store closed. Subsequent calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.items = nil
	return nil
}
