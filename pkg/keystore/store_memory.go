package keystore

import "sync"

// MemoryStore is an in-memory implementation of the Store interface.
// This is primarily useful for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

// Put stores a copy of value.
func (s *MemoryStore) Put(namespace, key string, value []byte) error {
	if err := validName(namespace, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		s.data[namespace] = ns
	}
	ns[key] = append([]byte(nil), value...)
	return nil
}

// Get returns a copy of the stored value.
func (s *MemoryStore) Get(namespace, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[namespace][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Remove deletes the value.
func (s *MemoryStore) Remove(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data[namespace], key)
	return nil
}

// Exists reports whether a value is stored.
func (s *MemoryStore) Exists(namespace, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[namespace][key]
	return ok
}

// Compile-time interface satisfaction check.
var _ Store = (*MemoryStore)(nil)
