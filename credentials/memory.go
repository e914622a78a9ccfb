package credentials

import "sync"

// MemoryStore is an in-memory implementation of Store. It is safe for
// concurrent use; readers never observe a half-written pair.
type MemoryStore struct {
	mu   sync.RWMutex
	pair Pair
}

// NewMemoryStore creates a new in-memory credential store, optionally seeded
// with an initial pair.
func NewMemoryStore(initial ...Pair) *MemoryStore {
	s := &MemoryStore{}
	if len(initial) > 0 {
		s.pair = initial[0]
	}
	return s
}

// Get returns the current pair.
func (s *MemoryStore) Get() (Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, nil
}

// Set replaces the pair as a whole.
func (s *MemoryStore) Set(pair Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = pair
	return nil
}

// Clear removes the stored pair.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = Pair{}
	return nil
}
