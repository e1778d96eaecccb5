package cache

import (
	"sync"
	"time"

	"github.com/websyro/prismapilot/pkg/query"
)

type inMemoryItem struct {
	value     []byte
	resp      *query.Response
	expiresAt time.Time
}

// InMemoryStore is an in-process cache backend. Expired entries are removed
// when read; there is no capacity bound. Responses are held as values and
// copied on the way in and out.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]inMemoryItem
	now   func() time.Time
}

// NewInMemoryStore creates an in-memory cache store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		items: make(map[string]inMemoryItem),
		now:   time.Now,
	}
}

func (s *InMemoryStore) lookup(key string) (inMemoryItem, bool) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return inMemoryItem{}, false
	}
	if s.now().After(item.expiresAt) {
		s.mu.Lock()
		if current, ok := s.items[key]; ok && current.expiresAt.Equal(item.expiresAt) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return inMemoryItem{}, false
	}
	return item, true
}

func (s *InMemoryStore) put(key string, item inMemoryItem, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Second
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item.expiresAt = s.now().Add(ttl)
	s.items[key] = item
}

// Get loads a byte entry from memory.
func (s *InMemoryStore) Get(key string) ([]byte, error) {
	item, ok := s.lookup(key)
	if !ok || item.value == nil {
		return nil, ErrCacheMiss
	}
	return append([]byte{}, item.value...), nil
}

// Set stores a byte entry with TTL.
func (s *InMemoryStore) Set(key string, value []byte, ttl time.Duration) error {
	s.put(key, inMemoryItem{value: append([]byte{}, value...)}, ttl)
	return nil
}

// GetResponse returns a copy of the response stored under key.
func (s *InMemoryStore) GetResponse(key string) (*query.Response, error) {
	item, ok := s.lookup(key)
	if !ok || item.resp == nil {
		return nil, ErrCacheMiss
	}
	return item.resp.Clone(), nil
}

// SetResponse stores a copy of resp with TTL.
func (s *InMemoryStore) SetResponse(key string, resp *query.Response, ttl time.Duration) error {
	s.put(key, inMemoryItem{resp: resp.Clone()}, ttl)
	return nil
}

// Delete removes a key.
func (s *InMemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Clear removes every key.
func (s *InMemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]inMemoryItem)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close is a no-op for in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
