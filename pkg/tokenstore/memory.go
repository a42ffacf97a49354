package tokenstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps tokens in process memory only.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory token cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens: make(map[string]Token),
		now:    time.Now,
	}
}

func (m *MemoryStore) Put(_ context.Context, tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tok.Key] = tok
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[key]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if tok.IsExpiredAt(m.now()) {
		return nil, ErrTokenExpired
	}
	return &tok, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key)
	return nil
}

func (m *MemoryStore) Cleanup(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	count := 0
	for k, tok := range m.tokens {
		if tok.IsExpiredAt(now) {
			delete(m.tokens, k)
			count++
		}
	}
	return count, nil
}
