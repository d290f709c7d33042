package session

import (
	"context"
	"sync"

	"Nara-Wallet/internal/identity"
)

// MemoryStore 是基于内存的 Store 实现，适合开发与测试。
type MemoryStore struct {
	mu         sync.Mutex
	identities map[string]identity.Identity
	pending    map[string]PendingIntent
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[string]identity.Identity),
		pending:    make(map[string]PendingIntent),
	}
}

// GetIdentity 实现 Store 接口。
func (s *MemoryStore) GetIdentity(_ context.Context, sender string) (*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[sender]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return &id, nil
}

// CreateIdentity 实现 Store 接口。
func (s *MemoryStore) CreateIdentity(_ context.Context, id *identity.Identity) (*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.identities[id.Sender]; ok {
		return &existing, nil
	}
	s.identities[id.Sender] = *id
	clone := *id
	return &clone, nil
}

// PutPending 实现 Store 接口。
func (s *MemoryStore) PutPending(_ context.Context, intent PendingIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[intent.Sender] = intent
	return nil
}

// TakePending 实现 Store 接口。
func (s *MemoryStore) TakePending(_ context.Context, sender string) (*PendingIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.pending[sender]
	if !ok {
		return nil, nil
	}
	delete(s.pending, sender)
	return &intent, nil
}
