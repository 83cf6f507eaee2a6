package pushregistry

import (
	"context"
	"sync"

	"github.com/storyapp/storyapp/internal/datastore/entities"
	"github.com/storyapp/storyapp/internal/datastore/repository"
)

// MemoryStore is a process local PushSubscriptionRepository.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID uint
	byKey  map[string]entities.PushSubscription
}

var _ repository.PushSubscriptionRepository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]entities.PushSubscription)}
}

func (s *MemoryStore) GetByScope(_ context.Context, scope string) (*entities.PushSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.byKey[scope]
	if !ok {
		return nil, repository.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (s *MemoryStore) GetByEndpointID(_ context.Context, endpointID string) (*entities.PushSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.byKey {
		if sub.EndpointID == endpointID {
			return &sub, nil
		}
	}
	return nil, repository.ErrSubscriptionNotFound
}

func (s *MemoryStore) Save(_ context.Context, sub *entities.PushSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byKey[sub.Scope]; ok {
		sub.ID = old.ID
		sub.CreatedAt = old.CreatedAt
	} else {
		s.nextID++
		sub.ID = s.nextID
	}
	s.byKey[sub.Scope] = *sub
	return nil
}

func (s *MemoryStore) DeleteByScope(_ context.Context, scope string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byKey[scope]
	delete(s.byKey, scope)
	return ok, nil
}
