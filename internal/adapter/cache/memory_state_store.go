package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Perucy/backend/internal/domain/link"
	"github.com/Perucy/backend/internal/repository"
)

// MemoryStateStore implements StateStore in process memory. It is meant for
// development and tests; a single server instance only. The mutex around
// get+delete gives the same single-consumption guarantee the Redis store gets
// from GETDEL.
type MemoryStateStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

var _ repository.StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore constructs an in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{cache: gocache.New(gocache.NoExpiration, time.Minute)}
}

func (s *MemoryStateStore) Save(_ context.Context, state link.OAuthState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(stateKey(state.Provider, state.State), state, ttl)
	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, state, provider string) (*link.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stateKey(provider, state)
	value, ok := s.cache.Get(key)
	if !ok {
		return nil, nil
	}
	s.cache.Delete(key)
	stored, ok := value.(link.OAuthState)
	if !ok {
		return nil, nil
	}
	return &stored, nil
}
