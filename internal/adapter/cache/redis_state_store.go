package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Perucy/backend/internal/domain/link"
	"github.com/Perucy/backend/internal/repository"
)

// RedisStateStore implements StateStore backed by Redis. Expiry rides on the
// key TTL; consumption is the single GETDEL command, so two callers racing on
// the same state cannot both observe the tuple.
type RedisStateStore struct {
	client redis.UniversalClient
}

var _ repository.StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore constructs a Redis-backed state store.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Save stores the encoded state payload with TTL.
func (s *RedisStateStore) Save(ctx context.Context, state link.OAuthState, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, stateKey(state.Provider, state.State), payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// Consume atomically fetches and deletes the state. Never-existed, consumed,
// and expired all come back as (nil, nil).
func (s *RedisStateStore) Consume(ctx context.Context, state, provider string) (*link.OAuthState, error) {
	raw, err := s.client.GetDel(ctx, stateKey(provider, state)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("consume state: %w", err)
	}
	var stored link.OAuthState
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &stored, nil
}

func stateKey(provider, state string) string {
	return "oauth:state:" + provider + ":" + state
}
