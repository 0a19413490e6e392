package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Perucy/backend/internal/domain/link"
)

func TestMemoryStateStoreSingleUse(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	state := link.OAuthState{
		State:        "state-1",
		Provider:     "whoop",
		UserID:       "user-1",
		CodeVerifier: "verifier",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.Save(ctx, state, time.Minute))

	first, err := store.Consume(ctx, "state-1", "whoop")
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, "user-1", first.UserID)
	require.Equal(t, "verifier", first.CodeVerifier)

	second, err := store.Consume(ctx, "state-1", "whoop")
	require.NoError(t, err)
	require.Nil(t, second)
}

func TestMemoryStateStoreUnknownState(t *testing.T) {
	store := NewMemoryStateStore()
	got, err := store.Consume(context.Background(), "never-saved", "whoop")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryStateStoreProviderScoped(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	state := link.OAuthState{State: "state-x", Provider: "whoop", UserID: "user-1"}
	require.NoError(t, store.Save(ctx, state, time.Minute))

	// A spotify callback must not consume a whoop state.
	got, err := store.Consume(ctx, "state-x", "spotify")
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = store.Consume(ctx, "state-x", "whoop")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestMemoryStateStoreExpiry(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	state := link.OAuthState{State: "state-ttl", Provider: "whoop", UserID: "user-1"}
	require.NoError(t, store.Save(ctx, state, 10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)

	got, err := store.Consume(ctx, "state-ttl", "whoop")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryStateStoreConcurrentConsume(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	state := link.OAuthState{State: "state-race", Provider: "whoop", UserID: "user-1"}
	require.NoError(t, store.Save(ctx, state, time.Minute))

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		hits int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := store.Consume(ctx, "state-race", "whoop")
			require.NoError(t, err)
			if got != nil {
				mu.Lock()
				hits++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, hits)
}
