package vault

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Perucy/backend/internal/domain/link"
	"github.com/Perucy/backend/internal/repository"
	"github.com/Perucy/backend/internal/secretbox"
)

func newTestVault(t *testing.T) (*Vault, *memoryRecordStore, *secretbox.Box) {
	t.Helper()
	box, err := secretbox.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	store := newMemoryRecordStore()
	return New(store, box), store, box
}

func TestUpsertAndFetchRoundTrip(t *testing.T) {
	v, store, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Upsert(ctx, "user-1", "whoop", "access-xyz", "refresh-abc", 3600))

	// Persisted fields are ciphertext, never the raw tokens.
	rec := store.get("user-1", "whoop")
	require.NotNil(t, rec)
	require.NotEqual(t, "access-xyz", rec.AccessTokenEncrypted)
	require.NotEqual(t, "refresh-abc", rec.RefreshTokenEncrypted)
	require.NotNil(t, rec.ExpiresAt)

	tokens, err := v.Fetch(ctx, "user-1", "whoop")
	require.NoError(t, err)
	require.Equal(t, "access-xyz", tokens.AccessToken)
	require.Equal(t, "refresh-abc", tokens.RefreshToken)
	require.NotNil(t, tokens.ExpiresAt)
	require.WithinDuration(t, time.Now().UTC().Add(time.Hour), *tokens.ExpiresAt, 5*time.Second)
}

func TestUpsertWithoutRefreshOrExpiry(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Upsert(ctx, "user-1", "spotify", "access-only", "", 0))

	tokens, err := v.Fetch(ctx, "user-1", "spotify")
	require.NoError(t, err)
	require.Equal(t, "access-only", tokens.AccessToken)
	require.Empty(t, tokens.RefreshToken)
	require.Nil(t, tokens.ExpiresAt)
}

func TestUpsertOverwrites(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Upsert(ctx, "user-1", "whoop", "old-access", "old-refresh", 3600))
	require.NoError(t, v.Upsert(ctx, "user-1", "whoop", "new-access", "new-refresh", 7200))

	tokens, err := v.Fetch(ctx, "user-1", "whoop")
	require.NoError(t, err)
	require.Equal(t, "new-access", tokens.AccessToken)
	require.Equal(t, "new-refresh", tokens.RefreshToken)
}

func TestFetchNotLinked(t *testing.T) {
	v, _, _ := newTestVault(t)
	_, err := v.Fetch(context.Background(), "user-1", "whoop")
	require.ErrorIs(t, err, link.ErrNotLinked)
}

func TestFetchDecryptFailureIsNotNotLinked(t *testing.T) {
	v, store, _ := newTestVault(t)
	ctx := context.Background()

	store.put(repository.TokenRecord{
		UserID:               "user-1",
		Provider:             "whoop",
		AccessTokenEncrypted: "not-a-ciphertext",
	})

	_, err := v.Fetch(ctx, "user-1", "whoop")
	require.Error(t, err)
	require.NotErrorIs(t, err, link.ErrNotLinked)
	require.ErrorIs(t, err, secretbox.ErrDecrypt)
}

func TestDeleteRemovesRow(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Upsert(ctx, "user-1", "whoop", "access", "", 0))
	require.NoError(t, v.Delete(ctx, "user-1", "whoop"))

	_, err := v.Fetch(ctx, "user-1", "whoop")
	require.ErrorIs(t, err, link.ErrNotLinked)
}

// ---- Test fakes ----

type memoryRecordStore struct {
	mu   sync.Mutex
	rows map[string]repository.TokenRecord
}

func newMemoryRecordStore() *memoryRecordStore {
	return &memoryRecordStore{rows: make(map[string]repository.TokenRecord)}
}

func key(userID, provider string) string { return userID + "/" + provider }

func (s *memoryRecordStore) Upsert(_ context.Context, rec repository.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key(rec.UserID, rec.Provider)] = rec
	return nil
}

func (s *memoryRecordStore) Get(_ context.Context, userID, provider string) (*repository.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[key(userID, provider)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memoryRecordStore) Delete(_ context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, key(userID, provider))
	return nil
}

func (s *memoryRecordStore) get(userID, provider string) *repository.TokenRecord {
	rec, _ := s.Get(context.Background(), userID, provider)
	return rec
}

func (s *memoryRecordStore) put(rec repository.TokenRecord) {
	_ = s.Upsert(context.Background(), rec)
}
