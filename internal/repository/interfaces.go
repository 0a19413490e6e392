package repository

import (
	"context"
	"time"

	"github.com/Perucy/backend/internal/domain"
	"github.com/Perucy/backend/internal/domain/link"
)

// UserRepository exposes persistence for FitPro users. The linking core only
// reads id/email/hash/linked-id fields and writes the linked-id slots.
type UserRepository interface {
	GetByID(ctx context.Context, userID string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	// SetLinkedAccount writes the provider slot; externalID "" clears it.
	// Writing the id already present is a no-op.
	SetLinkedAccount(ctx context.Context, userID, provider, externalID string) error
}

// StateStore persists short-lived, single-use OAuth linking state.
type StateStore interface {
	Save(ctx context.Context, state link.OAuthState, ttl time.Duration) error
	// Consume atomically fetches and deletes. It returns (nil, nil) whether
	// the state never existed, was already consumed, or expired; only one of
	// two racing callers can observe a non-nil result.
	Consume(ctx context.Context, state, provider string) (*link.OAuthState, error)
}

// TokenRecord is a vault row with ciphertext fields.
type TokenRecord struct {
	UserID                string
	Provider              string
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
	ExpiresAt             *time.Time
}

// TokenRecordStore persists encrypted provider tokens keyed by
// (user, provider). Upsert must be a single atomic write.
type TokenRecordStore interface {
	Upsert(ctx context.Context, rec TokenRecord) error
	Get(ctx context.Context, userID, provider string) (*TokenRecord, error)
	Delete(ctx context.Context, userID, provider string) error
}
