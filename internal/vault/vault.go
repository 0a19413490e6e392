// Package vault stores provider access/refresh tokens encrypted at rest.
// Plaintext tokens never touch persistence and are never cached across
// requests: every read decrypts.
package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/Perucy/backend/internal/domain/link"
	"github.com/Perucy/backend/internal/repository"
	"github.com/Perucy/backend/internal/secretbox"
)

// Vault encrypts tokens on the way into the record store and decrypts on the
// way out.
type Vault struct {
	store repository.TokenRecordStore
	box   *secretbox.Box
	now   func() time.Time
}

// New wires the vault over a record store and an encryption box.
func New(store repository.TokenRecordStore, box *secretbox.Box) *Vault {
	return &Vault{store: store, box: box, now: time.Now}
}

// Upsert encrypts and writes tokens for (userID, provider), overwriting any
// existing row in place. expiresIn <= 0 stores no expiry.
func (v *Vault) Upsert(ctx context.Context, userID, provider, accessToken, refreshToken string, expiresIn int64) error {
	encAccess, err := v.box.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}

	rec := repository.TokenRecord{
		UserID:               userID,
		Provider:             provider,
		AccessTokenEncrypted: encAccess,
	}
	if refreshToken != "" {
		encRefresh, err := v.box.Encrypt(refreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		rec.RefreshTokenEncrypted = encRefresh
	}
	if expiresIn > 0 {
		expiresAt := v.now().UTC().Add(time.Duration(expiresIn) * time.Second)
		rec.ExpiresAt = &expiresAt
	}

	if err := v.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}
	return nil
}

// Fetch decrypts the stored tokens for (userID, provider). A missing row is
// link.ErrNotLinked; a row the key cannot open surfaces secretbox.ErrDecrypt,
// which callers must not treat as not-linked.
func (v *Vault) Fetch(ctx context.Context, userID, provider string) (*link.ProviderTokens, error) {
	rec, err := v.store.Get(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	if rec == nil {
		return nil, link.ErrNotLinked
	}

	access, err := v.box.Decrypt(rec.AccessTokenEncrypted)
	if err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}
	tokens := &link.ProviderTokens{
		AccessToken: access,
		ExpiresAt:   rec.ExpiresAt,
	}
	if rec.RefreshTokenEncrypted != "" {
		refresh, err := v.box.Decrypt(rec.RefreshTokenEncrypted)
		if err != nil {
			return nil, fmt.Errorf("refresh token: %w", err)
		}
		tokens.RefreshToken = refresh
	}
	return tokens, nil
}

// Delete removes the vault row. Used only on explicit unlink.
func (v *Vault) Delete(ctx context.Context, userID, provider string) error {
	if err := v.store.Delete(ctx, userID, provider); err != nil {
		return fmt.Errorf("delete tokens: %w", err)
	}
	return nil
}
