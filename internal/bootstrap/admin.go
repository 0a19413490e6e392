// Package bootstrap seeds development data at startup.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Perucy/backend/internal/config"
	"github.com/Perucy/backend/internal/domain"
	"github.com/Perucy/backend/internal/password"
	"github.com/Perucy/backend/internal/repository"
)

// EnsureAdmin creates a default admin user for dev/e2e when ADMIN_EMAIL and
// ADMIN_PASSWORD are configured. Without them it is a no-op.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, users repository.UserRepository, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, users, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, users repository.UserRepository, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || strings.TrimSpace(cfg.AdminPassword) == "" {
		return nil
	}

	if _, err := users.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return fmt.Errorf("bootstrap lookup user: %w", err)
	}

	hashed, err := password.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     "admin",
		FirstName:    "Admin",
		PasswordHash: hashed,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	if _, err := users.Create(ctx, user); err != nil {
		return fmt.Errorf("bootstrap create user: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin user created",
			zap.String("email", user.Email),
			zap.String("user_id", user.ID),
		)
	}
	return nil
}
