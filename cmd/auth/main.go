package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/Perucy/backend/internal/adapter/cache"
	oauthadapter "github.com/Perucy/backend/internal/adapter/oauth"
	"github.com/Perucy/backend/internal/bootstrap"
	"github.com/Perucy/backend/internal/config"
	httptransport "github.com/Perucy/backend/internal/http"
	"github.com/Perucy/backend/internal/http/handler"
	httpmiddleware "github.com/Perucy/backend/internal/http/middleware"
	"github.com/Perucy/backend/internal/jwt"
	apimiddleware "github.com/Perucy/backend/internal/middleware"
	"github.com/Perucy/backend/internal/repository"
	"github.com/Perucy/backend/internal/secretbox"
	"github.com/Perucy/backend/internal/server"
	"github.com/Perucy/backend/internal/service"
	linkservice "github.com/Perucy/backend/internal/service/link"
	"github.com/Perucy/backend/internal/telemetry"
	"github.com/Perucy/backend/internal/vault"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newUserRepository,
			newTokenRecordStore,
			newRedisClient,
			newStateStore,
			newSecretBox,
			newVault,
			newProviderClient,
			newJWTService,
			newRateLimiter,
			service.NewAuthService,
			newLinkRegistry,
			handler.NewAuthHandler,
			handler.NewLinkHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureAdmin, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newTokenRecordStore(pool *pgxpool.Pool, node *snowflake.Node) repository.TokenRecordStore {
	return repository.NewPostgresTokenRecordStore(pool, node)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newStateStore(client redis.UniversalClient) repository.StateStore {
	return cacheadapter.NewRedisStateStore(client)
}

func newSecretBox(cfg config.Config) (*secretbox.Box, error) {
	return secretbox.New(cfg.TokenEncryptionKey)
}

func newVault(store repository.TokenRecordStore, box *secretbox.Box) *vault.Vault {
	return vault.New(store, box)
}

func newProviderClient() oauthadapter.ProviderClient {
	return oauthadapter.NewHTTPProviderClient(nil)
}

func newJWTService(cfg config.Config) *jwt.Service {
	return jwt.NewService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newLinkRegistry(
	cfg config.Config,
	states repository.StateStore,
	tokenVault *vault.Vault,
	users repository.UserRepository,
	client oauthadapter.ProviderClient,
	logger *zap.Logger,
) *linkservice.Registry {
	whoop := linkservice.NewService(linkservice.WhoopProvider(cfg.Whoop), states, tokenVault, users, client, cfg.LinkStateTTL, logger)
	spotify := linkservice.NewService(linkservice.SpotifyProvider(cfg.Spotify), states, tokenVault, users, client, cfg.LinkStateTTL, logger)
	return linkservice.NewRegistry(whoop, spotify)
}

func newAuthMiddleware(authService *service.AuthService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{AuthService: authService}
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
