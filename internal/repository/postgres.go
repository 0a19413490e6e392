package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Perucy/backend/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository   = (*PostgresUserRepo)(nil)
	_ TokenRecordStore = (*PostgresTokenRecordStore)(nil)
)

// PostgresUserRepo implements UserRepository on a pgx pool.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const selectUserColumns = `user_id, email, username, first_name, last_name, password_hash, whoop_user_id, spotify_user_id, is_active, created_at, updated_at`

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID string) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+selectUserColumns+` FROM users WHERE user_id = $1`, userID)
	return scanUser(row)
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+selectUserColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

const insertUserSQL = `INSERT INTO users (user_id, email, username, first_name, last_name, password_hash, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + selectUserColumns

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, insertUserSQL,
		user.ID,
		user.Email,
		user.Username,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.IsActive,
	)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.User{}, domain.ErrEmailTaken
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (r *PostgresUserRepo) SetLinkedAccount(ctx context.Context, userID, provider, externalID string) error {
	column, ok := linkedAccountColumn(provider)
	if !ok {
		return fmt.Errorf("provider %s: %w", provider, domain.ErrUnknownProvider)
	}

	var value any
	if externalID != "" {
		value = externalID
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET `+column+` = $2, updated_at = now() WHERE user_id = $1`,
		userID, value,
	)
	if err != nil {
		return fmt.Errorf("set linked account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// linkedAccountColumn maps a provider name to its users-table slot. The
// column name never comes from request input.
func linkedAccountColumn(provider string) (string, bool) {
	switch provider {
	case "whoop":
		return "whoop_user_id", true
	case "spotify":
		return "spotify_user_id", true
	}
	return "", false
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u       domain.User
		whoop   sql.NullString
		spotify sql.NullString
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.PasswordHash,
		&whoop,
		&spotify,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.WhoopUserID = whoop.String
	u.SpotifyUserID = spotify.String
	return u, nil
}

// PostgresTokenRecordStore implements TokenRecordStore. The unique index on
// (user_id, provider_name) plus the single-statement upsert keeps concurrent
// writers last-committer-wins with no field interleaving.
type PostgresTokenRecordStore struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresTokenRecordStore(pool *pgxpool.Pool, node *snowflake.Node) *PostgresTokenRecordStore {
	return &PostgresTokenRecordStore{db: pool, node: node}
}

const upsertTokenSQL = `INSERT INTO oauth_tokens (id, user_id, provider_name, access_token_encrypted, refresh_token_encrypted, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, provider_name) DO UPDATE SET
	access_token_encrypted = EXCLUDED.access_token_encrypted,
	refresh_token_encrypted = EXCLUDED.refresh_token_encrypted,
	expires_at = EXCLUDED.expires_at,
	updated_at = now()`

func (r *PostgresTokenRecordStore) Upsert(ctx context.Context, rec TokenRecord) error {
	var refresh sql.NullString
	if rec.RefreshTokenEncrypted != "" {
		refresh = sql.NullString{String: rec.RefreshTokenEncrypted, Valid: true}
	}
	if _, err := r.db.Exec(ctx, upsertTokenSQL,
		r.node.Generate().Int64(),
		rec.UserID,
		rec.Provider,
		rec.AccessTokenEncrypted,
		refresh,
		rec.ExpiresAt,
	); err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

func (r *PostgresTokenRecordStore) Get(ctx context.Context, userID, provider string) (*TokenRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT access_token_encrypted, refresh_token_encrypted, expires_at
		 FROM oauth_tokens WHERE user_id = $1 AND provider_name = $2`,
		userID, provider,
	)
	rec := TokenRecord{UserID: userID, Provider: provider}
	var refresh sql.NullString
	if err := row.Scan(&rec.AccessTokenEncrypted, &refresh, &rec.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	rec.RefreshTokenEncrypted = refresh.String
	return &rec, nil
}

func (r *PostgresTokenRecordStore) Delete(ctx context.Context, userID, provider string) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM oauth_tokens WHERE user_id = $1 AND provider_name = $2`,
		userID, provider,
	); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
