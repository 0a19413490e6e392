package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Perucy/backend/internal/domain"
	"github.com/Perucy/backend/internal/jwt"
	pw "github.com/Perucy/backend/internal/password"
	"github.com/Perucy/backend/internal/repository"
)

// TokenResponse is the session token payload returned by auth endpoints.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// APIError standardizes errors the HTTP layer can map directly to a response.
type APIError struct {
	Code        string
	Description string
	Status      int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newAPIError(code, desc string, status int) *APIError {
	return &APIError{Code: code, Description: desc, Status: status}
}

// RegisterInput carries the new-account fields.
type RegisterInput struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// AuthService encapsulates registration and session flows.
type AuthService struct {
	users   repository.UserRepository
	jwt     *jwt.Service
	hashSem *semaphore.Weighted
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewAuthService wires dependencies. Password hashing is CPU-bound, so the
// service caps concurrent hashes at GOMAXPROCS.
func NewAuthService(users repository.UserRepository, tokens *jwt.Service, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:   users,
		jwt:     tokens,
		hashSem: semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		logger:  logger,
		tracer:  otel.Tracer("github.com/Perucy/backend/internal/service"),
	}
}

// Register creates an account and issues the first session token pair.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, *TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Register")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, nil, newAPIError("invalid_request", "A valid email is required.", http.StatusBadRequest)
	}
	if len(input.Password) < 8 {
		return nil, nil, newAPIError("invalid_request", "Password must be at least 8 characters.", http.StatusBadRequest)
	}

	hash, err := s.hashPassword(ctx, input.Password)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     strings.TrimSpace(input.Username),
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if user.Username == "" {
		user.Username = email
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			return nil, nil, newAPIError("email_taken", "An account with this email already exists.", http.StatusConflict)
		}
		span.RecordError(err)
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	resp, err := s.issueTokens(created)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	s.audit("register.success", "user_id", created.ID)
	return &created, resp, nil
}

// Login authenticates with email/password. Unknown email and wrong password
// produce the identical error.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, *TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	normalized := strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			span.RecordError(err)
		}
		return nil, nil, newAPIError("invalid_grant", "Wrong email or password.", http.StatusUnauthorized)
	}
	if !user.IsActive {
		return nil, nil, newAPIError("invalid_grant", "Wrong email or password.", http.StatusUnauthorized)
	}
	if !pw.Verify(password, user.PasswordHash) {
		return nil, nil, newAPIError("invalid_grant", "Wrong email or password.", http.StatusUnauthorized)
	}

	resp, err := s.issueTokens(user)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	s.audit("login.success", "user_id", user.ID)
	return &user, resp, nil
}

// Refresh validates a refresh token and issues a fresh access token. The
// refresh token itself is returned unchanged; it is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Refresh")
	defer span.End()

	if refreshToken == "" {
		return nil, newAPIError("invalid_grant", "Refresh token missing.", http.StatusUnauthorized)
	}
	claims, err := s.jwt.Verify(refreshToken, jwt.KindRefresh)
	if err != nil {
		return nil, newAPIError("invalid_grant", "Invalid refresh token.", http.StatusUnauthorized)
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, newAPIError("invalid_grant", "Invalid refresh token.", http.StatusUnauthorized)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("refresh load user: %w", err)
	}
	if !user.IsActive {
		return nil, newAPIError("invalid_grant", "Invalid refresh token.", http.StatusUnauthorized)
	}

	access, expiresIn, err := s.jwt.IssueAccess(user.ID, user.Email)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	s.audit("refresh_token.success", "user_id", user.ID)
	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}, nil
}

// CurrentUser loads the account behind a verified access token subject.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*domain.User, error) {
	ctx, span := s.startSpan(ctx, "AuthService.CurrentUser")
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, newAPIError("invalid_token", "Account no longer exists.", http.StatusUnauthorized)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}

// VerifyAccessToken validates a bearer token for middleware use.
func (s *AuthService) VerifyAccessToken(token string) (*jwt.Claims, error) {
	return s.jwt.Verify(token, jwt.KindAccess)
}

func (s *AuthService) issueTokens(user domain.User) (*TokenResponse, error) {
	pair, err := s.jwt.IssuePair(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token pair: %w", err)
	}
	return &TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

func (s *AuthService) hashPassword(ctx context.Context, password string) (string, error) {
	if err := s.hashSem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.hashSem.Release(1)
	return pw.Hash(password)
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) audit(event string, attrs ...any) {
	logger := s.log()
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
