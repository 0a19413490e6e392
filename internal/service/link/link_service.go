// Package link drives the OAuth PKCE flow that connects a FitPro account to
// an external provider.
package link

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	oauthadapter "github.com/Perucy/backend/internal/adapter/oauth"
	"github.com/Perucy/backend/internal/domain/link"
	"github.com/Perucy/backend/internal/repository"
	"github.com/Perucy/backend/internal/vault"
)

// BeginLinkResult carries the authorization redirect for the client.
type BeginLinkResult struct {
	AuthURL string
	State   string
}

// Service runs the linking flow for one provider. The flow is identical for
// every provider; only the Provider config differs.
type Service struct {
	provider link.Provider
	states   repository.StateStore
	vault    *vault.Vault
	users    repository.UserRepository
	client   oauthadapter.ProviderClient
	stateTTL time.Duration
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewService wires a link service for the given provider.
func NewService(
	provider link.Provider,
	states repository.StateStore,
	tokenVault *vault.Vault,
	users repository.UserRepository,
	client oauthadapter.ProviderClient,
	stateTTL time.Duration,
	logger *zap.Logger,
) *Service {
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	return &Service{
		provider: provider,
		states:   states,
		vault:    tokenVault,
		users:    users,
		client:   client,
		stateTTL: stateTTL,
		logger:   logger,
		tracer:   otel.Tracer("github.com/Perucy/backend/internal/service/link"),
	}
}

// Provider returns the provider configuration this service drives.
func (s *Service) Provider() link.Provider {
	return s.provider
}

// BeginLink generates PKCE material, persists the state tuple, and builds
// the provider authorization URL.
func (s *Service) BeginLink(ctx context.Context, userID string) (*BeginLinkResult, error) {
	ctx, span := s.startSpan(ctx, "link.BeginLink")
	defer span.End()

	verifier, err := randomURLSafe(32)
	if err != nil {
		return nil, fmt.Errorf("generate pkce verifier: %w", err)
	}
	state, err := randomURLSafe(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	record := link.OAuthState{
		State:        state,
		Provider:     s.provider.Name,
		UserID:       userID,
		CodeVerifier: verifier,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.states.Save(ctx, record, s.stateTTL); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", link.ErrStateWrite, err)
	}

	authURL, err := url.Parse(s.provider.AuthURL)
	if err != nil {
		return nil, fmt.Errorf("parse auth url: %w", err)
	}
	params := authURL.Query()
	params.Set("client_id", s.provider.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", s.provider.RedirectURI)
	params.Set("scope", s.provider.Scope)
	params.Set("code_challenge", pkceChallenge(verifier))
	params.Set("code_challenge_method", "S256")
	params.Set("state", state)
	authURL.RawQuery = params.Encode()

	s.audit("link.begin", "provider", s.provider.Name, "user_id", userID)
	return &BeginLinkResult{AuthURL: authURL.String(), State: state}, nil
}

// CompleteLink handles the provider callback. Every outcome, including
// internal failures, is expressed as a Result; provider response bodies stay
// in server logs and never reach the client.
func (s *Service) CompleteLink(ctx context.Context, code, state, errParam string) *link.Result {
	ctx, span := s.startSpan(ctx, "link.CompleteLink")
	defer span.End()

	if errParam == "access_denied" {
		return failure(link.CodeUserCancelled, "Authentication cancelled by user")
	}
	if errParam != "" {
		return failure(link.ResultCode(errParam), "Authentication failed")
	}
	if code == "" || state == "" {
		return failure(link.CodeMissingParameter, "Missing required parameters")
	}

	stored, err := s.states.Consume(ctx, state, s.provider.Name)
	if err != nil {
		span.RecordError(err)
		s.log().Error("consume oauth state", zap.String("provider", s.provider.Name), zap.Error(err))
		return failure(link.CodeUnexpectedError, "Unexpected error occurred")
	}
	if stored == nil {
		// Reuse, forgery, and expiry are deliberately indistinguishable here.
		return failure(link.CodeInvalidState, "Invalid or expired request")
	}

	tokens, err := s.client.ExchangeCode(ctx, s.provider, code, stored.CodeVerifier)
	if err != nil {
		return s.exchangeFailure(span, err)
	}
	if tokens.AccessToken == "" {
		s.log().Error("token exchange returned no access token", zap.String("provider", s.provider.Name))
		return failure(link.CodeTokenExchangeFailed, "Failed to exchange authorization code")
	}

	profile, err := s.client.FetchProfile(ctx, s.provider, tokens.AccessToken)
	if err != nil {
		return s.profileFailure(span, err)
	}

	if err := s.users.SetLinkedAccount(ctx, stored.UserID, s.provider.Name, profile.ExternalID); err != nil {
		span.RecordError(err)
		s.log().Error("set linked account", zap.String("provider", s.provider.Name), zap.String("user_id", stored.UserID), zap.Error(err))
		return failure(link.CodeUnexpectedError, "Unexpected error occurred")
	}

	if err := s.vault.Upsert(ctx, stored.UserID, s.provider.Name, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresIn); err != nil {
		span.RecordError(err)
		s.log().Error("vault upsert", zap.String("provider", s.provider.Name), zap.String("user_id", stored.UserID), zap.Error(err))
		return failure(link.CodeUnexpectedError, "Unexpected error occurred")
	}

	s.audit("link.complete", "provider", s.provider.Name, "user_id", stored.UserID, "external_id", profile.ExternalID)
	return &link.Result{
		Success:     true,
		Code:        link.CodeLinked,
		UserID:      stored.UserID,
		ExternalID:  profile.ExternalID,
		DisplayName: profile.DisplayName,
	}
}

// Unlink removes the vault row and clears the linked external id.
func (s *Service) Unlink(ctx context.Context, userID string) error {
	ctx, span := s.startSpan(ctx, "link.Unlink")
	defer span.End()

	if err := s.vault.Delete(ctx, userID, s.provider.Name); err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.users.SetLinkedAccount(ctx, userID, s.provider.Name, ""); err != nil {
		span.RecordError(err)
		return err
	}
	s.audit("link.unlink", "provider", s.provider.Name, "user_id", userID)
	return nil
}

// APIRequest proxies an authenticated GET to the provider API on behalf of
// the user, decrypting the vaulted access token for this request only.
func (s *Service) APIRequest(ctx context.Context, userID, path string, query url.Values) ([]byte, error) {
	ctx, span := s.startSpan(ctx, "link.APIRequest")
	defer span.End()

	tokens, err := s.vault.Fetch(ctx, userID, s.provider.Name)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	body, err := s.client.Get(ctx, s.provider, tokens.AccessToken, path, query)
	if err != nil {
		var statusErr *oauthadapter.StatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusUnauthorized {
			return nil, link.ErrTokenExpired
		}
		span.RecordError(err)
		return nil, fmt.Errorf("provider api: %w", err)
	}
	return body, nil
}

func (s *Service) exchangeFailure(span trace.Span, err error) *link.Result {
	span.RecordError(err)
	var statusErr *oauthadapter.StatusError
	if errors.As(err, &statusErr) {
		s.log().Error("token exchange failed",
			zap.String("provider", s.provider.Name),
			zap.Int("status", statusErr.Status),
			zap.ByteString("body", statusErr.Body),
		)
		return failure(link.CodeTokenExchangeFailed, "Failed to exchange authorization code")
	}
	s.log().Error("token exchange transport failure", zap.String("provider", s.provider.Name), zap.Error(err))
	return failure(link.CodeNetworkError, "Network error during authentication")
}

func (s *Service) profileFailure(span trace.Span, err error) *link.Result {
	span.RecordError(err)
	var statusErr *oauthadapter.StatusError
	if errors.As(err, &statusErr) {
		s.log().Error("profile fetch failed",
			zap.String("provider", s.provider.Name),
			zap.Int("status", statusErr.Status),
			zap.ByteString("body", statusErr.Body),
		)
		return failure(link.CodeProfileFetchFailed, "Failed to retrieve user profile")
	}
	s.log().Error("profile fetch transport failure", zap.String("provider", s.provider.Name), zap.Error(err))
	return failure(link.CodeNetworkError, "Network error during authentication")
}

func failure(code link.ResultCode, message string) *link.Result {
	return &link.Result{Success: false, Code: code, Message: message}
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *Service) audit(event string, attrs ...any) {
	logger := s.log()
	fields := make([]zap.Field, 0, len(attrs)/2+1)
	fields = append(fields, zap.String("event", event))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *Service) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func randomURLSafe(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
