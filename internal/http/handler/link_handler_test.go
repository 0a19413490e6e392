package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cacheadapter "github.com/Perucy/backend/internal/adapter/cache"
	oauthadapter "github.com/Perucy/backend/internal/adapter/oauth"
	"github.com/Perucy/backend/internal/config"
	"github.com/Perucy/backend/internal/domain"
	httptransport "github.com/Perucy/backend/internal/http"
	"github.com/Perucy/backend/internal/http/handler"
	httpmiddleware "github.com/Perucy/backend/internal/http/middleware"
	"github.com/Perucy/backend/internal/jwt"
	"github.com/Perucy/backend/internal/repository"
	"github.com/Perucy/backend/internal/secretbox"
	"github.com/Perucy/backend/internal/service"
	linkservice "github.com/Perucy/backend/internal/service/link"
	"github.com/Perucy/backend/internal/vault"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestLinkCallbackSuccessDeepLink(t *testing.T) {
	h := newHandlerTestHarness(t)
	defer h.close()

	token := h.register(t, "runner@example.com")
	state := h.startLink(t, token, "whoop")

	rec := h.do(http.MethodGet, "/link/whoop/callback?code=auth-code&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	q := deepLinkQuery(t, rec.Header().Get("Location"))
	require.Equal(t, "true", q.Get("success"))
	require.Equal(t, "whoop", q.Get("provider"))
	require.NotEmpty(t, q.Get("user_id"))
	require.Equal(t, "42", q.Get("external_user_id"))
	require.Equal(t, "Jess", q.Get("display_name"))
	require.Empty(t, q.Get("error"))
}

func TestLinkCallbackCancelledDeepLink(t *testing.T) {
	h := newHandlerTestHarness(t)
	defer h.close()

	token := h.register(t, "runner@example.com")
	state := h.startLink(t, token, "whoop")

	rec := h.do(http.MethodGet, "/link/whoop/callback?error=access_denied&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	q := deepLinkQuery(t, rec.Header().Get("Location"))
	require.Equal(t, "false", q.Get("success"))
	require.Equal(t, "whoop", q.Get("provider"))
	require.Equal(t, "user_cancelled", q.Get("error"))
	require.NotEmpty(t, q.Get("message"))
	require.Empty(t, q.Get("user_id"))
	require.Empty(t, q.Get("external_user_id"))
}

func TestLinkCallbackInvalidStateDeepLink(t *testing.T) {
	h := newHandlerTestHarness(t)
	defer h.close()

	rec := h.do(http.MethodGet, "/link/whoop/callback?code=auth-code&state=forged", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	q := deepLinkQuery(t, rec.Header().Get("Location"))
	require.Equal(t, "false", q.Get("success"))
	require.Equal(t, "invalid_state", q.Get("error"))
}

func TestLinkCallbackUnknownProviderDeepLink(t *testing.T) {
	h := newHandlerTestHarness(t)
	defer h.close()

	rec := h.do(http.MethodGet, "/link/strava/callback?code=x&state=y", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	q := deepLinkQuery(t, rec.Header().Get("Location"))
	require.Equal(t, "false", q.Get("success"))
	require.Equal(t, "unexpected_error", q.Get("error"))
}

func TestProviderStatus(t *testing.T) {
	h := newHandlerTestHarness(t)
	defer h.close()

	token := h.register(t, "runner@example.com")

	rec := h.do(http.MethodGet, "/providers/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var before struct {
		Providers map[string]struct {
			Linked         bool   `json:"linked"`
			ExternalUserID string `json:"external_user_id"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &before))
	require.Len(t, before.Providers, 2)
	require.False(t, before.Providers["whoop"].Linked)
	require.False(t, before.Providers["spotify"].Linked)

	state := h.startLink(t, token, "whoop")
	callback := h.do(http.MethodGet, "/link/whoop/callback?code=auth-code&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusFound, callback.Code)

	rec = h.do(http.MethodGet, "/providers/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var after struct {
		Providers map[string]struct {
			Linked         bool   `json:"linked"`
			ExternalUserID string `json:"external_user_id"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	require.True(t, after.Providers["whoop"].Linked)
	require.Equal(t, "42", after.Providers["whoop"].ExternalUserID)
	require.False(t, after.Providers["spotify"].Linked)
}

func TestLinkStartRequiresAuth(t *testing.T) {
	h := newHandlerTestHarness(t)
	defer h.close()

	rec := h.do(http.MethodGet, "/link/whoop/start", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ---- Test harness and fakes ----

type handlerTestHarness struct {
	engine   *gin.Engine
	upstream *httptest.Server
}

func (h *handlerTestHarness) close() {
	h.upstream.Close()
}

func newHandlerTestHarness(t *testing.T) *handlerTestHarness {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "upstream-access",
			"refresh_token": "upstream-refresh",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"user_id": 42, "first_name": "Jess"})
	})
	upstream := httptest.NewServer(mux)

	box, err := secretbox.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	users := newFakeUserRepo()
	states := cacheadapter.NewMemoryStateStore()
	tokenVault := vault.New(newMemoryRecordStore(), box)
	client := oauthadapter.NewHTTPProviderClient(&http.Client{Timeout: 2 * time.Second})
	logger := zap.NewNop()

	whoopProvider := linkservice.WhoopProvider(config.ProviderConfig{
		ClientID:    "whoop-client",
		RedirectURI: "https://fitpro.test/link/whoop/callback",
	})
	whoopProvider.AuthURL = upstream.URL + "/oauth/authorize"
	whoopProvider.TokenURL = upstream.URL + "/oauth/token"
	whoopProvider.ProfileURL = upstream.URL + "/profile"
	whoopProvider.APIBaseURL = upstream.URL + "/api"

	spotifyProvider := linkservice.SpotifyProvider(config.ProviderConfig{
		ClientID:    "spotify-client",
		RedirectURI: "https://fitpro.test/link/spotify/callback",
	})

	whoop := linkservice.NewService(whoopProvider, states, tokenVault, users, client, time.Minute, logger)
	spotify := linkservice.NewService(spotifyProvider, states, tokenVault, users, client, time.Minute, logger)
	registry := linkservice.NewRegistry(whoop, spotify)

	tokens := jwt.NewService([]byte("0123456789abcdef0123456789abcdef"), time.Hour, 24*time.Hour)
	authService := service.NewAuthService(users, tokens, logger)

	cfg := config.Config{ServiceName: "fitpro-auth-test"}
	engine := httptransport.NewRouter(
		cfg,
		handler.NewAuthHandler(authService, logger),
		handler.NewLinkHandler(registry, authService, logger),
		&httpmiddleware.Auth{AuthService: authService},
		nil,
	)

	return &handlerTestHarness{engine: engine, upstream: upstream}
}

func (h *handlerTestHarness) do(method, target, bearer string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func (h *handlerTestHarness) register(t *testing.T, email string) string {
	t.Helper()
	rec := h.do(http.MethodPost, "/auth/register", "", map[string]string{
		"email":    email,
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Tokens struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Tokens.AccessToken)
	return resp.Tokens.AccessToken
}

func (h *handlerTestHarness) startLink(t *testing.T, bearer, provider string) string {
	t.Helper()
	rec := h.do(http.MethodGet, "/link/"+provider+"/start", bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		AuthURL string `json:"auth_url"`
		State   string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.State)
	return resp.State
}

func deepLinkQuery(t *testing.T, location string) url.Values {
	t.Helper()
	require.NotEmpty(t, location)
	parsed, err := url.Parse(location)
	require.NoError(t, err)
	require.Equal(t, "fitpro", parsed.Scheme)
	require.Equal(t, "callback", parsed.Host)
	return parsed.Query()
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]domain.User)}
}

func (r *fakeUserRepo) GetByID(_ context.Context, userID string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (r *fakeUserRepo) Create(_ context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return domain.User{}, domain.ErrEmailTaken
		}
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *fakeUserRepo) SetLinkedAccount(_ context.Context, userID, provider, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	switch provider {
	case "whoop":
		user.WhoopUserID = externalID
	case "spotify":
		user.SpotifyUserID = externalID
	default:
		return domain.ErrUnknownProvider
	}
	r.users[userID] = user
	return nil
}

type memoryRecordStore struct {
	mu   sync.Mutex
	rows map[string]repository.TokenRecord
}

func newMemoryRecordStore() *memoryRecordStore {
	return &memoryRecordStore{rows: make(map[string]repository.TokenRecord)}
}

func recordKey(userID, provider string) string { return userID + "/" + provider }

func (s *memoryRecordStore) Upsert(_ context.Context, rec repository.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[recordKey(rec.UserID, rec.Provider)] = rec
	return nil
}

func (s *memoryRecordStore) Get(_ context.Context, userID, provider string) (*repository.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[recordKey(userID, provider)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memoryRecordStore) Delete(_ context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, recordKey(userID, provider))
	return nil
}
