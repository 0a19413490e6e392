package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Perucy/backend/internal/domain/link"
)

// StatusError reports a non-2xx provider response. The body is for
// server-side logs only and must never reach a client.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d", e.Status)
}

// ProviderClient encapsulates outbound HTTP calls to external providers.
type ProviderClient interface {
	// ExchangeCode redeems an authorization code with the PKCE verifier.
	// Never retried: authorization codes are single-use on the provider side.
	ExchangeCode(ctx context.Context, p link.Provider, code, codeVerifier string) (*link.TokenResponse, error)
	// FetchProfile loads the provider profile with the bearer token.
	FetchProfile(ctx context.Context, p link.Provider, accessToken string) (*link.Profile, error)
	// Get performs an authenticated pass-through GET against the provider API.
	Get(ctx context.Context, p link.Provider, accessToken, path string, query url.Values) ([]byte, error)
}

// HTTPProviderClient is the default HTTP implementation.
type HTTPProviderClient struct {
	httpClient   *http.Client
	retryBackoff time.Duration
}

var _ ProviderClient = (*HTTPProviderClient)(nil)

// NewHTTPProviderClient constructs the default ProviderClient.
func NewHTTPProviderClient(client *http.Client) *HTTPProviderClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProviderClient{httpClient: client, retryBackoff: 500 * time.Millisecond}
}

// ExchangeCode performs the OAuth token exchange.
func (c *HTTPProviderClient) ExchangeCode(ctx context.Context, p link.Provider, code, codeVerifier string) (*link.TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", p.RedirectURI)
	data.Set("client_id", p.ClientID)
	if p.ClientSecret != "" {
		data.Set("client_secret", p.ClientSecret)
	}
	if strings.TrimSpace(codeVerifier) != "" {
		data.Set("code_verifier", codeVerifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var token link.TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return &token, nil
}

// FetchProfile loads the provider profile, retrying once on transport
// failures and 5xx responses (the GET is idempotent).
func (c *HTTPProviderClient) FetchProfile(ctx context.Context, p link.Provider, accessToken string) (*link.Profile, error) {
	body, err := c.getWithRetry(ctx, p.ProfileURL, accessToken)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}

	externalID := stringValue(raw[p.ProfileIDField])
	if externalID == "" {
		return nil, fmt.Errorf("profile missing %q field", p.ProfileIDField)
	}
	displayName := stringValue(raw[p.ProfileNameField])
	if displayName == "" {
		displayName = p.DisplayName + " User"
	}
	return &link.Profile{ExternalID: externalID, DisplayName: displayName}, nil
}

// Get proxies an authenticated GET to the provider API.
func (c *HTTPProviderClient) Get(ctx context.Context, p link.Provider, accessToken, path string, query url.Values) ([]byte, error) {
	target := strings.TrimSuffix(p.APIBaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build api request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *HTTPProviderClient) getWithRetry(ctx context.Context, target, accessToken string) ([]byte, error) {
	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	req, err := build()
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err == nil || !retryable(err) {
		return body, err
	}

	select {
	case <-time.After(c.retryBackoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	req, buildErr := build()
	if buildErr != nil {
		return nil, buildErr
	}
	return c.do(req)
}

func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500
	}
	// Transport-level failure.
	return true
}

func (c *HTTPProviderClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Status: resp.StatusCode, Body: body}
	}
	return body, nil
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}
