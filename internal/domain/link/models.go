package link

import "time"

// Provider describes one external OAuth provider the service can link.
type Provider struct {
	Name             string
	DisplayName      string
	ClientID         string
	ClientSecret     string
	RedirectURI      string
	AuthURL          string
	TokenURL         string
	ProfileURL       string
	Scope            string
	ProfileIDField   string
	ProfileNameField string
	APIBaseURL       string
}

// OAuthState captures the state/verifier tuple persisted while a linking
// flow is in flight. It is valid for exactly one consumption.
type OAuthState struct {
	State        string            `json:"state"`
	Provider     string            `json:"provider"`
	UserID       string            `json:"user_id"`
	CodeVerifier string            `json:"code_verifier,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// TokenResponse models the JSON body of a provider token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Profile is the normalized provider profile needed to finish linking.
type Profile struct {
	ExternalID  string
	DisplayName string
}

// ProviderTokens is a decrypted vault row.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// ResultCode enumerates terminal outcomes of a linking callback.
type ResultCode string

const (
	CodeLinked              ResultCode = "linked"
	CodeUserCancelled       ResultCode = "user_cancelled"
	CodeInvalidState        ResultCode = "invalid_state"
	CodeMissingParameter    ResultCode = "missing_parameter"
	CodeTokenExchangeFailed ResultCode = "token_exchange_failed"
	CodeProfileFetchFailed  ResultCode = "profile_fetch_failed"
	CodeNetworkError        ResultCode = "network_error"
	CodeUnexpectedError     ResultCode = "unexpected_error"
)

// Result is the terminal outcome of CompleteLink. Code is CodeLinked on
// success; on failure Code carries either one of the codes above or the
// provider's own error code verbatim.
type Result struct {
	Success     bool
	Code        ResultCode
	Message     string
	UserID      string
	ExternalID  string
	DisplayName string
}
