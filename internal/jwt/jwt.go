package jwt

import (
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
)

// Token kinds. A token presented as one kind never validates as the other.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// ErrInvalidToken is returned for every verification failure: bad signature,
// expired, wrong kind, malformed. Callers cannot tell the cases apart.
var ErrInvalidToken = errors.New("jwt: invalid token")

// Claims is the verified payload of a session token.
type Claims struct {
	Subject string
	Email   string
	Kind    string
	Expiry  time.Time
}

type sessionClaims struct {
	Email string `json:"email,omitempty"`
	Kind  string `json:"kind"`
}

// TokenPair bundles the freshly issued session credentials.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Service signs and verifies session tokens with a process-wide HS256 secret.
type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewService constructs the session token service.
func NewService(secret []byte, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// IssuePair produces an access/refresh token pair for the user. The refresh
// token intentionally omits the email claim.
func (s *Service) IssuePair(userID, email string) (TokenPair, error) {
	access, err := s.sign(userID, email, KindAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.sign(userID, "", KindRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// IssueAccess produces a standalone access token, used by the refresh grant.
func (s *Service) IssueAccess(userID, email string) (string, int64, error) {
	access, err := s.sign(userID, email, KindAccess, s.accessTTL)
	if err != nil {
		return "", 0, fmt.Errorf("sign access token: %w", err)
	}
	return access, int64(s.accessTTL.Seconds()), nil
}

// Verify checks signature, expiry, and kind. Any failure is ErrInvalidToken.
func (s *Service) Verify(token, expectedKind string) (*Claims, error) {
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return nil, ErrInvalidToken
	}

	var std gojwt.Claims
	var custom sessionClaims
	if err := parsed.Claims(s.secret, &std, &custom); err != nil {
		return nil, ErrInvalidToken
	}
	if std.Expiry == nil || !time.Now().Before(std.Expiry.Time()) {
		return nil, ErrInvalidToken
	}
	if custom.Kind != expectedKind {
		return nil, ErrInvalidToken
	}

	return &Claims{
		Subject: std.Subject,
		Email:   custom.Email,
		Kind:    custom.Kind,
		Expiry:  std.Expiry.Time(),
	}, nil
}

func (s *Service) sign(userID, email, kind string, ttl time.Duration) (string, error) {
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: s.secret},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	std := gojwt.Claims{
		Subject:  userID,
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(ttl)),
	}
	custom := sessionClaims{Email: email, Kind: kind}

	return gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
}
