package link

import "errors"

var (
	// ErrNotLinked signals that no vault row exists for (user, provider).
	ErrNotLinked = errors.New("link: provider not linked")
	// ErrTokenExpired signals the provider rejected the vaulted access token.
	ErrTokenExpired = errors.New("link: provider access token expired")
	// ErrStateWrite signals the state store rejected the begin-link write.
	ErrStateWrite = errors.New("link: failed to persist oauth state")
)
