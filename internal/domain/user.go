package domain

import "time"

// User represents a FitPro account holder.
type User struct {
	ID            string
	Email         string
	Username      string
	FirstName     string
	LastName      string
	PasswordHash  string
	WhoopUserID   string
	SpotifyUserID string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LinkedAccountID returns the external id linked for the given provider,
// or "" when the provider slot is empty or unknown.
func (u User) LinkedAccountID(provider string) string {
	switch provider {
	case "whoop":
		return u.WhoopUserID
	case "spotify":
		return u.SpotifyUserID
	}
	return ""
}
