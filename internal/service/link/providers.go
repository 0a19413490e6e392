package link

import (
	"github.com/Perucy/backend/internal/config"
	"github.com/Perucy/backend/internal/domain/link"
)

// Provider endpoints are fixed per provider; credentials and redirect URIs
// come from configuration.

// WhoopProvider builds the Whoop provider definition.
func WhoopProvider(cfg config.ProviderConfig) link.Provider {
	return link.Provider{
		Name:             "whoop",
		DisplayName:      "Whoop",
		ClientID:         cfg.ClientID,
		ClientSecret:     cfg.ClientSecret,
		RedirectURI:      cfg.RedirectURI,
		AuthURL:          "https://api.prod.whoop.com/oauth/oauth2/auth",
		TokenURL:         "https://api.prod.whoop.com/oauth/oauth2/token",
		ProfileURL:       "https://api.prod.whoop.com/developer/v2/user/profile/basic",
		APIBaseURL:       "https://api.prod.whoop.com/developer/v2",
		Scope:            "offline read:profile read:recovery read:cycles read:sleep read:workout read:body_measurement",
		ProfileIDField:   "user_id",
		ProfileNameField: "first_name",
	}
}

// SpotifyProvider builds the Spotify provider definition.
func SpotifyProvider(cfg config.ProviderConfig) link.Provider {
	return link.Provider{
		Name:             "spotify",
		DisplayName:      "Spotify",
		ClientID:         cfg.ClientID,
		ClientSecret:     cfg.ClientSecret,
		RedirectURI:      cfg.RedirectURI,
		AuthURL:          "https://accounts.spotify.com/authorize",
		TokenURL:         "https://accounts.spotify.com/api/token",
		ProfileURL:       "https://api.spotify.com/v1/me",
		APIBaseURL:       "https://api.spotify.com/v1",
		Scope:            "user-read-private user-read-email playlist-read-private playlist-read-collaborative user-library-read user-top-read",
		ProfileIDField:   "id",
		ProfileNameField: "display_name",
	}
}

// Registry resolves link services by provider name.
type Registry struct {
	services map[string]*Service
}

// NewRegistry indexes the given services by their provider name.
func NewRegistry(services ...*Service) *Registry {
	index := make(map[string]*Service, len(services))
	for _, svc := range services {
		index[svc.Provider().Name] = svc
	}
	return &Registry{services: index}
}

// Lookup returns the service for the named provider, or false when the
// provider is unknown.
func (r *Registry) Lookup(name string) (*Service, bool) {
	svc, ok := r.services[name]
	return svc, ok
}

// Names lists the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}
