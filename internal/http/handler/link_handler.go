package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Perucy/backend/internal/domain/link"
	"github.com/Perucy/backend/internal/http/middleware"
	"github.com/Perucy/backend/internal/service"
	linkservice "github.com/Perucy/backend/internal/service/link"
)

// appCallbackURL is the deep link the mobile app registers for OAuth results.
const appCallbackURL = "fitpro://callback"

// LinkHandler serves the provider linking endpoints.
type LinkHandler struct {
	Registry *linkservice.Registry
	Auth     *service.AuthService
	Logger   *zap.Logger
}

// NewLinkHandler constructs the handler.
func NewLinkHandler(registry *linkservice.Registry, auth *service.AuthService, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{Registry: registry, Auth: auth, Logger: logger}
}

// Start begins the linking flow and returns the provider authorization URL.
func (h *LinkHandler) Start(c *gin.Context) {
	svc, ok := h.Registry.Lookup(c.Param("provider"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider", "error_description": "Unknown provider."})
		return
	}
	userID := middleware.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}

	result, err := svc.BeginLink(c.Request.Context(), userID)
	if err != nil {
		h.log().Error("begin link failed", zap.String("provider", svc.Provider().Name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Could not start linking."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"auth_url": result.AuthURL, "state": result.State})
}

// Callback receives the provider redirect and bounces the outcome into the
// app via deep link. The browser session here carries no FitPro credentials,
// so the endpoint is unauthenticated; the state tuple identifies the user.
func (h *LinkHandler) Callback(c *gin.Context) {
	svc, ok := h.Registry.Lookup(c.Param("provider"))
	if !ok {
		c.Redirect(http.StatusFound, deepLink(c.Param("provider"), &link.Result{
			Success: false,
			Code:    link.CodeUnexpectedError,
			Message: "Unknown provider",
		}))
		return
	}

	result := svc.CompleteLink(
		c.Request.Context(),
		c.Query("code"),
		c.Query("state"),
		c.Query("error"),
	)
	c.Redirect(http.StatusFound, deepLink(svc.Provider().Name, result))
}

// Unlink disconnects the provider from the authenticated account.
func (h *LinkHandler) Unlink(c *gin.Context) {
	svc, ok := h.Registry.Lookup(c.Param("provider"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider", "error_description": "Unknown provider."})
		return
	}
	userID := middleware.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}

	if err := svc.Unlink(c.Request.Context(), userID); err != nil {
		h.log().Error("unlink failed", zap.String("provider", svc.Provider().Name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Could not unlink provider."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": svc.Provider().Name, "linked": false})
}

type providerStatus struct {
	Linked         bool   `json:"linked"`
	ExternalUserID string `json:"external_user_id,omitempty"`
}

// Status reports, per registered provider, whether the authenticated account
// is linked and under which external id.
func (h *LinkHandler) Status(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}

	user, err := h.Auth.CurrentUser(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	statuses := make(map[string]providerStatus)
	for _, name := range h.Registry.Names() {
		externalID := user.LinkedAccountID(name)
		statuses[name] = providerStatus{Linked: externalID != "", ExternalUserID: externalID}
	}
	c.JSON(http.StatusOK, gin.H{"providers": statuses})
}

// Proxy forwards an authenticated GET to the provider API, mapping the
// public route to the provider path.
func (h *LinkHandler) Proxy(providerName, providerPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		svc, ok := h.Registry.Lookup(providerName)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider", "error_description": "Unknown provider."})
			return
		}
		userID := middleware.UserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
			return
		}

		body, err := svc.APIRequest(c.Request.Context(), userID, providerPath, c.Request.URL.Query())
		if err != nil {
			h.respondProxyError(c, providerName, err)
			return
		}

		c.Data(http.StatusOK, "application/json", body)
	}
}

func (h *LinkHandler) respondProxyError(c *gin.Context, provider string, err error) {
	switch {
	case errors.Is(err, link.ErrNotLinked):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_linked", "error_description": "Provider is not linked to this account."})
	case errors.Is(err, link.ErrTokenExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "provider_token_expired", "error_description": "Provider authorization expired. Please relink."})
	default:
		h.log().Error("provider proxy failed", zap.String("provider", provider), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_error", "error_description": "Provider request failed."})
	}
}

func deepLink(provider string, result *link.Result) string {
	params := url.Values{}
	params.Set("provider", provider)
	if result.Success {
		params.Set("success", "true")
		params.Set("user_id", result.UserID)
		params.Set("external_user_id", result.ExternalID)
		if result.DisplayName != "" {
			params.Set("display_name", result.DisplayName)
		}
	} else {
		params.Set("success", "false")
		params.Set("error", string(result.Code))
		if result.Message != "" {
			params.Set("message", result.Message)
		}
	}
	return appCallbackURL + "?" + params.Encode()
}

func (h *LinkHandler) log() *zap.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return zap.L()
}
