// Package http wires the Gin router.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Perucy/backend/internal/config"
	"github.com/Perucy/backend/internal/http/handler"
	httpmiddleware "github.com/Perucy/backend/internal/http/middleware"
	"github.com/Perucy/backend/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, linkHandler *handler.LinkHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.GET("/me", authMiddleware.ValidateJWT, authHandler.Me)
	}

	linkGroup := r.Group("/link")
	{
		linkGroup.GET("/:provider/start", authMiddleware.ValidateJWT, linkHandler.Start)
		// The provider redirects the user's browser here; there is no
		// bearer token on this request.
		linkGroup.GET("/:provider/callback", linkHandler.Callback)
		linkGroup.DELETE("/:provider", authMiddleware.ValidateJWT, linkHandler.Unlink)
	}

	providers := r.Group("/providers", authMiddleware.ValidateJWT)
	{
		providers.GET("/status", linkHandler.Status)

		whoop := providers.Group("/whoop")
		{
			whoop.GET("/recovery", linkHandler.Proxy("whoop", "/recovery"))
			whoop.GET("/sleep", linkHandler.Proxy("whoop", "/activity/sleep"))
			whoop.GET("/workouts", linkHandler.Proxy("whoop", "/activity/workout"))
		}

		spotify := providers.Group("/spotify")
		{
			spotify.GET("/playlists", linkHandler.Proxy("spotify", "/me/playlists"))
			spotify.GET("/top-tracks", linkHandler.Proxy("spotify", "/me/top/tracks"))
		}
	}

	return r
}
