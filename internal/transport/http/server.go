package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nestmate/nestmate-server/internal/auth"
	"github.com/nestmate/nestmate-server/internal/config"
	"github.com/nestmate/nestmate-server/internal/core"
	"github.com/nestmate/nestmate-server/internal/service/inbox"
	"github.com/nestmate/nestmate-server/internal/store"
)

// NewServer builds the HTTP server with REST and WebSocket routes.
func NewServer(hub *core.Hub, authService *auth.Service, inboxService *inbox.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), LoggerMiddleware(logger))

	engine.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(authService, logger)
	userHandlers := NewUserHandlers(st, logger)
	listingHandlers := NewListingHandlers(st, inboxService, logger)
	messageHandlers := NewMessageHandlers(inboxService, logger)
	wsHandler := NewWSHandler(hub, authService, inboxService, cfg, logger)

	engine.POST("/api/register", apiHandlers.Register)
	engine.POST("/api/login", apiHandlers.Login)

	api := engine.Group("/api")
	api.Use(AuthMiddleware(authService, logger))
	{
		api.GET("/users/me", userHandlers.Me)
		api.PUT("/users/me", userHandlers.UpdateMe)
		api.GET("/users/:id", userHandlers.GetUser)

		api.POST("/listings", listingHandlers.Create)
		api.GET("/listings", listingHandlers.List)
		api.GET("/listings/mine", listingHandlers.Mine)
		api.GET("/listings/:id", listingHandlers.Get)
		api.POST("/listings/:id/save", listingHandlers.Save)
		api.DELETE("/listings/:id/save", listingHandlers.Unsave)
		api.GET("/me/saved", listingHandlers.Saved)
		api.GET("/listings/:id/inquiries", listingHandlers.Inquiries)

		api.GET("/messages/threads", messageHandlers.Threads)
		api.GET("/messages/:listingID/:otherID", messageHandlers.History)
		api.PUT("/messages/read/:otherID", messageHandlers.MarkRead)
	}

	engine.GET("/ws", wsHandler.Handle)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
