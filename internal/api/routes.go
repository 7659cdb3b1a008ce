package api

import (
	"github.com/gin-gonic/gin"
	"github.com/tapclash/backend/internal/api/handlers"
	"github.com/tapclash/backend/internal/auth"
	"github.com/tapclash/backend/internal/config"
	"github.com/tapclash/backend/internal/middleware"
	"github.com/tapclash/backend/internal/wallet"
	"github.com/tapclash/backend/internal/ws"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, cfg *config.Config, store *wallet.Store, resolver *auth.Resolver, wsHandler *ws.Handler) {
	router.Use(middleware.CORSMiddleware(cfg))

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Health check
		v1.GET("/health", handlers.HealthCheck)

		// Wallet and profile reads
		w := v1.Group("/wallet")
		{
			w.GET("/balance", handlers.GetBalance(store, resolver))
			w.GET("/history", handlers.GetHistory(store, resolver))
		}
		v1.GET("/me", handlers.GetProfile(store, resolver))

		// WebSocket endpoints
		wsGroup := v1.Group("/ws")
		wsGroup.Use(middleware.WebSocketCORSCheck(cfg))
		{
			wsGroup.GET("/matchmaking", wsHandler.HandleMatchmaking)
			wsGroup.GET("/match/:match_id", wsHandler.HandleMatch)
		}
	}
}
