package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mossy-p/signconnect/internal/auth"
	"github.com/mossy-p/signconnect/internal/logging"
	"github.com/mossy-p/signconnect/internal/middleware"
	"github.com/mossy-p/signconnect/internal/signaling"
	"github.com/mossy-p/signconnect/internal/store"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	AllowedOrigins []string
	Store          store.Store
	Tokens         *auth.TokenService
	// Verifier accepts relay and API tokens; defaults to Tokens.
	Verifier  auth.Verifier
	Hub       *signaling.Hub
	Occupancy Occupancy
	Cache     RoomCache
	Logger    hclog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Verifier == nil {
		d.Verifier = d.Tokens
	}
	logger := d.Logger.Named("http")
	out := logging.Writer(logger)

	router := gin.New()
	router.Use(gin.LoggerWithWriter(out, "/health"), gin.RecoveryWithWriter(out))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(d.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": d.Hub.Tracker().Rooms()})
	})

	requireAuth := middleware.JWTAuth(d.Verifier)
	rooms := &RoomHandlers{Store: d.Store, Hub: d.Hub, Occupancy: d.Occupancy, Cache: d.Cache, Logger: logger}

	api := router.Group("/api")
	{
		api.POST("/auth/register", Register(d.Store, d.Tokens, logger))
		api.POST("/auth/login", Login(d.Store, d.Tokens))
		api.GET("/auth/me", requireAuth, Me(d.Store))

		api.GET("/users/profile", requireAuth, Me(d.Store))
		api.PUT("/users/profile", requireAuth, UpdateProfile(d.Store))

		api.POST("/rooms", requireAuth, rooms.CreateRoom)
		api.GET("/rooms/history", requireAuth, rooms.RoomHistory)
		api.GET("/rooms/:roomId", requireAuth, rooms.GetRoom)
		api.GET("/rooms/:roomId/messages", requireAuth, rooms.RoomMessages)
		api.DELETE("/rooms/:roomId", requireAuth, rooms.DeleteRoom)
	}

	// WebSocket signaling endpoint
	router.GET("/ws", HandleSignaling(d.Hub, d.Verifier, d.Store, logger))

	return router
}
