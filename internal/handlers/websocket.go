package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mossy-p/signconnect/internal/auth"
	"github.com/mossy-p/signconnect/internal/signaling"
	"github.com/mossy-p/signconnect/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// HandleSignaling authenticates the handshake and hands the upgraded
// connection to the hub. Unauthenticated requests never get upgraded.
func HandleSignaling(hub *signaling.Hub, verifier auth.Verifier, users store.Store, logger hclog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.TokenFromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication error"})
			return
		}
		id, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			msg := "Authentication error"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "Token expired"
			}
			logger.Debug("rejected relay connection", "remote", c.ClientIP(), "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		if id.Name == "" && users != nil {
			id.Name = lookupName(c.Request.Context(), users, id.UserID)
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection", "error", err)
			return
		}
		hub.Serve(conn, id)
	}
}

func lookupName(ctx context.Context, users store.Store, userID string) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	user, err := users.UserByID(ctx, userID)
	if err != nil {
		return ""
	}
	return user.DisplayName()
}
