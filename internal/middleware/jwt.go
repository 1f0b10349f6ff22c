package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/signconnect/internal/auth"
)

const (
	userIDKey   = "user_id"
	identityKey = "identity"
)

// JWTAuth creates middleware that validates bearer tokens with v
func JWTAuth(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format",
			})
			return
		}

		id, err := v.Verify(c.Request.Context(), parts[1])
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "Token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		SetIdentity(c, id)
		c.Next()
	}
}

// SetIdentity stores the caller in the request context for handlers.
func SetIdentity(c *gin.Context, id auth.Identity) {
	c.Set(userIDKey, id.UserID)
	c.Set(identityKey, id)
}

// UserID returns the authenticated user ID, or "" outside JWTAuth.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func Identity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
