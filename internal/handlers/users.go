package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/signconnect/internal/middleware"
	"github.com/mossy-p/signconnect/internal/store"
)

// UpdateProfile changes first name, last name and avatar
func UpdateProfile(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req store.ProfileUpdate
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		user, err := s.UpdateUser(c.Request.Context(), middleware.UserID(c), req)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile"})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}
