package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mossy-p/signconnect/internal/auth"
	"github.com/mossy-p/signconnect/internal/middleware"
	"github.com/mossy-p/signconnect/internal/models"
	"github.com/mossy-p/signconnect/internal/store"
)

func issue(tokens *auth.TokenService, user *store.User) (string, error) {
	return tokens.Issue(auth.Identity{UserID: user.ID, Email: user.Email, Name: user.DisplayName()})
}

// Register creates an account and logs it in
func Register(s store.Store, tokens *auth.TokenService, logger hclog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			logger.Error("failed to hash password", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
			return
		}

		email := strings.ToLower(strings.TrimSpace(req.Email))
		user := &store.User{
			Email:     email,
			Username:  strings.SplitN(email, "@", 2)[0],
			FirstName: req.Name,
			Password:  hash,
		}
		if err := s.CreateUser(c.Request.Context(), user); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "User already exists"})
				return
			}
			logger.Error("failed to create user", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
			return
		}

		token, err := issue(tokens, user)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}
		logger.Info("user registered", "user", user.ID)
		c.JSON(http.StatusCreated, models.AuthResponse{Token: token, User: user})
	}
}

// Login checks the credentials and returns a fresh token
func Login(s store.Store, tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		user, err := s.UserByEmail(c.Request.Context(), req.Email)
		if err != nil || !auth.CheckPassword(user.Password, req.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}

		token, err := issue(tokens, user)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}
		c.JSON(http.StatusOK, models.AuthResponse{Token: token, User: user})
	}
}

// Me returns the caller's account
func Me(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.UserByID(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}
