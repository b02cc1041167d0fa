package auth

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KENTA-CMC/learning-program/internal/errors"
)

// DefaultKeyLifetime applies when a key request names no expiry
const DefaultKeyLifetime = 30 * 24 * time.Hour

// AuthHandlers serves login, API key and user administration routes
type AuthHandlers struct {
	authManager *AuthManager
}

// NewAuthHandlers creates the auth route handlers
func NewAuthHandlers(authManager *AuthManager) *AuthHandlers {
	return &AuthHandlers{authManager: authManager}
}

// SetupRoutes registers the routes on r, which must already run the auth
// middleware
func (ah *AuthHandlers) SetupRoutes(r *gin.RouterGroup) {
	r.POST("/auth/login", ah.Login)
	r.GET("/auth/status", ah.Status)
	r.GET("/auth/me", ah.Me)

	r.GET("/api-keys", ah.ListAPIKeys)
	r.POST("/api-keys", ah.CreateAPIKey)
	r.DELETE("/api-keys/:id", ah.RevokeAPIKey)

	admin := r.Group("/admin", ah.authManager.RequireRole(RoleAdmin))
	{
		admin.GET("/users", ah.ListUsers)
		admin.POST("/users", ah.CreateUser)
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries a bearer token
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// Login exchanges a username and password for a bearer token
func (ah *AuthHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, errors.NewInvalidInputError("request body", err.Error()))
		return
	}

	user, err := ah.authManager.Authenticate(req.Username, req.Password)
	if err != nil {
		abort(c, http.StatusUnauthorized, errors.NewInvalidCredentialsError())
		return
	}

	token, expiresAt, err := ah.authManager.IssueToken(user)
	if err != nil {
		abort(c, http.StatusInternalServerError, errors.NewTokenCreationError(err))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt, User: user})
}

// Status describes the authentication requirements without credentials
func (ah *AuthHandlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"anonymous_allowed": ah.authManager.config.AllowAnonymous,
		"token_expiry":      ah.authManager.config.JWTExpiry.String(),
		"rate_limit":        ah.authManager.config.RateLimit,
		"methods":           []string{MethodBearer, MethodAPIKey},
	})
}

// Me returns the caller
func (ah *AuthHandlers) Me(c *gin.Context) {
	p, ok := GetPrincipal(c)
	if !ok {
		abort(c, http.StatusUnauthorized, errors.NewNotAuthenticatedError())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"method":  p.Method,
		"user":    p.User,
		"api_key": p.APIKey,
	})
}

// CreateAPIKeyRequest represents a request to create an API key
type CreateAPIKeyRequest struct {
	Name      string   `json:"name" binding:"required"`
	Scopes    []string `json:"scopes"`
	RateLimit int      `json:"rate_limit"`
	ExpiresIn string   `json:"expires_in"` // e.g. "30d", "2w", "1y", "720h"
}

// CreateAPIKey creates a key for the caller. The plaintext key is only ever
// returned here.
func (ah *AuthHandlers) CreateAPIKey(c *gin.Context) {
	user, ok := GetCurrentUser(c)
	if !ok {
		abort(c, http.StatusUnauthorized, errors.NewNotAuthenticatedError())
		return
	}

	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, errors.NewInvalidInputError("request body", err.Error()))
		return
	}
	for _, scope := range req.Scopes {
		if scope != ScopeQuery && scope != ScopeHistory {
			abort(c, http.StatusBadRequest, errors.NewInvalidInputError("scopes", fmt.Sprintf("unknown scope %q", scope)))
			return
		}
	}
	ttl, err := parseLifetime(req.ExpiresIn)
	if err != nil {
		abort(c, http.StatusBadRequest, errors.NewInvalidInputError("expires_in", err.Error()))
		return
	}

	key, err := ah.authManager.CreateAPIKey(user.ID, req.Name, req.Scopes, req.RateLimit, ttl)
	if err != nil {
		abort(c, http.StatusInternalServerError, errors.Wrap(err, errors.ErrCodeTokenCreation, "Failed to create API key"))
		return
	}
	c.JSON(http.StatusCreated, key)
}

// ListAPIKeys returns the caller's keys
func (ah *AuthHandlers) ListAPIKeys(c *gin.Context) {
	user, ok := GetCurrentUser(c)
	if !ok {
		abort(c, http.StatusUnauthorized, errors.NewNotAuthenticatedError())
		return
	}
	keys := ah.authManager.ListAPIKeys(user.ID)
	c.JSON(http.StatusOK, gin.H{"api_keys": keys, "count": len(keys)})
}

// RevokeAPIKey revokes one of the caller's keys
func (ah *AuthHandlers) RevokeAPIKey(c *gin.Context) {
	user, ok := GetCurrentUser(c)
	if !ok {
		abort(c, http.StatusUnauthorized, errors.NewNotAuthenticatedError())
		return
	}
	if err := ah.authManager.RevokeAPIKey(user, c.Param("id")); err != nil {
		abort(c, http.StatusNotFound, errors.NewNotFoundError("API key", c.Param("id")))
		return
	}
	c.Status(http.StatusNoContent)
}

// CreateUserRequest represents a request to create a user
type CreateUserRequest struct {
	Username string   `json:"username" binding:"required"`
	Email    string   `json:"email"`
	Password string   `json:"password" binding:"required"`
	Roles    []string `json:"roles"`
}

// CreateUser creates an account (admin only)
func (ah *AuthHandlers) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, errors.NewInvalidInputError("request body", err.Error()))
		return
	}

	user, err := ah.authManager.CreateUser(req.Username, req.Email, req.Password, req.Roles)
	if err != nil {
		switch {
		case stderrors.Is(err, ErrUserExists):
			abort(c, http.StatusConflict, errors.NewInvalidInputError("username", err.Error()))
		case errors.CodeOf(err) == errors.ErrCodeInvalidInput:
			abort(c, http.StatusBadRequest, err.(*errors.EnhancedError))
		default:
			abort(c, http.StatusInternalServerError, errors.Wrap(err, errors.ErrCodeInternal, "Failed to create user"))
		}
		return
	}
	c.JSON(http.StatusCreated, user)
}

// ListUsers returns all users (admin only)
func (ah *AuthHandlers) ListUsers(c *gin.Context) {
	users := ah.authManager.ListUsers()
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

var lifetimeUnits = map[string]time.Duration{
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
	"y": 365 * 24 * time.Hour,
}

// parseLifetime accepts Go durations plus day, week and year suffixes.
// "never" means the key does not expire.
func parseLifetime(s string) (time.Duration, error) {
	switch s {
	case "":
		return DefaultKeyLifetime, nil
	case "never":
		return 0, nil
	}

	for suffix, unit := range lifetimeUnits {
		if n, ok := strings.CutSuffix(s, suffix); ok {
			count, err := strconv.Atoi(n)
			if err != nil || count <= 0 {
				return 0, fmt.Errorf("invalid lifetime %q", s)
			}
			return time.Duration(count) * unit, nil
		}
	}

	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid lifetime %q", s)
	}
	return d, nil
}
