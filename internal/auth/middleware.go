package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/KENTA-CMC/learning-program/internal/errors"
	"github.com/KENTA-CMC/learning-program/internal/observability"
)

const (
	principalKey = "auth.principal"
	apiKeyHeader = "X-API-Key"
)

// Authentication methods
const (
	MethodBearer    = "bearer"
	MethodAPIKey    = "api_key"
	MethodAnonymous = "anonymous"
)

// Principal is the authenticated caller of a request
type Principal struct {
	User   *User   // nil for anonymous callers
	APIKey *APIKey // set only for API key callers
	Method string
}

// Middleware authenticates requests with a bearer token or an API key and
// enforces the per-caller rate limit. Requests without credentials pass as
// anonymous only when anonymous access is enabled; bad credentials never do.
func (am *AuthManager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if shouldSkipAuth(c.Request.URL.Path) {
			c.Next()
			return
		}

		principal, presented, err := am.authenticate(c)
		if err != nil {
			if presented || !am.config.AllowAnonymous {
				abort(c, http.StatusUnauthorized, errors.NewNotAuthenticatedError().WithDetails(err.Error()))
				return
			}
			principal = &Principal{Method: MethodAnonymous}
		}

		ctx := c.Request.Context()
		limit := am.config.RateLimit
		if principal.APIKey != nil && principal.APIKey.RateLimit > 0 {
			limit = principal.APIKey.RateLimit
		}
		allowed, err := am.limiter.Allow(ctx, clientID(c, principal), limit)
		if err != nil {
			// the limiter store is down; serve the request rather than fail closed
			am.logger.Warn(ctx, "Rate limiter unavailable", map[string]interface{}{
				"error": err.Error(),
			})
			allowed = true
		}
		if !allowed {
			abort(c, http.StatusTooManyRequests, errors.New(errors.ErrCodeRateLimited, "Rate limit exceeded").
				WithSuggestion("Wait a minute before sending more questions."))
			return
		}

		c.Set(principalKey, principal)
		if principal.User != nil {
			c.Request = c.Request.WithContext(observability.WithUserID(ctx, principal.User.ID))
		}
		c.Next()
	}
}

// RequireRole rejects callers that hold none of roles
func (am *AuthManager) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := GetCurrentUser(c)
		if !ok {
			abort(c, http.StatusUnauthorized, errors.NewNotAuthenticatedError())
			return
		}
		if !user.HasRole(roles...) {
			abort(c, http.StatusForbidden, errors.New(errors.ErrCodeInsufficientPerms, "Insufficient permissions").
				WithDetails("Requires role: "+strings.Join(roles, " or ")))
			return
		}
		c.Next()
	}
}

// RequireScope rejects API keys that do not grant scope. Token and anonymous
// callers are not scoped.
func (am *AuthManager) RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p, ok := GetPrincipal(c); ok && p.APIKey != nil && !p.APIKey.Allows(scope) {
			abort(c, http.StatusForbidden, errors.New(errors.ErrCodeInsufficientPerms, "Insufficient permissions").
				WithDetails("API key lacks scope "+scope))
			return
		}
		c.Next()
	}
}

// authenticate reports whether credentials were presented at all
func (am *AuthManager) authenticate(c *gin.Context) (*Principal, bool, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return nil, true, errMalformedAuthorization
		}
		user, _, err := am.ParseToken(strings.TrimSpace(token))
		if err != nil {
			return nil, true, err
		}
		return &Principal{User: user, Method: MethodBearer}, true, nil
	}

	if key := c.GetHeader(apiKeyHeader); key != "" {
		user, apiKey, err := am.ValidateAPIKey(key)
		if err != nil {
			return nil, true, err
		}
		return &Principal{User: user, APIKey: apiKey, Method: MethodAPIKey}, true, nil
	}

	return nil, false, errNoCredentials
}

var (
	errMalformedAuthorization = fmt.Errorf("authorization header must use the Bearer scheme")
	errNoCredentials          = fmt.Errorf("no credentials presented")
)

// shouldSkipAuth lists the routes reachable without credentials
func shouldSkipAuth(path string) bool {
	switch path {
	case "/health", "/metrics", "/api/v1/auth/login", "/api/v1/auth/status":
		return true
	}
	return false
}

// clientID keys the rate limit
func clientID(c *gin.Context, p *Principal) string {
	switch {
	case p.APIKey != nil:
		return "key:" + p.APIKey.ID
	case p.User != nil:
		return "user:" + p.User.ID
	default:
		return "ip:" + c.ClientIP()
	}
}

func abort(c *gin.Context, status int, err *errors.EnhancedError) {
	body := gin.H{
		"code":    err.Code,
		"message": err.Message,
	}
	if err.Details != "" {
		body["details"] = err.Details
	}
	if err.Suggestion != "" {
		body["suggestion"] = err.Suggestion
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

// GetPrincipal returns the authenticated caller
func GetPrincipal(c *gin.Context) (*Principal, bool) {
	value, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	p, ok := value.(*Principal)
	return p, ok
}

// GetCurrentUser returns the authenticated user, if the caller is not anonymous
func GetCurrentUser(c *gin.Context) (*User, bool) {
	p, ok := GetPrincipal(c)
	if !ok || p.User == nil {
		return nil, false
	}
	return p.User, true
}
