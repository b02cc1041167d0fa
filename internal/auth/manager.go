// Package auth authenticates API callers with bearer tokens or API keys.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/KENTA-CMC/learning-program/internal/errors"
	"github.com/KENTA-CMC/learning-program/internal/observability"
)

// Roles
const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
)

// API key scopes
const (
	ScopeQuery   = "query"
	ScopeHistory = "history"
)

const (
	tokenIssuer  = "salesq"
	apiKeyPrefix = "sq_"

	// AdminUserID is fixed so tokens stay valid across replicas
	AdminUserID = "00000000-0000-0000-0000-000000000001"
)

// User is an account that can log in or own API keys
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasRole reports whether the user holds any of roles
func (u *User) HasRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range u.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// APIKey is a long-lived credential. Only its hash is kept; Key is set once,
// in the response that creates it.
type APIKey struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Key        string    `json:"key,omitempty"`
	HashedKey  string    `json:"-"`
	UserID     string    `json:"user_id"`
	Scopes     []string  `json:"scopes"`
	RateLimit  int       `json:"rate_limit"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
	Active     bool      `json:"active"`
}

// Allows reports whether the key grants scope. A key without scopes grants all.
func (k *APIKey) Allows(scope string) bool {
	if len(k.Scopes) == 0 {
		return true
	}
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ErrUserExists is returned when a username is taken
var ErrUserExists = stderrors.New("user already exists")

// Claims are the JWT claims of a bearer token
type Claims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// Config holds authentication configuration
type Config struct {
	JWTSecret      string
	JWTExpiry      time.Duration
	RateLimit      int // requests per minute per caller
	AllowAnonymous bool
	AdminPassword  string
}

// AuthManager keeps users and API keys in memory and issues tokens
type AuthManager struct {
	config  Config
	limiter Limiter
	logger  *observability.Logger
	now     func() time.Time

	mu         sync.RWMutex
	users      map[string]*User   // ID -> user
	byUsername map[string]*User   // username -> user
	apiKeys    map[string]*APIKey // key hash -> key
}

// NewAuthManager creates a manager with the built-in admin account. A nil
// limiter keeps rate limits in process memory.
func NewAuthManager(config Config, limiter Limiter) (*AuthManager, error) {
	if config.JWTExpiry == 0 {
		config.JWTExpiry = 24 * time.Hour
	}
	if config.RateLimit == 0 {
		config.RateLimit = 60
	}
	if config.JWTSecret == "" {
		secret, err := randomHex(32)
		if err != nil {
			return nil, err
		}
		config.JWTSecret = secret
	}
	if limiter == nil {
		limiter = NewMemoryLimiter()
	}

	am := &AuthManager{
		config:     config,
		limiter:    limiter,
		logger:     observability.NewLogger("auth"),
		now:        time.Now,
		users:      make(map[string]*User),
		byUsername: make(map[string]*User),
		apiKeys:    make(map[string]*APIKey),
	}
	if err := am.addUser(AdminUserID, "admin", "", config.AdminPassword, []string{RoleAdmin, RoleAnalyst}); err != nil {
		return nil, err
	}
	return am, nil
}

// SetLogger replaces the logger used for limiter failures
func (am *AuthManager) SetLogger(logger *observability.Logger) {
	am.logger = logger
}

// CreateUser adds an account. An empty password disables password login for it.
func (am *AuthManager) CreateUser(username, email, password string, roles []string) (*User, error) {
	if username == "" {
		return nil, errors.NewInvalidInputError("username", "username is required")
	}
	if len(roles) == 0 {
		roles = []string{RoleAnalyst}
	}
	id := uuid.New().String()
	if err := am.addUser(id, username, email, password, roles); err != nil {
		return nil, err
	}
	return am.GetUser(id)
}

func (am *AuthManager) addUser(id, username, email, password string, roles []string) error {
	var hash string
	if password != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		hash = string(b)
	}

	am.mu.Lock()
	defer am.mu.Unlock()

	if _, exists := am.byUsername[username]; exists {
		return fmt.Errorf("%w: %s", ErrUserExists, username)
	}
	user := &User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Roles:        roles,
		Active:       true,
		CreatedAt:    am.now().UTC(),
	}
	am.users[id] = user
	am.byUsername[username] = user
	return nil
}

// Authenticate checks a username and password
func (am *AuthManager) Authenticate(username, password string) (*User, error) {
	am.mu.RLock()
	user, exists := am.byUsername[username]
	am.mu.RUnlock()

	if !exists || !user.Active || user.PasswordHash == "" {
		return nil, errors.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errors.NewInvalidCredentialsError()
	}
	return user, nil
}

// GetUser retrieves a user by ID
func (am *AuthManager) GetUser(userID string) (*User, error) {
	am.mu.RLock()
	defer am.mu.RUnlock()

	user, exists := am.users[userID]
	if !exists {
		return nil, errors.NewNotFoundError("user", userID)
	}
	return user, nil
}

// ListUsers returns all users ordered by username
func (am *AuthManager) ListUsers() []*User {
	am.mu.RLock()
	defer am.mu.RUnlock()

	users := make([]*User, 0, len(am.users))
	for _, u := range am.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// IssueToken signs a bearer token for user
func (am *AuthManager) IssueToken(user *User) (string, time.Time, error) {
	now := am.now()
	expiresAt := now.Add(am.config.JWTExpiry)

	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   user.ID,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(am.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, errors.NewTokenCreationError(err)
	}
	return signed, expiresAt, nil
}

// ParseToken validates a bearer token and returns its active user
func (am *AuthManager) ParseToken(tokenString string) (*User, *Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(am.config.JWTSecret), nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(am.now))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, nil, fmt.Errorf("invalid token")
	}

	user, err := am.GetUser(claims.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("token user no longer exists")
	}
	if !user.Active {
		return nil, nil, fmt.Errorf("user is inactive")
	}
	return user, claims, nil
}

// CreateAPIKey creates a key for userID. A zero ttl never expires and a zero
// rateLimit uses the configured default.
func (am *AuthManager) CreateAPIKey(userID, name string, scopes []string, rateLimit int, ttl time.Duration) (*APIKey, error) {
	secret, err := randomHex(24)
	if err != nil {
		return nil, err
	}
	plain := apiKeyPrefix + secret

	am.mu.Lock()
	defer am.mu.Unlock()

	if _, exists := am.users[userID]; !exists {
		return nil, errors.NewNotFoundError("user", userID)
	}

	now := am.now().UTC()
	key := &APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		HashedKey: hashAPIKey(plain),
		UserID:    userID,
		Scopes:    scopes,
		RateLimit: rateLimit,
		CreatedAt: now,
		Active:    true,
	}
	if ttl > 0 {
		key.ExpiresAt = now.Add(ttl)
	}
	am.apiKeys[key.HashedKey] = key

	created := *key
	created.Key = plain
	return &created, nil
}

// ValidateAPIKey resolves a plaintext key to its owner
func (am *AuthManager) ValidateAPIKey(plain string) (*User, *APIKey, error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	key, exists := am.apiKeys[hashAPIKey(plain)]
	if !exists {
		return nil, nil, fmt.Errorf("invalid API key")
	}
	if !key.Active {
		return nil, nil, fmt.Errorf("API key is revoked")
	}
	now := am.now()
	if !key.ExpiresAt.IsZero() && now.After(key.ExpiresAt) {
		return nil, nil, fmt.Errorf("API key has expired")
	}

	user, exists := am.users[key.UserID]
	if !exists || !user.Active {
		return nil, nil, fmt.Errorf("API key owner is inactive")
	}

	key.LastUsedAt = now.UTC()
	snapshot := *key
	return user, &snapshot, nil
}

// RevokeAPIKey deactivates a key owned by caller. Admins may revoke any key.
func (am *AuthManager) RevokeAPIKey(caller *User, keyID string) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	for _, key := range am.apiKeys {
		if key.ID != keyID {
			continue
		}
		if key.UserID != caller.ID && !caller.HasRole(RoleAdmin) {
			break
		}
		key.Active = false
		return nil
	}
	return errors.NewNotFoundError("API key", keyID)
}

// ListAPIKeys returns userID's keys, newest first, without secrets
func (am *AuthManager) ListAPIKeys(userID string) []*APIKey {
	am.mu.RLock()
	defer am.mu.RUnlock()

	keys := make([]*APIKey, 0)
	for _, key := range am.apiKeys {
		if key.UserID == userID {
			snapshot := *key
			keys = append(keys, &snapshot)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys
}

// PruneExpiredKeys forgets expired keys and returns how many were removed
func (am *AuthManager) PruneExpiredKeys() int {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := am.now()
	removed := 0
	for hash, key := range am.apiKeys {
		if !key.ExpiresAt.IsZero() && now.After(key.ExpiresAt) {
			delete(am.apiKeys, hash)
			removed++
		}
	}
	return removed
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
