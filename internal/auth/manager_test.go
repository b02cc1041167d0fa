package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/KENTA-CMC/learning-program/internal/errors"
)

func newTestManager(t *testing.T, config Config) *AuthManager {
	t.Helper()
	if config.JWTSecret == "" {
		config.JWTSecret = "test-secret"
	}
	am, err := NewAuthManager(config, nil)
	require.NoError(t, err)
	return am
}

// fakeClock is a settable time source
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func TestNewAuthManagerDefaults(t *testing.T) {
	am, err := NewAuthManager(Config{}, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, am.config.JWTSecret)
	assert.Equal(t, 24*time.Hour, am.config.JWTExpiry)
	assert.Equal(t, 60, am.config.RateLimit)
	assert.IsType(t, &MemoryLimiter{}, am.limiter)

	admin, err := am.GetUser(AdminUserID)
	require.NoError(t, err)
	assert.Equal(t, "admin", admin.Username)
	assert.True(t, admin.HasRole(RoleAdmin))

	// without a configured password the admin cannot log in
	_, err = am.Authenticate("admin", "")
	assert.Equal(t, apperrors.ErrCodeInvalidCredentials, apperrors.CodeOf(err))
}

func TestAdminPassword(t *testing.T) {
	am := newTestManager(t, Config{AdminPassword: "s3cret"})

	user, err := am.Authenticate("admin", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, AdminUserID, user.ID)

	_, err = am.Authenticate("admin", "wrong")
	assert.Error(t, err)
}

func TestCreateUser(t *testing.T) {
	am := newTestManager(t, Config{})

	user, err := am.CreateUser("hanako", "hanako@example.com", "pw", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{RoleAnalyst}, user.Roles)
	assert.NotEqual(t, "pw", user.PasswordHash)
	assert.False(t, user.HasRole(RoleAdmin))

	_, err = am.CreateUser("hanako", "", "other", nil)
	assert.True(t, errors.Is(err, ErrUserExists))

	_, err = am.CreateUser("", "", "pw", nil)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))

	users := am.ListUsers()
	require.Len(t, users, 2)
	assert.Equal(t, "admin", users[0].Username)
	assert.Equal(t, "hanako", users[1].Username)
}

func TestAuthenticate(t *testing.T) {
	am := newTestManager(t, Config{})
	_, err := am.CreateUser("taro", "", "correct horse", nil)
	require.NoError(t, err)
	_, err = am.CreateUser("nopass", "", "", nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		username string
		password string
		ok       bool
	}{
		{"valid", "taro", "correct horse", true},
		{"wrong password", "taro", "battery staple", false},
		{"unknown user", "jiro", "correct horse", false},
		{"user without password", "nopass", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := am.Authenticate(tt.username, tt.password)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.username, user.Username)
				return
			}
			assert.Nil(t, user)
			assert.Equal(t, apperrors.ErrCodeInvalidCredentials, apperrors.CodeOf(err))
		})
	}
}

func TestTokens(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	am := newTestManager(t, Config{JWTExpiry: time.Hour})
	am.now = clock.now

	user, err := am.CreateUser("taro", "", "pw", []string{RoleAnalyst})
	require.NoError(t, err)

	token, expiresAt, err := am.IssueToken(user)
	require.NoError(t, err)
	assert.Equal(t, clock.t.Add(time.Hour), expiresAt)

	got, claims, err := am.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "taro", claims.Username)
	assert.Equal(t, "salesq", claims.Issuer)

	other := newTestManager(t, Config{JWTSecret: "another-secret"})
	_, _, err = other.ParseToken(token)
	assert.Error(t, err, "token signed with a different secret")

	_, _, err = am.ParseToken("not-a-token")
	assert.Error(t, err)

	user.Active = false
	_, _, err = am.ParseToken(token)
	assert.ErrorContains(t, err, "inactive")
	user.Active = true

	clock.t = clock.t.Add(2 * time.Hour)
	_, _, err = am.ParseToken(token)
	assert.Error(t, err, "expired token")
}

func TestAPIKeys(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	am := newTestManager(t, Config{})
	am.now = clock.now

	owner, err := am.CreateUser("owner", "", "pw", nil)
	require.NoError(t, err)
	stranger, err := am.CreateUser("stranger", "", "pw", nil)
	require.NoError(t, err)

	key, err := am.CreateAPIKey(owner.ID, "ci", []string{ScopeQuery}, 10, time.Hour)
	require.NoError(t, err)
	assert.Contains(t, key.Key, "sq_")
	assert.True(t, key.Allows(ScopeQuery))
	assert.False(t, key.Allows(ScopeHistory))

	user, validated, err := am.ValidateAPIKey(key.Key)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, user.ID)
	assert.Equal(t, 10, validated.RateLimit)
	assert.Empty(t, validated.Key, "validated keys never carry the secret")

	listed := am.ListAPIKeys(owner.ID)
	require.Len(t, listed, 1)
	assert.Empty(t, listed[0].Key)
	assert.False(t, listed[0].LastUsedAt.IsZero())
	assert.Empty(t, am.ListAPIKeys(stranger.ID))

	_, _, err = am.ValidateAPIKey("sq_wrong")
	assert.Error(t, err)

	_, err = am.CreateAPIKey("missing", "x", nil, 0, 0)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))

	assert.Error(t, am.RevokeAPIKey(stranger, key.ID))
	require.NoError(t, am.RevokeAPIKey(owner, key.ID))
	_, _, err = am.ValidateAPIKey(key.Key)
	assert.ErrorContains(t, err, "revoked")
}

func TestAPIKeyExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	am := newTestManager(t, Config{})
	am.now = clock.now

	admin, err := am.GetUser(AdminUserID)
	require.NoError(t, err)

	expiring, err := am.CreateAPIKey(admin.ID, "short", nil, 0, time.Minute)
	require.NoError(t, err)
	forever, err := am.CreateAPIKey(admin.ID, "forever", nil, 0, 0)
	require.NoError(t, err)
	assert.True(t, forever.ExpiresAt.IsZero())
	assert.True(t, forever.Allows(ScopeHistory), "unscoped keys grant everything")

	clock.t = clock.t.Add(2 * time.Minute)
	_, _, err = am.ValidateAPIKey(expiring.Key)
	assert.ErrorContains(t, err, "expired")
	_, _, err = am.ValidateAPIKey(forever.Key)
	assert.NoError(t, err)

	assert.Equal(t, 1, am.PruneExpiredKeys())
	assert.Len(t, am.ListAPIKeys(admin.ID), 1)
}
