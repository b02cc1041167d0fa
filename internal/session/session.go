// Package session keeps the per-conversation chat transcript in Redis.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	transcriptPrefix = "chat:"
	sessionIDLen     = 24

	// MaxMessages is how many of the newest messages a transcript keeps
	MaxMessages = 200
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrInvalidRole is returned when a message has a role other than user or assistant
var ErrInvalidRole = errors.New("role must be user or assistant")

// Message is one chat turn
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager handles transcript storage and retrieval
type Manager struct {
	redis  *redis.Client
	expiry time.Duration
	now    func() time.Time
}

// NewManager creates a new transcript manager. Transcripts expire after
// expiry without activity.
func NewManager(redisClient *redis.Client, expiry time.Duration) *Manager {
	return &Manager{
		redis:  redisClient,
		expiry: expiry,
		now:    time.Now,
	}
}

// NewID returns a fresh random session ID
func NewID() (string, error) {
	b := make([]byte, sessionIDLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Append adds msg to the end of the transcript and extends its expiry
func (m *Manager) Append(ctx context.Context, sessionID string, msg Message) error {
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return ErrInvalidRole
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := transcriptPrefix + sessionID
	_, err = m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -MaxMessages, -1)
		pipe.Expire(ctx, key, m.expiry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

// Messages returns the transcript in order. An unknown session has no messages.
func (m *Manager) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	raw, err := m.redis.LRange(ctx, transcriptPrefix+sessionID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}

	messages := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Delete removes a transcript
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.redis.Del(ctx, transcriptPrefix+sessionID).Err()
}

// Refresh extends the transcript expiry
func (m *Manager) Refresh(ctx context.Context, sessionID string) error {
	return m.redis.Expire(ctx, transcriptPrefix+sessionID, m.expiry).Err()
}
