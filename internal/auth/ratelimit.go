package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const rateWindow = time.Minute

// Limiter decides whether a caller may make another request this minute
type Limiter interface {
	Allow(ctx context.Context, clientID string, limitPerMinute int) (bool, error)
}

// RedisLimiter counts requests in fixed one-minute windows shared by every
// replica
type RedisLimiter struct {
	redis *redis.Client
	now   func() time.Time
}

// NewRedisLimiter creates a limiter backed by client
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{redis: client, now: time.Now}
}

// Allow increments the caller's counter for the current window
func (l *RedisLimiter) Allow(ctx context.Context, clientID string, limitPerMinute int) (bool, error) {
	window := l.now().Unix() / int64(rateWindow/time.Second)
	key := fmt.Sprintf("ratelimit:%s:%d", clientID, window)

	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*rateWindow)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to update rate limit: %w", err)
	}
	return incr.Val() <= int64(limitPerMinute), nil
}

// MemoryLimiter is a per-process sliding window limiter
type MemoryLimiter struct {
	mu        sync.Mutex
	clients   map[string][]time.Time
	now       func() time.Time
	lastPrune time.Time
}

// NewMemoryLimiter creates an in-process limiter
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		clients: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records the request if the caller is under its limit
func (l *MemoryLimiter) Allow(_ context.Context, clientID string, limitPerMinute int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-rateWindow)
	if now.Sub(l.lastPrune) > 5*rateWindow {
		l.prune(windowStart)
		l.lastPrune = now
	}

	recent := inWindow(l.clients[clientID], windowStart)
	if len(recent) >= limitPerMinute {
		l.clients[clientID] = recent
		return false, nil
	}
	l.clients[clientID] = append(recent, now)
	return true, nil
}

// Clients returns how many callers made a request in the last minute
func (l *MemoryLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now().Add(-rateWindow))
	return len(l.clients)
}

func (l *MemoryLimiter) prune(windowStart time.Time) {
	for id, requests := range l.clients {
		if recent := inWindow(requests, windowStart); len(recent) > 0 {
			l.clients[id] = recent
		} else {
			delete(l.clients, id)
		}
	}
}

// inWindow drops timestamps at or before windowStart; requests are in order
func inWindow(requests []time.Time, windowStart time.Time) []time.Time {
	i := 0
	for i < len(requests) && !requests[i].After(windowStart) {
		i++
	}
	return requests[i:]
}
