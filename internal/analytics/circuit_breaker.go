package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/KENTA-CMC/learning-program/internal/sqlguard"
)

// CircuitBreakerConfig defines circuit breaker configuration for the engine
type CircuitBreakerConfig struct {
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration
	ReadyToTrip   func(counts gobreaker.Counts) bool
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig trips on five consecutive failures or a 60% failure ratio
var DefaultCircuitBreakerConfig = CircuitBreakerConfig{
	MaxRequests: 1,
	Interval:    10 * time.Second,
	Timeout:     30 * time.Second,
	ReadyToTrip: func(counts gobreaker.Counts) bool {
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return counts.Requests >= 3 && (counts.ConsecutiveFailures >= 5 || failureRatio >= 0.6)
	},
}

// CircuitBreakerEngine wraps an Engine with circuit breaker protection.
// Context cancellation is not counted as an engine failure.
type CircuitBreakerEngine struct {
	engine  Engine
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerEngine creates a new circuit breaker wrapped engine
func NewCircuitBreakerEngine(engine Engine, name string, config CircuitBreakerConfig) *CircuitBreakerEngine {
	settings := gobreaker.Settings{
		Name:          name,
		MaxRequests:   config.MaxRequests,
		Interval:      config.Interval,
		Timeout:       config.Timeout,
		ReadyToTrip:   config.ReadyToTrip,
		OnStateChange: config.OnStateChange,
		IsSuccessful: func(err error) bool {
			return err == nil || err == context.Canceled
		},
	}

	return &CircuitBreakerEngine{
		engine:  engine,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Execute wraps the engine's Execute with circuit breaker protection
func (cb *CircuitBreakerEngine) Execute(ctx context.Context, q sqlguard.Query) (*Result, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		res, err := cb.engine.Execute(ctx, q)
		if err != nil && ctx.Err() == context.Canceled {
			return nil, context.Canceled
		}
		return res, err
	})
	if err != nil {
		return nil, fmt.Errorf("circuit breaker: %w", err)
	}
	return result.(*Result), nil
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreakerEngine) State() gobreaker.State {
	return cb.breaker.State()
}

// Counts returns the current failure counts
func (cb *CircuitBreakerEngine) Counts() gobreaker.Counts {
	return cb.breaker.Counts()
}
