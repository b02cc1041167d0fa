package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/KENTA-CMC/learning-program/internal/observability"
)

// CircuitBreakerConfig defines circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxRequests   uint32        // Max requests allowed in half-open state
	Interval      time.Duration // Window for counting failures
	Timeout       time.Duration // Duration circuit stays open before trying recovery
	ReadyToTrip   func(counts gobreaker.Counts) bool
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig opens after a burst of failures and probes again after 30s
var DefaultCircuitBreakerConfig = CircuitBreakerConfig{
	MaxRequests: 1,
	Interval:    10 * time.Second,
	Timeout:     30 * time.Second,
	ReadyToTrip: func(counts gobreaker.Counts) bool {
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return counts.Requests >= 3 && (counts.ConsecutiveFailures >= 5 || failureRatio >= 0.6)
	},
}

// LogStateChanges returns config with state transitions reported through logger
func LogStateChanges(config CircuitBreakerConfig, logger *observability.Logger) CircuitBreakerConfig {
	config.OnStateChange = func(name string, from gobreaker.State, to gobreaker.State) {
		logger.Warn(context.Background(), "Circuit breaker state changed", map[string]interface{}{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		})
	}
	return config
}

// CircuitBreakerClient wraps an LLM client with circuit breaker protection
type CircuitBreakerClient struct {
	client  Client
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerClient creates a new circuit breaker wrapped client
func NewCircuitBreakerClient(client Client, name string, config CircuitBreakerConfig) *CircuitBreakerClient {
	settings := gobreaker.Settings{
		Name:          name,
		MaxRequests:   config.MaxRequests,
		Interval:      config.Interval,
		Timeout:       config.Timeout,
		ReadyToTrip:   config.ReadyToTrip,
		OnStateChange: config.OnStateChange,
	}

	return &CircuitBreakerClient{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// GenerateSQL wraps the client's GenerateSQL with circuit breaker protection
func (cb *CircuitBreakerClient) GenerateSQL(ctx context.Context, userQuery, schemaInfo string) (string, error) {
	return cb.execute(func() (string, error) {
		return cb.client.GenerateSQL(ctx, userQuery, schemaInfo)
	})
}

// GenerateSummary wraps the client's GenerateSummary with circuit breaker protection
func (cb *CircuitBreakerClient) GenerateSummary(ctx context.Context, query, sql, resultCSV string) (string, error) {
	return cb.execute(func() (string, error) {
		return cb.client.GenerateSummary(ctx, query, sql, resultCSV)
	})
}

func (cb *CircuitBreakerClient) execute(call func() (string, error)) (string, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return call()
	})
	if err != nil {
		return "", fmt.Errorf("circuit breaker: %w", err)
	}
	return result.(string), nil
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreakerClient) State() gobreaker.State {
	return cb.breaker.State()
}

// Counts returns the current failure counts
func (cb *CircuitBreakerClient) Counts() gobreaker.Counts {
	return cb.breaker.Counts()
}
