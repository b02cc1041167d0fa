package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// RetryConfig defines retry behavior for provider calls
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts
	BaseDelay  time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries
}

// DefaultRetryConfig provides sensible defaults for retry behavior
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  100 * time.Millisecond,
	MaxDelay:   5 * time.Second,
}

// APIError is a non-2xx answer from a provider
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Sprintf("%s: invalid API key: %s", e.Provider, e.Message)
	case http.StatusTooManyRequests:
		return fmt.Sprintf("%s: rate limit exceeded: %s", e.Provider, e.Message)
	case http.StatusBadRequest:
		return fmt.Sprintf("%s: bad request: %s", e.Provider, e.Message)
	default:
		return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Message)
	}
}

// withRetry runs call until it succeeds, fails permanently or runs out of attempts
func withRetry(ctx context.Context, config RetryConfig, call func() (string, error)) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		text, err := call()
		if err == nil {
			return text, nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return "", err
		}
		if attempt == config.MaxRetries {
			break
		}

		delay := calculateBackoff(attempt, config.BaseDelay, config.MaxDelay)
		select {
		case <-time.After(delay):
			continue
		case <-ctx.Done():
			return "", fmt.Errorf("request cancelled during retry: %w", ctx.Err())
		}
	}

	if config.MaxRetries == 0 {
		return "", lastErr
	}
	return "", fmt.Errorf("max retries (%d) exceeded: %w", config.MaxRetries, lastErr)
}

// isRetryableError determines if an error should be retried
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return isHTTPStatusRetryable(apiErr.StatusCode)
	}

	// The caller gave up; retrying cannot help
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMsg := err.Error()
	for _, transient := range []string{"timeout", "deadline exceeded", "connection refused", "connection reset", "EOF"} {
		if strings.Contains(errMsg, transient) {
			return true
		}
	}
	return false
}

// calculateBackoff calculates the delay before the next retry attempt.
// Uses exponential backoff with jitter to avoid thundering herd.
func calculateBackoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt))) * baseDelay
	if delay > maxDelay {
		delay = maxDelay
	}

	// random factor between 0.5 and 1.5
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(delay) * jitter)
}

// isHTTPStatusRetryable checks if an HTTP status code should be retried
func isHTTPStatusRetryable(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
