package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"rate limit should be retryable", &APIError{Provider: "openai", StatusCode: 429, Message: "slow down"}, true},
		{"500 should be retryable", &APIError{Provider: "anthropic", StatusCode: 500}, true},
		{"503 should be retryable", fmt.Errorf("wrapped: %w", &APIError{StatusCode: 503}), true},
		{"401 should not be retryable", &APIError{Provider: "openai", StatusCode: 401, Message: "bad key"}, false},
		{"400 should not be retryable", &APIError{Provider: "openai", StatusCode: 400}, false},
		{"deadline should be retryable", context.DeadlineExceeded, true},
		{"cancellation should not be retryable", fmt.Errorf("HTTP request failed: %w", context.Canceled), false},
		{"timeout message should be retryable", &testError{msg: "request timeout exceeded"}, true},
		{"connection refused should be retryable", &testError{msg: "dial tcp: connection refused"}, true},
		{"unknown error should not be retryable", &testError{msg: "failed to unmarshal response"}, false},
		{"nil is not retryable", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isRetryableError(tt.err)
			if result != tt.expected {
				t.Errorf("isRetryableError() = %v, expected %v for error: %v", result, tt.expected, tt.err)
			}
		})
	}
}

func TestAPIErrorMessages(t *testing.T) {
	tests := []struct {
		err      *APIError
		contains string
	}{
		{&APIError{Provider: "openai", StatusCode: 401, Message: "nope"}, "invalid API key"},
		{&APIError{Provider: "openai", StatusCode: 429, Message: "nope"}, "rate limit exceeded"},
		{&APIError{Provider: "openai", StatusCode: 400, Message: "nope"}, "bad request"},
		{&APIError{Provider: "anthropic", StatusCode: 529, Message: "overloaded"}, "anthropic API error 529: overloaded"},
	}
	for _, tt := range tests {
		if !strings.Contains(tt.err.Error(), tt.contains) {
			t.Errorf("%q does not contain %q", tt.err.Error(), tt.contains)
		}
	}
}

func TestWithRetry(t *testing.T) {
	config := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	t.Run("retries transient failures", func(t *testing.T) {
		calls := 0
		text, err := withRetry(context.Background(), config, func() (string, error) {
			calls++
			if calls < 3 {
				return "", &APIError{StatusCode: 503}
			}
			return "ok", nil
		})
		if err != nil || text != "ok" || calls != 3 {
			t.Fatalf("got %q, %v after %d calls", text, err, calls)
		}
	})

	t.Run("stops on permanent failure", func(t *testing.T) {
		calls := 0
		_, err := withRetry(context.Background(), config, func() (string, error) {
			calls++
			return "", &APIError{StatusCode: 401}
		})
		if err == nil || calls != 1 {
			t.Fatalf("expected one failing call, got %d (%v)", calls, err)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		_, err := withRetry(context.Background(), config, func() (string, error) {
			calls++
			return "", &APIError{StatusCode: 500}
		})
		if calls != 3 || err == nil || !strings.Contains(err.Error(), "max retries (2) exceeded") {
			t.Fatalf("got %d calls, err %v", calls, err)
		}
	})

	t.Run("honours cancellation between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := RetryConfig{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}
		_, err := withRetry(ctx, slow, func() (string, error) {
			cancel()
			return "", &APIError{StatusCode: 503}
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	})
}

func TestCalculateBackoff(t *testing.T) {
	baseDelay := 100 * time.Millisecond
	maxDelay := 5 * time.Second

	tests := []struct {
		name           string
		attempt        int
		expectedMin    time.Duration
		expectedMax    time.Duration
	}{
		{
			name:        "first retry (attempt 0)",
			attempt:     0,
			expectedMin: 50 * time.Millisecond,  // baseDelay * 2^0 * 0.5 (min jitter)
			expectedMax: 150 * time.Millisecond, // baseDelay * 2^0 * 1.5 (max jitter)
		},
		{
			name:        "second retry (attempt 1)",
			attempt:     1,
			expectedMin: 100 * time.Millisecond, // baseDelay * 2^1 * 0.5
			expectedMax: 300 * time.Millisecond, // baseDelay * 2^1 * 1.5
		},
		{
			name:        "third retry (attempt 2)",
			attempt:     2,
			expectedMin: 200 * time.Millisecond, // baseDelay * 2^2 * 0.5
			expectedMax: 600 * time.Millisecond, // baseDelay * 2^2 * 1.5
		},
		{
			name:        "large attempt should cap at maxDelay",
			attempt:     10,
			expectedMin: 2500 * time.Millisecond, // maxDelay * 0.5 (min jitter)
			expectedMax: 7500 * time.Millisecond, // maxDelay * 1.5 (max jitter, capped at maxDelay)
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Run multiple times to account for jitter
			for i := 0; i < 10; i++ {
				delay := calculateBackoff(tt.attempt, baseDelay, maxDelay)

				// Check if delay is within expected range
				if delay < tt.expectedMin {
					t.Errorf("calculateBackoff() = %v, expected >= %v", delay, tt.expectedMin)
				}
				// For large attempts, the max with jitter can exceed maxDelay, but should be reasonable
				maxAllowed := tt.expectedMax
				if tt.attempt > 5 {
					maxAllowed = maxDelay * 2 // Allow 2x maxDelay with jitter
				}
				if delay > maxAllowed {
					t.Errorf("calculateBackoff() = %v, expected <= %v", delay, maxAllowed)
				}
			}
		})
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	if DefaultRetryConfig.MaxRetries != 3 {
		t.Errorf("DefaultRetryConfig.MaxRetries = %d, expected 3", DefaultRetryConfig.MaxRetries)
	}
	if DefaultRetryConfig.BaseDelay != 100*time.Millisecond {
		t.Errorf("DefaultRetryConfig.BaseDelay = %v, expected 100ms", DefaultRetryConfig.BaseDelay)
	}
	if DefaultRetryConfig.MaxDelay != 5*time.Second {
		t.Errorf("DefaultRetryConfig.MaxDelay = %v, expected 5s", DefaultRetryConfig.MaxDelay)
	}
}

// testError is a simple error type for testing
type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
