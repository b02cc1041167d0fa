package observability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check for a component
type HealthCheck struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration_ms"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// HealthCheckFunc is a function that performs a health check
type HealthCheckFunc func(context.Context) *HealthCheck

// HealthChecker runs registered checks and caches their results for a short TTL
type HealthChecker struct {
	service string
	version string
	checks  map[string]HealthCheckFunc
	cache   map[string]*HealthCheck
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		checks:  make(map[string]HealthCheckFunc),
		cache:   make(map[string]*HealthCheck),
		ttl:     5 * time.Second,
		now:     time.Now,
	}
}

// Register registers a health check
func (hc *HealthChecker) Register(name string, check HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
	delete(hc.cache, name)
}

// Check performs all health checks, reusing results younger than the TTL
func (hc *HealthChecker) Check(ctx context.Context) map[string]*HealthCheck {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	results := make(map[string]*HealthCheck, len(hc.checks))
	for name, checkFunc := range hc.checks {
		if cached, ok := hc.cache[name]; ok && hc.now().Sub(cached.LastChecked) < hc.ttl {
			results[name] = cached
			continue
		}
		result := checkFunc(ctx)
		result.LastChecked = hc.now()
		hc.cache[name] = result
		results[name] = result
	}
	return results
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status    HealthStatus            `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*HealthCheck `json:"checks"`
	Metadata  map[string]interface{}  `json:"metadata,omitempty"`
}

// GetHealthResponse returns a complete health response
func (hc *HealthChecker) GetHealthResponse(ctx context.Context) *HealthResponse {
	checks := hc.Check(ctx)
	return &HealthResponse{
		Status:    overallStatus(checks),
		Timestamp: time.Now(),
		Checks:    checks,
		Metadata: map[string]interface{}{
			"version": hc.version,
			"service": hc.service,
		},
	}
}

func overallStatus(checks map[string]*HealthCheck) HealthStatus {
	status := HealthStatusHealthy
	for _, check := range checks {
		switch check.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}

// PingCheck builds a check around a ping function. A failing ping reports failStatus.
func PingCheck(name string, timeout time.Duration, failStatus HealthStatus, ping func(context.Context) error) HealthCheckFunc {
	return func(ctx context.Context) *HealthCheck {
		start := time.Now()

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := ping(ctx)
		duration := time.Since(start)

		if err != nil {
			return &HealthCheck{
				Name:     name,
				Status:   failStatus,
				Message:  Mask(fmt.Sprintf("%s unavailable: %v", name, err)),
				Duration: duration,
			}
		}
		return &HealthCheck{
			Name:     name,
			Status:   HealthStatusHealthy,
			Message:  fmt.Sprintf("%s reachable", name),
			Duration: duration,
			Metadata: map[string]interface{}{
				"response_time_ms": duration.Milliseconds(),
			},
		}
	}
}

// DatabaseHealthCheck creates a health check for the analytics database
func DatabaseHealthCheck(ping func(context.Context) error) HealthCheckFunc {
	return PingCheck("database", 2*time.Second, HealthStatusUnhealthy, ping)
}

// RedisHealthCheck creates a health check for Redis connectivity
func RedisHealthCheck(ping func(context.Context) error) HealthCheckFunc {
	return PingCheck("redis", 2*time.Second, HealthStatusDegraded, ping)
}

// LLMHealthCheck reports a missing or failing language model as degraded,
// since questions are still answered from templates.
func LLMHealthCheck(check func(context.Context) error) HealthCheckFunc {
	return PingCheck("llm_service", 5*time.Second, HealthStatusDegraded, check)
}
