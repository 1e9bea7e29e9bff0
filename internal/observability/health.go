package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusOK        HealthStatus = "ok"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMS int64        `json:"latency_ms,omitempty"`
}

// HealthCheckResponse represents the overall health check response.
type HealthCheckResponse struct {
	Status        HealthStatus               `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Timestamp     string                     `json:"timestamp"`
	Checks        map[string]ComponentHealth `json:"checks"`
}

// HealthChecker performs health checks on system components.
type HealthChecker struct {
	version   string
	startTime time.Time
	checks    map[string]HealthCheckFunc
}

// HealthCheckFunc defines a function that checks component health.
type HealthCheckFunc func(ctx context.Context) ComponentHealth

// NewHealthChecker creates a new health checker.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]HealthCheckFunc),
	}
}

// RegisterCheck registers a health check for a component.
func (hc *HealthChecker) RegisterCheck(name string, checkFunc HealthCheckFunc) {
	hc.checks[name] = checkFunc
}

// Check performs all health checks.
func (hc *HealthChecker) Check(ctx context.Context) HealthCheckResponse {
	response := HealthCheckResponse{
		Status:        HealthStatusOK,
		Version:       hc.version,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Timestamp:     time.Now().Format(time.RFC3339),
		Checks:        make(map[string]ComponentHealth),
	}

	for name, checkFunc := range hc.checks {
		health := checkFunc(ctx)
		response.Checks[name] = health

		if health.Status == HealthStatusUnhealthy {
			response.Status = HealthStatusUnhealthy
		} else if health.Status == HealthStatusDegraded && response.Status != HealthStatusUnhealthy {
			response.Status = HealthStatusDegraded
		}
	}

	return response
}

// Handler returns an HTTP handler for health checks.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		response := hc.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		switch response.Status {
		case HealthStatusOK:
			w.WriteHeader(http.StatusOK)
		case HealthStatusDegraded:
			w.WriteHeader(http.StatusOK)
		case HealthStatusUnhealthy:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(response)
	}
}

// PoolUtilizationCheck reports the pool as degraded once occupancy crosses
// 90% (spec §9: a full pool means new transactions are rejected outright)
// and unhealthy at 100%.
func PoolUtilizationCheck(usedFn func() (used, capacity int)) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		used, capacity := usedFn()
		if capacity == 0 {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: "pool has zero capacity"}
		}
		ratio := float64(used) / float64(capacity)
		msg := fmt.Sprintf("%d/%d transaction slots in use", used, capacity)
		switch {
		case ratio >= 1.0:
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: msg}
		case ratio >= 0.9:
			return ComponentHealth{Status: HealthStatusDegraded, Message: msg}
		default:
			return ComponentHealth{Status: HealthStatusOK, Message: msg}
		}
	}
}

// WakeupLivenessCheck reports unhealthy once the time since the engine's
// last completed wakeup exceeds maxAge — a wedged or deadlocked wakeup loop
// stops advancing this timestamp.
func WakeupLivenessCheck(lastWakeupFn func() time.Time, maxAge time.Duration) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		last := lastWakeupFn()
		if last.IsZero() {
			return ComponentHealth{Status: HealthStatusDegraded, Message: "no wakeup has run yet"}
		}
		age := time.Since(last)
		if age > maxAge {
			return ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("last wakeup %s ago, exceeds %s", age.Round(time.Millisecond), maxAge),
			}
		}
		return ComponentHealth{Status: HealthStatusOK, LatencyMS: age.Milliseconds()}
	}
}

// BusCheck reports whether the transport Bus implementation is reachable
// (e.g. a QUIC connection is established for this channel's peer).
func BusCheck(name string, connectedFn func() bool) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		if connectedFn() {
			return ComponentHealth{Status: HealthStatusOK, Message: name + " connected"}
		}
		return ComponentHealth{Status: HealthStatusDegraded, Message: name + " not connected"}
	}
}
