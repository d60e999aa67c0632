package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
)

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult represents the result of an individual health check
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthChecker manages and executes health checks
type HealthChecker struct {
	service string
	version string
	checks  map[string]HealthCheck
}

// HealthCheck is a function that performs a health check
type HealthCheck func() CheckResult

// NewHealthChecker creates a new health checker instance
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		checks:  make(map[string]HealthCheck),
	}
}

// AddCheck adds a health check to the checker
func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.checks[name] = check
}

// CheckHealth runs all health checks and returns the overall status
func (hc *HealthChecker) CheckHealth() HealthStatus {
	status := HealthStatus{
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult),
	}

	anyUnhealthy := false
	anyDegraded := false
	for name, check := range hc.checks {
		result := check()
		status.Checks[name] = result
		switch result.Status {
		case StatusHealthy:
		case StatusDegraded:
			anyDegraded = true
		case StatusUnhealthy:
			anyUnhealthy = true
		default:
			anyUnhealthy = true
		}
	}

	switch {
	case anyUnhealthy:
		status.Status = StatusUnhealthy
	case anyDegraded:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}

	return status
}

// Handler returns a handler for the health check endpoint
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth()
		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, health)
	}
}

// DatabaseHealthCheck creates a health check for database connectivity
func DatabaseHealthCheck(db *sql.DB) HealthCheck {
	return func() CheckResult {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := db.PingContext(ctx)
		duration := time.Since(start)

		if err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("database ping failed: %v", err),
				Latency: duration.String(),
			}
		}
		return CheckResult{Status: StatusHealthy, Latency: duration.String()}
	}
}

// NATSHealthCheck creates a health check for the event log connection
func NATSHealthCheck(nc *nats.Conn) HealthCheck {
	return func() CheckResult {
		if nc == nil || !nc.IsConnected() {
			return CheckResult{Status: StatusUnhealthy, Message: "nats connection down"}
		}
		rtt, err := nc.RTT()
		if err != nil {
			return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("rtt probe failed: %v", err)}
		}
		return CheckResult{Status: StatusHealthy, Latency: rtt.String()}
	}
}

// RedisHealthCheck creates a health check for redis connectivity
func RedisHealthCheck(client *goredis.Client) HealthCheck {
	return func() CheckResult {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("redis ping failed: %v", err),
				Latency: time.Since(start).String(),
			}
		}
		return CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
	}
}

// ConfigurationHealthCheck verifies required configuration values are present
func ConfigurationHealthCheck(required map[string]string) HealthCheck {
	return func() CheckResult {
		var missing []string
		for name, value := range required {
			if value == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("missing configuration: %v", missing),
			}
		}
		return CheckResult{Status: StatusHealthy}
	}
}
