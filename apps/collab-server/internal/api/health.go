package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck is a named dependency check
type HealthCheck struct {
	Name      string
	CheckFunc func(ctx context.Context) error
}

// HealthChecker runs the registered checks for /health
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewHealthChecker creates a health checker with no checks
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]HealthCheck)}
}

// RegisterCheck adds or replaces a check
func (h *HealthChecker) RegisterCheck(name string, checkFunc func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = HealthCheck{Name: name, CheckFunc: checkFunc}
}

// Run executes every check and returns the per-check status and whether
// all of them passed
func (h *HealthChecker) Run(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	checks := make([]HealthCheck, 0, len(h.checks))
	for _, check := range h.checks {
		checks = append(checks, check)
	}
	h.mu.RUnlock()

	results := make(map[string]string, len(checks))
	healthy := true
	for _, check := range checks {
		if err := check.CheckFunc(ctx); err != nil {
			results[check.Name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		results[check.Name] = "healthy"
	}
	return results, healthy
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks, healthy := s.health.Run(ctx)
	body := gin.H{
		"status":          "healthy",
		"time":            time.Now().UTC().Format(time.RFC3339),
		"checks":          checks,
		"active_sessions": s.coordinator.ActiveSessionsCount(),
		"active_users":    s.coordinator.TotalActiveUsers(),
	}
	if s.ws != nil {
		body["connections"] = s.ws.ConnectionCount()
	}

	if !healthy {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
