// Package health reports whether the daemon's dependencies work: the UCI
// store, the revision database, the RPC bus and the state filesystem.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"grimm.is/luci/internal/clock"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a single health check.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Report represents the overall health report.
type Report struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// CheckFunc is a function that performs a health check.
type CheckFunc func(ctx context.Context) Check

// Checker runs registered checks concurrently and caches the report for a
// short time so probes cannot hammer the store.
type Checker struct {
	clock clock.Clock
	ttl   time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
	cache  *Report
}

// NewChecker creates a checker without checks.
func NewChecker(clk clock.Clock) *Checker {
	if clk == nil {
		clk = clock.Default()
	}
	return &Checker{
		clock:  clk,
		ttl:    5 * time.Second,
		checks: make(map[string]CheckFunc),
	}
}

// Register adds a health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
	c.cache = nil
}

// Check runs all health checks and returns a report.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	if c.cache != nil && c.clock.Since(c.cache.Timestamp) < c.ttl {
		report := *c.cache
		c.mu.RUnlock()
		return report
	}
	funcs := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		funcs[name] = fn
	}
	c.mu.RUnlock()

	checks := make(map[string]Check, len(funcs))
	overall := StatusHealthy

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, fn := range funcs {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			start := c.clock.Now()
			check := fn(ctx)
			check.Name = name
			check.LastChecked = start
			check.Duration = c.clock.Since(start)

			mu.Lock()
			defer mu.Unlock()
			checks[name] = check
			switch {
			case check.Status == StatusUnhealthy:
				overall = StatusUnhealthy
			case check.Status == StatusDegraded && overall != StatusUnhealthy:
				overall = StatusDegraded
			}
		}(name, fn)
	}
	wg.Wait()

	report := Report{Status: overall, Checks: checks, Timestamp: c.clock.Now()}
	c.mu.Lock()
	c.cache = &report
	c.mu.Unlock()
	return report
}

// Handler serves the report as JSON; unhealthy answers 503.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		report := c.Check(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}
}

// LivenessHandler returns a simple liveness probe handler.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

// Result builds a check from an error: nil is healthy with msg, anything
// else carries status and the error text.
func Result(err error, status Status, msg string, args ...any) Check {
	if err != nil {
		return Check{Status: status, Message: err.Error()}
	}
	return Check{Status: StatusHealthy, Message: fmt.Sprintf(msg, args...)}
}
