// Package health serves the liveness and readiness probes of the proxy.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health of a check or of the whole process.
type Status string

const (
	// StatusHealthy indicates the check passed.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the proxy forwards traffic for some but not
	// all profiles.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the check failed.
	StatusUnhealthy Status = "unhealthy"
)

// ErrDegraded is returned (possibly wrapped) by a check that passes with
// reduced capacity. Degraded checks do not fail readiness.
var ErrDegraded = errors.New("degraded")

// Check is a function that performs a health check.
type Check func(ctx context.Context) error

// CheckResult represents the result of a health check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Response is the health check response.
type Response struct {
	Status    Status        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Checks    []CheckResult `json:"checks,omitempty"`
}

// Handler provides HTTP health check endpoints.
type Handler struct {
	checks       map[string]Check
	checksMu     sync.RWMutex
	checkTimeout time.Duration
}

// Config holds configuration for the health handler.
type Config struct {
	// CheckTimeout is the maximum time allowed for each health check.
	CheckTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CheckTimeout: 2 * time.Second,
	}
}

// NewHandler creates a new health handler.
func NewHandler(config *Config) *Handler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Handler{
		checks:       make(map[string]Check),
		checkTimeout: config.CheckTimeout,
	}
}

// RegisterCheck registers a readiness check under name.
func (h *Handler) RegisterCheck(name string, check Check) {
	h.checksMu.Lock()
	defer h.checksMu.Unlock()
	h.checks[name] = check
}

// Healthz reports liveness. It returns 200 while the process serves HTTP.
func (h *Handler) Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Response{
			Status:    StatusHealthy,
			Timestamp: time.Now(),
		})
	}
}

// Readyz runs all registered checks and returns 200 unless one of them is
// unhealthy, in which case it returns 503.
func (h *Handler) Readyz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
		defer cancel()

		response := h.Run(ctx)

		code := http.StatusOK
		if response.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, response)
	}
}

// Run executes every check concurrently and aggregates the results. Checks
// are reported sorted by name.
func (h *Handler) Run(ctx context.Context) *Response {
	h.checksMu.RLock()
	checks := make(map[string]Check, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.checksMu.RUnlock()

	response := &Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
	if len(checks) == 0 {
		return response
	}

	results := make(chan CheckResult, len(checks))
	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			results <- runCheck(ctx, name, check)
		}(name, check)
	}
	wg.Wait()
	close(results)

	for r := range results {
		response.Checks = append(response.Checks, r)
		switch {
		case r.Status == StatusUnhealthy:
			response.Status = StatusUnhealthy
		case r.Status == StatusDegraded && response.Status == StatusHealthy:
			response.Status = StatusDegraded
		}
	}
	sort.Slice(response.Checks, func(i, j int) bool {
		return response.Checks[i].Name < response.Checks[j].Name
	})
	return response
}

func runCheck(ctx context.Context, name string, check Check) CheckResult {
	start := time.Now()
	err := check(ctx)
	r := CheckResult{
		Name:    name,
		Status:  StatusHealthy,
		Latency: time.Since(start),
	}
	if err == nil {
		return r
	}
	r.Message = err.Error()
	if errors.Is(err, ErrDegraded) {
		r.Status = StatusDegraded
	} else {
		r.Status = StatusUnhealthy
	}
	return r
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
