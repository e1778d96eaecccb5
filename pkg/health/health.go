// Package health probes the backends a runtime depends on.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is the outcome of a check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultTimeout bounds a single check when none is given.
const DefaultTimeout = 5 * time.Second

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report aggregates every registered check. It is unhealthy when any check is.
type Report struct {
	Status    Status        `json:"status"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool {
	return r.Status == StatusHealthy
}

// Checkable is implemented by the store adapters.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

type check struct {
	target  Checkable
	timeout time.Duration
}

// Registry runs named checks concurrently.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]check
	now    func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]check), now: time.Now}
}

// Register adds or replaces the check called name.
func (r *Registry) Register(name string, target Checkable, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = check{target: target, timeout: timeout}
}

// Names returns the registered check names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every check and returns results ordered by name.
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	checks := make(map[string]check, len(r.checks))
	for name, c := range r.checks {
		checks[name] = c
	}
	r.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]CheckResult, 0, len(checks))
	)
	for name, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := run(ctx, name, c)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	report := Report{Status: StatusHealthy, Checks: results, Timestamp: r.now().UTC()}
	for _, res := range results {
		if res.Status != StatusHealthy {
			report.Status = StatusUnhealthy
			break
		}
	}
	return report
}

func run(ctx context.Context, name string, c check) (res CheckResult) {
	start := time.Now()
	res = CheckResult{Name: name, Status: StatusHealthy}
	defer func() {
		if p := recover(); p != nil {
			res.Status, res.Error = StatusUnhealthy, fmt.Sprintf("panic: %v", p)
		}
		res.Duration = time.Since(start)
	}()

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.target.HealthCheck(cctx); err != nil {
		res.Status, res.Error = StatusUnhealthy, err.Error()
	}
	return res
}
