// Package monitoring serves the /health report built from registered
// dependency checks.
package monitoring

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const defaultCheckTimeout = 5 * time.Second

// Check probes one dependency and returns nil when it is usable.
type Check func(ctx context.Context) error

// Result is the outcome of one check in a Report.
type Result struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report is the /health body.
type Report struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version string            `json:"version,omitempty"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]Result `json:"checks"`
}

type registered struct {
	check    Check
	critical bool
}

// HealthChecker runs the registered checks concurrently. A failing critical
// check makes the service unhealthy; a failing optional one degrades it.
type HealthChecker struct {
	service string
	version string
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]registered
}

func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		started: time.Now(),
		timeout: defaultCheckTimeout,
		checks:  make(map[string]registered),
	}
}

// AddCheck registers a dependency the service cannot work without.
func (hc *HealthChecker) AddCheck(name string, check Check) {
	hc.add(name, check, true)
}

// AddOptionalCheck registers a dependency the service degrades without.
func (hc *HealthChecker) AddOptionalCheck(name string, check Check) {
	hc.add(name, check, false)
}

func (hc *HealthChecker) add(name string, check Check, critical bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = registered{check: check, critical: critical}
}

// Names lists registered checks in sorted order.
func (hc *HealthChecker) Names() []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes every check under one shared timeout.
func (hc *HealthChecker) Run(ctx context.Context) Report {
	hc.mu.RLock()
	checks := make(map[string]registered, len(hc.checks))
	for name, r := range hc.checks {
		checks[name] = r
	}
	hc.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]Result, len(checks))
	)
	for name, r := range checks {
		wg.Go(func() {
			res := runCheck(ctx, r)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		})
	}
	wg.Wait()

	return Report{
		Status:  fold(results),
		Service: hc.service,
		Version: hc.version,
		Uptime:  time.Since(hc.started).Round(time.Second).String(),
		Checks:  results,
	}
}

func runCheck(ctx context.Context, r registered) Result {
	start := time.Now()
	err := r.check(ctx)
	res := Result{Status: StatusHealthy, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
		res.Status = StatusDegraded
		if r.critical {
			res.Status = StatusUnhealthy
		}
	}
	return res
}

func fold(results map[string]Result) string {
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// Handler answers 503 only when the service is unhealthy, so a degraded
// instance stays in rotation.
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report := hc.Run(c.Request.Context())
		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, report)
	}
}

func DatabaseCheck(db *sql.DB) Check {
	return func(ctx context.Context) error {
		if db == nil {
			return errors.New("no database handle")
		}
		return db.PingContext(ctx)
	}
}

func RedisCheck(client goredis.UniversalClient) Check {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("no redis client")
		}
		return client.Ping(ctx).Err()
	}
}

// RequiredConfig fails while any of the named values is empty.
func RequiredConfig(values map[string]string) Check {
	return func(context.Context) error {
		var missing []string
		for key, value := range values {
			if value == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) == 0 {
			return nil
		}
		sort.Strings(missing)
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
}
