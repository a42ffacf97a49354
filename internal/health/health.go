// Package health provides readiness checks for the reporting agent.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status represents the health status of a dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// CheckFunc is a function that checks a dependency's health.
type CheckFunc func(ctx context.Context) Status

// Checker manages health checks for all dependencies.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	cache  map[string]Status
	logger zerolog.Logger
}

// NewChecker creates a new health checker.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
		cache:  make(map[string]Status),
		logger: logger.With().Str("component", "health").Logger(),
	}
}

// Register adds a named health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// RunAll executes all health checks concurrently and caches results.
func (c *Checker) RunAll(ctx context.Context) map[string]Status {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	results := make(map[string]Status, len(checks))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, fn := range checks {
		wg.Add(1)
		go func(n string, f CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			s := f(checkCtx)
			if s != StatusOK {
				c.logger.Warn().Str("check", n).Str("status", string(s)).Msg("health check not ok")
			}
			mu.Lock()
			results[n] = s
			mu.Unlock()
		}(name, fn)
	}

	wg.Wait()

	c.mu.Lock()
	c.cache = results
	c.mu.Unlock()

	return results
}

// Last returns the results of the most recent RunAll.
func (c *Checker) Last() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Status, len(c.cache))
	for k, v := range c.cache {
		out[k] = v
	}
	return out
}

// Ready reports whether no check in results is down.
func Ready(results map[string]Status) bool {
	for _, s := range results {
		if s == StatusDown {
			return false
		}
	}
	return true
}

// IsReady returns true if all checks pass.
func (c *Checker) IsReady(ctx context.Context) bool {
	return Ready(c.RunAll(ctx))
}

// Pinger is implemented by the state store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports down when p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) Status {
		if err := p.Ping(ctx); err != nil {
			return StatusDown
		}
		return StatusOK
	}
}

// LastRunFunc returns the time of the last successful reporting cycle, nil if none.
type LastRunFunc func(ctx context.Context) (*time.Time, error)

// StalenessCheck degrades once the last successful cycle is older than maxAge.
// A missing run is only degraded: a fresh install has not reported yet.
func StalenessCheck(lastRun LastRunFunc, maxAge time.Duration, now func() time.Time) CheckFunc {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) Status {
		t, err := lastRun(ctx)
		if err != nil {
			return StatusDown
		}
		if t == nil || now().Sub(*t) > maxAge {
			return StatusDegraded
		}
		return StatusOK
	}
}
