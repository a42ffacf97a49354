// Package retry re-invokes fallible remote calls with a bounded retry budget.
package retry

import (
	"context"
	"time"

	"github.com/p-blackswan/exposure-reporter/internal/backoff"
	perrors "github.com/p-blackswan/exposure-reporter/internal/errors"
)

// Policy maps a zero-based retry index to the wait before that retry.
type Policy interface {
	Delay(attempt int) time.Duration
}

// Fixed waits the same duration before every retry.
type Fixed time.Duration

// Delay implements Policy.
func (f Fixed) Delay(int) time.Duration { return time.Duration(f) }

// Exponential returns a Policy backed by the given backoff spec.
func Exponential(spec backoff.Spec) Policy { return spec }

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config holds retry configuration.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	Policy     Policy

	// Sleep defaults to a context-aware timer.
	Sleep SleepFunc

	// OnRetry is called before each wait, if set.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// TokenVerification waits a fixed 30 seconds and retries once.
func TokenVerification() Config {
	return Config{
		MaxRetries: 1,
		Policy:     Fixed(30 * time.Second),
	}
}

// KPISubmission uses the default exponential backoff and retries up to 6 times.
func KPISubmission() Config {
	return Config{
		MaxRetries: 6,
		Policy:     Exponential(backoff.Default()),
	}
}

// Do executes fn, retrying transient failures while the budget lasts.
// Terminal and unclassified errors are returned immediately. When the budget
// is exhausted the last error is returned as is.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	for retries := 0; ; retries++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !perrors.IsRetryable(err) || retries >= cfg.MaxRetries {
			return err
		}

		var delay time.Duration
		if cfg.Policy != nil {
			delay = cfg.Policy.Delay(retries)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(retries, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
