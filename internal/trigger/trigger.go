// Package trigger fires reporting cycles on a fixed interval and sweeps
// old history and expired tokens along the way.
package trigger

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/exposure-reporter/internal/errors"
)

// CycleRunner runs one reporting cycle.
type CycleRunner interface {
	Run(ctx context.Context) (bool, error)
}

// HistoryPruner removes cycle history older than maxAge.
type HistoryPruner interface {
	RunRetention(ctx context.Context, maxAge time.Duration) (int64, error)
}

// TokenCleaner evicts expired cached tokens.
type TokenCleaner interface {
	Cleanup(ctx context.Context) (int, error)
}

// Config controls the trigger loop.
type Config struct {
	// Interval between cycle attempts. The reporter's own gate decides
	// whether an attempt does any work, so this can be much shorter than
	// the minimum reporting interval.
	Interval time.Duration
	// Retention is the maximum age of kept cycle history. Zero disables the sweep.
	Retention time.Duration
	// SweepInterval is how often the sweep runs. Defaults to one hour.
	SweepInterval time.Duration
}

// Trigger drives the reporter.
type Trigger struct {
	cfg    Config
	runner CycleRunner
	pruner HistoryPruner
	tokens TokenCleaner
	logger zerolog.Logger
	now    func() time.Time
	lastGC time.Time
}

// New creates a trigger. pruner and tokens may be nil.
func New(cfg Config, runner CycleRunner, pruner HistoryPruner, tokens TokenCleaner, logger zerolog.Logger) *Trigger {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	return &Trigger{
		cfg:    cfg,
		runner: runner,
		pruner: pruner,
		tokens: tokens,
		logger: logger.With().Str("component", "trigger").Logger(),
		now:    time.Now,
	}
}

// Run attempts a cycle immediately and then on every tick until ctx is done.
func (t *Trigger) Run(ctx context.Context) error {
	if t.cfg.Interval <= 0 {
		return errors.New("trigger interval must be positive")
	}

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.cfg.Interval).Msg("trigger started")
	t.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("trigger stopped")
			return nil
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Trigger) tick(ctx context.Context) {
	ran, err := t.runner.Run(ctx)
	switch {
	case errors.Is(err, perrors.ErrCycleInFlight):
		t.logger.Debug().Msg("cycle already running, tick skipped")
	case err != nil && ctx.Err() == nil:
		t.logger.Warn().Err(err).Msg("scheduled cycle failed")
	case ran:
		t.logger.Debug().Msg("scheduled cycle reported")
	}

	if now := t.now(); now.Sub(t.lastGC) >= t.cfg.SweepInterval {
		t.lastGC = now
		t.Sweep(ctx)
	}
}

// Sweep prunes history past the retention window and evicts expired tokens.
func (t *Trigger) Sweep(ctx context.Context) {
	if t.pruner != nil && t.cfg.Retention > 0 {
		n, err := t.pruner.RunRetention(ctx, t.cfg.Retention)
		if err != nil {
			t.logger.Error().Err(err).Msg("history retention failed")
		} else if n > 0 {
			t.logger.Info().Int64("deleted", n).Msg("old cycle history pruned")
		}
	}
	if t.tokens != nil {
		n, err := t.tokens.Cleanup(ctx)
		if err != nil {
			t.logger.Error().Err(err).Msg("token cleanup failed")
		} else if n > 0 {
			t.logger.Debug().Int("evicted", n).Msg("expired tokens evicted")
		}
	}
}
