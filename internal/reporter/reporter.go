// Package reporter runs the exposure KPI reporting cycle: gate check, analytics
// token acquisition, KPI collection, submission and last-run bookkeeping.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/exposure-reporter/internal/attestation"
	perrors "github.com/p-blackswan/exposure-reporter/internal/errors"
	"github.com/p-blackswan/exposure-reporter/internal/exposure"
	"github.com/p-blackswan/exposure-reporter/internal/kpi"
	"github.com/p-blackswan/exposure-reporter/internal/metrics"
	"github.com/p-blackswan/exposure-reporter/internal/retry"
	"github.com/p-blackswan/exposure-reporter/internal/schedule"
	"github.com/p-blackswan/exposure-reporter/internal/store"
	"github.com/p-blackswan/exposure-reporter/pkg/tokenstore"
)

const (
	endpointVerify = "token_verify"
	endpointSubmit = "kpi_submit"
)

// StateStore persists the last successful run.
type StateStore interface {
	LastRun(ctx context.Context) (*time.Time, error)
	SetLastRun(ctx context.Context, t time.Time) error
}

// HistoryStore records finished cycles.
type HistoryStore interface {
	SaveCycle(ctx context.Context, c *store.Cycle) error
}

// TokenExchanger trades a device token for a validated analytics token.
type TokenExchanger interface {
	Exchange(ctx context.Context, deviceToken []byte) (tokenstore.Token, error)
}

// KPICollector builds the exposure KPI and can undo its marker update.
type KPICollector interface {
	Collect(ctx context.Context) (exposure.Collection, error)
	Rollback(ctx context.Context, col exposure.Collection) error
}

// Submitter delivers KPI events.
type Submitter interface {
	Submit(ctx context.Context, token string, events []kpi.Event) error
}

// Config holds the cycle policy.
type Config struct {
	MinInterval       time.Duration
	MaxExpiredRetries int
	VerifyRetry       retry.Config
	SubmitRetry       retry.Config
}

// DefaultConfig returns the production policy: 3h gate, two re-authentications
// on expired device tokens, 30s×1 verification retry, exponential×6 submission retry.
func DefaultConfig() Config {
	return Config{
		MinInterval:       schedule.DefaultMinInterval,
		MaxExpiredRetries: 2,
		VerifyRetry:       retry.TokenVerification(),
		SubmitRetry:       retry.KPISubmission(),
	}
}

// Deps are the collaborators of a Reporter. History, Tokens and Metrics are optional.
type Deps struct {
	State       StateStore
	History     HistoryStore
	Attestation attestation.Provider
	Exchange    TokenExchanger
	Collector   KPICollector
	Submitter   Submitter
	Tokens      tokenstore.Store
	Metrics     *metrics.Metrics
}

// Reporter orchestrates reporting cycles. At most one cycle runs at a time.
type Reporter struct {
	cfg    Config
	deps   Deps
	gate   schedule.Gate
	now    func() time.Time
	logger zerolog.Logger

	running atomic.Bool
	state   atomic.Int32

	mu   sync.RWMutex
	last *CycleResult
}

// New creates a reporter.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Reporter {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	r := &Reporter{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		logger: logger.With().Str("component", "reporter").Logger(),
	}
	r.gate = schedule.Gate{MinInterval: cfg.MinInterval, Now: func() time.Time { return r.now() }}
	return r
}

// cycle carries per-run bookkeeping.
type cycle struct {
	result CycleResult
	logger zerolog.Logger
}

// Run executes one reporting cycle. It returns false with a nil error when the
// gate is closed, true once the KPI was delivered and the run recorded.
// Any failure leaves the last-run timestamp untouched.
func (r *Reporter) Run(ctx context.Context) (bool, error) {
	if !r.running.CompareAndSwap(false, true) {
		return false, perrors.ErrCycleInFlight
	}
	defer r.running.Store(false)
	defer r.setState(StateIdle)

	c := &cycle{result: CycleResult{ID: uuid.New().String(), StartedAt: r.now()}}
	c.logger = r.logger.With().Str("cycle_id", c.result.ID).Logger()

	r.setState(StateCheckingGate)
	lastRun, err := r.deps.State.LastRun(ctx)
	if err != nil {
		return false, r.fail(ctx, c, fmt.Errorf("reading last run: %w", err))
	}
	if !r.gate.ShouldRun(lastRun) {
		r.setState(StateDone)
		c.result.Outcome = store.OutcomeSkipped
		c.result.FinishedAt = r.now()
		r.deps.Metrics.RecordCycle(store.OutcomeSkipped, 0)
		r.remember(c.result)
		ev := c.logger.Debug()
		if lastRun != nil {
			ev = ev.Time("last_run", *lastRun).Time("next_run", r.gate.NextRun(lastRun))
		}
		ev.Msg("reporting cycle not due")
		return false, nil
	}

	c.logger.Info().Msg("reporting cycle started")

	token, err := r.analyticsToken(ctx, c)
	if err != nil {
		return false, r.fail(ctx, c, err)
	}

	r.setState(StateSubmitting)
	col, err := r.deps.Collector.Collect(ctx)
	if err != nil {
		return false, r.fail(ctx, c, fmt.Errorf("collecting kpi: %w", err))
	}
	value := col.Event.Value
	c.result.KPIValue = &value

	if err := r.submit(ctx, c, token, col.Event); err != nil {
		if rbErr := r.deps.Collector.Rollback(context.WithoutCancel(ctx), col); rbErr != nil {
			c.logger.Error().Err(rbErr).Msg("failed to roll back exposure marker")
		}
		return false, r.fail(ctx, c, err)
	}

	finished := r.now()
	if err := r.deps.State.SetLastRun(context.WithoutCancel(ctx), finished); err != nil {
		return false, r.fail(ctx, c, fmt.Errorf("persisting last run: %w", err))
	}

	r.setState(StateDone)
	c.result.Outcome = store.OutcomeSuccess
	c.result.FinishedAt = finished
	r.finish(ctx, c)
	r.deps.Metrics.SetLastSuccess(finished)

	c.logger.Info().
		Int("kpi_value", value).
		Int("expired_retries", c.result.ExpiredRetries).
		Dur("duration", finished.Sub(c.result.StartedAt)).
		Msg("reporting cycle succeeded")
	return true, nil
}

// analyticsToken returns a cached analytics token or acquires a fresh one,
// re-acquiring the device token while verification reports it as expired.
func (r *Reporter) analyticsToken(ctx context.Context, c *cycle) (tokenstore.Token, error) {
	if r.deps.Tokens != nil {
		cached, err := r.deps.Tokens.Get(ctx, tokenstore.KeyAnalytics)
		if err == nil && cached.Validated {
			c.logger.Debug().Time("expires_at", cached.ExpiresAt).Msg("using cached analytics token")
			return *cached, nil
		}
	}

	for {
		r.setState(StateAcquiringToken)
		device, err := r.deps.Attestation.GenerateToken(ctx)
		if err != nil {
			return tokenstore.Token{}, fmt.Errorf("acquiring device token: %w", err)
		}
		c.logger.Debug().Bool("cached", device.IsCached).Msg("device token acquired")

		r.setState(StateVerifyingToken)
		var token tokenstore.Token
		verifyCfg := r.cfg.VerifyRetry
		verifyCfg.OnRetry = r.onRetry(c, endpointVerify)
		err = retry.Do(ctx, verifyCfg, func(ctx context.Context) error {
			t, err := r.deps.Exchange.Exchange(ctx, device.Data)
			r.deps.Metrics.RecordRemoteCall(endpointVerify, callResult(err))
			if err != nil {
				return err
			}
			token = t
			return nil
		})
		if err == nil {
			if r.deps.Tokens != nil {
				if perr := r.deps.Tokens.Put(ctx, token); perr != nil {
					c.logger.Warn().Err(perr).Msg("failed to cache analytics token")
				}
			}
			return token, nil
		}

		if !errors.Is(err, perrors.ErrTokenExpired) || c.result.ExpiredRetries >= r.cfg.MaxExpiredRetries {
			return tokenstore.Token{}, fmt.Errorf("verifying device token: %w", err)
		}

		c.result.ExpiredRetries++
		r.deps.Metrics.RecordReauth()
		c.logger.Warn().Int("expired_retries", c.result.ExpiredRetries).Msg("device token expired, re-acquiring")
		if cerr := r.deps.Attestation.ClearCachedToken(ctx); cerr != nil {
			c.logger.Warn().Err(cerr).Msg("failed to clear cached device token")
		}
		r.dropAnalyticsToken(ctx, c)
	}
}

func (r *Reporter) submit(ctx context.Context, c *cycle, token tokenstore.Token, event kpi.Event) error {
	submitCfg := r.cfg.SubmitRetry
	submitCfg.OnRetry = r.onRetry(c, endpointSubmit)
	err := retry.Do(ctx, submitCfg, func(ctx context.Context) error {
		err := r.deps.Submitter.Submit(ctx, token.Value, []kpi.Event{event})
		r.deps.Metrics.RecordRemoteCall(endpointSubmit, callResult(err))
		return err
	})
	if err != nil {
		var apiErr *perrors.APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == 401 || apiErr.StatusCode == 403) {
			r.dropAnalyticsToken(ctx, c)
		}
		return fmt.Errorf("submitting kpi: %w", err)
	}
	r.deps.Metrics.RecordKPI(event.Name, event.Value)
	return nil
}

func (r *Reporter) onRetry(c *cycle, operation string) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		r.deps.Metrics.RecordRetry(operation)
		c.logger.Warn().Err(err).
			Str("operation", operation).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("retrying after transient failure")
	}
}

func (r *Reporter) dropAnalyticsToken(ctx context.Context, c *cycle) {
	if r.deps.Tokens == nil {
		return
	}
	if err := r.deps.Tokens.Delete(ctx, tokenstore.KeyAnalytics); err != nil {
		c.logger.Warn().Err(err).Msg("failed to drop analytics token")
	}
}

func (r *Reporter) fail(ctx context.Context, c *cycle, err error) error {
	r.setState(StateDone)
	c.result.Outcome = store.OutcomeFailed
	c.result.Error = err.Error()
	c.result.FinishedAt = r.now()
	r.finish(ctx, c)
	c.logger.Error().Err(err).Int("expired_retries", c.result.ExpiredRetries).Msg("reporting cycle failed")
	return err
}

func (r *Reporter) finish(ctx context.Context, c *cycle) {
	r.deps.Metrics.RecordCycle(c.result.Outcome, c.result.FinishedAt.Sub(c.result.StartedAt))
	r.remember(c.result)
	if r.deps.History == nil {
		return
	}
	rec := &store.Cycle{
		ID:             c.result.ID,
		Outcome:        c.result.Outcome,
		Error:          c.result.Error,
		KPIValue:       c.result.KPIValue,
		ExpiredRetries: c.result.ExpiredRetries,
		StartedAt:      c.result.StartedAt.UnixMilli(),
		FinishedAt:     c.result.FinishedAt.UnixMilli(),
	}
	if err := r.deps.History.SaveCycle(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Warn().Err(err).Msg("failed to record cycle history")
	}
}

func (r *Reporter) remember(res CycleResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = &res
}

func (r *Reporter) setState(s State) {
	r.state.Store(int32(s))
}

// Status returns the current state and the last finished cycle.
func (r *Reporter) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Status{
		State:   State(r.state.Load()).String(),
		Running: r.running.Load(),
	}
	if r.last != nil {
		last := *r.last
		st.LastCycle = &last
	}
	return st
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, perrors.ErrInProgress):
		return "in_progress"
	case errors.Is(err, perrors.ErrTokenExpired):
		return "expired"
	case perrors.IsRetryable(err):
		return "transient"
	default:
		return "error"
	}
}
