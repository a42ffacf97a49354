package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/exposure-reporter/internal/errors"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (r *countingRunner) Run(context.Context) (bool, error) {
	r.calls.Add(1)
	return r.err == nil, r.err
}

type fakePruner struct {
	calls  atomic.Int32
	maxAge time.Duration
	err    error
}

func (p *fakePruner) RunRetention(_ context.Context, maxAge time.Duration) (int64, error) {
	p.calls.Add(1)
	p.maxAge = maxAge
	return 3, p.err
}

type fakeTokens struct{ calls atomic.Int32 }

func (f *fakeTokens) Cleanup(context.Context) (int, error) {
	f.calls.Add(1)
	return 1, nil
}

func TestRun_FiresImmediatelyAndOnTicks(t *testing.T) {
	runner := &countingRunner{}
	tr := New(Config{Interval: 5 * time.Millisecond}, runner, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestRun_KeepsGoingAfterFailures(t *testing.T) {
	runner := &countingRunner{err: perrors.ErrUnavailable}
	tr := New(Config{Interval: 5 * time.Millisecond}, runner, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestRun_RejectsZeroInterval(t *testing.T) {
	tr := New(Config{}, &countingRunner{}, nil, nil, zerolog.Nop())
	assert.Error(t, tr.Run(context.Background()))
}

func TestTick_SweepsOncePerInterval(t *testing.T) {
	pruner := &fakePruner{}
	tokens := &fakeTokens{}
	tr := New(Config{Interval: time.Minute, Retention: 48 * time.Hour, SweepInterval: time.Hour},
		&countingRunner{}, pruner, tokens, zerolog.Nop())

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.tick(context.Background())
	tr.tick(context.Background())
	assert.Equal(t, int32(1), pruner.calls.Load())
	assert.Equal(t, int32(1), tokens.calls.Load())
	assert.Equal(t, 48*time.Hour, pruner.maxAge)

	now = now.Add(time.Hour)
	tr.tick(context.Background())
	assert.Equal(t, int32(2), pruner.calls.Load())
}

func TestSweep_RetentionDisabled(t *testing.T) {
	pruner := &fakePruner{}
	tokens := &fakeTokens{}
	tr := New(Config{Interval: time.Minute}, &countingRunner{}, pruner, tokens, zerolog.Nop())

	tr.Sweep(context.Background())
	assert.Equal(t, int32(0), pruner.calls.Load())
	assert.Equal(t, int32(1), tokens.calls.Load())
}

func TestSweep_ToleratesErrors(t *testing.T) {
	pruner := &fakePruner{err: errors.New("locked")}
	tr := New(Config{Interval: time.Minute, Retention: time.Hour}, &countingRunner{}, pruner, nil, zerolog.Nop())
	assert.NotPanics(t, func() { tr.Sweep(context.Background()) })
	assert.Equal(t, int32(1), pruner.calls.Load())
}

func TestTick_InFlightIsQuiet(t *testing.T) {
	runner := &countingRunner{err: perrors.ErrCycleInFlight}
	tr := New(Config{Interval: time.Minute}, runner, nil, nil, zerolog.Nop())
	tr.tick(context.Background())
	assert.Equal(t, int32(1), runner.calls.Load())
}
