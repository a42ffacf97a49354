package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("db", func(ctx context.Context) Status { return StatusOK })
	c.Register("staleness", func(ctx context.Context) Status { return StatusOK })

	assert.True(t, c.IsReady(context.Background()))
	assert.Len(t, c.Last(), 2)
}

func TestChecker_OneDown(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("db", func(ctx context.Context) Status { return StatusOK })
	c.Register("staleness", func(ctx context.Context) Status { return StatusDown })

	assert.False(t, c.IsReady(context.Background()))
	assert.Equal(t, StatusDown, c.Last()["staleness"])
}

func TestChecker_Degraded_StillReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("db", func(ctx context.Context) Status { return StatusDegraded })

	assert.True(t, c.IsReady(context.Background()))
}

func TestChecker_NoChecks(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	assert.True(t, c.IsReady(context.Background()))
	assert.Empty(t, c.Last())
}

func TestPingCheck(t *testing.T) {
	assert.Equal(t, StatusOK, PingCheck(pinger{})(context.Background()))
	assert.Equal(t, StatusDown, PingCheck(pinger{err: errors.New("closed")})(context.Background()))
}

func TestStalenessCheck(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	at := func(d time.Duration) LastRunFunc {
		return func(context.Context) (*time.Time, error) {
			t := now.Add(-d)
			return &t, nil
		}
	}

	assert.Equal(t, StatusOK, StalenessCheck(at(time.Hour), 6*time.Hour, clock)(context.Background()))
	assert.Equal(t, StatusDegraded, StalenessCheck(at(7*time.Hour), 6*time.Hour, clock)(context.Background()))

	never := func(context.Context) (*time.Time, error) { return nil, nil }
	assert.Equal(t, StatusDegraded, StalenessCheck(never, 6*time.Hour, clock)(context.Background()))

	broken := func(context.Context) (*time.Time, error) { return nil, errors.New("db gone") }
	assert.Equal(t, StatusDown, StalenessCheck(broken, 6*time.Hour, clock)(context.Background()))
}
