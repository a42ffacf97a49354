package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	keyLastRun              = "analytics.last_run"
	keyLastReportedExposure = "exposure.last_reported"
)

// LastRun returns the time of the last successful reporting cycle, or nil.
func (s *Store) LastRun(ctx context.Context) (*time.Time, error) {
	return s.getTime(ctx, keyLastRun)
}

// SetLastRun records a successful reporting cycle.
func (s *Store) SetLastRun(ctx context.Context, t time.Time) error {
	return s.setTime(ctx, keyLastRun, &t)
}

// LastReportedExposure returns the since-timestamp of the last exposure
// counted as reported, or nil.
func (s *Store) LastReportedExposure(ctx context.Context) (*time.Time, error) {
	return s.getTime(ctx, keyLastReportedExposure)
}

// SetLastReportedExposure stores the marker. A nil value clears it.
func (s *Store) SetLastReportedExposure(ctx context.Context, t *time.Time) error {
	return s.setTime(ctx, keyLastReportedExposure, t)
}

func (s *Store) getTime(ctx context.Context, key string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return &t, nil
}

func (s *Store) setTime(ctx context.Context, key string, t *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t == nil {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to clear %s: %w", key, err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
		key, t.UTC().Format(time.RFC3339Nano), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
