package store

import (
	"context"
	"fmt"
	"time"
)

// RunRetention drops cycle history older than maxAge.
func (s *Store) RunRetention(ctx context.Context, maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx, "DELETE FROM cycles WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old cycles: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DBSizeBytes returns the database size in bytes
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount int64
	var pageSize int64

	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}

	return pageCount * pageSize, nil
}
