package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cycle outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Cycle is one recorded reporting cycle.
type Cycle struct {
	ID             string
	Outcome        string
	Error          string
	KPIValue       *int
	ExpiredRetries int
	StartedAt      int64 // unix ms
	FinishedAt     int64 // unix ms
}

// SaveCycle inserts or replaces a cycle record.
func (s *Store) SaveCycle(ctx context.Context, c *Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.StartedAt == 0 {
		c.StartedAt = time.Now().UnixMilli()
	}
	if c.FinishedAt == 0 {
		c.FinishedAt = time.Now().UnixMilli()
	}

	var kpiValue sql.NullInt64
	if c.KPIValue != nil {
		kpiValue = sql.NullInt64{Int64: int64(*c.KPIValue), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO cycles (
		id, outcome, error, kpi_value, expired_retries, started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Outcome,
		sql.NullString{String: c.Error, Valid: c.Error != ""},
		kpiValue, c.ExpiredRetries, c.StartedAt, c.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save cycle: %w", err)
	}
	return nil
}

// ListCycles returns the most recent cycles first.
func (s *Store) ListCycles(ctx context.Context, limit int) ([]*Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, outcome, error, kpi_value, expired_retries, started_at, finished_at
	FROM cycles ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*Cycle
	for rows.Next() {
		c := &Cycle{}
		var errMsg sql.NullString
		var kpiValue sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Outcome, &errMsg, &kpiValue, &c.ExpiredRetries, &c.StartedAt, &c.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		if errMsg.Valid {
			c.Error = errMsg.String
		}
		if kpiValue.Valid {
			v := int(kpiValue.Int64)
			c.KPIValue = &v
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}
