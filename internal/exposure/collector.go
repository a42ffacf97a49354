package exposure

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/exposure-reporter/internal/kpi"
)

// MarkerStore persists the since-timestamp of the last exposure counted as reported.
type MarkerStore interface {
	LastReportedExposure(ctx context.Context) (*time.Time, error)
	SetLastReportedExposure(ctx context.Context, t *time.Time) error
}

// Collection is the result of one Collect call.
type Collection struct {
	Event kpi.Event
	// Previous is the marker value before Collect touched it.
	Previous *time.Time
	// Changed is true when Collect rewrote the marker.
	Changed bool
}

// Collector derives the exposure KPI and keeps the de-duplication marker.
type Collector struct {
	source  Source
	markers MarkerStore
	logger  zerolog.Logger
}

// NewCollector creates a new exposure KPI collector.
func NewCollector(source Source, markers MarkerStore, logger zerolog.Logger) *Collector {
	return &Collector{
		source:  source,
		markers: markers,
		logger:  logger.With().Str("component", "exposure").Logger(),
	}
}

// Collect reads the current exposure and builds the KPI event.
//
// An exposed reading whose since differs from the stored marker yields value 1
// and moves the marker. A healthy or infected reading clears the marker so a
// later exposure counts again. Everything else yields value 0.
func (c *Collector) Collect(ctx context.Context) (Collection, error) {
	out := Collection{Event: kpi.Event{Name: kpi.MatchConfirmed}}

	info, err := c.source.ExpositionInfo(ctx)
	if err != nil {
		return Collection{}, fmt.Errorf("reading exposition info: %w", err)
	}
	if info == nil {
		return out, nil
	}

	previous, err := c.markers.LastReportedExposure(ctx)
	if err != nil {
		return Collection{}, fmt.Errorf("reading exposure marker: %w", err)
	}
	out.Previous = previous

	switch info.Level {
	case LevelExposed:
		if info.Since == nil {
			// nothing to de-duplicate on
			c.logger.Warn().Msg("exposed reading without since timestamp, not reported")
			return out, nil
		}
		if previous != nil && previous.Equal(*info.Since) {
			return out, nil
		}
		since := *info.Since
		if err := c.markers.SetLastReportedExposure(ctx, &since); err != nil {
			return Collection{}, fmt.Errorf("writing exposure marker: %w", err)
		}
		out.Changed = true
		out.Event.Timestamp = &since
		out.Event.Value = 1
		c.logger.Info().Time("since", since).Msg("new exposure collected")

	case LevelHealthy, LevelInfected:
		if previous != nil {
			if err := c.markers.SetLastReportedExposure(ctx, nil); err != nil {
				return Collection{}, fmt.Errorf("clearing exposure marker: %w", err)
			}
			out.Changed = true
			c.logger.Debug().Str("level", string(info.Level)).Msg("exposure marker reset")
		}
	}

	return out, nil
}

// Rollback restores the marker to its value before col was collected.
func (c *Collector) Rollback(ctx context.Context, col Collection) error {
	if !col.Changed {
		return nil
	}
	if err := c.markers.SetLastReportedExposure(ctx, col.Previous); err != nil {
		return fmt.Errorf("restoring exposure marker: %w", err)
	}
	return nil
}
