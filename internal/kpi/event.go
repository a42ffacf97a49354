// Package kpi defines reportable metric events and submits them to the backend.
package kpi

import (
	"encoding/json"
	"fmt"
	"time"
)

// MatchConfirmed is the KPI reporting a newly detected exposure.
const MatchConfirmed = "MATCH_CONFIRMED"

// TimestampLayout is dd/MM/yyyy HH:mm:ss, always rendered in UTC.
const TimestampLayout = "02/01/2006 15:04:05"

// Event is a single KPI observation.
type Event struct {
	Name string
	// Timestamp is only set when a new exposure is reported.
	Timestamp *time.Time
	Value     int
}

type wireEvent struct {
	KPI       string `json:"kpi"`
	Timestamp string `json:"timestamp,omitempty"`
	Value     int    `json:"value"`
}

// MarshalJSON renders the backend wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{KPI: e.Name, Value: e.Value}
	if e.Timestamp != nil {
		w.Timestamp = e.Timestamp.UTC().Format(TimestampLayout)
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the backend wire shape.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Name = w.KPI
	e.Value = w.Value
	e.Timestamp = nil
	if w.Timestamp != "" {
		ts, err := time.ParseInLocation(TimestampLayout, w.Timestamp, time.UTC)
		if err != nil {
			return fmt.Errorf("parsing kpi timestamp: %w", err)
		}
		e.Timestamp = &ts
	}
	return nil
}
