// Package exposure turns the current exposure status into the MATCH_CONFIRMED KPI.
package exposure

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Level is the exposure-risk state supplied by the exposure detector.
type Level string

const (
	LevelHealthy  Level = "healthy"
	LevelExposed  Level = "exposed"
	LevelInfected Level = "infected"
)

// ParseLevel parses a level name case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelHealthy, LevelExposed, LevelInfected:
		return l, nil
	default:
		return "", fmt.Errorf("unknown exposure level %q", s)
	}
}

// Info is a single exposure reading.
type Info struct {
	Level Level
	Since *time.Time
}

// Source supplies the current exposure reading. A nil Info means no reading exists yet.
type Source interface {
	ExpositionInfo(ctx context.Context) (*Info, error)
}

// FileSource reads the exposure status the detector writes to disk.
//
//	level: exposed
//	since: 2024-03-01T10:00:00Z
//
// JSON is accepted too.
type FileSource struct {
	Path string
}

type statusFile struct {
	Level string `yaml:"level"`
	Since string `yaml:"since"`
}

// ExpositionInfo implements Source. A missing file yields no reading.
func (s FileSource) ExpositionInfo(_ context.Context) (*Info, error) {
	if s.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading exposure status: %w", err)
	}

	var raw statusFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing exposure status: %w", err)
	}
	if raw.Level == "" {
		return nil, nil
	}

	level, err := ParseLevel(raw.Level)
	if err != nil {
		return nil, err
	}
	info := &Info{Level: level}
	if raw.Since != "" {
		since, err := time.Parse(time.RFC3339, raw.Since)
		if err != nil {
			return nil, fmt.Errorf("parsing exposure since: %w", err)
		}
		info.Since = &since
	}
	return info, nil
}
