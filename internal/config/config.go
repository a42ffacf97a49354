package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8090"`
	DBPath      string `envconfig:"DB_PATH" default:"reporter.db"`

	// Remote endpoints
	TokenVerifyURL string        `envconfig:"TOKEN_VERIFY_URL"`
	KPISubmitURL   string        `envconfig:"KPI_SUBMIT_URL"`
	HTTPTimeout    time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`

	// Cycle policy
	ReportMinInterval time.Duration `envconfig:"REPORT_MIN_INTERVAL" default:"3h"`
	TriggerInterval   time.Duration `envconfig:"TRIGGER_INTERVAL" default:"15m"`
	MaxExpiredRetries int           `envconfig:"MAX_EXPIRED_RETRIES" default:"2"`
	VerifyRetries     int           `envconfig:"VERIFY_RETRIES" default:"1"`
	VerifyRetryDelay  time.Duration `envconfig:"VERIFY_RETRY_DELAY" default:"30s"`
	SubmitRetries     int           `envconfig:"SUBMIT_RETRIES" default:"6"`
	BackoffBase       float64       `envconfig:"BACKOFF_BASE" default:"2.0"`
	BackoffMinDelay   time.Duration `envconfig:"BACKOFF_MIN_DELAY" default:"1s"`
	BackoffMaxDelay   time.Duration `envconfig:"BACKOFF_MAX_DELAY" default:"5m"`

	// Tokens
	AnalyticsTokenTTL    time.Duration `envconfig:"ANALYTICS_TOKEN_TTL" default:"1h"`
	AttestationTokenFile string        `envconfig:"ATTESTATION_TOKEN_FILE"`
	AttestationCacheTTL  time.Duration `envconfig:"ATTESTATION_CACHE_TTL" default:"10m"`

	// Exposure
	ExposureStatusFile string `envconfig:"EXPOSURE_STATUS_FILE"`

	// Ops API
	OpsAPIKey        string        `envconfig:"OPS_API_KEY"`
	HistoryRetention time.Duration `envconfig:"HISTORY_RETENTION" default:"720h"`
}

// IsDevelopment reports whether the agent runs in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// OpsAuthEnabled returns true if mutating ops endpoints require an API key.
func (c *Config) OpsAuthEnabled() bool {
	return c.OpsAPIKey != ""
}

// Validate checks the settings a reporting cycle cannot run without.
func (c *Config) Validate() error {
	var problems []string
	for name, raw := range map[string]string{
		"TOKEN_VERIFY_URL": c.TokenVerifyURL,
		"KPI_SUBMIT_URL":   c.KPISubmitURL,
	} {
		if raw == "" {
			problems = append(problems, name+" is required")
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("%s is not an absolute URL: %q", name, raw))
		}
	}
	if c.ReportMinInterval <= 0 {
		problems = append(problems, "REPORT_MIN_INTERVAL must be positive")
	}
	if c.TriggerInterval <= 0 {
		problems = append(problems, "TRIGGER_INTERVAL must be positive")
	}
	if c.MaxExpiredRetries < 0 || c.VerifyRetries < 0 || c.SubmitRetries < 0 {
		problems = append(problems, "retry counts must not be negative")
	}
	if c.BackoffBase < 1 {
		problems = append(problems, "BACKOFF_BASE must be at least 1")
	}
	if c.BackoffMinDelay <= 0 || c.BackoffMaxDelay < c.BackoffMinDelay {
		problems = append(problems, "BACKOFF_MIN_DELAY must be positive and not above BACKOFF_MAX_DELAY")
	}
	if len(problems) > 0 {
		// map iteration order is random
		sort.Strings(problems)
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
