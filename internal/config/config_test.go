// Package config tests.
package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnvs(t *testing.T) {
	t.Helper()
	envs := map[string]string{
		"TOKEN_VERIFY_URL": "https://analytics.test/token/verify",
		"KPI_SUBMIT_URL":   "https://analytics.test/kpi",
		"OPS_API_KEY":      "secret",
	}
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoad_Success(t *testing.T) {
	setRequiredEnvs(t)
	cfg, err := LoadWithPrefix("")
	require.NoError(t, err)
	assert.Equal(t, "https://analytics.test/token/verify", cfg.TokenVerifyURL)
	assert.Equal(t, "https://analytics.test/kpi", cfg.KPISubmitURL)
	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.OpsAuthEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8090", cfg.HTTPAddr)
	assert.Equal(t, "reporter.db", cfg.DBPath)
	assert.Equal(t, 3*time.Hour, cfg.ReportMinInterval)
	assert.Equal(t, 15*time.Minute, cfg.TriggerInterval)
	assert.Equal(t, 2, cfg.MaxExpiredRetries)
	assert.Equal(t, 1, cfg.VerifyRetries)
	assert.Equal(t, 30*time.Second, cfg.VerifyRetryDelay)
	assert.Equal(t, 6, cfg.SubmitRetries)
	assert.Equal(t, 2.0, cfg.BackoffBase)
	assert.Equal(t, time.Second, cfg.BackoffMinDelay)
	assert.Equal(t, 5*time.Minute, cfg.BackoffMaxDelay)
	assert.Equal(t, 720*time.Hour, cfg.HistoryRetention)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.OpsAuthEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnvs(t)
	t.Setenv("REPORT_MIN_INTERVAL", "90m")
	t.Setenv("SUBMIT_RETRIES", "3")
	t.Setenv("ENVIRONMENT", "production")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, cfg.ReportMinInterval)
	assert.Equal(t, 3, cfg.SubmitRetries)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("HTTP_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_VERIFY_URL is required")
	assert.Contains(t, err.Error(), "KPI_SUBMIT_URL is required")

	cfg.TokenVerifyURL = "not a url"
	cfg.KPISubmitURL = "https://analytics.test/kpi"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_VERIFY_URL is not an absolute URL")

	cfg.TokenVerifyURL = "https://analytics.test/token/verify"
	require.NoError(t, cfg.Validate())

	cfg.BackoffMaxDelay = time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg.BackoffMaxDelay = time.Minute
	cfg.SubmitRetries = -1
	assert.Error(t, cfg.Validate())
}
