package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, defaultPort, cfg.Port)
	require.Equal(t, defaultSlackBaseURL, cfg.Slack.BaseURL)
	require.Equal(t, defaultThrottleTime, cfg.Engine.ThrottleTime)
	require.Equal(t, defaultMinDelay, cfg.Engine.MinDelay)
	require.Equal(t, defaultMaxAttempts, cfg.Engine.MaxAttempts)
	require.Equal(t, defaultMaxMessageLength, cfg.Engine.MaxMessageLength)
}

func TestLoadReadsEngineOverrides(t *testing.T) {
	t.Setenv("STREAMFRAME_MIN_DELAY", "250ms")
	t.Setenv("STREAMFRAME_MAX_ATTEMPTS", "7")
	t.Setenv("STREAMFRAME_MAX_BLOCKS_PER_MESSAGE", "12")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, cfg.Engine.MinDelay)
	require.Equal(t, 7, cfg.Engine.MaxAttempts)
	require.Equal(t, 12, cfg.Engine.MaxBlocksPerMessage)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv("STREAMFRAME_MIN_BACKOFF", "soon")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "STREAMFRAME_MIN_BACKOFF")
}

func TestValidateRejectsBackoffInversion(t *testing.T) {
	t.Setenv("STREAMFRAME_MIN_BACKOFF", "30s")
	t.Setenv("STREAMFRAME_MAX_BACKOFF", "5s")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "STREAMFRAME_MAX_BACKOFF")
}

func TestValidateRequiresTokenOutsideDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("SLACK_BOT_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "SLACK_BOT_TOKEN")

	t.Setenv("SLACK_BOT_TOKEN", "xoxb-abc")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "production", cfg.Environment)
}
