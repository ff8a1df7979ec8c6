package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func init() {
	// Auto-load .env file if present (don't override existing env vars)
	loadDotEnv(".env")
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		// Remove surrounding quotes
		if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
			val = val[1 : len(val)-1]
		}
		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

const (
	defaultPort         = "4300"
	defaultEnvironment  = "development"
	defaultSlackBaseURL = "https://slack.com/api"

	defaultThrottleTime = 500 * time.Millisecond
	defaultMinDelay     = 1 * time.Second
	defaultMinBackoff   = 2 * time.Second
	defaultMaxBackoff   = 60 * time.Second
	defaultBackoffReset = 5 * time.Minute
	defaultAPITimeout   = 30 * time.Second
	defaultMaxAttempts  = 5

	defaultMaxMessageLength    = 4000
	defaultMaxBlocksPerMessage = 50
)

// EngineConfig carries the reconciliation engine's pacing, retry, and
// splitting knobs.
type EngineConfig struct {
	ThrottleTime        time.Duration
	MinDelay            time.Duration
	MinBackoff          time.Duration
	MaxBackoff          time.Duration
	BackoffReset        time.Duration
	APITimeout          time.Duration
	MaxAttempts         int
	MaxMessageLength    int
	MaxBlocksPerMessage int
}

// SlackConfig identifies the platform the engine renders into.
type SlackConfig struct {
	BaseURL string
	Token   string
}

type Config struct {
	Port        string
	DatabaseURL string
	Environment string
	Slack       SlackConfig
	Engine      EngineConfig
}

func Load() (Config, error) {
	cfg := Config{
		Port:        firstNonEmpty(strings.TrimSpace(os.Getenv("PORT")), defaultPort),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Environment: resolveEnvironment(),
		Slack: SlackConfig{
			BaseURL: firstNonEmpty(strings.TrimSpace(os.Getenv("SLACK_API_BASE_URL")), defaultSlackBaseURL),
			Token:   strings.TrimSpace(os.Getenv("SLACK_BOT_TOKEN")),
		},
	}

	throttleTime, err := parseDuration("STREAMFRAME_THROTTLE_TIME", defaultThrottleTime)
	if err != nil {
		return Config{}, err
	}
	cfg.Engine.ThrottleTime = throttleTime

	minDelay, err := parseDuration("STREAMFRAME_MIN_DELAY", defaultMinDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.Engine.MinDelay = minDelay

	minBackoff, err := parseDuration("STREAMFRAME_MIN_BACKOFF", defaultMinBackoff)
	if err != nil {
		return Config{}, err
	}
	cfg.Engine.MinBackoff = minBackoff

	maxBackoff, err := parseDuration("STREAMFRAME_MAX_BACKOFF", defaultMaxBackoff)
	if err != nil {
		return Config{}, err
	}
	cfg.Engine.MaxBackoff = maxBackoff

	backoffReset, err := parseDuration("STREAMFRAME_BACKOFF_RESET", defaultBackoffReset)
	if err != nil {
		return Config{}, err
	}
	cfg.Engine.BackoffReset = backoffReset

	apiTimeout, err := parseDuration("STREAMFRAME_API_TIMEOUT", defaultAPITimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.Engine.APITimeout = apiTimeout

	maxAttempts, err := parseInt("STREAMFRAME_MAX_ATTEMPTS", defaultMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.Engine.MaxAttempts = maxAttempts

	maxMessageLength, err := parseInt("STREAMFRAME_MAX_MESSAGE_LENGTH", defaultMaxMessageLength)
	if err != nil {
		return Config{}, err
	}
	cfg.Engine.MaxMessageLength = maxMessageLength

	maxBlocksPerMessage, err := parseInt("STREAMFRAME_MAX_BLOCKS_PER_MESSAGE", defaultMaxBlocksPerMessage)
	if err != nil {
		return Config{}, err
	}
	cfg.Engine.MaxBlocksPerMessage = maxBlocksPerMessage

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.Engine.MinDelay <= 0 {
		return fmt.Errorf("STREAMFRAME_MIN_DELAY must be greater than zero")
	}
	if c.Engine.MinBackoff <= 0 {
		return fmt.Errorf("STREAMFRAME_MIN_BACKOFF must be greater than zero")
	}
	if c.Engine.MaxBackoff < c.Engine.MinBackoff {
		return fmt.Errorf("STREAMFRAME_MAX_BACKOFF must not be less than STREAMFRAME_MIN_BACKOFF")
	}
	if c.Engine.BackoffReset <= 0 {
		return fmt.Errorf("STREAMFRAME_BACKOFF_RESET must be greater than zero")
	}
	if c.Engine.APITimeout <= 0 {
		return fmt.Errorf("STREAMFRAME_API_TIMEOUT must be greater than zero")
	}
	if c.Engine.MaxAttempts <= 0 {
		return fmt.Errorf("STREAMFRAME_MAX_ATTEMPTS must be greater than zero")
	}
	if c.Engine.MaxMessageLength <= 0 {
		return fmt.Errorf("STREAMFRAME_MAX_MESSAGE_LENGTH must be greater than zero")
	}
	if c.Engine.MaxBlocksPerMessage <= 0 {
		return fmt.Errorf("STREAMFRAME_MAX_BLOCKS_PER_MESSAGE must be greater than zero")
	}

	if !isNonDevelopment(c.Environment) {
		return nil
	}

	if c.Slack.Token == "" {
		return fmt.Errorf("SLACK_BOT_TOKEN is required in non-development environments")
	}
	if c.Slack.BaseURL == "" {
		return fmt.Errorf("SLACK_API_BASE_URL must not be empty")
	}

	return nil
}

func resolveEnvironment() string {
	return strings.ToLower(firstNonEmpty(
		strings.TrimSpace(os.Getenv("APP_ENV")),
		strings.TrimSpace(os.Getenv("ENVIRONMENT")),
		strings.TrimSpace(os.Getenv("GO_ENV")),
		defaultEnvironment,
	))
}

func isNonDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "development", "local", "test":
		return false
	default:
		return true
	}
}

func parseDuration(name string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", name, err)
	}

	if parsed < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}

	return parsed, nil
}

func parseInt(name string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", name, err)
	}
	return parsed, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
