package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, 24, cfg.Cache.TTLHours)
	assert.Equal(t, "thorough", cfg.Sourcing.Mode)
	assert.True(t, cfg.Sourcing.Escalate)
	assert.Equal(t, 10, cfg.Calls.TimeoutMins)
	assert.InDelta(t, 0.8, cfg.Calls.PriceConfidence, 0.001)
	assert.InDelta(t, 0.3, cfg.Calls.NoPriceConfidence, 0.001)
	assert.Equal(t, 30, cfg.Browser.StepTimeoutSecs)
	assert.InDelta(t, 0.30, cfg.Selection.Weights.Price, 0.001)
	assert.InDelta(t, 0.25, cfg.Selection.Weights.Availability, 0.001)
	assert.InDelta(t, 0.20, cfg.Selection.Weights.Delivery, 0.001)
	assert.InDelta(t, 0.15, cfg.Selection.Weights.Quality, 0.001)
	assert.InDelta(t, 0.10, cfg.Selection.Weights.Relationship, 0.001)
	assert.InDelta(t, 100, cfg.Selection.AvailabilityScores["in_stock"], 0.001)
	assert.InDelta(t, 90, cfg.Selection.QualityScores["oem_equivalent"], 0.001)
	assert.Equal(t, 3, cfg.Selection.MaxAlternatives)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Empty(t, cfg.Monitoring.WebhookURL)

	assert.NoError(t, cfg.Validate("lookup"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/quotes
log:
  level: debug
  format: console
cache:
  driver: redis
  redis:
    addr: redis:6379
sourcing:
  mode: fast
vendors:
  - id: v-az
    name: Parts Barn
    phone_number: "+15125550100"
    priority: 1
    specialty: brakes
    callable: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "redis:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, "fast", cfg.Sourcing.Mode)
	require.Len(t, cfg.Vendors, 1)
	assert.Equal(t, "v-az", cfg.Vendors[0].ID)
	assert.Equal(t, 1, cfg.Vendors[0].Priority)
	assert.True(t, cfg.Vendors[0].Callable)
	// Defaults still apply for unset values
	assert.Equal(t, 24, cfg.Cache.TTLHours)
	assert.Equal(t, "quote:", cfg.Cache.Redis.Prefix)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("QUOTE_STORE_DRIVER", "postgres")
	t.Setenv("QUOTE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("QUOTE_SERVER_PORT", "3000")
	t.Setenv("QUOTE_CALLS_TIMEOUT_MINS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Calls.TimeoutMins)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Cache.Driver = "memory"
	cfg.Cache.TTLHours = 24
	cfg.Sourcing.Mode = "thorough"
	cfg.Sourcing.AdapterTimeoutSecs = 90
	cfg.Calls.TimeoutMins = 10
	cfg.Calls.PriceConfidence = 0.8
	cfg.Calls.NoPriceConfidence = 0.3
	cfg.Calls.MaxConcurrent = 5
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateLookup(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("lookup"))

	cfg.Sourcing.Mode = "eager"
	err := cfg.Validate("lookup")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sourcing.mode")
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("lookup")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/quotes"
	assert.NoError(t, cfg.Validate("lookup"))
}

func TestValidateCacheDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Cache.Driver = "redis"

	err := cfg.Validate("cache")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cache.redis.addr")

	cfg.Cache.Redis.Addr = "localhost:6379"
	assert.NoError(t, cfg.Validate("cache"))

	cfg.Cache.Driver = "memcached"
	assert.Error(t, cfg.Validate("cache"))
}

func TestValidateCallConfidences(t *testing.T) {
	cfg := validDefaults()
	cfg.Voice.BaseURL = "https://voice.example.com"
	cfg.Voice.WebhookSecret = "s3cret"
	assert.NoError(t, cfg.Validate("calls"))

	cfg.Calls.PriceConfidence = 0.95
	err := cfg.Validate("calls")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "calls.price_confidence")

	cfg.Calls.PriceConfidence = 0.8
	cfg.Calls.NoPriceConfidence = 0.85
	err = cfg.Validate("calls")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "calls.no_price_confidence")
}

func TestValidateCallsNeedsVoice(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("calls")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "voice.base_url is required")
}

func TestValidateVoiceNeedsWebhookSecret(t *testing.T) {
	for _, mode := range []string{"serve", "calls", "lookup"} {
		cfg := validDefaults()
		cfg.Voice.BaseURL = "https://voice.example.com"

		err := cfg.Validate(mode)
		require.Error(t, err, mode)
		assert.Contains(t, err.Error(), "voice.webhook_secret is required", mode)

		cfg.Voice.WebhookSecret = "s3cret"
		assert.NoError(t, cfg.Validate(mode), mode)
	}

	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be between 1 and 65535")
}

func TestValidatePartner(t *testing.T) {
	cfg := validDefaults()
	assert.Error(t, cfg.Validate("partner"))

	cfg.Partner.Endpoint = "https://partner.example.com/soap"
	assert.NoError(t, cfg.Validate("partner"))
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Calls.MaxConcurrent = 0
	err := cfg.Validate("lookup")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "calls.max_concurrent must be between 1 and 50")

	cfg.Calls.MaxConcurrent = 51
	assert.Error(t, cfg.Validate("lookup"))

	cfg.Calls.MaxConcurrent = 50
	assert.NoError(t, cfg.Validate("lookup"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
