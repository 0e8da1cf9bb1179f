package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, BackendMemory, cfg.RateLimit.Backend)
	assert.Equal(t, 10, cfg.RateLimit.Limit)
	assert.Equal(t, time.Hour, cfg.RateLimit.Window)
	assert.Equal(t, "DASHSCOPE_API_KEY", cfg.Upstream.APIKeyEnv)
	assert.Equal(t, 0.7, cfg.Upstream.Temperature)
	assert.Equal(t, 500, cfg.Upstream.MaxTokens)
	assert.Equal(t, 0.9, cfg.Upstream.TopP)
	assert.Zero(t, cfg.Upstream.Timeout)
	require.NoError(t, Validate(cfg))
}

func TestSetDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		RateLimit: RateLimitConfig{Limit: 3, Window: time.Minute, Backend: BackendRedis},
		Upstream:  UpstreamConfig{Model: "qwen-plus", Timeout: 20 * time.Second},
	}
	SetDefaults(cfg)

	assert.Equal(t, 3, cfg.RateLimit.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, BackendRedis, cfg.RateLimit.Backend)
	assert.Equal(t, "qwen-plus", cfg.Upstream.Model)
	assert.Equal(t, 20*time.Second, cfg.Upstream.Timeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid port"},
		{"bad backend", func(c *Config) { c.RateLimit.Backend = "memcached" }, "rate_limit.backend"},
		{"negative limit", func(c *Config) { c.RateLimit.Limit = -1 }, "rate_limit.limit"},
		{"negative window", func(c *Config) { c.RateLimit.Window = -time.Second }, "rate_limit.window"},
		{"top_p too large", func(c *Config) { c.Upstream.TopP = 1.5 }, "upstream.top_p"},
		{"temperature too large", func(c *Config) { c.Upstream.Temperature = 3 }, "upstream.temperature"},
		{"zero top_p", func(c *Config) { c.Upstream.TopP = 0 }, "upstream.top_p"},
		{"blank key env", func(c *Config) { c.Upstream.APIKeyEnv = "  " }, "api_key_env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestAPIKeyLookup_ReadsEnvironmentEachCall(t *testing.T) {
	viper.AutomaticEnv()
	lookup := APIKeyLookup("PERSONACHAT_TEST_API_KEY")

	t.Setenv("PERSONACHAT_TEST_API_KEY", "")
	assert.Empty(t, lookup())

	t.Setenv("PERSONACHAT_TEST_API_KEY", "  sk-test  ")
	assert.Equal(t, "sk-test", lookup())
}

func TestLoad_UpstreamSamplingDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Reset()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultTemperature, cfg.Upstream.Temperature)
	assert.Equal(t, DefaultTopP, cfg.Upstream.TopP)

	viper.Reset()
	viper.Set("upstream.temperature", 0.0)
	viper.Set("upstream.top_p", 0.5)
	cfg, err = Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.Upstream.Temperature)
	assert.Equal(t, 0.5, cfg.Upstream.TopP)
}

func TestLoad_RejectsZeroTopP(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Reset()
	viper.Set("upstream.top_p", 0)
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream.top_p")
}
