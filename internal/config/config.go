package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Persona   PersonaConfig   `mapstructure:"persona"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type SecurityConfig struct {
	EnableCORS     bool     `mapstructure:"enable_cors"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	Output        string `mapstructure:"output"`
	ConsoleOutput bool   `mapstructure:"console_output"`
	MaxSize       int    `mapstructure:"max_size"`
	MaxBackups    int    `mapstructure:"max_backups"`
	MaxAge        int    `mapstructure:"max_age"`
	Compress      bool   `mapstructure:"compress"`
}

type StorageConfig struct {
	DataDir  string `mapstructure:"data_dir"`
	UsageDir string `mapstructure:"usage_dir"`
	LogsDir  string `mapstructure:"logs_dir"`
}

// RateLimitConfig 每个客户端在固定窗口内的请求上限
type RateLimitConfig struct {
	Backend string        `mapstructure:"backend"` // memory | redis
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// UpstreamConfig describes the OpenAI-compatible chat-completions provider.
// The API key itself is never stored here; only the name of the variable that
// carries it.
type UpstreamConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	APIKeyEnv   string        `mapstructure:"api_key_env"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	TopP        float64       `mapstructure:"top_p"`
	Timeout     time.Duration `mapstructure:"timeout"` // 0 = 不设超时，只跟随请求上下文
}

type PersonaConfig struct {
	File string `mapstructure:"file"`
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// 0 是合法的 temperature，不能用零值判断默认值
const (
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
)

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{}
	cfg.Upstream.Temperature = DefaultTemperature
	cfg.Upstream.TopP = DefaultTopP
	SetDefaults(cfg)
	return cfg
}

func registerDefaults() {
	viper.SetDefault("upstream.temperature", DefaultTemperature)
	viper.SetDefault("upstream.top_p", DefaultTopP)
}

// Load loads the configuration from file and environment
func Load() (*Config, error) {
	var cfg Config

	registerDefaults()
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 设置默认值
	SetDefaults(&cfg)

	// 验证配置
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadOrCreate 加载配置，如果不存在则创建默认配置
func LoadOrCreate() (*Config, error) {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = "./config.yaml"
	}

	if _, err := os.Stat(configFile); err == nil {
		cfg, err := Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configFile, err)
		}
		return cfg, nil
	}

	// 配置文件不存在，仍然接受flag和环境变量覆盖，再写出默认文件
	fmt.Println("\n⚠️  Config file not found, creating default config...")

	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := SaveConfig(cfg); err != nil {
		fmt.Printf("\n⚠️  Warning: Failed to save config file: %v\n", err)
		fmt.Println("   Continuing with in-memory config...")
	} else {
		fmt.Println("\n✅ Config file created: config.yaml")
	}
	fmt.Printf("   Remember to export %s before serving chat requests.\n", cfg.Upstream.APIKeyEnv)

	return cfg, nil
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config) error {
	viper.Set("server", cfg.Server)
	viper.Set("security", cfg.Security)
	viper.Set("logging", cfg.Logging)
	viper.Set("storage", cfg.Storage)
	viper.Set("rate_limit", cfg.RateLimit)
	viper.Set("upstream", cfg.Upstream)
	viper.Set("persona", cfg.Persona)

	configPath := viper.ConfigFileUsed()
	if configPath == "" {
		configPath = "./config.yaml"
	}

	return viper.WriteConfigAs(configPath)
}

// APIKeyLookup returns a function that reads the upstream API key on every
// call, so a key exported after startup is picked up without a restart.
func APIKeyLookup(envName string) func() string {
	return func() string {
		return strings.TrimSpace(viper.GetString(envName))
	}
}

// SetDefaults fills zero values with their built-in defaults. Temperature and
// top_p are left alone: their defaults come from viper or Default.
func SetDefaults(cfg *Config) {
	// 服务器配置
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 64 << 10
	}

	if len(cfg.Security.AllowedOrigins) == 0 {
		cfg.Security.AllowedOrigins = []string{"*"}
	}

	// 日志配置
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "logs/personachat.log"
	}
	cfg.Logging.ConsoleOutput = true
	if cfg.Logging.MaxSize == 0 {
		cfg.Logging.MaxSize = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 10
	}
	if cfg.Logging.MaxAge == 0 {
		cfg.Logging.MaxAge = 30
	}

	// 存储配置
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Storage.UsageDir == "" {
		cfg.Storage.UsageDir = "./data/usage"
	}
	if cfg.Storage.LogsDir == "" {
		cfg.Storage.LogsDir = "./logs"
	}

	// 限流：每个IP每小时最多10次请求
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = BackendMemory
	}
	if cfg.RateLimit.Limit == 0 {
		cfg.RateLimit.Limit = 10
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Hour
	}
	if cfg.RateLimit.Redis.Addr == "" {
		cfg.RateLimit.Redis.Addr = "localhost:6379"
	}
	if cfg.RateLimit.Redis.Prefix == "" {
		cfg.RateLimit.Redis.Prefix = "personachat:rl:"
	}

	// 上游模型配置
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	}
	if cfg.Upstream.Model == "" {
		cfg.Upstream.Model = "qwen3-max-2026-01-23"
	}
	if cfg.Upstream.APIKeyEnv == "" {
		cfg.Upstream.APIKeyEnv = "DASHSCOPE_API_KEY"
	}
	if cfg.Upstream.MaxTokens == 0 {
		cfg.Upstream.MaxTokens = 500
	}
}

// Validate rejects configurations the server cannot run with.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("invalid max_body_bytes: %d", cfg.Server.MaxBodyBytes)
	}
	switch cfg.RateLimit.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("invalid rate_limit.backend %q (want memory or redis)", cfg.RateLimit.Backend)
	}
	if cfg.RateLimit.Limit < 1 {
		return fmt.Errorf("invalid rate_limit.limit: %d", cfg.RateLimit.Limit)
	}
	if cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("invalid rate_limit.window: %s", cfg.RateLimit.Window)
	}
	if cfg.Upstream.Temperature < 0 || cfg.Upstream.Temperature > 2 {
		return fmt.Errorf("invalid upstream.temperature: %v", cfg.Upstream.Temperature)
	}
	if cfg.Upstream.TopP <= 0 || cfg.Upstream.TopP > 1 {
		return fmt.Errorf("invalid upstream.top_p: %v", cfg.Upstream.TopP)
	}
	if cfg.Upstream.MaxTokens < 1 {
		return fmt.Errorf("invalid upstream.max_tokens: %d", cfg.Upstream.MaxTokens)
	}
	if cfg.Upstream.Timeout < 0 {
		return fmt.Errorf("invalid upstream.timeout: %s", cfg.Upstream.Timeout)
	}
	if strings.TrimSpace(cfg.Upstream.APIKeyEnv) == "" {
		return fmt.Errorf("upstream.api_key_env must name an environment variable")
	}
	return nil
}
