package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration. Values are immutable for
// the process lifetime.
type Config struct {
	Server    ServerConfig
	Pool      PoolConfig
	Queue     QueueConfig
	Execution ExecutionConfig
	Video     VideoConfig
	RateLimit RateLimitConfig
	Validator ValidatorConfig
	Webhook   WebhookConfig
	Auth      AuthConfig
	Logging   LogConfig
	HTTPRate  HTTPRateConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// PoolConfig holds worker pool configuration. Capacity is fixed at
// startup; there is no dynamic resize.
type PoolConfig struct {
	Capacity int `envconfig:"POOL_CAPACITY" default:"10"`
}

// QueueConfig holds admission queue configuration.
type QueueConfig struct {
	MaxSize int `envconfig:"MAX_QUEUE_SIZE" default:"100"`
}

// ExecutionConfig bounds per-script execution.
type ExecutionConfig struct {
	DefaultTimeout time.Duration `envconfig:"EXEC_DEFAULT_TIMEOUT" default:"60s"`
	MinTimeout     time.Duration `envconfig:"EXEC_MIN_TIMEOUT" default:"10s"`
	TimeoutCeiling time.Duration `envconfig:"EXEC_TIMEOUT_CEILING" default:"300s"`
	// BreakerThreshold is how many consecutive failures of the same
	// script temporarily block further submissions of it.
	BreakerThreshold int           `envconfig:"EXEC_BREAKER_THRESHOLD" default:"5"`
	BreakerCooldown  time.Duration `envconfig:"EXEC_BREAKER_COOLDOWN" default:"10m"`
}

// VideoConfig holds recording and retention configuration.
type VideoConfig struct {
	Dir           string        `envconfig:"VIDEO_DIR" default:"./data/videos"`
	Retention     time.Duration `envconfig:"VIDEO_RETENTION" default:"168h"`
	SweepInterval time.Duration `envconfig:"VIDEO_SWEEP_INTERVAL" default:"10m"`
	Width         int           `envconfig:"VIDEO_WIDTH" default:"1280"`
	Height        int           `envconfig:"VIDEO_HEIGHT" default:"720"`
}

// RateLimitConfig holds the fixed-window admission limiter configuration.
type RateLimitConfig struct {
	Window      time.Duration `envconfig:"RATE_WINDOW" default:"1m"`
	PerIdentity int           `envconfig:"RATE_PER_IDENTITY" default:"30"`
	Global      int           `envconfig:"RATE_GLOBAL" default:"60"`
}

// ValidatorConfig holds script validation configuration. PolicyPath
// optionally points at a YAML denylist policy; empty means built-in.
type ValidatorConfig struct {
	PolicyPath    string `envconfig:"VALIDATOR_POLICY"`
	MaxScriptSize int    `envconfig:"MAX_SCRIPT_SIZE" default:"50000"`
}

// WebhookConfig holds outbound delivery configuration.
type WebhookConfig struct {
	Timeout    time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	MaxRetries int           `envconfig:"WEBHOOK_MAX_RETRIES" default:"3"`
	BufferSize int           `envconfig:"WEBHOOK_BUFFER" default:"256"`
}

// AuthConfig holds API key configuration. Empty means open access with
// client IP as identity.
type AuthConfig struct {
	APIKeys []string `envconfig:"API_KEYS"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// HTTPRateConfig holds the transport-level limiter configuration: a
// per-IP limiter plus a process-wide ceiling.
type HTTPRateConfig struct {
	RequestsPerSecond int  `envconfig:"HTTP_RATE_RPS" default:"100"`
	Burst             int  `envconfig:"HTTP_RATE_BURST" default:"200"`
	GlobalRPS         int  `envconfig:"HTTP_RATE_GLOBAL_RPS" default:"500"`
	GlobalBurst       int  `envconfig:"HTTP_RATE_GLOBAL_BURST" default:"1000"`
	Enabled           bool `envconfig:"HTTP_RATE_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Pool.Capacity <= 0 {
		return fmt.Errorf("pool capacity must be positive, got %d", c.Pool.Capacity)
	}
	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("max queue size must be positive, got %d", c.Queue.MaxSize)
	}
	if c.Execution.MinTimeout > c.Execution.TimeoutCeiling {
		return fmt.Errorf("min timeout %s exceeds ceiling %s", c.Execution.MinTimeout, c.Execution.TimeoutCeiling)
	}
	if c.Video.Retention <= 0 {
		return fmt.Errorf("video retention must be positive, got %s", c.Video.Retention)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8000", Host: "0.0.0.0"},
		Pool:   PoolConfig{Capacity: 10},
		Queue:  QueueConfig{MaxSize: 100},
		Execution: ExecutionConfig{
			DefaultTimeout:   60 * time.Second,
			MinTimeout:       10 * time.Second,
			TimeoutCeiling:   300 * time.Second,
			BreakerThreshold: 5,
			BreakerCooldown:  10 * time.Minute,
		},
		Video: VideoConfig{
			Dir:           "./data/videos",
			Retention:     168 * time.Hour,
			SweepInterval: 10 * time.Minute,
			Width:         1280,
			Height:        720,
		},
		RateLimit: RateLimitConfig{
			Window:      time.Minute,
			PerIdentity: 30,
			Global:      60,
		},
		Validator: ValidatorConfig{MaxScriptSize: 50000},
		Webhook: WebhookConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 3,
			BufferSize: 256,
		},
		Logging: LogConfig{Level: "info", Development: false},
		HTTPRate: HTTPRateConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			GlobalRPS:         500,
			GlobalBurst:       1000,
			Enabled:           true,
		},
	}
}
