package config

import "time"

// Config holds all configuration for the gateway.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	TokenPool    TokenPoolConfig    `yaml:"token_pool"`
	ProxyPool    ProxyPoolConfig    `yaml:"proxy_pool"`
	Retry        RetryConfig        `yaml:"retry"`
	Conversation ConversationConfig `yaml:"conversation"`
	Stream       StreamConfig       `yaml:"stream"`
	Chat         ChatConfig         `yaml:"chat"`
	Background   BackgroundConfig   `yaml:"background"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Models       ModelsConfig       `yaml:"models"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TokenPoolConfig mirrors tokenpool.Config.
type TokenPoolConfig struct {
	Cooldown429QuotaSec      int `yaml:"cooldown_429_quota_sec"`
	Cooldown429EmptySec      int `yaml:"cooldown_429_empty_sec"`
	FailThreshold            int `yaml:"fail_threshold"`
	CooldownErrorReqs        int `yaml:"cooldown_error_reqs"`
	SaveDelayMs              int `yaml:"save_delay_ms"`
	ConsecutiveAuthFailLimit int `yaml:"consecutive_auth_fail_limit"`
	CooldownProbeInterval    time.Duration `yaml:"cooldown_probe_interval"`
}

// ProxyPoolConfig mirrors proxypool.Config.
type ProxyPoolConfig struct {
	StaticBaseProxyURL  string        `yaml:"static_base_proxy_url"`
	StaticAssetProxyURL string        `yaml:"static_asset_proxy_url"`
	PoolURL             string        `yaml:"pool_url"`
	RefreshInterval     time.Duration `yaml:"pool_refresh_sec"`
	Pool403Max          int           `yaml:"pool_403_max"`
	UserAgent           string        `yaml:"user_agent"`
}

// RetryConfig mirrors retry.Config.
type RetryConfig struct {
	MaxRetry            int `yaml:"max_retry"`
	Cooldown429QuotaSec int `yaml:"cooldown_429_quota_sec"`
	Cooldown429EmptySec int `yaml:"cooldown_429_empty_sec"`
}

// ConversationConfig mirrors conversation.Config.
type ConversationConfig struct {
	TTL           time.Duration `yaml:"ttl_seconds"`
	MaxPerToken   int           `yaml:"max_per_token"`
	SaveDelayMs   int           `yaml:"save_delay_ms"`
	CleanupPeriod time.Duration `yaml:"cleanup_interval_sec"`
}

// StreamConfig mirrors stream.TimeoutConfig.
type StreamConfig struct {
	FirstTimeout time.Duration `yaml:"first_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	TotalTimeout time.Duration `yaml:"total_timeout"`
}

// ChatConfig holds request-supervisor knobs.
type ChatConfig struct {
	Concurrent int `yaml:"concurrent"`
}

// BackgroundConfig holds interval knobs for the periodic maintenance
// loops in internal/app/background.
type BackgroundConfig struct {
	ReloadIntervalSec time.Duration `yaml:"reload_interval_sec"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	FileOutput bool   `yaml:"file_output"`
	LogDir     string `yaml:"log_dir"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Theme      string `yaml:"theme"`
}

// MetricsConfig holds Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// ModelsConfig drives a supervisor.StaticPolicy: which models cost the
// high effort quota tier, and which token pool serves each model.
type ModelsConfig struct {
	HighEffortModels []string          `yaml:"high_effort_models"`
	PoolByModel      map[string]string `yaml:"pool_by_model"`
	DefaultPool      string            `yaml:"default_pool"`
}
