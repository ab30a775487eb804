package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultPort = 19841
	DefaultHost = "0.0.0.0"

	DefaultFileWriteDelay = 150 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults, so a Load
// with no config file produces a fully-wired gateway. Two values differ
// from the adapters' own Config.withDefaults(): TokenPool.CooldownErrorReqs
// is 3 here (tokenpool uses 50) and ProxyPool.UserAgent is "Mozilla/5.0"
// here (proxypool uses "gateway-proxy-pool").
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		TokenPool: TokenPoolConfig{
			Cooldown429QuotaSec:      3600,
			Cooldown429EmptySec:      36000,
			FailThreshold:            5,
			CooldownErrorReqs:        3,
			SaveDelayMs:              500,
			ConsecutiveAuthFailLimit: 3,
			CooldownProbeInterval:    10 * time.Second,
		},
		ProxyPool: ProxyPoolConfig{
			RefreshInterval: 300 * time.Second,
			Pool403Max:      5,
			UserAgent:       "Mozilla/5.0",
		},
		Retry: RetryConfig{
			MaxRetry:            3,
			Cooldown429QuotaSec: 3600,
			Cooldown429EmptySec: 36000,
		},
		Conversation: ConversationConfig{
			TTL:           24 * time.Hour,
			MaxPerToken:   50,
			SaveDelayMs:   500,
			CleanupPeriod: time.Minute,
		},
		Stream: StreamConfig{
			FirstTimeout: 30 * time.Second,
			IdleTimeout:  20 * time.Second,
			TotalTimeout: 10 * time.Minute,
		},
		Chat: ChatConfig{
			Concurrent: 50,
		},
		Background: BackgroundConfig{
			ReloadIntervalSec: 60 * time.Second,
			SessionTTL:        time.Hour,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FileOutput: true,
			LogDir:     "./logs",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Theme:      "default",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
		},
		Models: ModelsConfig{
			DefaultPool: "ssoBasic",
		},
	}
}

// Load loads configuration from file and environment variables,
// watching the file for changes and invoking onConfigChange after a
// debounce window, mirroring the teacher's single mutex-guarded
// last-event-wins reload idiom.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("GATEWAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("GATEWAY_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			// on some platforms this event fires before the file write
			// has fully landed on disk
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}
	return cfg, nil
}
