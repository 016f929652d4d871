// Package config provides configuration management for the orchestrator core.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every configuration section the core reads at startup.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Runtime      RuntimeConfig      `mapstructure:"runtime"`
	GitWatcher   GitWatcherConfig   `mapstructure:"gitWatcher"`
	Launcher     LauncherConfig     `mapstructure:"launcher"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres | memory
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"` // empty means use the in-process bus
}

type LLMConfig struct {
	APIType      string `mapstructure:"apiType"`
	BaseURL      string `mapstructure:"baseUrl"`
	Model        string `mapstructure:"model"`
	TimeoutSecs  int    `mapstructure:"timeoutSecs"`
	MaxRetries   int    `mapstructure:"maxRetries"`
	RetryDelayMs int    `mapstructure:"retryDelayMs"`
	RateLimitRPS int    `mapstructure:"rateLimitRequestsPerSecond"`
}

type RuntimeConfig struct {
	MaxConcurrentWorkflows int `mapstructure:"maxConcurrentWorkflows"`
	ShutdownTimeoutSecs    int `mapstructure:"shutdownTimeoutSecs"`
	MaxConversationHistory int `mapstructure:"maxConversationHistory"`
}

type GitWatcherConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PollIntervalMs int  `mapstructure:"pollIntervalMs"`
}

type LauncherConfig struct {
	StartupPauseMs int `mapstructure:"startupPauseMs"`
	DefaultCols    int `mapstructure:"defaultCols"`
	DefaultRows    int `mapstructure:"defaultRows"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

func (r *RuntimeConfig) ShutdownTimeout() time.Duration {
	return time.Duration(r.ShutdownTimeoutSecs) * time.Second
}

func (g *GitWatcherConfig) PollInterval() time.Duration {
	return time.Duration(g.PollIntervalMs) * time.Millisecond
}

func (l *LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSecs) * time.Second
}

func (l *LLMConfig) RetryDelay() time.Duration {
	return time.Duration(l.RetryDelayMs) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./coderun.db")

	v.SetDefault("nats.url", "")

	v.SetDefault("llm.apiType", "openai")
	v.SetDefault("llm.baseUrl", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeoutSecs", 60)
	v.SetDefault("llm.maxRetries", 3)
	v.SetDefault("llm.retryDelayMs", 500)
	v.SetDefault("llm.rateLimitRequestsPerSecond", 5)

	v.SetDefault("runtime.maxConcurrentWorkflows", 10)
	v.SetDefault("runtime.shutdownTimeoutSecs", 5)
	v.SetDefault("runtime.maxConversationHistory", 50)

	v.SetDefault("gitWatcher.enabled", true)
	v.SetDefault("gitWatcher.pollIntervalMs", 2000)

	v.SetDefault("launcher.startupPauseMs", 500)
	v.SetDefault("launcher.defaultCols", 120)
	v.SetDefault("launcher.defaultRows", 40)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9464)
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("CODERUN_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// Load reads configuration from environment variables, an optional
// config.yaml, and defaults, in that precedence order.
func Load() (*Config, error) {
	return LoadWithPath("")
}

func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CODERUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("llm.rateLimitRequestsPerSecond", "CODERUN_LLM_RATE_LIMIT_RPS")
	_ = v.BindEnv("runtime.maxConcurrentWorkflows", "CODERUN_MAX_CONCURRENT_WORKFLOWS")
	_ = v.BindEnv("logging.level", "CODERUN_LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/coderun/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Runtime.MaxConcurrentWorkflows <= 0 {
		errs = append(errs, "runtime.maxConcurrentWorkflows must be positive")
	}
	if cfg.Runtime.MaxConversationHistory <= 0 {
		errs = append(errs, "runtime.maxConversationHistory must be positive")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
