package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the fabric process configuration. The canonical deployment
// variables (REDIS_HOST, API_KEYS, PORT, ...) are unprefixed; everything else
// is reachable as KUBENTLY_<FIELD>.
type Config struct {
	Port          int    `mapstructure:"port"`
	RedisHost     string `mapstructure:"redis_host"`
	RedisPort     int    `mapstructure:"redis_port"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	APIKeys         string   `mapstructure:"api_keys"`         // service:key,service:key,...
	AdminIdentities []string `mapstructure:"admin_identities"` // identities with admin scope

	CommandTimeoutDefaultSeconds int `mapstructure:"command_timeout_default_seconds"` // dispatcher default, ceiling 60
	CommandOutputCapBytes        int `mapstructure:"command_output_cap_bytes"`        // result truncation point
	SSEKeepaliveSeconds          int `mapstructure:"sse_keepalive_seconds"`           // stream keepalive cadence, max 30
	ResultTTLSeconds             int `mapstructure:"result_ttl_seconds"`              // result slot retention
	CapabilityTTLSeconds         int `mapstructure:"capability_ttl_seconds"`          // capability record TTL
	ActiveHintTTLSeconds         int `mapstructure:"active_hint_ttl_seconds"`         // cluster:active TTL

	PolicyFile         string `mapstructure:"policy_file"`          // optional YAML verb/flag policy
	MinExecutorVersion string `mapstructure:"min_executor_version"` // semver floor for reported executors; "" disables

	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	RateLimitPerSec    float64  `mapstructure:"rate_limit_per_sec"` // per identity; 0 = disabled
	RateLimitBurst     int      `mapstructure:"rate_limit_burst"`
	MetricsToken       string   `mapstructure:"metrics_token"` // optional bearer guard on /metrics
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"`

	OTLPEndpoint    string  `mapstructure:"otlp_endpoint"` // "" = tracing disabled
	TraceSampleRate float64 `mapstructure:"trace_sample_rate"`
	LogLevel        string  `mapstructure:"log_level"`
}

// Load reads config.yaml (optional) plus environment variables and applies
// defaults and bounds.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/kubently/")
	viper.AddConfigPath("$HOME/.kubently")
	viper.AddConfigPath(".")

	viper.SetDefault("port", 8080)
	viper.SetDefault("redis_host", "localhost")
	viper.SetDefault("redis_port", 6379)
	viper.SetDefault("redis_password", "")
	viper.SetDefault("redis_db", 0)
	viper.SetDefault("api_keys", "")
	viper.SetDefault("admin_identities", []string{"admin"})
	viper.SetDefault("command_timeout_default_seconds", 30)
	viper.SetDefault("command_output_cap_bytes", 1024*1024)
	viper.SetDefault("sse_keepalive_seconds", 15)
	viper.SetDefault("result_ttl_seconds", 60)
	viper.SetDefault("capability_ttl_seconds", 3600)
	viper.SetDefault("active_hint_ttl_seconds", 60)
	viper.SetDefault("policy_file", "")
	viper.SetDefault("min_executor_version", "")
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("rate_limit_per_sec", 0)
	viper.SetDefault("rate_limit_burst", 0)
	viper.SetDefault("metrics_token", "")
	viper.SetDefault("shutdown_timeout_sec", 15)
	viper.SetDefault("otlp_endpoint", "")
	viper.SetDefault("trace_sample_rate", 0.1)
	viper.SetDefault("log_level", "info")

	viper.SetEnvPrefix("KUBENTLY")
	viper.AutomaticEnv()

	// Canonical unprefixed variables recognised by deployments.
	for key, env := range map[string]string{
		"redis_host":                      "REDIS_HOST",
		"redis_port":                      "REDIS_PORT",
		"redis_password":                  "REDIS_PASSWORD",
		"api_keys":                        "API_KEYS",
		"port":                            "PORT",
		"command_timeout_default_seconds": "COMMAND_TIMEOUT_DEFAULT_SECONDS",
		"command_output_cap_bytes":        "COMMAND_OUTPUT_CAP_BYTES",
		"sse_keepalive_seconds":           "SSE_KEEPALIVE_SECONDS",
	} {
		if err := viper.BindEnv(key, env, "KUBENTLY_"+env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if strings.TrimSpace(c.RedisHost) == "" {
		return fmt.Errorf("redis_host must not be empty")
	}
	if c.RedisPort < 1 || c.RedisPort > 65535 {
		return fmt.Errorf("redis_port %d out of range", c.RedisPort)
	}
	if c.CommandTimeoutDefaultSeconds < 1 || c.CommandTimeoutDefaultSeconds > 60 {
		return fmt.Errorf("command_timeout_default_seconds %d out of range [1,60]", c.CommandTimeoutDefaultSeconds)
	}
	if c.CommandOutputCapBytes < 1 {
		return fmt.Errorf("command_output_cap_bytes must be positive")
	}
	if c.SSEKeepaliveSeconds < 1 || c.SSEKeepaliveSeconds > 30 {
		return fmt.Errorf("sse_keepalive_seconds %d out of range [1,30]", c.SSEKeepaliveSeconds)
	}
	if c.ResultTTLSeconds < 1 {
		return fmt.Errorf("result_ttl_seconds must be positive")
	}
	if c.CapabilityTTLSeconds < 1 {
		return fmt.Errorf("capability_ttl_seconds must be positive")
	}
	if c.ActiveHintTTLSeconds < 1 {
		return fmt.Errorf("active_hint_ttl_seconds must be positive")
	}
	return nil
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}
