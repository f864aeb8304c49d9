// Package executor implements the per-cluster agent: it holds the SSE stream
// open against the fabric, runs the commands it receives through a local
// kubectl with a verb allow-list, and posts results and capability reports
// back. The agent owns no shared state; everything it knows comes from its
// configuration and the stream.
package executor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/pkg/validate"
)

// Config is the executor process configuration, read from KUBENTLY_* env
// variables (KUBENTLY_API_URL, KUBENTLY_CLUSTER_ID, KUBENTLY_TOKEN, ...) with
// an optional executor.yaml alongside the binary.
type Config struct {
	APIURL    string `mapstructure:"api_url"`    // fabric base URL
	ClusterID string `mapstructure:"cluster_id"` // identity presented on every call
	Token     string `mapstructure:"token"`      // bearer credential minted by an admin

	SecurityMode string   `mapstructure:"security_mode"` // readOnly | extendedReadOnly | readWrite
	ExtraVerbs   []string `mapstructure:"extra_verbs"`   // verbs added on top of the mode set

	KubectlPath           string `mapstructure:"kubectl_path"`
	CommandTimeoutSeconds int    `mapstructure:"command_timeout_seconds"` // per-command wall clock
	OutputCapBytes        int    `mapstructure:"output_cap_bytes"`        // truncation point
	MaxConcurrent         int    `mapstructure:"max_concurrent"`          // child process bound

	HeartbeatSeconds  int `mapstructure:"heartbeat_seconds"`   // capability TTL refresh cadence
	DrainGraceSeconds int `mapstructure:"drain_grace_seconds"` // wait for children on shutdown

	Kubeconfig    string `mapstructure:"kubeconfig"` // "" = in-cluster, then default loading rules
	SkipPreflight bool   `mapstructure:"skip_preflight"`

	LogLevel string `mapstructure:"log_level"`
}

// LoadConfig reads the executor configuration and applies defaults and bounds.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("executor")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/kubently/")
	v.AddConfigPath(".")

	v.SetDefault("api_url", "")
	v.SetDefault("cluster_id", "")
	v.SetDefault("token", "")
	v.SetDefault("security_mode", models.SecurityModeReadOnly)
	v.SetDefault("extra_verbs", []string{})
	v.SetDefault("kubectl_path", "kubectl")
	v.SetDefault("command_timeout_seconds", 20)
	v.SetDefault("output_cap_bytes", 1024*1024)
	v.SetDefault("max_concurrent", 4)
	v.SetDefault("heartbeat_seconds", 300)
	v.SetDefault("drain_grace_seconds", 10)
	v.SetDefault("kubeconfig", "")
	v.SetDefault("skip_preflight", false)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("KUBENTLY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("api_url must be set")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api_url %q is not an absolute URL", c.APIURL)
	}
	if !validate.ClusterID(c.ClusterID) {
		return fmt.Errorf("cluster_id %q is malformed", c.ClusterID)
	}
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("token must be set")
	}
	switch c.SecurityMode {
	case models.SecurityModeReadOnly, models.SecurityModeExtendedReadOnly, models.SecurityModeReadWrite:
	default:
		return fmt.Errorf("security_mode %q is not one of readOnly, extendedReadOnly, readWrite", c.SecurityMode)
	}
	if strings.TrimSpace(c.KubectlPath) == "" {
		return fmt.Errorf("kubectl_path must not be empty")
	}
	if c.CommandTimeoutSeconds < 1 || c.CommandTimeoutSeconds > 120 {
		return fmt.Errorf("command_timeout_seconds %d out of range [1,120]", c.CommandTimeoutSeconds)
	}
	if c.OutputCapBytes < 1 {
		return fmt.Errorf("output_cap_bytes must be positive")
	}
	if c.MaxConcurrent < 1 || c.MaxConcurrent > 64 {
		return fmt.Errorf("max_concurrent %d out of range [1,64]", c.MaxConcurrent)
	}
	if c.HeartbeatSeconds < 10 {
		return fmt.Errorf("heartbeat_seconds must be at least 10")
	}
	if c.DrainGraceSeconds < 0 {
		return fmt.Errorf("drain_grace_seconds must not be negative")
	}
	return nil
}
