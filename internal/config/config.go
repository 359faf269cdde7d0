// Package config loads proxy profiles and the process-level settings of the
// DAPNET proxy.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sahmadiut/dapnet-proxy/internal/constants"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// DAPNET_PROXY_LOGGING_LEVEL=debug.
const EnvPrefix = "DAPNET_PROXY"

// AppConfig holds the settings shared by every profile of one process.
type AppConfig struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Status     StatusConfig     `mapstructure:"status"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Connection ConnectionConfig `mapstructure:"connection"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Log level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Log format: json, console
	Format string `mapstructure:"format"`
	// Output file path (empty for stdout)
	Output string `mapstructure:"output"`
}

// StatusConfig holds the status endpoint settings.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	// Metrics mounts the Prometheus handler on the status router
	Metrics bool `mapstructure:"metrics"`
}

// MetricsConfig holds the standalone metrics server settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ConnectionConfig holds socket tuning applied to both peers.
type ConnectionConfig struct {
	// Timeout for a single dial attempt
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// OS level TCP keep-alive period
	TCPKeepAlive time.Duration `mapstructure:"tcp_keepalive"`
	// Disable Nagle's algorithm
	TCPNoDelay bool `mapstructure:"tcp_no_delay"`
	// Force IPv4 ("4") or IPv6 ("6"), empty for auto
	IPVersion string `mapstructure:"ip_version"`
	// How long a session waits for queued frames to flush on close
	CloseGrace time.Duration `mapstructure:"close_grace"`
}

// DefaultAppConfig returns an AppConfig with sensible defaults.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "",
		},
		Status: StatusConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
			Metrics: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9090",
			Path:    "/metrics",
		},
		Connection: ConnectionConfig{
			DialTimeout:  constants.DefaultDialTimeout,
			TCPKeepAlive: constants.DefaultTCPKeepAlive,
			TCPNoDelay:   true,
			IPVersion:    "",
			CloseGrace:   constants.DefaultCloseGrace,
		},
	}
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":      "logging.level",
	"log-format":     "logging.format",
	"log-output":     "logging.output",
	"status":         "status.enabled",
	"status-listen":  "status.listen",
	"metrics":        "metrics.enabled",
	"metrics-listen": "metrics.listen",
	"dial-timeout":   "connection.dial_timeout",
	"ip-version":     "connection.ip_version",
}

// LoadAppConfig loads process settings from an optional YAML file, the
// environment and the flags in fs, in increasing order of precedence. An
// empty path searches the standard locations; a missing file there is not an
// error. fs may be nil.
func LoadAppConfig(configPath string, fs *pflag.FlagSet) (*AppConfig, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Set config file
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("dapnet-proxy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/dapnet-proxy/")
		v.AddConfigPath("$HOME/.dapnet-proxy/")
	}

	// Read environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
		// Config file not found, use defaults
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("error binding flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values in viper.
func setDefaults(v *viper.Viper) {
	defaults := DefaultAppConfig()

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.output", defaults.Logging.Output)

	v.SetDefault("status.enabled", defaults.Status.Enabled)
	v.SetDefault("status.listen", defaults.Status.Listen)
	v.SetDefault("status.metrics", defaults.Status.Metrics)

	v.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	v.SetDefault("metrics.listen", defaults.Metrics.Listen)
	v.SetDefault("metrics.path", defaults.Metrics.Path)

	v.SetDefault("connection.dial_timeout", defaults.Connection.DialTimeout)
	v.SetDefault("connection.tcp_keepalive", defaults.Connection.TCPKeepAlive)
	v.SetDefault("connection.tcp_no_delay", defaults.Connection.TCPNoDelay)
	v.SetDefault("connection.ip_version", defaults.Connection.IPVersion)
	v.SetDefault("connection.close_grace", defaults.Connection.CloseGrace)
}

// Validate checks the process settings.
func (c *AppConfig) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Status.Enabled && c.Status.Listen == "" {
		return fmt.Errorf("status listen address is required when status is enabled")
	}
	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			return fmt.Errorf("metrics listen address is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("invalid metrics path: %q", c.Metrics.Path)
		}
	}

	switch c.Connection.IPVersion {
	case "", "4", "6":
	default:
		return fmt.Errorf("invalid ip version: %s (use 4, 6 or leave empty)", c.Connection.IPVersion)
	}
	if c.Connection.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	if c.Connection.CloseGrace <= 0 {
		return fmt.Errorf("close grace must be positive")
	}

	return nil
}

// SampleAppConfig returns a commented sample process configuration.
func SampleAppConfig() string {
	return `# DAPNET proxy process settings
# Every key can be overridden with DAPNET_PROXY_<SECTION>_<KEY>.

logging:
  level: "info"       # debug, info, warn, error
  format: "console"   # json, console
  output: ""          # file path, "stderr", or empty for stdout

status:
  enabled: true
  listen: "127.0.0.1:8080"
  metrics: true       # also serve /metrics on the status listener

metrics:
  enabled: false
  listen: ":9090"
  path: "/metrics"

connection:
  dial_timeout: "30s"
  tcp_keepalive: "30s"
  tcp_no_delay: true
  ip_version: ""      # "4", "6" or empty for auto
  close_grace: "5s"
`
}
