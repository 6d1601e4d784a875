package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Population int           `mapstructure:"population"` // creation iterations of the root generator
	Topology   string        `mapstructure:"topology"`   // "fanout" or "chain"
	Tick       time.Duration `mapstructure:"tick"`       // yielder sleep length
	Duration   time.Duration `mapstructure:"duration"`   // 0 = run until signalled

	// Limits applied to every spawned process. 0 leaves the limit unset.
	MaxPIDs       int `mapstructure:"max_pids"`
	MaxCPUSeconds int `mapstructure:"max_cpu_seconds"`
	MaxFDs        int `mapstructure:"max_fds"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "auto", "text", "json", "tint"

	JournalEnabled bool   `mapstructure:"journal_enabled"`
	JournalFile    string `mapstructure:"journal_file"`
}

// LoadConfig loads configuration from the default file location and
// environment variables
func LoadConfig() (*Config, error) {
	return Load("")
}

// Load loads configuration from configFile (or ~/.schedprobe/config.yaml when
// empty) and environment variables. A missing default file is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("population", 64)
	v.SetDefault("topology", "fanout")
	v.SetDefault("tick", 100*time.Millisecond)
	v.SetDefault("duration", time.Duration(0))
	v.SetDefault("max_pids", 0)
	v.SetDefault("max_cpu_seconds", 0)
	v.SetDefault("max_fds", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "auto")
	v.SetDefault("journal_enabled", false)
	v.SetDefault("journal_file", filepath.Join(getHomeDir(), ".schedprobe", "journal.log"))

	if configFile != "" {
		v.SetConfigFile(expandPath(configFile))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(getHomeDir(), ".schedprobe"))
		_ = v.ReadInConfig() // nolint:errcheck // config file is optional
	}

	v.SetEnvPrefix("SCHEDPROBE")
	v.AutomaticEnv()

	_ = v.BindEnv("population", "SCHEDPROBE_POPULATION") // nolint:errcheck // errors are unlikely here
	_ = v.BindEnv("topology", "SCHEDPROBE_TOPOLOGY")     // nolint:errcheck // errors are unlikely here
	_ = v.BindEnv("tick", "SCHEDPROBE_TICK")             // nolint:errcheck // errors are unlikely here
	_ = v.BindEnv("log_level", "SCHEDPROBE_LOG_LEVEL")   // nolint:errcheck // errors are unlikely here

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JournalFile = expandPath(cfg.JournalFile)
	cfg.Topology = strings.ToLower(strings.TrimSpace(cfg.Topology))

	return &cfg, nil
}

// Validate checks values that cannot be defaulted away
func (c *Config) Validate() error {
	if c.Population < 0 {
		return fmt.Errorf("population must be non-negative, got %d", c.Population)
	}
	switch c.Topology {
	case "fanout", "chain":
	default:
		return fmt.Errorf("unknown topology %q (expected fanout or chain)", c.Topology)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", c.Tick)
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration must not be negative, got %s", c.Duration)
	}
	if c.MaxPIDs < 0 || c.MaxCPUSeconds < 0 || c.MaxFDs < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	switch c.LogFormat {
	case "auto", "text", "json", "tint":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// getHomeDir returns the user's home directory
func getHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home := getHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
