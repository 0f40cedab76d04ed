package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Adapter         string        `yaml:"adapter" default:"hci0"`
	LogLevel        string        `yaml:"log_level" default:"error"`
	ScanDuration    time.Duration `yaml:"scan_duration" default:"10s"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ResolveInterval time.Duration `yaml:"resolve_interval" default:"20ms"`
	ResolveAttempts int           `yaml:"resolve_attempts" default:"250"`
	PIN             *uint32       `yaml:"pin,omitempty"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error: the defaults stand.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	return cfg, nil
}

// Level parses the configured log level.
func (c *Config) Level() (logrus.Level, error) {
	return logrus.ParseLevel(c.LogLevel)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
