package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/cometblue/pkg/config"
)

// configureLogger creates a logger from the --log-level flag, falling back to
// the config file's level when the flag is absent. Returns an error if either
// level string is invalid.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	level := logrus.ErrorLevel

	if cfg != nil {
		l, err := cfg.Level()
		if err != nil {
			return nil, fmt.Errorf("invalid log level in config: %s", cfg.LogLevel)
		}
		level = l
	}

	// --log-level takes precedence over the config file
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		switch logLevelStr {
		case "debug":
			level = logrus.DebugLevel
		case "info":
			level = logrus.InfoLevel
		case "warn":
			level = logrus.WarnLevel
		case "error":
			level = logrus.ErrorLevel
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
