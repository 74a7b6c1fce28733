package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Configure applies the log level and format to the standard logger
func (c LogConfig) Configure() error {
	switch c.Format {
	case "", "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}

	level := logrus.InfoLevel
	if c.Level != "" {
		parsed, err := logrus.ParseLevel(c.Level)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}
	logrus.SetLevel(level)
	return nil
}
