package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg LogConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if cfg.LogFormat == LogFormatJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
