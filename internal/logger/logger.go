package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Logger *logrus.Logger

func init() {
	Logger = logrus.New()
	Logger.SetOutput(os.Stdout)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Default level
	Logger.SetLevel(logrus.InfoLevel)

	// Override from env, e.g., LOG_LEVEL=debug
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		if parsedLevel, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
			Logger.SetLevel(parsedLevel)
		}
	}
}

// WithComponent adds a component field to the logger
func WithComponent(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}

// WithPage adds component and page fields for per-page operations.
func WithPage(component, pageID string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{
		"component": component,
		"page":      pageID,
	})
}

// SetLevel applies a configured level, falling back to info on bad input.
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		WithComponent("logger").Warnf("invalid log level '%s', using 'info'", level)
		parsed = logrus.InfoLevel
	}
	Logger.SetLevel(parsed)
}
