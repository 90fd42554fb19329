package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. Console mode writes human-readable output for
// local runs; otherwise JSON goes to stdout for collection.
func New(level string, console bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if console {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}

// FromEnv reads LOG_LEVEL and LOG_CONSOLE and builds the root logger.
func FromEnv() zerolog.Logger {
	console := strings.EqualFold(os.Getenv("LOG_CONSOLE"), "true")
	return New(os.Getenv("LOG_LEVEL"), console)
}
