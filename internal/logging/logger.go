// Package logging builds the zerolog loggers used across the backtester.
// Components receive a zerolog.Logger through their constructors and attach
// their own component field.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Output string `json:"output"` // "stdout", "stderr", or file path
	Format string `json:"format"` // "json" or "console"
}

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// ParseLevel converts a config string into a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a logger with the given configuration.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			output = file
		}
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// Default returns a shared info-level JSON logger on stdout.
func Default() zerolog.Logger {
	once.Do(func() {
		defaultLogger = New(Config{Level: "info", Output: "stdout", Format: "json"})
	})
	return defaultLogger
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
