// Package telemetry builds the zerolog.Logger every long-lived component
// takes at construction time.
//
// Grounded on the original per-process logger construction
// (log.New(os.Stdout, "[engine] ", log.LstdFlags), one *log.Logger built
// once in each cmd/ main and passed down to every constructor) ported onto
// zerolog: a component field replaces the old string prefix, and cmd/
// entry points choose between a human-readable zerolog.ConsoleWriter and
// structured JSON output.
package telemetry

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/nitinkhare/tradeforge/internal/config"
)

// New builds the root logger for a process from its logging config.
// Format "console" renders human-readable colored output via
// zerolog.ConsoleWriter; anything else emits newline-delimited JSON to
// stdout, which is what every non-interactive deployment (containers,
// systemd) should use.
func New(cfg config.LoggingConfig, service string) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("telemetry: parse log level %q: %w", cfg.Level, err)
	}

	logger := zerolog.New(output(cfg.Format, os.Stdout)).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	return logger, nil
}

func output(format string, w io.Writer) io.Writer {
	if format == "console" {
		return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return w
}

// Component derives a child logger tagged with the given component name,
// the same "one logger per subsystem" idiom applied previously by
// constructing a differently-prefixed *log.Logger per module.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
