package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParseLevel maps LOG_LEVEL to a zerolog level; unknown values fall back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds the service logger. Production writes JSON; anything else gets the console writer.
func New(w io.Writer, level, env string) zerolog.Logger {
	if env != "production" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", "quantumgrid-api").
		Logger()
}

// Setup replaces the global logger used through github.com/rs/zerolog/log.
func Setup(level, env string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = New(os.Stdout, level, env)
}
