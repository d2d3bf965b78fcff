// Package observability builds the structured logger shared by every
// component and the HTTP request logger.
package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a zerolog logger tagged with the app name. format is
// "json" or "console"; level accepts the usual zerolog names plus
// "disabled"/"off". Unknown levels fall back to info.
func NewLogger(app, level, format string) zerolog.Logger {
	return newLogger(os.Stdout, app, level, format)
}

func newLogger(w io.Writer, app, level, format string) zerolog.Logger {
	out := w
	if !strings.EqualFold(format, "json") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Str("app", app).Logger()
}

// ParseLevel maps a configuration string to a zerolog level.
func ParseLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
