// Package log configures the process-wide zerolog logger.
package log

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with module scoping.
type Logger struct {
	zerolog.Logger
}

// New builds a logger writing to stderr. pretty switches to the console
// writer; unknown levels fall back to info.
func New(level string, pretty bool) *Logger {
	return NewWithWriter(os.Stderr, level, pretty)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(w io.Writer, level string, pretty bool) *Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}

	l := zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()

	return &Logger{Logger: l}
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Module returns a child logger tagged with the module name.
func (l *Logger) Module(name string) *Logger {
	return &Logger{Logger: l.With().Str("module", name).Logger()}
}

// SetLevel changes the level in place.
func (l *Logger) SetLevel(level string) {
	l.Logger = l.Level(ParseLevel(level))
}

// SetGlobalLevel sets the minimum level for every logger in the process,
// including child loggers derived before the call.
func SetGlobalLevel(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
}
