// Package logging configures the global zerolog logger used through
// github.com/rs/zerolog/log.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const consoleTimeFormat = "15:04:05"

// Setup installs the global logger. format is "console", "json" or "auto";
// auto picks console output when w is a terminal.
func Setup(w io.Writer, level, format string) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = time.RFC3339

	out := w
	if useConsole(w, format) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	SetLevel(level)
}

// SetLevel changes the global level. Unknown names fall back to info.
func SetLevel(level string) zerolog.Level {
	lvl := ParseLevel(level, zerolog.InfoLevel)
	zerolog.SetGlobalLevel(lvl)
	return lvl
}

// ParseLevel maps a case-insensitive level name to a zerolog level.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

func useConsole(w io.Writer, format string) bool {
	switch strings.ToLower(format) {
	case "console":
		return true
	case "json":
		return false
	}
	return IsTerminal(w)
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
