// Package logx holds the process-wide logger.
package logx

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the shared logger. Packages log through it directly.
var Log zerolog.Logger

// Output formats accepted by Configure through LOG_FORMAT.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Configure sets the global level and rebuilds Log on stderr using the
// format named by LOG_FORMAT (console unless set to json).
func Configure(level string) {
	ConfigureOutput(level, os.Getenv("LOG_FORMAT"), os.Stderr)
}

// ConfigureOutput is Configure with an explicit format and destination.
func ConfigureOutput(level, format string, w io.Writer) {
	zerolog.SetGlobalLevel(parseLevel(level))
	if strings.EqualFold(strings.TrimSpace(format), FormatJSON) {
		Log = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	Log = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
}

// parseLevel is lenient about case and synonyms; unknown values mean info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "all", "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "none", "off", "disabled":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}

func init() {
	Configure(os.Getenv("LOG_LEVEL"))
}
