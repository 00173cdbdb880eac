// Package logging builds the charmbracelet logger handed to every component.
package logging

import (
	"io"
	"strings"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to out at the given level name.
func New(out io.Writer, level string) *log.Logger {
	return log.NewWithOptions(out, log.Options{
		Level:           ParseLevel(level),
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
	})
}

// ParseLevel maps a level name to a log.Level. Unknown names select info.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "info", "":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// LevelName returns the level selected by a -v count on top of base.
// Any -v selects debug.
func LevelName(base string, verbosity int) string {
	if verbosity > 0 {
		return "debug"
	}
	return base
}
