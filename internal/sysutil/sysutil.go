// Package sysutil holds process-level helpers shared by config and the
// binaries: log level parsing and lenient environment value parsing.
package sysutil

import (
	"strings"

	"github.com/rs/zerolog"
)

// ParseLevel maps a level name to a zerolog.Level. Names are
// case-insensitive and "warning" is accepted for warn. Empty, numeric and
// "disabled" values are rejected so a typo never silences the logs.
func ParseLevel(s string) (zerolog.Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	switch s {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return zerolog.NoLevel, false
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, false
	}
	return lvl, true
}

// SetLogLevel sets the global zerolog level, falling back to info for
// unknown names.
func SetLogLevel(s string) {
	lvl, ok := ParseLevel(s)
	if !ok {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// ParseBool reads the usual on/off spellings ("1", "true", "yes", "y",
// "on" and their negatives). ok is false for anything else.
func ParseBool(s string) (v, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	}
	return false, false
}

// FirstNonEmpty returns the first value that is not blank, unmodified.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
