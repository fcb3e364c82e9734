package logx

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to w. When asJSON is false the output is
// formatted for a terminal.
func New(w io.Writer, level zerolog.Level, asJSON bool) zerolog.Logger {
	out := w
	if !asJSON {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
		zerolog.CallerMarshalFunc = shortCaller
	}
	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if !asJSON {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// ParseLevel maps a config or flag value onto a zerolog level. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}

func shortCaller(pc uintptr, file string, line int) string {
	// Extract just the filename, not the full path
	short := file
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			short = file[i+1:]
			break
		}
	}
	// Pad to 22 characters for alignment
	return fmt.Sprintf("%-22s", fmt.Sprintf("%s:%d", short, line))
}

// Configure builds a logger from config values: level as accepted by
// ParseLevel, format "json" or anything else for console output.
func Configure(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	return New(w, lvl, strings.EqualFold(format, "json")), nil
}
