package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggerOptions configures NewLogger. Format "console" renders for a
// terminal; anything else writes one JSON object per line.
type LoggerOptions struct {
	Level    string
	Format   string
	Service  string
	Instance string
	Output   io.Writer
}

// NewLogger returns the process logger. Every line carries the service and,
// when set, the instance, so api and worker output can share one sink.
func NewLogger(opts LoggerOptions) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	}

	ctx := zerolog.New(out).
		Level(parseLogLevel(opts.Level)).
		With().
		Timestamp().
		Caller()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	if opts.Instance != "" {
		ctx = ctx.Str("instance", opts.Instance)
	}
	return ctx.Logger()
}

// parseLogLevel never fails: a typo in the config logs at info.
func parseLogLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return zerolog.WarnLevel
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}
