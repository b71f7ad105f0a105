// Package log is a thin facade over zerolog, matching the logging calls the
// rest of this daemon makes (Debugf, Infof, Warnf, Errorf) without exposing
// zerolog's event-builder API to callers.
package log

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var base zerolog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: false}).
	With().Timestamp().Logger()

// SetLevel parses one of "debug", "info", "warn", "error" (case-insensitive)
// and adjusts the package-wide minimum level. Unknown values fall back to
// info.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	base = base.Level(lvl)
}

// SetJSON switches the output writer between the human console format and
// plain JSON lines, so the daemon's log stream can feed either a terminal
// or a log collector.
func SetJSON(json bool) {
	if json {
		base = base.Output(os.Stderr)
	} else {
		base = base.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: false})
	}
}

// SetOutput redirects the log stream to w (e.g. a log file opened by the
// -l flag) as plain JSON lines; it replaces the console writer, whether that
// was the default or chosen by SetJSON.
func SetOutput(w io.Writer) {
	base = base.Output(w)
}

func Debugf(format string, args ...any) { base.Debug().Msgf(format, args...) }
func Infof(format string, args ...any)  { base.Info().Msgf(format, args...) }
func Warnf(format string, args ...any)  { base.Warn().Msgf(format, args...) }
func Errorf(format string, args ...any) { base.Error().Msgf(format, args...) }

func Info(msg string)  { base.Info().Msg(msg) }
func Warn(msg string)  { base.Warn().Msg(msg) }
func Error(msg string) { base.Error().Msg(msg) }
