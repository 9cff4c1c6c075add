// Package frontlog wraps zerolog with the per-component logger views that
// SPEC_FULL.md's ambient stack calls for: every component in the tree gets
// a logger carrying its dotted name-path, grounded on the teacher's
// pkg/log.WithComponent pattern but generalized from a single flat
// "component" field to the full path since frontdoor's component tree is
// arbitrarily deep.
package frontlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the teacher's string-keyed level type.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds process-wide logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Root is the process-wide base logger. Init must be called once at
// startup before any component logger view is taken.
var Root zerolog.Logger

// Init configures the package-global Root logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Root = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Root = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// ForPath returns a logger view carrying the component's dotted
// name-path (e.g. "endpoints.public.tls"), the way each component in the
// tree is meant to log.
func ForPath(path string) zerolog.Logger {
	return Root.With().Str("component", path).Logger()
}

// ForPathWithClass is ForPath plus the component's class string, used at
// component construction time.
func ForPathWithClass(path, class string) zerolog.Logger {
	return Root.With().Str("component", path).Str("class", class).Logger()
}

// Event is the structured-event shape used by component.BaseComponent.Event: a
// path-scoped name plus arbitrary fields, replacing the teacher-language
// original's dynamic-property-access logger decoration.
type Event struct {
	Path   string
	Name   string
	Fields map[string]any
}

// Emit writes an Event through logger at info level, one field at a time
// so zerolog's structured encoder handles typing.
func Emit(logger zerolog.Logger, ev Event) {
	e := logger.Info().Str("event", ev.Name)
	for k, v := range ev.Fields {
		e = e.Interface(k, v)
	}
	e.Msg(ev.Name)
}
