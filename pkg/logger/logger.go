package logx

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"captain-agent/internal/core"
)

type Options struct {
	Environment core.Environment
	// Level overrides the environment default when set ("debug", "info", ...).
	Level string
	// Output defaults to stdout for production and a console writer otherwise.
	Output io.Writer
}

// Init configures the global zerolog logger used by the package helpers.
func Init(opts Options) {
	level := zerolog.DebugLevel
	if opts.Environment.IsProduction() {
		level = zerolog.InfoLevel
	}
	if opts.Level != "" {
		if parsed, err := zerolog.ParseLevel(opts.Level); err == nil && parsed != zerolog.NoLevel {
			level = parsed
		}
	}

	out := opts.Output
	switch {
	case out != nil:
	case opts.Environment.IsProduction():
		out = os.Stdout
	default:
		out = zerolog.NewConsoleWriter()
	}

	ctx := zerolog.New(out).With().Timestamp()
	if !opts.Environment.IsProduction() {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger().Level(level)
}

func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}
