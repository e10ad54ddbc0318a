// Package logger configures the process-wide zerolog logger and hands out
// sub-loggers for the parts of the board that fail independently: the write
// pipeline, the read path, storage, and the archival sweep.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide root logger. Until Initialize runs it discards
// everything, so package init order never matters.
var Log = zerolog.New(io.Discard)

// Options configures the root logger.
type Options struct {
	// Service tags every line; shows up as service=<name>.
	Service string
	// Level is a zerolog level name ("debug", "info", ...). Unparsable
	// values fall back to info.
	Level string
	// Pretty switches from JSON to console output for local runs.
	Pretty bool
}

// Initialize builds the root logger from opts.
func Initialize(opts Options) {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", opts.Service).
		Logger()

	Log.Info().
		Str("level", level.String()).
		Bool("pretty", opts.Pretty).
		Msg("logger initialized")
}

func component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

// Ingest logs the bbs.cgi write pipeline: gates, challenges, commits.
func Ingest() *zerolog.Logger {
	return component("ingest")
}

// Reader logs the .dat and flat-file read path.
func Reader() *zerolog.Logger {
	return component("reader")
}

// Repository logs database access.
func Repository() *zerolog.Logger {
	return component("repository")
}

// Sweep logs the archival sweep.
func Sweep() *zerolog.Logger {
	return component("sweep")
}

// Request logs per-request lines from the HTTP middleware.
func Request() *zerolog.Logger {
	return component("request")
}
