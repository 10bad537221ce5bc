// Package logging builds the host's zerolog loggers.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns the root logger. Standard JSON output; ConsoleWriter has
// terminal compatibility issues under process supervisors.
func New(verbose bool) zerolog.Logger {
	return NewWithWriter(os.Stdout, verbose)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
