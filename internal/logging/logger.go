package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns the process logger: console output in development, JSON lines
// otherwise. service is attached to every line.
func New(service string, development bool) zerolog.Logger {
	return NewWithWriter(os.Stdout, service, development)
}

// NewWithWriter is New writing to w.
func NewWithWriter(w io.Writer, service string, development bool) zerolog.Logger {
	if development {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}
