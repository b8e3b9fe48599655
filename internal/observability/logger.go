package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Logger struct {
	base zerolog.Logger
}

func NewLogger(env string) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewLoggerTo(out)
}

// NewLoggerTo writes JSON lines to out.
func NewLoggerTo(out io.Writer) *Logger {
	return &Logger{base: zerolog.New(out).With().Timestamp().Logger()}
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return &Logger{base: zerolog.Nop()}
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.base.Info().Fields(fields).Msg(message)
}

func (l *Logger) Warn(message string, fields map[string]any) {
	l.base.Warn().Fields(fields).Msg(message)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.base.Error().Fields(fields).Msg(message)
}
