package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var zlog = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init configures the process-wide logger. Development gets a console
// writer, everything else JSON on stdout.
func Init(env string, level string) {
	var w io.Writer
	if env == "development" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	} else {
		w = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zlog = zerolog.New(w).With().
		Timestamp().
		Str("service", "clinic-chat").
		Logger().
		Level(parseLevel(level))
}

func parseLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

// Get returns the process-wide logger.
func Get() *zerolog.Logger {
	return &zlog
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return zlog.With().Str("component", name).Logger()
}
