// Package logging configures the global zerolog logger: a
// human-readable console writer for local development, switching to
// raw JSON when PAPERBOT_LOG_FORMAT=json for production log shipping.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup builds the logger, sets the process-wide log level, and returns
// the logger.
func Setup(format, level string) zerolog.Logger {
	var logger zerolog.Logger
	if format == "json" {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(output).With().Timestamp().Logger()
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return logger
}
