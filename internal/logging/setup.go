// Package logging configures the zerolog console output shared by the
// CLI and by verbose test runs.
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global logger for console output at the given
// level. An unparseable level falls back to info.
func Setup(levelName string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()
	log.Logger = logger

	if err != nil {
		logger.Warn().Str("invalid_level", levelName).Msg("Invalid log level, using info")
	}
	return logger
}
