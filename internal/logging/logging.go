// Package logging configures the service-wide zerolog logger.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns the root logger. Dev environments get human-readable console
// output; everything else emits JSON.
func New(env, service string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
	if env == "dev" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Str("service", service).Logger()
	}
	return logger
}
