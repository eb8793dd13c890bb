// Package logging builds the service's structured logger.
package logging

import (
	"log/slog"
	"os"
)

// New returns a JSON slog logger tagged with the service name and sets
// it as the process default.
func New(service string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})).With("service", service)
	slog.SetDefault(logger)
	return logger
}
