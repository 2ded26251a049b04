package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds the application logger. Development output is human readable on stdout,
// anything else uses zap's JSON production encoder.
func New(environment string) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error

	if environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stdout"}
		logger, err = z.Build()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Route the package-level zap logger (used by libraries calling zap.L()) to ours
	zap.ReplaceGlobals(logger)

	return logger.Sugar(), nil
}

// Nop returns a logger that discards everything, for tests and library callers
// that do not care about output.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
