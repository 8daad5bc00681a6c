// Package logging provides zap logger helpers, the per-run report buffer and
// the error report writer.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every entry of the process logger.
const ServiceName = "catalog-crawler"

// New builds the process logger in development (colored console) or
// production (JSON) mode. Extra output paths are added next to stderr.
func New(development bool, outputPaths ...string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	mode := "prod"
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		mode = "dev"
	}
	// Every fetch is logged; sampling would drop lines the run report needs.
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]any{"service": ServiceName}
	cfg.OutputPaths = append(cfg.OutputPaths, outputPaths...)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", mode, err)
	}
	return logger, nil
}
