package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	console bool
	fields  []zap.Field
}

// Option tweaks the logger built by New.
type Option func(*options)

// Console switches to the human-readable encoder on stderr.
func Console() Option {
	return func(o *options) { o.console = true }
}

// With attaches constant fields to every entry.
func With(fields ...zap.Field) Option {
	return func(o *options) { o.fields = append(o.fields, fields...) }
}

// New builds a logger tagged with service at level (debug|info|warn|error).
// Entries are JSON on stderr unless Console is given.
func New(service, level string, opts ...Option) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         "json",
		EncoderConfig:    enc,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		Sampling:         &zap.SamplingConfig{Initial: 100, Thereafter: 100},
	}
	if o.console {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cfg.Sampling = nil
		cfg.DisableStacktrace = true
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return log.With(append([]zap.Field{zap.String("service", service)}, o.fields...)...), nil
}
