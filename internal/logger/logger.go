// Package logger builds the zap loggers used across the service.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings.
const (
	FieldRequestID  = "request_id"
	FieldUserID     = "user_id"
	FieldComponent  = "component"
	FieldOperation  = "operation"
	FieldPath       = "path"
	FieldEntity     = "entity"
	FieldKey        = "key"
	FieldPattern    = "pattern"
	FieldDurationMS = "duration_ms"
	FieldError      = "error"
	FieldErrorCode  = "error_code"
	FieldErrorCount = "error_count"
	FieldBatchSize  = "batch_size"
	FieldCount      = "count"
	FieldAddress    = "address"
)

// Options controls logger construction.
type Options struct {
	JSON  bool
	Level string
}

// New builds a sugared logger. JSON output uses the zap production config,
// otherwise a console encoder writing to stdout.
func New(opts Options) (*zap.SugaredLogger, error) {
	level := parseLevel(opts.Level)

	if opts.JSON {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
		zapLogger, err := config.Build()
		if err != nil {
			return nil, err
		}
		return zapLogger.Sugar(), nil
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zapLogger := zap.New(
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			level,
		),
	)
	return zapLogger.Sugar(), nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// Named returns log tagged with a component name, or a no-op logger when log is nil.
func Named(log *zap.SugaredLogger, component string) *zap.SugaredLogger {
	if log == nil {
		return Nop()
	}
	return log.Named(component).With(FieldComponent, component)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
