// internal/logging/logger.go
package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDKey is the context key and log field name for the request id
// attached by the HTTP middleware.
const RequestIDKey = "request_id"

// defaultLevel matches the config package's log-level default, so a
// zero-valued configuration still produces a working logger.
const defaultLevel = "info"

type Logger struct {
	*zap.Logger
}

// NewLogger builds a production logger at the configured level. An empty
// level falls back to the default.
func NewLogger(level string) (*Logger, error) {
	if level == "" {
		level = defaultLevel
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{logger}, nil
}

// WithRequestID enriches the logger with the request id carried in the
// context, when present.
func (l *Logger) WithRequestID(ctx context.Context) *zap.Logger {
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		return l.With(zap.String(RequestIDKey, reqID))
	}
	return l.Logger
}
