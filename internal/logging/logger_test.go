// internal/logging/logger_test.go
package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := NewLogger(level)
		require.NoError(t, err, "level %q", level)
		assert.NotNil(t, logger)
	}
}

func TestNewLoggerDefaultsEmptyLevel(t *testing.T) {
	logger, err := NewLogger("")
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewLoggerRejectsBogusLevel(t *testing.T) {
	_, err := NewLogger("loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestWithRequestID(t *testing.T) {
	logger, err := NewLogger("error")
	require.NoError(t, err)

	// Without a request id the base logger comes back unchanged.
	assert.Same(t, logger.Logger, logger.WithRequestID(context.Background()))

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	assert.NotSame(t, logger.Logger, logger.WithRequestID(ctx))
}
