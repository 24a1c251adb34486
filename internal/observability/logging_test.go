package observability

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/zacode/consultation-service/internal/config"
)

func TestLoggerConfigCarriesServiceFields(t *testing.T) {
	cfg := loggerConfig(config.LoggerConfig{Level: "DEBUG", Service: "consultd", Version: "1.2.3"})
	require.Equal(t, zapcore.DebugLevel, cfg.Level.Level())
	require.Equal(t, "json", cfg.Encoding)
	require.Equal(t, "consultd", cfg.InitialFields["service"])
	require.Equal(t, "1.2.3", cfg.InitialFields["version"])
}

func TestLoggerConfigFallsBackToInfo(t *testing.T) {
	cfg := loggerConfig(config.LoggerConfig{Level: "loud", Format: "console"})
	require.Equal(t, zapcore.InfoLevel, cfg.Level.Level())
	require.Equal(t, "console", cfg.Encoding)
	require.Empty(t, cfg.InitialFields)

	logger, err := NewLogger(config.LoggerConfig{Level: "warn"})
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
}
