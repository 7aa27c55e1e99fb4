package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.True(t, logger.Core().Enabled(zap.DebugLevel))
	logger.Info("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.False(t, logger.Core().Enabled(zap.DebugLevel))
	logger.Info("production logger ready")
}

func TestForScan(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	ForScan(zap.New(core), 9).Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.EqualValues(t, 9, entries[0].ContextMap()[ScanIDKey])

	require.NotPanics(t, func() { ForScan(nil, 1).Info("dropped") })
}
