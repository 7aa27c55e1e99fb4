package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/webspider/internal/progress"
)

func scanEvents(runID uuid.UUID, scanID int) []progress.Event {
	now := time.Now()
	return []progress.Event{
		{RunID: runID, ScanID: scanID, TS: now, Stage: progress.StageScanStart},
		{RunID: runID, ScanID: scanID, TS: now, Stage: progress.StageScanProgress, Progress: 50},
		{
			RunID: runID, ScanID: scanID, TS: now, Stage: progress.StageResourceRead,
			Site: "example.com", URL: "http://example.com/", StatusClass: "2xx",
		},
		{RunID: runID, ScanID: scanID, TS: now, Stage: progress.StageScanDone, Dur: 3 * time.Second},
	}
}

func TestLogSinkConsume(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := uuid.New()

	require.NoError(t, sink.Consume(context.Background(), scanEvents(runID, 4)))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 4)
	require.Equal(t, zap.InfoLevel, entries[0].Level)
	require.Equal(t, runID.String(), entries[0].ContextMap()["run_id"])
	require.EqualValues(t, 50, entries[1].ContextMap()["progress"])
	require.Equal(t, zap.DebugLevel, entries[2].Level)
	require.Equal(t, "example.com", entries[2].ContextMap()["site"])
	require.Equal(t, 3*time.Second, entries[3].ContextMap()["dur"])
}

func TestNewLogSinkNilLogger(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	require.NoError(t, sink.Consume(context.Background(), scanEvents(uuid.New(), 1)))
}

func TestPrometheusSinkConsume(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := uuid.New()
	events := scanEvents(runID, 1)
	require.NoError(t, sink.Consume(context.Background(), events[:2]))
	require.InDelta(t, 1, testutil.ToFloat64(sink.scansStarted), 0)
	require.InDelta(t, 1, testutil.ToFloat64(sink.scansRunning), 0)
	require.InDelta(t, 50, testutil.ToFloat64(sink.scanProgress.WithLabelValues("1")), 0)

	require.NoError(t, sink.Consume(context.Background(), events[2:]))
	require.InDelta(t, 1, testutil.ToFloat64(sink.scansCompleted), 0)
	require.InDelta(t, 0, testutil.ToFloat64(sink.scansRunning), 0)
	require.InDelta(t, 1, testutil.ToFloat64(sink.resourcesRead.WithLabelValues("example.com", "2xx")), 0)
	require.Equal(t, 1, testutil.CollectAndCount(sink.scanRuntime))
	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSinkTracksRunsSeparately(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	first, second := scanEvents(uuid.New(), 1), scanEvents(uuid.New(), 1)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{first[0], second[0], first[0]}))
	require.InDelta(t, 2, testutil.ToFloat64(sink.scansRunning), 0)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{first[3], first[3]}))
	require.InDelta(t, 1, testutil.ToFloat64(sink.scansRunning), 0)
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
