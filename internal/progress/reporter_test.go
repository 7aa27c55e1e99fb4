package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webspider/internal/spider"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureEmitter) Emit(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func TestReporterEmitsScanLifecycle(t *testing.T) {
	t.Parallel()

	em := &captureEmitter{}
	r := NewReporter(em, nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := 0
	r.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Second)
	}

	r.ScanStarted(7)
	r.ScanProgress(7, 1, 4)
	r.RowAppended(7, spider.ResultRow{Resource: spider.Resource{URI: "http://Example.com/a", StatusCode: 404}})
	r.ScanProgress(7, 0, 0)
	r.ScanFinished(7)
	r.ResultsComplete(7)

	require.Len(t, em.events, 5)
	for _, evt := range em.events {
		require.Equal(t, r.RunID(), evt.RunID)
		require.Equal(t, 7, evt.ScanID)
		require.NoError(t, evt.Validate())
	}
	require.Equal(t, StageScanStart, em.events[0].Stage)
	require.Equal(t, 25, em.events[1].Progress)

	read := em.events[2]
	require.Equal(t, StageResourceRead, read.Stage)
	require.Equal(t, "example.com", read.Site)
	require.Equal(t, "4xx", read.StatusClass)
	require.Equal(t, "http://Example.com/a", read.URL)

	require.Zero(t, em.events[3].Progress)
	require.Equal(t, StageScanDone, em.events[4].Stage)
	require.Equal(t, 4*time.Second, em.events[4].Dur)
}

func TestReporterFinishWithoutStart(t *testing.T) {
	t.Parallel()

	em := &captureEmitter{}
	r := NewReporter(em, nil)
	r.ScanFinished(2)

	require.Len(t, em.events, 1)
	require.Zero(t, em.events[0].Dur)
}

func TestReporterWithoutEmitter(t *testing.T) {
	t.Parallel()

	r := NewReporter(nil, nil)
	require.NotPanics(t, func() {
		r.ScanStarted(1)
		r.ScanFinished(1)
	})
}

func TestReporterFeedsHub(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{}, sink)
	r := NewReporter(hub, nil)
	r.ScanStarted(1)
	r.ScanFinished(1)

	require.NoError(t, hub.Close(t.Context()))
	require.Len(t, sink.events(), 2)
}
