package spider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scanFixture struct {
	scan     *Scan
	factory  *fakeFactory
	listener *recordingListener
	observer *recordingObserver
}

func newScanFixture(t *testing.T, target *Target) scanFixture {
	t.Helper()
	store := newFakeStore()
	tgt := Target{StartNode: store.page("http://example.com/")}
	if target != nil {
		tgt = *target
	}
	f := scanFixture{
		factory:  newFakeFactory(),
		listener: newRecordingListener(),
		observer: &recordingObserver{},
	}
	f.scan = NewScan(ScanConfig{
		ID:       11,
		Name:     "example",
		Target:   tgt,
		User:     &User{ID: 1, Name: "alice"},
		Options:  DefaultOptions(),
		Engines:  f.factory.build,
		Tree:     newFakeTree(),
		Store:    store,
		Listener: f.listener,
		Observer: f.observer,
	})
	return f
}

func TestScanPauseBeforeStartIsIgnored(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t, nil)
	require.False(t, f.scan.Pause())
	require.False(t, f.scan.Resume())
	require.False(t, f.scan.Stop())
	require.Equal(t, StateNotStarted, f.scan.State())
}

func TestScanStartTwiceStartsOnce(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t, nil)
	require.True(t, f.scan.Start())
	require.False(t, f.scan.Start())
	require.Equal(t, StateRunning, f.scan.State())

	waitForEngine(t, f.factory, 11)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, f.factory.calls())
	f.listener.mu.Lock()
	require.Equal(t, 1, f.listener.starts[11])
	f.listener.mu.Unlock()
}

func TestScanStopFromPaused(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t, nil)
	require.True(t, f.scan.Start())
	require.True(t, f.scan.Pause())
	require.Equal(t, StatePaused, f.scan.State())
	require.False(t, f.scan.Pause())

	require.True(t, f.scan.Stop())
	require.Equal(t, StateFinished, f.scan.State())
	require.False(t, f.scan.Stop())
	require.True(t, f.scan.IsStopped())
	require.Equal(t, 1, f.listener.finished(11))
}

func TestScanPauseResumeDelegatesToEngine(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t, nil)
	require.True(t, f.scan.Start())
	engine := waitForEngine(t, f.factory, 11)

	require.False(t, f.scan.Resume())
	require.True(t, f.scan.Pause())
	require.True(t, engine.isPaused())
	require.True(t, f.scan.Resume())
	require.False(t, engine.isPaused())
	require.Equal(t, StateRunning, f.scan.State())
}

func TestScanFinishedIsAbsorbing(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t, nil)
	require.True(t, f.scan.Start())
	engine := waitForEngine(t, f.factory, 11)
	engine.complete(true)

	require.Equal(t, StateFinished, f.scan.State())
	require.Equal(t, 100, f.scan.Progress())
	require.False(t, f.scan.Start())
	require.False(t, f.scan.Pause())
	require.False(t, f.scan.Resume())
	require.False(t, f.scan.Stop())
	require.Equal(t, StateFinished, f.scan.State())
}

func TestScanWithoutStartNodeStaysNotStarted(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t, &Target{Recurse: true})
	require.False(t, f.scan.Start())
	require.Equal(t, StateNotStarted, f.scan.State())
	require.Zero(t, f.factory.calls())

	f.listener.mu.Lock()
	require.Empty(t, f.listener.events)
	f.listener.mu.Unlock()
}

func TestScanDuplicateFoundURI(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t, nil)
	const n = 5
	for i := 0; i < n; i++ {
		f.scan.FoundURI("http://example.com/page", "GET", FetchValid)
	}
	f.scan.FoundURI("http://EXAMPLE.com:80/page", "GET", FetchSeed)

	require.EqualValues(t, n+1, f.scan.FoundCount())
	require.Equal(t, []string{"http://example.com/page"}, f.scan.Results())
	require.Empty(t, f.scan.ResultsOutOfScope())
}

func TestScanFoundURIClassification(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t, nil)
	f.scan.FoundURI("http://example.com/in", "GET", FetchValid)
	f.scan.FoundURI("http://other.com/", "GET", FetchOutOfScope)
	f.scan.FoundURI("http://example.com/admin", "GET", FetchOutOfContext)
	f.scan.FoundURI("http://example.com/logout", "GET", FetchUserRules)
	f.scan.FoundURI("ftp://example.com/file", "GET", FetchIllegalProtocol)
	f.scan.FoundURI("mailto:someone@example.com", "GET", FetchIllegalProtocol)

	require.EqualValues(t, 6, f.scan.FoundCount())
	require.Equal(t, []string{"http://example.com/in"}, f.scan.Results())
	require.Equal(t, []string{
		"http://other.com/",
		"http://example.com/admin",
		"http://example.com/logout",
	}, f.scan.ResultsOutOfScope())

	total := len(f.scan.Results()) + len(f.scan.ResultsOutOfScope())
	require.GreaterOrEqual(t, f.scan.FoundCount(), int64(total))
}

func TestScanReadURIFeedsObserverInOrder(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t, nil)
	require.True(t, f.scan.Start())
	engine := waitForEngine(t, f.factory, 11)

	f.scan.ReadURI(Message{Ref: 1, Method: "GET", URI: "http://example.com:80/a", StatusCode: 200, Reason: "OK"})
	f.scan.ReadURI(Message{Ref: 2, Method: "GET", URI: "http://example.com/b", StatusCode: 404, Reason: "Not Found"})
	engine.complete(true)
	f.scan.ReadURI(Message{Ref: 3, Method: "GET", URI: "http://example.com/late", StatusCode: 200})

	feed := f.scan.Feed()
	require.NotNil(t, feed)
	select {
	case <-feed.Done():
	case <-time.After(waitFor):
		t.Fatal("feed did not complete")
	}

	rows, events := f.observer.snapshot()
	require.Equal(t, []string{"row", "row", "complete"}, events)
	require.Equal(t, 0, rows[0].Index)
	require.Equal(t, "http://example.com/a", rows[0].Resource.URI)
	require.Equal(t, 1, rows[1].Index)
	require.Equal(t, 404, rows[1].Resource.StatusCode)

	resources := f.scan.Resources()
	require.Len(t, resources, 3)
	require.Equal(t, int64(2), resources[1].MessageRef)
}

func TestScanSpiderCompleteNotifiesOnce(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t, nil)
	require.True(t, f.scan.Start())
	engine := waitForEngine(t, f.factory, 11)

	engine.complete(false)
	f.scan.SpiderComplete(true)
	f.scan.terminate()

	require.Equal(t, StateFinished, f.scan.State())
	require.Equal(t, 1, f.listener.finished(11))
	f.listener.mu.Lock()
	require.Equal(t, "started", f.listener.events[0])
	require.Equal(t, "finished", f.listener.events[len(f.listener.events)-1])
	f.listener.mu.Unlock()
}

func TestScanProgressForwarded(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t, nil)
	require.True(t, f.scan.Start())
	engine := waitForEngine(t, f.factory, 11)

	engine.progress(40, 4, 6)
	require.Equal(t, 40, f.scan.Progress())
	f.listener.mu.Lock()
	require.Equal(t, [2]int{4, 10}, f.listener.last)
	f.listener.mu.Unlock()

	engine.progress(250, 10, 0)
	require.Equal(t, 100, f.scan.Progress())
}

func TestScanSummary(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t, nil)
	f.scan.FoundURI("http://example.com/a", "GET", FetchValid)
	f.scan.FoundURI("http://example.com/a", "GET", FetchValid)
	f.scan.FoundURI("http://other.com/", "GET", FetchOutOfScope)
	f.scan.ReadURI(Message{Method: "GET", URI: "http://example.com/a", StatusCode: 200})

	require.Equal(t, Summary{
		ID:              11,
		Name:            "example",
		User:            "alice",
		State:           StateNotStarted,
		FoundCount:      3,
		InScopeCount:    1,
		OutOfScopeCount: 1,
		ResourceCount:   1,
	}, f.scan.Summary())
}

func TestScanTerminateNotStarted(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t, nil)
	f.scan.terminate()
	require.Equal(t, StateFinished, f.scan.State())
	require.Zero(t, f.listener.finished(11))
	require.False(t, f.scan.Start())
}
