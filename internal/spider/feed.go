package spider

import (
	"sync"

	"go.uber.org/zap"
)

// Feed delivers result rows to a ResultsObserver from a single goroutine.
// Appends never block the caller; rows are delivered in append order and
// ResultsComplete follows the last row once the feed is closed.
type Feed struct {
	scanID   int
	observer ResultsObserver
	logger   *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []ResultRow
	rows    []ResultRow
	closed  bool
	stopped chan struct{}
}

// NewFeed starts a feed for scanID.
func NewFeed(scanID int, observer ResultsObserver, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Feed{
		scanID:   scanID,
		observer: observer,
		logger:   logger,
		stopped:  make(chan struct{}),
	}
	f.cond = sync.NewCond(&f.mu)
	go f.loop()
	return f
}

// Append queues a row for r. It returns false once the feed is closed.
func (f *Feed) Append(r Resource) (ResultRow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ResultRow{}, false
	}
	row := ResultRow{Index: len(f.rows), Resource: r}
	f.rows = append(f.rows, row)
	f.queue = append(f.queue, row)
	f.cond.Signal()
	return row, true
}

// Rows returns every row appended so far.
func (f *Feed) Rows() []ResultRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ResultRow, len(f.rows))
	copy(out, f.rows)
	return out
}

// Close stops accepting rows. Queued rows are still delivered.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	f.cond.Signal()
	f.mu.Unlock()
}

// Done is closed after ResultsComplete has been delivered.
func (f *Feed) Done() <-chan struct{} {
	return f.stopped
}

func (f *Feed) loop() {
	defer close(f.stopped)
	for {
		f.mu.Lock()
		for len(f.queue) == 0 && !f.closed {
			f.cond.Wait()
		}
		batch := f.queue
		f.queue = nil
		closed := f.closed
		f.mu.Unlock()

		for _, row := range batch {
			f.observer.RowAppended(f.scanID, row)
		}
		if closed && len(batch) == 0 {
			f.observer.ResultsComplete(f.scanID)
			f.logger.Debug("results feed complete", zap.Int("rows", len(f.Rows())))
			return
		}
	}
}
