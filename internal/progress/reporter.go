package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/webspider/internal/metrics"
	"github.com/JakeFAU/webspider/internal/spider"
)

// Reporter turns controller callbacks into Events. It implements
// spider.Listener and spider.ResultsObserver.
type Reporter struct {
	emitter Emitter
	runID   uuid.UUID
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	started map[int]time.Time
}

var (
	_ spider.Listener        = (*Reporter)(nil)
	_ spider.ResultsObserver = (*Reporter)(nil)
)

// NewReporter builds a Reporter stamping every event with a fresh run id.
func NewReporter(emitter Emitter, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		emitter: emitter,
		runID:   uuid.New(),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		started: make(map[int]time.Time),
	}
}

// RunID identifies this process's scans in emitted events.
func (r *Reporter) RunID() uuid.UUID {
	return r.runID
}

// ScanStarted implements spider.Listener.
func (r *Reporter) ScanStarted(scanID int) {
	now := r.now()
	r.mu.Lock()
	r.started[scanID] = now
	r.mu.Unlock()
	r.emit(Event{ScanID: scanID, TS: now, Stage: StageScanStart})
}

// ScanProgress implements spider.Listener.
func (r *Reporter) ScanProgress(scanID, current, maximum int) {
	percent := 0
	if maximum > 0 {
		percent = current * 100 / maximum
	}
	r.emit(Event{ScanID: scanID, TS: r.now(), Stage: StageScanProgress, Progress: percent})
}

// ScanFinished implements spider.Listener.
func (r *Reporter) ScanFinished(scanID int) {
	now := r.now()
	r.mu.Lock()
	start, ok := r.started[scanID]
	delete(r.started, scanID)
	r.mu.Unlock()
	evt := Event{ScanID: scanID, TS: now, Stage: StageScanDone}
	if ok {
		evt.Dur = now.Sub(start)
	}
	r.emit(evt)
}

// RowAppended implements spider.ResultsObserver.
func (r *Reporter) RowAppended(scanID int, row spider.ResultRow) {
	r.emit(Event{
		ScanID:      scanID,
		TS:          r.now(),
		Stage:       StageResourceRead,
		Site:        metrics.SanitizeSite(row.Resource.URI),
		URL:         row.Resource.URI,
		StatusClass: metrics.StatusClass(row.Resource.StatusCode),
	})
}

// ResultsComplete implements spider.ResultsObserver.
func (r *Reporter) ResultsComplete(scanID int) {
	r.logger.Debug("results feed complete", zap.Int("scan_id", scanID))
}

func (r *Reporter) emit(evt Event) {
	if r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	r.emitter.Emit(evt)
}
