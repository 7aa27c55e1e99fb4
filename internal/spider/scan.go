package spider

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/webspider/internal/logging"
	"github.com/JakeFAU/webspider/internal/urlcanon"
)

// ScanConfig wires a Scan to its collaborators.
type ScanConfig struct {
	ID       int
	Name     string
	Target   Target
	User     *User
	Options  Options
	Engines  EngineFactory
	Tree     SiteTree
	Store    MessageStore
	Listener Listener
	Observer ResultsObserver
	Logger   *zap.Logger
}

// Scan is one crawl job: a ScanWorker behind a guarded lifecycle plus the
// results aggregated from the worker's callbacks.
//
// The result collections are safe for concurrent use. Slices returned by the
// accessors are copies taken under the collection's lock.
type Scan struct {
	id       int
	name     string
	target   Target
	user     *User
	listener Listener
	observer ResultsObserver
	logger   *zap.Logger
	worker   *ScanWorker

	mu        sync.Mutex
	state     State
	starting  bool
	announced bool
	progress  int

	found      atomic.Int64
	inScope    *uriSet
	outOfScope *uriSet

	resMu      sync.Mutex
	resources  []Resource
	feed       *Feed
	feedClosed bool

	finishOnce sync.Once
}

// NewScan constructs a Scan in NOT_STARTED.
func NewScan(cfg ScanConfig) *Scan {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scan{
		id:         cfg.ID,
		name:       cfg.Name,
		target:     cfg.Target,
		user:       cfg.User,
		listener:   cfg.Listener,
		observer:   cfg.Observer,
		logger:     logging.ForScan(logger, cfg.ID),
		state:      StateNotStarted,
		inScope:    newURISet(),
		outOfScope: newURISet(),
	}
	s.worker = NewScanWorker(WorkerConfig{
		ScanID:  cfg.ID,
		Target:  cfg.Target,
		Options: cfg.Options,
		Engines: cfg.Engines,
		Tree:    cfg.Tree,
		Store:   cfg.Store,
		Owner:   s,
		Logger:  logger,
	})
	s.worker.AddListener(s)
	return s
}

// ID returns the scan id.
func (s *Scan) ID() int { return s.id }

// Name returns the display name.
func (s *Scan) Name() string { return s.name }

// Target returns the target the scan was built from.
func (s *Scan) Target() Target { return s.target }

// User returns the user the scan runs as, or nil.
func (s *Scan) User() *User { return s.user }

// Start moves the scan from NOT_STARTED to RUNNING. It reports whether the
// transition happened; a scan whose target has no usable start point stays
// NOT_STARTED.
func (s *Scan) Start() bool {
	s.mu.Lock()
	if s.state != StateNotStarted || s.starting {
		s.mu.Unlock()
		s.logger.Debug("ignoring start", zap.String("state", string(s.State())))
		return false
	}
	s.starting = true
	s.mu.Unlock()

	if err := s.worker.CanStart(); err != nil {
		s.logger.Warn("scan cannot start", zap.Error(err))
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		return false
	}

	s.mu.Lock()
	s.announced = true
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.ScanStarted(s.id)
	}

	err := s.worker.Start()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if err != nil {
		return false
	}
	if s.state == StateNotStarted {
		s.state = StateRunning
	}
	return true
}

// Pause moves a RUNNING scan to PAUSED.
func (s *Scan) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return false
	}
	s.worker.Pause()
	s.state = StatePaused
	return true
}

// Resume moves a PAUSED scan back to RUNNING.
func (s *Scan) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return false
	}
	s.worker.Resume()
	s.state = StateRunning
	return true
}

// Stop moves a RUNNING or PAUSED scan to FINISHED and signals the worker.
// It does not wait for the engine to wind down.
func (s *Scan) Stop() bool {
	s.mu.Lock()
	if s.state == StateNotStarted || s.state == StateFinished {
		s.mu.Unlock()
		return false
	}
	s.state = StateFinished
	s.mu.Unlock()

	s.worker.Stop()
	return true
}

// terminate forces the scan to FINISHED from any state.
func (s *Scan) terminate() {
	s.mu.Lock()
	prev := s.state
	s.state = StateFinished
	s.mu.Unlock()
	if prev == StateFinished {
		return
	}
	s.worker.Stop()
}

// State returns the lifecycle state.
func (s *Scan) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress returns the last reported completion percentage.
func (s *Scan) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// IsStopped reports whether the underlying worker has stopped.
func (s *Scan) IsStopped() bool {
	return s.worker.IsStopped()
}

// FoundCount returns the number of discovery events, duplicates included.
func (s *Scan) FoundCount() int64 {
	return s.found.Load()
}

// Results returns the canonical in-scope URIs in discovery order.
func (s *Scan) Results() []string {
	return s.inScope.values()
}

// ResultsOutOfScope returns the canonical out-of-scope URIs in discovery
// order.
func (s *Scan) ResultsOutOfScope() []string {
	return s.outOfScope.values()
}

// Resources returns the resources read so far.
func (s *Scan) Resources() []Resource {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	out := make([]Resource, len(s.resources))
	copy(out, s.resources)
	return out
}

// Feed returns the live results feed, or nil when no observer is attached
// or nothing has been read yet.
func (s *Scan) Feed() *Feed {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	return s.feed
}

// Summary returns a snapshot of the scan.
func (s *Scan) Summary() Summary {
	s.mu.Lock()
	state, progress := s.state, s.progress
	s.mu.Unlock()
	s.resMu.Lock()
	resources := len(s.resources)
	s.resMu.Unlock()

	summary := Summary{
		ID:              s.id,
		Name:            s.name,
		State:           state,
		Progress:        progress,
		FoundCount:      s.found.Load(),
		InScopeCount:    s.inScope.len(),
		OutOfScopeCount: s.outOfScope.len(),
		ResourceCount:   resources,
	}
	if s.user != nil {
		summary.User = s.user.Name
	}
	return summary
}

// SpiderComplete forces the scan to FINISHED. The listener hears about it
// once, however many times the engine or worker report completion.
func (s *Scan) SpiderComplete(successful bool) {
	s.mu.Lock()
	s.state = StateFinished
	if successful {
		s.progress = 100
	}
	announced := s.announced
	s.mu.Unlock()

	s.finishOnce.Do(func() {
		s.resMu.Lock()
		s.feedClosed = true
		feed := s.feed
		s.resMu.Unlock()
		if feed != nil {
			feed.Close()
		}
		s.logger.Info("scan finished",
			zap.Bool("successful", successful),
			zap.Int64("found", s.found.Load()),
			zap.Int("in_scope", s.inScope.len()),
		)
		if announced && s.listener != nil {
			s.listener.ScanFinished(s.id)
		}
	})
}

// SpiderProgress caches the percentage and forwards the counters.
func (s *Scan) SpiderProgress(percent, done, todo int) {
	s.mu.Lock()
	if s.state == StateFinished {
		s.mu.Unlock()
		return
	}
	s.progress = clampPercent(percent)
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.ScanProgress(s.id, done, done+todo)
	}
}

// FoundURI counts every discovery and files the canonical URI by status.
func (s *Scan) FoundURI(uri, _ string, status FetchStatus) {
	s.found.Add(1)
	key := canonicalOrRaw(uri)
	switch {
	case status.InScope():
		s.inScope.add(key)
	case status.OutOfScope():
		s.outOfScope.add(key)
	}
}

// ReadURI records a resource and feeds the observer, if any.
func (s *Scan) ReadURI(msg Message) {
	res := Resource{
		Method:     msg.Method,
		URI:        canonicalOrRaw(msg.URI),
		StatusCode: msg.StatusCode,
		Reason:     msg.Reason,
		MessageRef: msg.Ref,
	}
	s.resMu.Lock()
	defer s.resMu.Unlock()
	s.resources = append(s.resources, res)
	if s.observer == nil || s.feedClosed {
		return
	}
	if s.feed == nil {
		s.feed = NewFeed(s.id, s.observer, s.logger)
	}
	s.feed.Append(res)
}

func canonicalOrRaw(uri string) string {
	if c, ok := urlcanon.Canonicalize(uri, ""); ok {
		return c
	}
	return uri
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// uriSet is an insertion-ordered set of strings.
type uriSet struct {
	mu    sync.RWMutex
	index map[string]struct{}
	order []string
}

func newURISet() *uriSet {
	return &uriSet{index: make(map[string]struct{})}
}

func (u *uriSet) add(uri string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.index[uri]; ok {
		return false
	}
	u.index[uri] = struct{}{}
	u.order = append(u.order, uri)
	return true
}

func (u *uriSet) len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.order)
}

func (u *uriSet) values() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]string, len(u.order))
	copy(out, u.order)
	return out
}
