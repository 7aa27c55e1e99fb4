package spider

import (
	"sync"

	"go.uber.org/zap"
)

// ControllerConfig holds the collaborators shared by every scan.
type ControllerConfig struct {
	Engines  EngineFactory
	Tree     SiteTree
	Store    MessageStore
	Defaults Options
	Listener Listener
	Observer ResultsObserver
	Logger   *zap.Logger
}

// Controller is the registry of scans. Ids are allocated in increasing order
// and never reused.
type Controller struct {
	cfg    ControllerConfig
	logger *zap.Logger

	mu     sync.Mutex
	nextID int
	scans  map[int]*Scan
	order  []*Scan
}

// NewController constructs an empty Controller.
func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:    cfg,
		logger: logger,
		scans:  make(map[int]*Scan),
	}
}

// StartScan registers a scan for target and starts it. The id is returned
// even when the scan cannot start; it then stays NOT_STARTED.
func (c *Controller) StartScan(name string, target Target, user *User, opts ...Option) int {
	options := c.cfg.Defaults.apply(opts)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	scan := NewScan(ScanConfig{
		ID:       id,
		Name:     name,
		Target:   target,
		User:     user,
		Options:  options,
		Engines:  c.cfg.Engines,
		Tree:     c.cfg.Tree,
		Store:    c.cfg.Store,
		Listener: c.cfg.Listener,
		Observer: c.cfg.Observer,
		Logger:   c.logger.Named("scan"),
	})
	c.scans[id] = scan
	c.order = append(c.order, scan)
	c.mu.Unlock()

	started := scan.Start()
	c.logger.Info("scan submitted",
		zap.Int("scan_id", id),
		zap.String("name", name),
		zap.Bool("started", started),
	)
	return id
}

// Scan returns the scan registered under id.
func (c *Controller) Scan(id int) (*Scan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.scans[id]
	return s, ok
}

// LastScan returns the most recently registered scan still in the registry.
func (c *Controller) LastScan() (*Scan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) == 0 {
		return nil, false
	}
	return c.order[len(c.order)-1], true
}

// AllScans returns every registered scan in registration order.
func (c *Controller) AllScans() []*Scan {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Scan, len(c.order))
	copy(out, c.order)
	return out
}

// ActiveScans returns the scans that are neither finished nor stopped.
func (c *Controller) ActiveScans() []*Scan {
	var active []*Scan
	for _, s := range c.AllScans() {
		if s.State() != StateFinished && !s.IsStopped() {
			active = append(active, s)
		}
	}
	return active
}

// RemoveScan unregisters the scan with id and forces it to FINISHED. The
// boolean is false when no such scan is registered.
func (c *Controller) RemoveScan(id int) (*Scan, bool) {
	c.mu.Lock()
	s, ok := c.scans[id]
	if ok {
		c.unregisterLocked(id)
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.terminate()
	c.logger.Info("scan removed", zap.Int("scan_id", id))
	return s, true
}

// RemoveAllScans unregisters and stops every scan, returning the count.
func (c *Controller) RemoveAllScans() int {
	c.mu.Lock()
	removed := c.order
	c.scans = make(map[int]*Scan)
	c.order = nil
	c.mu.Unlock()

	for _, s := range removed {
		s.terminate()
	}
	return len(removed)
}

// RemoveFinishedScans unregisters scans that are finished or stopped,
// returning the count.
func (c *Controller) RemoveFinishedScans() int {
	var removed []*Scan
	for _, s := range c.AllScans() {
		if s.State() == StateFinished || s.IsStopped() {
			removed = append(removed, s)
		}
	}

	c.mu.Lock()
	for _, s := range removed {
		c.unregisterLocked(s.ID())
	}
	c.mu.Unlock()

	for _, s := range removed {
		s.terminate()
	}
	return len(removed)
}

func (c *Controller) unregisterLocked(id int) {
	delete(c.scans, id)
	for i, s := range c.order {
		if s.ID() == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// PauseAllScans pauses every running scan.
func (c *Controller) PauseAllScans() {
	for _, s := range c.AllScans() {
		s.Pause()
	}
}

// ResumeAllScans resumes every paused scan.
func (c *Controller) ResumeAllScans() {
	for _, s := range c.AllScans() {
		s.Resume()
	}
}

// StopAllScans stops every running or paused scan.
func (c *Controller) StopAllScans() {
	for _, s := range c.AllScans() {
		s.Stop()
	}
}

// PauseScan pauses the scan with id. Unknown ids are ignored.
func (c *Controller) PauseScan(id int) {
	if s, ok := c.Scan(id); ok {
		s.Pause()
	}
}

// ResumeScan resumes the scan with id. Unknown ids are ignored.
func (c *Controller) ResumeScan(id int) {
	if s, ok := c.Scan(id); ok {
		s.Resume()
	}
}

// StopScan stops the scan with id. Unknown ids are ignored.
func (c *Controller) StopScan(id int) {
	if s, ok := c.Scan(id); ok {
		s.Stop()
	}
}

// State returns the state of the scan with id.
func (c *Controller) State(id int) (State, bool) {
	s, ok := c.Scan(id)
	if !ok {
		return "", false
	}
	return s.State(), true
}

// Progress returns the completion percentage of the scan with id.
func (c *Controller) Progress(id int) (int, bool) {
	s, ok := c.Scan(id)
	if !ok {
		return 0, false
	}
	return s.Progress(), true
}

// Results returns the in-scope URIs found by the scan with id.
func (c *Controller) Results(id int) ([]string, bool) {
	s, ok := c.Scan(id)
	if !ok {
		return nil, false
	}
	return s.Results(), true
}

// ResultsOutOfScope returns the out-of-scope URIs found by the scan with id.
func (c *Controller) ResultsOutOfScope(id int) ([]string, bool) {
	s, ok := c.Scan(id)
	if !ok {
		return nil, false
	}
	return s.ResultsOutOfScope(), true
}

// Resources returns the resources read by the scan with id.
func (c *Controller) Resources(id int) ([]Resource, bool) {
	s, ok := c.Scan(id)
	if !ok {
		return nil, false
	}
	return s.Resources(), true
}
