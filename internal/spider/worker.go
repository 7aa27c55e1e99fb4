package spider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webspider/internal/logging"
)

// WorkerConfig wires a ScanWorker to its collaborators.
type WorkerConfig struct {
	ScanID  int
	Target  Target
	Options Options
	Engines EngineFactory
	Tree    SiteTree
	Store   MessageStore
	// Owner is told SpiderComplete(false) exactly once when the worker is
	// stopped or fails to start its engine.
	Owner  EngineListener
	Logger *zap.Logger
}

// ScanWorker adapts one Target into a running crawl. The engine is built
// lazily on the worker's own goroutine the first time Start succeeds.
type ScanWorker struct {
	cfg    WorkerConfig
	logger *zap.Logger

	mu       sync.Mutex
	engine   Engine
	pending  []EngineListener
	started  bool
	stopped  bool
	paused   bool
	done     int
	todo     int
	cancel   context.CancelFunc
	deadline *time.Timer

	finishOnce sync.Once
}

// NewScanWorker constructs a ScanWorker.
func NewScanWorker(cfg WorkerConfig) *ScanWorker {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanWorker{
		cfg:    cfg,
		logger: logging.ForScan(logger, cfg.ScanID),
	}
}

// AddListener registers l with the engine. Listeners added before the engine
// exists are queued and attached when it is built.
func (w *ScanWorker) AddListener(l EngineListener) {
	w.mu.Lock()
	engine := w.engine
	if engine == nil {
		w.pending = append(w.pending, l)
	}
	w.mu.Unlock()
	if engine != nil {
		engine.AddListener(l)
	}
}

// CanStart reports whether the target has a usable starting point.
func (w *ScanWorker) CanStart() error {
	if w.cfg.Target.StartNode == nil && !w.cfg.Target.InScopeOnly {
		return ErrNoStartNode
	}
	if w.cfg.Engines == nil {
		return errors.New("no engine factory configured")
	}
	return nil
}

// Start launches the crawl on a dedicated goroutine. It returns an error only
// when the start preconditions fail; the scan then never runs.
func (w *ScanWorker) Start() error {
	if err := w.CanStart(); err != nil {
		w.logger.Warn("scan not started", zap.Error(err))
		return err
	}
	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

func (w *ScanWorker) run(ctx context.Context) {
	engine, err := w.cfg.Engines(EngineParams{
		ScanID:  w.cfg.ScanID,
		Target:  w.cfg.Target,
		Options: w.cfg.Options,
	})
	if err != nil {
		w.logger.Error("build engine failed", zap.Error(err))
		w.finish()
		return
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.engine = engine
	listeners := w.pending
	w.pending = nil
	w.mu.Unlock()

	engine.AddListener(w)
	for _, l := range listeners {
		engine.AddListener(l)
	}

	seeds := w.addSeeds(ctx, engine)
	w.logger.Info("scan seeded", zap.Int("seeds", seeds))

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if w.paused {
		engine.Pause()
	}
	if d := w.cfg.Options.MaxDuration; d > 0 {
		w.deadline = time.AfterFunc(d, func() {
			w.logger.Info("max scan duration reached, stopping", zap.Duration("max_duration", d))
			w.Stop()
		})
	}
	w.mu.Unlock()

	if err := engine.Start(); err != nil {
		w.logger.Error("engine start failed", zap.Error(err))
		w.Stop()
	}
}

// addSeeds feeds the engine its starting messages and returns how many were
// added. Messages that cannot be loaded are logged and skipped.
func (w *ScanWorker) addSeeds(ctx context.Context, engine Engine) int {
	target := w.cfg.Target
	added := 0
	if target.InScopeOnly {
		if w.cfg.Tree == nil {
			return 0
		}
		for _, node := range w.cfg.Tree.InScopeNodes() {
			if node.Root {
				continue
			}
			if w.addSeed(ctx, engine, node, true) {
				added++
			}
		}
		return added
	}

	node := target.StartNode
	if !node.Root && w.addSeed(ctx, engine, node, false) {
		added++
	}
	if target.Recurse {
		added += w.addChildSeeds(ctx, engine, node)
	}
	return added
}

func (w *ScanWorker) addChildSeeds(ctx context.Context, engine Engine, parent *Node) int {
	if w.cfg.Tree == nil || ctx.Err() != nil {
		return 0
	}
	children := w.cfg.Tree.Children(parent.URI)
	if limit := w.cfg.Options.MaxChildren; limit > 0 && len(children) > limit {
		children = children[:limit]
	}
	added := 0
	for _, child := range children {
		if w.addSeed(ctx, engine, child, false) {
			added++
		}
		added += w.addChildSeeds(ctx, engine, child)
	}
	return added
}

func (w *ScanWorker) addSeed(ctx context.Context, engine Engine, node *Node, skipImages bool) bool {
	if !node.HasMessage() || w.cfg.Store == nil {
		return false
	}
	msg, err := w.loadMessage(ctx, node)
	if err != nil {
		w.logger.Warn("skipping seed", zap.String("uri", node.URI), zap.Error(err))
		return false
	}
	if !msg.HasResponse() || (skipImages && msg.IsImage()) {
		return false
	}
	engine.AddSeed(msg)
	return true
}

func (w *ScanWorker) loadMessage(ctx context.Context, node *Node) (Message, error) {
	msg, err := w.cfg.Store.Load(ctx, node.MessageRef)
	if err != nil {
		return Message{}, fmt.Errorf("load message %d: %w", node.MessageRef, err)
	}
	return msg, nil
}

// Pause signals the engine to pause. A pause requested before the engine
// exists is applied once it starts.
func (w *ScanWorker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = true
	if w.engine != nil {
		w.engine.Pause()
	}
}

// Resume signals the engine to resume.
func (w *ScanWorker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = false
	if w.engine != nil {
		w.engine.Resume()
	}
}

// Stop signals the engine to stop and notifies the owner. It is idempotent
// and does not wait for in-flight fetches.
func (w *ScanWorker) Stop() {
	w.mu.Lock()
	w.stopped = true
	engine := w.engine
	cancel := w.cancel
	deadline := w.deadline
	w.mu.Unlock()

	if deadline != nil {
		deadline.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if engine != nil {
		engine.Stop()
	}
	w.finish()
}

func (w *ScanWorker) finish() {
	w.finishOnce.Do(func() {
		if w.cfg.Owner != nil {
			w.cfg.Owner.SpiderComplete(false)
		}
	})
}

// IsStopped reports whether the worker or its engine has stopped.
func (w *ScanWorker) IsStopped() bool {
	w.mu.Lock()
	stopped, engine := w.stopped, w.engine
	w.mu.Unlock()
	if stopped {
		return true
	}
	return engine != nil && engine.IsStopped()
}

// Progress returns the number of processed URIs and the current maximum.
func (w *ScanWorker) Progress() (current, maximum int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done, w.done + w.todo
}

// SpiderProgress records the engine's counters.
func (w *ScanWorker) SpiderProgress(_, done, todo int) {
	w.mu.Lock()
	w.done, w.todo = done, todo
	w.mu.Unlock()
}

// SpiderComplete cancels the max duration timer.
func (w *ScanWorker) SpiderComplete(bool) {
	w.mu.Lock()
	deadline := w.deadline
	cancel := w.cancel
	w.mu.Unlock()
	if deadline != nil {
		deadline.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

// FoundURI is unused by the worker.
func (w *ScanWorker) FoundURI(string, string, FetchStatus) {}

// ReadURI is unused by the worker.
func (w *ScanWorker) ReadURI(Message) {}
