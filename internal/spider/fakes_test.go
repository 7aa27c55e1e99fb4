package spider

import (
	"context"
	"errors"
	"sync"
)

type fakeEngine struct {
	mu        sync.Mutex
	listeners []EngineListener
	seeds     []Message
	started   bool
	paused    bool
	stopped   bool
	finished  bool
	startErr  error
	stopCalls int
}

func (e *fakeEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.started = true
	return nil
}

func (e *fakeEngine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

func (e *fakeEngine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
}

func (e *fakeEngine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.stopCalls++
	e.mu.Unlock()
}

func (e *fakeEngine) IsStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped || e.finished
}

func (e *fakeEngine) AddSeed(msg Message) {
	e.mu.Lock()
	e.seeds = append(e.seeds, msg)
	e.mu.Unlock()
}

func (e *fakeEngine) AddListener(l EngineListener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

func (e *fakeEngine) isStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

func (e *fakeEngine) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *fakeEngine) seedURIs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.seeds))
	for _, m := range e.seeds {
		out = append(out, m.URI)
	}
	return out
}

func (e *fakeEngine) snapshotListeners() []EngineListener {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EngineListener, len(e.listeners))
	copy(out, e.listeners)
	return out
}

// complete marks the engine finished and fires SpiderComplete the way a
// real engine does once its frontier drains.
func (e *fakeEngine) complete(successful bool) {
	e.mu.Lock()
	e.finished = true
	e.mu.Unlock()
	for _, l := range e.snapshotListeners() {
		l.SpiderComplete(successful)
	}
}

func (e *fakeEngine) progress(percent, done, todo int) {
	for _, l := range e.snapshotListeners() {
		l.SpiderProgress(percent, done, todo)
	}
}

type fakeFactory struct {
	mu      sync.Mutex
	engines map[int]*fakeEngine
	params  []EngineParams
	err     error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{engines: make(map[int]*fakeEngine)}
}

func (f *fakeFactory) build(p EngineParams) (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, p)
	if f.err != nil {
		return nil, f.err
	}
	e := &fakeEngine{}
	f.engines[p.ScanID] = e
	return e, nil
}

func (f *fakeFactory) engine(id int) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[id]
}

func (f *fakeFactory) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.params)
}

type fakeTree struct {
	root     *Node
	nodes    map[string]*Node
	children map[string][]*Node
	inScope  []*Node
}

func newFakeTree() *fakeTree {
	root := &Node{URI: "", Root: true}
	return &fakeTree{
		root:     root,
		nodes:    map[string]*Node{"": root},
		children: make(map[string][]*Node),
	}
}

func (t *fakeTree) add(parent string, n *Node) *Node {
	t.nodes[n.URI] = n
	t.children[parent] = append(t.children[parent], n)
	return n
}

func (t *fakeTree) Root() *Node { return t.root }

func (t *fakeTree) FindNode(uri string) (*Node, bool) {
	n, ok := t.nodes[uri]
	return n, ok
}

func (t *fakeTree) Children(uri string) []*Node { return t.children[uri] }

func (t *fakeTree) InScopeNodes() []*Node { return t.inScope }

var errBrokenMessage = errors.New("broken message")

type fakeStore struct {
	mu       sync.Mutex
	messages map[int64]Message
	broken   map[int64]bool
	next     int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[int64]Message), broken: make(map[int64]bool)}
}

func (s *fakeStore) Save(_ context.Context, msg Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	msg.Ref = s.next
	s.messages[msg.Ref] = msg
	return msg.Ref, nil
}

func (s *fakeStore) Load(_ context.Context, ref int64) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken[ref] {
		return Message{}, errBrokenMessage
	}
	msg, ok := s.messages[ref]
	if !ok {
		return Message{}, errors.New("not found")
	}
	return msg, nil
}

// page stores an HTML 200 response for uri and returns a node backed by it.
func (s *fakeStore) page(uri string) *Node {
	ref, _ := s.Save(context.Background(), Message{
		Method:      "GET",
		URI:         uri,
		StatusCode:  200,
		Reason:      "OK",
		ContentType: "text/html",
	})
	return &Node{URI: uri, MessageRef: ref}
}

type recordingListener struct {
	mu     sync.Mutex
	events []string
	starts map[int]int
	ends   map[int]int
	last   [2]int
}

func newRecordingListener() *recordingListener {
	return &recordingListener{starts: make(map[int]int), ends: make(map[int]int)}
}

func (r *recordingListener) ScanStarted(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts[id]++
	r.events = append(r.events, "started")
}

func (r *recordingListener) ScanProgress(_ int, current, maximum int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = [2]int{current, maximum}
	r.events = append(r.events, "progress")
}

func (r *recordingListener) ScanFinished(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends[id]++
	r.events = append(r.events, "finished")
}

func (r *recordingListener) finished(id int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ends[id]
}

type ownerRecorder struct {
	mu        sync.Mutex
	completes []bool
}

func (o *ownerRecorder) SpiderComplete(successful bool) {
	o.mu.Lock()
	o.completes = append(o.completes, successful)
	o.mu.Unlock()
}

func (o *ownerRecorder) SpiderProgress(int, int, int)         {}
func (o *ownerRecorder) FoundURI(string, string, FetchStatus) {}
func (o *ownerRecorder) ReadURI(Message)                      {}

func (o *ownerRecorder) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.completes)
}

type recordingObserver struct {
	mu     sync.Mutex
	rows   []ResultRow
	events []string
}

func (o *recordingObserver) RowAppended(_ int, row ResultRow) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rows = append(o.rows, row)
	o.events = append(o.events, "row")
}

func (o *recordingObserver) ResultsComplete(int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "complete")
}

func (o *recordingObserver) snapshot() ([]ResultRow, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rows := make([]ResultRow, len(o.rows))
	copy(rows, o.rows)
	events := make([]string, len(o.events))
	copy(events, o.events)
	return rows, events
}
