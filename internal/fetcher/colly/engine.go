// Package collyfetcher provides the colly-backed fetch engine behind a spider
// scan, plus a single-page prober used to register new sites.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/webspider/internal/logging"
	"github.com/JakeFAU/webspider/internal/metrics"
	"github.com/JakeFAU/webspider/internal/policy/ratelimit"
	"github.com/JakeFAU/webspider/internal/spider"
	"github.com/JakeFAU/webspider/internal/urlcanon"
)

const linkSelector = "a[href], area[href], link[href], frame[src], iframe[src]"

// Config controls collector behavior shared by every engine a factory builds.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Limiter throttles requests per host across all engines. Nil means
	// unthrottled.
	Limiter *ratelimit.Limiter
}

// Scope answers the site tree's include and exclude rules.
type Scope interface {
	InScope(uri string) bool
	Excluded(uri string) bool
}

// Recorder persists a fetched message and files it into the site tree.
type Recorder interface {
	Record(ctx context.Context, msg spider.Message) (spider.Message, error)
}

// Engine crawls outward from its seeds with an async colly collector. It
// implements spider.Engine.
type Engine struct {
	cfg      Config
	params   spider.EngineParams
	scope    Scope
	recorder Recorder
	canon    urlcanon.Canonicalizer
	logger   *zap.Logger

	collector *colly.Collector
	ctx       context.Context
	cancel    context.CancelFunc

	mu        sync.Mutex
	listeners []spider.EngineListener
	seeds     []spider.Message
	seen      map[string]struct{}
	hosts     map[string]struct{}
	gate      chan struct{}
	started   bool
	stopped   bool
	finished  bool
	done      int
	todo      int
}

var _ spider.Engine = (*Engine)(nil)

// NewFactory returns a spider.EngineFactory building one Engine per scan.
func NewFactory(cfg Config, scope Scope, recorder Recorder, logger *zap.Logger) spider.EngineFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(params spider.EngineParams) (spider.Engine, error) {
		return NewEngine(cfg, params, scope, recorder, logger)
	}
}

// NewEngine builds an Engine for one scan. The collector is configured here
// but nothing is fetched until Start.
func NewEngine(
	cfg Config,
	params spider.EngineParams,
	scope Scope,
	recorder Recorder,
	logger *zap.Logger,
) (*Engine, error) {
	if recorder == nil {
		return nil, errors.New("recorder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	open := make(chan struct{})
	close(open)
	e := &Engine{
		cfg:      cfg,
		params:   params,
		scope:    scope,
		recorder: recorder,
		canon:    params.Options.Canonicalizer(),
		logger:   logging.ForScan(logger.Named("engine"), params.ScanID),
		ctx:      ctx,
		cancel:   cancel,
		seen:     make(map[string]struct{}),
		hosts:    make(map[string]struct{}),
		gate:     open,
	}
	collector, err := e.buildCollector()
	if err != nil {
		cancel()
		return nil, err
	}
	e.collector = collector
	return e, nil
}

func (e *Engine) buildCollector() (*colly.Collector, error) {
	c := colly.NewCollector(
		colly.Async(true),
		colly.StdlibContext(e.ctx),
		colly.ParseHTTPErrorResponse(),
	)
	if e.cfg.UserAgent != "" {
		c.UserAgent = e.cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !e.cfg.RespectRobots
	if depth := e.params.Options.MaxDepth; depth > 0 {
		c.MaxDepth = depth + 1
	}
	c.WithTransport(newRobotsTransport(newHTTPTransport(), e.logger))
	timeout := e.cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c.SetRequestTimeout(timeout)

	parallelism := e.params.Options.Concurrency
	if parallelism <= 0 {
		parallelism = 1
	}
	if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: parallelism}); err != nil {
		return nil, fmt.Errorf("set collector limits: %w", err)
	}

	c.OnRequest(e.handleRequest)
	c.OnResponse(e.handleResponse)
	c.OnHTML(linkSelector, e.handleLink)
	c.OnError(e.handleError)
	return c, nil
}

// AddListener registers l for discovery callbacks.
func (e *Engine) AddListener(l spider.EngineListener) {
	if l == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// AddSeed queues msg to be fetched when the engine starts. Seeds added after
// Start are visited immediately.
func (e *Engine) AddSeed(msg spider.Message) {
	e.mu.Lock()
	if !e.started {
		e.seeds = append(e.seeds, msg)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.visitSeed(msg)
}

// Start visits every seed and returns. Completion is reported through
// SpiderComplete once the collector drains.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	if e.stopped {
		e.mu.Unlock()
		return errors.New("engine stopped")
	}
	e.started = true
	seeds := e.seeds
	e.seeds = nil
	e.mu.Unlock()

	metrics.IncActiveEngines()
	e.logger.Info("engine started", zap.Int("seeds", len(seeds)))
	for _, seed := range seeds {
		e.visitSeed(seed)
	}
	go func() {
		e.collector.Wait()
		e.complete()
	}()
	return nil
}

func (e *Engine) visitSeed(msg spider.Message) {
	key, ok := e.canon.Key(msg.URI, "")
	if !ok {
		e.logger.Warn("seed is not crawlable", zap.String("uri", msg.URI))
		return
	}
	uri, _ := urlcanon.Canonicalize(msg.URI, "")
	e.mu.Lock()
	if u, err := url.Parse(uri); err == nil {
		e.hosts[u.Host] = struct{}{}
	}
	_, dup := e.seen[key]
	e.seen[key] = struct{}{}
	e.mu.Unlock()
	if dup {
		return
	}
	method := msg.Method
	if method == "" {
		method = http.MethodGet
	}
	e.notifyFound(uri, method, spider.FetchSeed)
	e.visit(uri, func(u string) error { return e.collector.Visit(u) })
}

func (e *Engine) visit(uri string, visit func(string) error) {
	e.mu.Lock()
	e.todo++
	e.mu.Unlock()
	if err := visit(uri); err != nil {
		e.mu.Lock()
		e.todo--
		e.mu.Unlock()
		e.logger.Debug("visit rejected", zap.String("uri", uri), zap.Error(err))
	}
}

// Pause holds new requests until Resume. In-flight requests finish.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || e.finished || e.isPausedLocked() {
		return
	}
	e.gate = make(chan struct{})
}

// Resume releases requests held by Pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isPausedLocked() {
		close(e.gate)
	}
}

func (e *Engine) isPausedLocked() bool {
	select {
	case <-e.gate:
		return false
	default:
		return true
	}
}

// Stop cancels in-flight requests and drops everything queued. It does not
// wait for the collector to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	started := e.started
	e.mu.Unlock()

	e.cancel()
	e.Resume()
	if !started {
		e.complete()
	}
}

// IsStopped reports whether the engine was stopped or has run out of work.
func (e *Engine) IsStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped || e.finished
}

func (e *Engine) handleRequest(r *colly.Request) {
	e.mu.Lock()
	gate := e.gate
	e.mu.Unlock()
	select {
	case <-gate:
	case <-e.ctx.Done():
	}
	if err := e.cfg.Limiter.Wait(e.ctx, r.URL.String()); err != nil || e.ctx.Err() != nil {
		r.Abort()
		e.advance()
	}
}

func (e *Engine) handleResponse(r *colly.Response) {
	msg := spider.Message{
		Method:     r.Request.Method,
		URI:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Reason:     http.StatusText(r.StatusCode),
		Body:       append([]byte(nil), r.Body...),
		FetchedAt:  time.Now().UTC(),
	}
	if r.Headers != nil {
		msg.Header = r.Headers.Clone()
		msg.ContentType = r.Headers.Get("Content-Type")
	}
	recorded, err := e.recorder.Record(e.ctx, msg)
	if err != nil {
		e.logger.Warn("record message failed", zap.String("uri", msg.URI), zap.Error(err))
		recorded = msg
	}
	metrics.ObservePage(msg.URI, msg.StatusCode, len(msg.Body))
	for _, l := range e.snapshotListeners() {
		l.ReadURI(recorded)
	}
	e.advance()
}

func (e *Engine) handleError(r *colly.Response, err error) {
	uri := ""
	if r != nil && r.Request != nil && r.Request.URL != nil {
		uri = r.Request.URL.String()
	}
	if e.ctx.Err() == nil {
		e.logger.Debug("fetch failed", zap.String("uri", uri), zap.Error(err))
	}
	e.advance()
}

func (e *Engine) handleLink(h *colly.HTMLElement) {
	if depth := e.params.Options.MaxDepth; depth > 0 && h.Request.Depth > depth {
		return
	}
	if e.ctx.Err() != nil {
		return
	}
	href := strings.TrimSpace(h.Attr("href"))
	if href == "" {
		href = strings.TrimSpace(h.Attr("src"))
	}
	if href == "" {
		return
	}
	base := h.Request.URL.String()
	resolved, err := urlcanon.Resolve(base, href)
	if err != nil {
		return
	}
	if !isHTTPScheme(resolved) {
		e.notifyFound(resolved, http.MethodGet, spider.FetchIllegalProtocol)
		return
	}
	key, ok := e.canon.Key(resolved, "")
	if !ok {
		return
	}
	e.mu.Lock()
	_, dup := e.seen[key]
	e.seen[key] = struct{}{}
	e.mu.Unlock()
	if dup {
		return
	}
	uri, _ := urlcanon.Canonicalize(resolved, "")
	status := e.classify(uri)
	e.notifyFound(uri, http.MethodGet, status)
	if status == spider.FetchValid {
		e.visit(uri, h.Request.Visit)
	}
}

func (e *Engine) classify(uri string) spider.FetchStatus {
	if !e.params.Target.Context.Contains(uri) {
		return spider.FetchOutOfContext
	}
	if e.scope != nil && e.scope.Excluded(uri) {
		return spider.FetchUserRules
	}
	if e.params.Target.InScopeOnly && e.scope != nil && !e.scope.InScope(uri) {
		return spider.FetchOutOfScope
	}
	u, err := url.Parse(uri)
	if err != nil {
		return spider.FetchOutOfScope
	}
	e.mu.Lock()
	_, known := e.hosts[u.Host]
	e.mu.Unlock()
	if !known && !e.params.Target.InScopeOnly {
		return spider.FetchOutOfScope
	}
	return spider.FetchValid
}

func isHTTPScheme(uri string) bool {
	i := strings.IndexByte(uri, ':')
	if i < 0 {
		return false
	}
	scheme := strings.ToLower(uri[:i])
	return scheme == "http" || scheme == "https"
}

func (e *Engine) advance() {
	e.mu.Lock()
	e.done++
	if e.todo > 0 {
		e.todo--
	}
	done, todo := e.done, e.todo
	e.mu.Unlock()

	percent := 100
	if total := done + todo; total > 0 {
		percent = done * 100 / total
	}
	for _, l := range e.snapshotListeners() {
		l.SpiderProgress(percent, done, todo)
	}
}

func (e *Engine) complete() {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	e.finished = true
	started := e.started
	successful := !e.stopped
	done := e.done
	e.mu.Unlock()

	e.cancel()
	if started {
		metrics.DecActiveEngines()
	}
	e.logger.Info("engine finished", zap.Bool("successful", successful), zap.Int("read", done))
	for _, l := range e.snapshotListeners() {
		l.SpiderComplete(successful)
	}
}

func (e *Engine) notifyFound(uri, method string, status spider.FetchStatus) {
	for _, l := range e.snapshotListeners() {
		l.FoundURI(uri, method, status)
	}
}

func (e *Engine) snapshotListeners() []spider.EngineListener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]spider.EngineListener(nil), e.listeners...)
}
