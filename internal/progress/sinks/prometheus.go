package sinks

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/webspider/internal/progress"
)

// PrometheusSink exports scan lifecycle metrics.
type PrometheusSink struct {
	scansStarted   prometheus.Counter
	scansCompleted prometheus.Counter
	scansRunning   prometheus.Gauge
	scanRuntime    prometheus.Histogram
	scanProgress   *prometheus.GaugeVec
	resourcesRead  *prometheus.CounterVec

	tracker *scanTracker
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		scansStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spider_scans_started_total",
			Help: "Scans that have started.",
		}),
		scansCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spider_scans_completed_total",
			Help: "Scans that have finished, whether stopped or drained.",
		}),
		scansRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spider_scans_running",
			Help: "Scans currently running or paused.",
		}),
		scanRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spider_scan_runtime_seconds",
			Help:    "Wall time per finished scan.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		scanProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spider_scan_progress_percent",
			Help: "Last reported progress per running scan.",
		}, []string{"scan_id"}),
		resourcesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spider_resources_read_total",
			Help: "Resources delivered to scan results, by site and status class.",
		}, []string{"site", "status_class"}),
		tracker: newScanTracker(),
	}
	for _, c := range []prometheus.Collector{
		s.scansStarted,
		s.scansCompleted,
		s.scansRunning,
		s.scanRuntime,
		s.scanProgress,
		s.resourcesRead,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consume(evt)
	}
	return nil
}

func (s *PrometheusSink) consume(evt progress.Event) {
	label := strconv.Itoa(evt.ScanID)
	switch evt.Stage {
	case progress.StageScanStart:
		s.scansStarted.Inc()
		if s.tracker.start(evt) {
			s.scansRunning.Inc()
		}
	case progress.StageScanProgress:
		if s.tracker.running(evt) {
			s.scanProgress.WithLabelValues(label).Set(float64(evt.Progress))
		}
	case progress.StageScanDone:
		s.scansCompleted.Inc()
		if evt.Dur > 0 {
			s.scanRuntime.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt) {
			s.scansRunning.Dec()
		}
		s.scanProgress.DeleteLabelValues(label)
	case progress.StageResourceRead:
		s.resourcesRead.WithLabelValues(evt.Site, evt.StatusClass).Inc()
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type scanKey struct {
	run  [16]byte
	scan int
}

type scanTracker struct {
	mu     sync.Mutex
	active map[scanKey]struct{}
}

func newScanTracker() *scanTracker {
	return &scanTracker{active: make(map[scanKey]struct{})}
}

func keyOf(evt progress.Event) scanKey {
	return scanKey{run: evt.RunID, scan: evt.ScanID}
}

func (t *scanTracker) start(evt progress.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := keyOf(evt)
	if _, ok := t.active[k]; ok {
		return false
	}
	t.active[k] = struct{}{}
	return true
}

func (t *scanTracker) running(evt progress.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[keyOf(evt)]
	return ok
}

func (t *scanTracker) complete(evt progress.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := keyOf(evt)
	if _, ok := t.active[k]; !ok {
		return false
	}
	delete(t.active, k)
	return true
}
