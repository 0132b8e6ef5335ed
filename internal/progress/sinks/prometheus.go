package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vlikcc/yargisalzekav2/internal/progress"
)

// PrometheusSink exports session progress via Prometheus. It owns the
// collectors for sessions started/completed/running, session runtime, and
// per-stage row and page counters. The running gauge is the live view of
// dispatcher concurrency.
type PrometheusSink struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted *prometheus.CounterVec
	sessionsRunning   prometheus.Gauge
	sessionRuntime    *prometheus.HistogramVec
	pagesProcessed    prometheus.Counter
	rowsProcessed     *prometheus.CounterVec

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "search_sessions_started_total",
			Help: "Total keyword sessions that have started.",
		}),
		sessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "search_sessions_completed_total",
			Help: "Total keyword sessions completed partitioned by result.",
		}, []string{"result"}),
		sessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "search_sessions_running",
			Help: "Current number of running keyword sessions.",
		}),
		sessionRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "search_session_runtime_seconds",
			Help:    "Wall time per completed keyword session.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"result"}),
		pagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "search_pages_processed_total",
			Help: "Result pages whose rows were fully walked.",
		}),
		rowsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "search_rows_processed_total",
			Help: "Result rows handled partitioned by outcome.",
		}, []string{"outcome"}),
		tracker: newSessionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsCompleted,
		s.sessionsRunning,
		s.sessionRuntime,
		s.pagesProcessed,
		s.rowsProcessed,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageSessionStart:
		s.sessionsStarted.Inc()
		if s.tracker.start(evt.DispatchID, evt.Keyword) {
			s.sessionsRunning.Inc()
		}
	case progress.StagePageDone:
		s.pagesProcessed.Inc()
	case progress.StageRowDone:
		s.rowsProcessed.WithLabelValues("extracted").Inc()
	case progress.StageRowSkipped:
		s.rowsProcessed.WithLabelValues("skipped").Inc()
	case progress.StageSessionDone:
		s.completeSession(evt, "success")
	case progress.StageSessionEmpty:
		s.completeSession(evt, "empty")
	case progress.StageSessionError:
		s.completeSession(evt, "error")
	}
}

func (s *PrometheusSink) completeSession(evt progress.Event, result string) {
	s.sessionsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.sessionRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.DispatchID, evt.Keyword) {
		s.sessionsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// sessionTracker dedupes start/terminal pairs so the running gauge survives
// replayed or out-of-order batches.
type sessionTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{running: make(map[string]struct{})}
}

func (t *sessionTracker) key(dispatchID, keyword string) string {
	return dispatchID + "\x00" + keyword
}

func (t *sessionTracker) start(dispatchID, keyword string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := t.key(dispatchID, keyword)
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *sessionTracker) complete(dispatchID, keyword string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := t.key(dispatchID, keyword)
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
