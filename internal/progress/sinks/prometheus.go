package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/progress"
)

// PrometheusSink exports run-level progress metrics. Per-item outcome
// counters live in the metrics package; this sink tracks runs in flight and
// stage transitions as seen on the event stream.
type PrometheusSink struct {
	runsStarted     *prometheus.CounterVec
	runsFinished    *prometheus.CounterVec
	runsRunning     prometheus.Gauge
	runDuration     *prometheus.HistogramVec
	stageTransition *prometheus.CounterVec
	itemDuration    *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lmsy_progress_runs_started_total",
			Help: "Ingestion runs started, by trigger.",
		}, []string{"trigger"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lmsy_progress_runs_finished_total",
			Help: "Ingestion runs finished, by status.",
		}, []string{"status"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lmsy_progress_runs_running",
			Help: "Ingestion runs currently in flight.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lmsy_progress_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"status"}),
		stageTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lmsy_progress_stage_transitions_total",
			Help: "Items entering an ingestion stage, by platform and stage.",
		}, []string{"platform", "stage"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lmsy_progress_item_duration_seconds",
			Help:    "End-to-end item latency, by outcome.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runsRunning,
		s.runDuration,
		s.stageTransition,
		s.itemDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case progress.KindRunStart:
			s.runsStarted.WithLabelValues(labelOr(evt.Trigger, "unknown")).Inc()
			if s.tracker.start(evt.RunID) {
				s.runsRunning.Inc()
			}
		case progress.KindRunDone:
			status := string(runStatus(evt))
			s.runsFinished.WithLabelValues(status).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(status).Observe(evt.Dur.Seconds())
			}
			if s.tracker.complete(evt.RunID) {
				s.runsRunning.Dec()
			}
		case progress.KindItemStage:
			s.stageTransition.WithLabelValues(labelOr(string(evt.Platform), "unknown"), string(evt.Stage)).Inc()
		case progress.KindItemDone:
			if evt.Dur > 0 {
				s.itemDuration.WithLabelValues(string(evt.Outcome)).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func labelOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
