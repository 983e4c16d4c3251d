// Package metrics exposes analysis runs as prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chenapple/thesaurus-management/internal/analysis"
)

const namespace = "ad_analysis"

var durationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}

// Recorder collects run, target and agent outcomes on its own registry
type Recorder struct {
	registry *prometheus.Registry

	activeRuns     prometheus.Gauge
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	targets        *prometheus.CounterVec
	targetDuration prometheus.Histogram
	agents         *prometheus.CounterVec
	agentDuration  *prometheus.HistogramVec
}

var _ analysis.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder. Go runtime and process collectors are registered as well.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of analysis runs in progress.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished analysis runs by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of analysis runs.",
			Buckets:   durationBuckets,
		}),
		targets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_total",
			Help:      "Analyzed targets by country and outcome.",
		}, []string{"country", "outcome"}),
		targetDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "target_duration_seconds",
			Help:      "Wall time of one target, analysts and integrator included.",
			Buckets:   durationBuckets,
		}),
		agents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Agent executions by role and outcome.",
		}, []string{"role", "outcome"}),
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_duration_seconds",
			Help:      "Wall time of agent executions by role.",
			Buckets:   durationBuckets,
		}, []string{"role"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.activeRuns,
		r.runs,
		r.runDuration,
		r.targets,
		r.targetDuration,
		r.agents,
		r.agentDuration,
	)
	return r
}

func (r *Recorder) RunStarted() {
	r.activeRuns.Inc()
}

func (r *Recorder) RunFinished(status string, elapsed time.Duration) {
	r.activeRuns.Dec()
	r.runs.WithLabelValues(status).Inc()
	r.runDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) TargetFinished(country string, ok bool, elapsed time.Duration) {
	r.targets.WithLabelValues(country, outcome(ok)).Inc()
	r.targetDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) AgentFinished(role string, ok bool, elapsed time.Duration) {
	r.agents.WithLabelValues(role, outcome(ok)).Inc()
	r.agentDuration.WithLabelValues(role).Observe(elapsed.Seconds())
}

// Handler serves the registry in the prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
