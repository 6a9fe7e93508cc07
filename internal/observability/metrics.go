package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects synchronization and flow metrics on a private registry so
// several runs in one process (and tests) never collide.
type Metrics struct {
	registry *prometheus.Registry

	waits        *prometheus.CounterVec
	waitDuration *prometheus.HistogramVec
	waitPolls    *prometheus.CounterVec
	forcedClicks *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		waits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowcheck",
			Subsystem: "wait",
			Name:      "total",
			Help:      "Condition waits by outcome.",
		}, []string{"browser", "outcome"}),
		waitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowcheck",
			Subsystem: "wait",
			Name:      "duration_seconds",
			Help:      "Time spent in condition waits.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"browser", "outcome"}),
		waitPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowcheck",
			Subsystem: "wait",
			Name:      "polls_total",
			Help:      "Predicate evaluations across all waits.",
		}, []string{"browser"}),
		forcedClicks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowcheck",
			Subsystem: "click",
			Name:      "forced_total",
			Help:      "Native clicks that fell back to a scripted click.",
		}, []string{"browser"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowcheck",
			Subsystem: "flow",
			Name:      "step_duration_seconds",
			Help:      "Duration of each flow step.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}, []string{"browser", "step", "status"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ForBrowser returns a recorder whose samples carry the browser label.
func (m *Metrics) ForBrowser(browser string) *Recorder {
	return &Recorder{m: m, browser: browser}
}

// WriteTextfile writes the registry in the text exposition format, suitable
// for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}
	return nil
}

// Recorder records metrics for a single browser flow. A nil Recorder is a no-op.
type Recorder struct {
	m       *Metrics
	browser string
}

// ObserveWait implements wait.Observer.
func (r *Recorder) ObserveWait(outcome string, elapsed time.Duration, polls int) {
	if r == nil {
		return
	}
	r.m.waits.WithLabelValues(r.browser, outcome).Inc()
	r.m.waitDuration.WithLabelValues(r.browser, outcome).Observe(elapsed.Seconds())
	r.m.waitPolls.WithLabelValues(r.browser).Add(float64(polls))
}

// ObserveForcedClick counts a forced-click fallback.
func (r *Recorder) ObserveForcedClick() {
	if r == nil {
		return
	}
	r.m.forcedClicks.WithLabelValues(r.browser).Inc()
}

// ObserveStep records a finished flow step.
func (r *Recorder) ObserveStep(step, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.m.stepDuration.WithLabelValues(r.browser, step, status).Observe(d.Seconds())
}
