// Package metrics records run metrics in a Prometheus registry and writes
// them in the text exposition format when the run is done, e.g. for the
// node exporter textfile collector.
package metrics

import (
	"github.com/perfgo/testrunner/progress"
	"github.com/perfgo/testrunner/testsuite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const Namespace = "testrunner"

// Recorder is a progress indicator collecting metrics.
type Recorder struct {
	path   string
	logger zerolog.Logger
	src    progress.StatusSource

	registry   *prometheus.Registry
	attempts   *prometheus.CounterVec
	unexpected *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	heartbeats prometheus.Counter
	tests      *prometheus.GaugeVec
}

var _ progress.Indicator = (*Recorder)(nil)

// New creates a Recorder writing to path when done. An empty path keeps
// the metrics in memory only.
func New(path string, logger zerolog.Logger) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		path:     path,
		logger:   logger,
		registry: reg,
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "attempts_total",
			Help:      "Count of finished test attempts",
		}, []string{
			"suite",
			"variant",
			"outcome",
		}),
		unexpected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "unexpected_results_total",
			Help:      "Count of attempts reported as unexpected or rerun",
		}, []string{
			"suite",
			"variant",
		}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Duration of test attempts",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{
			"suite",
		}),
		heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "heartbeats_total",
			Help:      "Count of heartbeats without finished attempts",
		}),
		tests: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "tests",
			Help:      "Run counters by state",
		}, []string{
			"state",
		}),
	}
}

// Registry returns the registry holding the metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Starting(src progress.StatusSource) {
	r.src = src
	r.updateCounters()
}

func (r *Recorder) Heartbeat() {
	r.heartbeats.Inc()
}

func (r *Recorder) HasRun(tc *testsuite.TestCase, unexpected bool) {
	suite := ""
	if tc.Suite != nil {
		suite = tc.Suite.Name
	}
	r.attempts.WithLabelValues(suite, tc.Variant, string(progress.Outcome(tc))).Inc()
	r.duration.WithLabelValues(suite).Observe(tc.Duration.Seconds())
	if unexpected {
		r.unexpected.WithLabelValues(suite, tc.Variant).Inc()
	}
	r.updateCounters()
}

func (r *Recorder) Done() {
	r.updateCounters()
	if r.path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		r.logger.Warn().Err(err).Str("path", r.path).Msg("Failed to write metrics")
		return
	}
	r.logger.Debug().Str("path", r.path).Msg("Wrote metrics")
}

func (r *Recorder) updateCounters() {
	if r.src == nil {
		return
	}
	s := r.src.Status()
	r.tests.WithLabelValues("total").Set(float64(s.Total))
	r.tests.WithLabelValues("remaining").Set(float64(s.Remaining))
	r.tests.WithLabelValues("succeeded").Set(float64(s.Succeeded))
	r.tests.WithLabelValues("failed").Set(float64(s.Failed))
	r.tests.WithLabelValues("crashed").Set(float64(s.Crashed))
	r.tests.WithLabelValues("reran").Set(float64(s.Reran))
}
