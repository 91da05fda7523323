// Package metrics exposes run records as Prometheus series.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamed0406/opswatch/internal/domain"
)

const namespace = "opswatch"

// Sink turns every run record into counter, gauge and histogram updates on its own
// registry.
type Sink struct {
	reg *prometheus.Registry

	ticks         *prometheus.CounterVec
	probeFailures *prometheus.CounterVec
	actions       *prometheus.CounterVec
	lastValue     *prometheus.GaugeVec
	lastVerdict   *prometheus.GaugeVec
	tickDuration  *prometheus.HistogramVec
}

func New() *Sink {
	s := &Sink{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Poll ticks by poller and verdict.",
		}, []string{"poller", "verdict"}),
		probeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failures_total",
			Help:      "Ticks whose probe reported a failed reading.",
		}, []string{"poller"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Actions run by poller, action and outcome (ok, failed, dry_run).",
		}, []string{"poller", "action", "outcome"}),
		lastValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reading",
			Help:      "Value of the most recent successful reading.",
		}, []string{"poller"}),
		lastVerdict: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_verdict",
			Help:      "Most recent verdict: 0 normal, 1 warning, 2 critical.",
		}, []string{"poller"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a tick including actions.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"poller"}),
	}
	s.reg.MustRegister(
		s.ticks, s.probeFailures, s.actions, s.lastValue, s.lastVerdict, s.tickDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

func (s *Sink) Append(_ context.Context, rec domain.RunRecord) error {
	s.ticks.WithLabelValues(rec.Poller, rec.Verdict.String()).Inc()
	s.lastVerdict.WithLabelValues(rec.Poller).Set(float64(rec.Verdict))
	if rec.Reading.OK {
		s.lastValue.WithLabelValues(rec.Poller).Set(rec.Reading.Value)
	} else {
		s.probeFailures.WithLabelValues(rec.Poller).Inc()
	}
	for _, r := range rec.ActionResults {
		outcome := "ok"
		switch {
		case r.DryRun:
			outcome = "dry_run"
		case !r.OK:
			outcome = "failed"
		}
		s.actions.WithLabelValues(rec.Poller, r.Action, outcome).Inc()
	}
	s.tickDuration.WithLabelValues(rec.Poller).Observe(rec.DurationMS / 1000)
	return nil
}

// Registry is exposed for tests and for callers that add their own collectors.
func (s *Sink) Registry() *prometheus.Registry { return s.reg }

// Handler serves the registry in the Prometheus text format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{Registry: s.reg})
}
