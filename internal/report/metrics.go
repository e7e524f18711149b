package report

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NikKowPHP/meetup/internal/models"
)

// Metrics exports run summaries as Prometheus series. It owns its registry so
// several instances can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	eventsTotal    *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	lastRunTS      prometheus.Gauge
	lastSuccessTS  *prometheus.GaugeVec
	lastRunFetched *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetup",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline runs by outcome",
	}, []string{"outcome"})
	m.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "meetup",
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a pipeline run",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
	m.eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetup",
		Subsystem: "pipeline",
		Name:      "events_total",
		Help:      "Candidates per source by admission result",
	}, []string{"source", "result"})
	m.failuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetup",
		Subsystem: "pipeline",
		Name:      "source_failures_total",
		Help:      "Source failures by error kind",
	}, []string{"source", "kind"})
	m.lastRunTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "meetup",
		Subsystem: "pipeline",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the last finished run",
	})
	m.lastSuccessTS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "meetup",
		Subsystem: "pipeline",
		Name:      "source_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last run a source completed",
	}, []string{"source"})
	m.lastRunFetched = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "meetup",
		Subsystem: "pipeline",
		Name:      "source_last_fetched",
		Help:      "Candidates fetched by a source in the last run",
	}, []string{"source"})

	m.registry.MustRegister(
		m.runsTotal, m.runDuration, m.eventsTotal, m.failuresTotal,
		m.lastRunTS, m.lastSuccessTS, m.lastRunFetched,
	)
	return m
}

func (m *Metrics) SourceFailed(ctx context.Context, source models.Source, kind string, err error) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.failuresTotal.WithLabelValues(string(source), kind).Inc()
}

func (m *Metrics) RunFinished(ctx context.Context, s Summary) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case s.Error != "":
		outcome = "aborted"
	case len(s.Failed()) > 0:
		outcome = "partial"
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	if !s.FinishedAt.IsZero() && !s.StartedAt.IsZero() {
		m.runDuration.Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
		m.lastRunTS.Set(float64(s.FinishedAt.Unix()))
	}
	for _, src := range s.Sources {
		name := string(src.Source)
		m.eventsTotal.WithLabelValues(name, "accepted").Add(float64(src.Accepted))
		m.eventsTotal.WithLabelValues(name, "duplicate").Add(float64(src.Duplicates))
		m.eventsTotal.WithLabelValues(name, "dropped").Add(float64(src.Dropped))
		m.lastRunFetched.WithLabelValues(name).Set(float64(src.Fetched))
		if src.ErrorKind == "" && !s.FinishedAt.IsZero() {
			m.lastSuccessTS.WithLabelValues(name).Set(float64(s.FinishedAt.Unix()))
		}
	}
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
