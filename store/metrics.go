package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/filimon-danopoulos/pi-tx/metric"
)

// Metrics holds Prometheus metrics for the channel store
type Metrics struct {
	samplesIngested   prometheus.Counter
	samplesRejected   prometheus.Counter
	pipelineDuration  prometheus.Histogram
	observersNotified prometheus.Counter
}

// newMetrics creates and registers store metrics.
// Returns nil if no registry is provided (nil input = nil feature pattern).
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		samplesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "store",
			Name:      "samples_ingested_total",
			Help:      "Samples that changed state and ran the pipeline",
		}),
		samplesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "store",
			Name:      "samples_rejected_total",
			Help:      "Samples rejected for unknown channel ids",
		}),
		pipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pitx",
			Subsystem: "store",
			Name:      "pipeline_duration_seconds",
			Help:      "Full pipeline evaluation time per state-changing sample",
			Buckets:   []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		observersNotified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "store",
			Name:      "observer_notifications_total",
			Help:      "Observer callbacks delivered",
		}),
	}

	registry.RegisterCounter("store", "samples_ingested", m.samplesIngested)
	registry.RegisterCounter("store", "samples_rejected", m.samplesRejected)
	registry.RegisterHistogram("store", "pipeline_duration", m.pipelineDuration)
	registry.RegisterCounter("store", "observers_notified", m.observersNotified)

	return m
}

func (m *Metrics) unregister(registry *metric.MetricsRegistry) {
	if registry == nil {
		return
	}
	registry.Unregister("store", "samples_ingested")
	registry.Unregister("store", "samples_rejected")
	registry.Unregister("store", "pipeline_duration")
	registry.Unregister("store", "observers_notified")
}

func (m *Metrics) ingestedInc() {
	if m != nil {
		m.samplesIngested.Inc()
	}
}

func (m *Metrics) rejectedInc() {
	if m != nil {
		m.samplesRejected.Inc()
	}
}

func (m *Metrics) pipelineObserve(d time.Duration) {
	if m != nil {
		m.pipelineDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) notifiedAdd(n int) {
	if m != nil {
		m.observersNotified.Add(float64(n))
	}
}
