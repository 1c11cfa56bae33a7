package metric

import "github.com/prometheus/client_golang/prometheus"

// Metrics contains process-level metrics shared by all components.
// Component-specific metrics are registered by the components themselves.
type Metrics struct {
	// ComponentStatus tracks lifecycle state per component
	// (0=stopped, 1=starting, 2=running, 3=failed)
	ComponentStatus *prometheus.GaugeVec
	// ErrorsTotal counts errors by component and class
	ErrorsTotal *prometheus.CounterVec
	// ActiveModelInfo is a constant-1 gauge labelled with the active model
	ActiveModelInfo *prometheus.GaugeVec
}

// Component status values for the ComponentStatus gauge.
const (
	StatusStopped  = 0
	StatusStarting = 1
	StatusRunning  = 2
	StatusFailed   = 3
)

// NewMetrics creates a new Metrics instance with all process-level metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pitx",
				Subsystem: "component",
				Name:      "status",
				Help:      "Component status (0=stopped, 1=starting, 2=running, 3=failed)",
			},
			[]string{"component"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pitx",
				Subsystem: "component",
				Name:      "errors_total",
				Help:      "Total errors by component and error class",
			},
			[]string{"component", "class"},
		),
		ActiveModelInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pitx",
				Subsystem: "session",
				Name:      "active_model_info",
				Help:      "Constant 1 labelled with the currently active model",
			},
			[]string{"model", "model_id"},
		),
	}
}

// SetActiveModel points the active-model info gauge at one model, clearing
// any previous label set.
func (m *Metrics) SetActiveModel(name, modelID string) {
	m.ActiveModelInfo.Reset()
	m.ActiveModelInfo.WithLabelValues(name, modelID).Set(1)
}
