// Package natspub publishes channel vector updates to NATS so companion
// systems on the vehicle network can consume transmitter telemetry.
package natspub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	pitxerrors "github.com/filimon-danopoulos/pi-tx/errors"
	"github.com/filimon-danopoulos/pi-tx/metric"
	"github.com/filimon-danopoulos/pi-tx/model"
	"github.com/filimon-danopoulos/pi-tx/natsclient"
)

// DefaultSubject is the subject updates are published on.
const DefaultSubject = "pitx.telemetry.channels"

// Update is the wire format for one published message.
type Update struct {
	Model     string    `json:"model,omitempty"`
	ModelID   string    `json:"model_id,omitempty"`
	Channels  []float64 `json:"channels"`
	Timestamp int64     `json:"timestamp"` // Unix milliseconds
}

// Metrics holds Prometheus metrics for the NATS publisher.
type Metrics struct {
	published     prometheus.Counter
	publishErrors prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	// nil registry means metrics disabled
	if registry == nil {
		return nil
	}

	m := &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "natspub",
			Name:      "updates_published_total",
			Help:      "Total channel updates published to NATS",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "natspub",
			Name:      "publish_errors_total",
			Help:      "Publishes that failed",
		}),
	}
	registry.RegisterCounter("natspub", "updates_published", m.published)
	registry.RegisterCounter("natspub", "publish_errors", m.publishErrors)
	return m
}

// Deps holds runtime dependencies for the publisher.
type Deps struct {
	Subject         string
	Client          *natsclient.Client
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Publisher forwards channel vectors to a NATS subject. It is a store
// observer, publish failures are logged and counted but never propagate
// back into the store.
type Publisher struct {
	subject string
	client  *natsclient.Client
	logger  *slog.Logger

	mu        sync.RWMutex
	modelName string
	modelID   string

	metrics *Metrics
}

// New creates a NATS publisher.
func New(deps Deps) (*Publisher, error) {
	if deps.Client == nil {
		return nil, pitxerrors.WrapInvalid(fmt.Errorf("nil NATS client"),
			"natspub", "New", "client validation")
	}

	subject := deps.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "natspub", "subject", subject)
	}

	return &Publisher{
		subject: subject,
		client:  deps.Client,
		logger:  logger,
		metrics: newMetrics(deps.MetricsRegistry),
	}, nil
}

// SetModel records the active model metadata included in updates.
func (p *Publisher) SetModel(name, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modelName = name
	p.modelID = id
}

// Observe publishes a channel vector update.
func (p *Publisher) Observe(values []float64) {
	p.Publish(values)
}

// ModelChanged updates the model metadata attached to future updates.
func (p *Publisher) ModelChanged(m *model.Model) {
	if m == nil {
		p.SetModel("", "")
		return
	}
	p.SetModel(m.Name(), m.ModelID())
}

// Publish sends one channel vector. It is the store observer callback.
func (p *Publisher) Publish(values []float64) {
	p.mu.RLock()
	update := Update{
		Model:     p.modelName,
		ModelID:   p.modelID,
		Channels:  values,
		Timestamp: time.Now().UnixMilli(),
	}
	p.mu.RUnlock()

	data, err := json.Marshal(update)
	if err != nil {
		p.logger.Error("encode update", "error", err)
		return
	}

	if err := p.client.Publish(p.subject, data); err != nil {
		if p.metrics != nil {
			p.metrics.publishErrors.Inc()
		}
		p.logger.Debug("publish failed", "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.published.Inc()
	}
}
