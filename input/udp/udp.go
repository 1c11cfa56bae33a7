// Package udp provides the UDP capture controller: it receives raw device
// events from companion capture processes, normalizes them through the
// gamepad mapping layer and delivers samples to the configured sink.
package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	pitxerrors "github.com/filimon-danopoulos/pi-tx/errors"
	"github.com/filimon-danopoulos/pi-tx/input"
	"github.com/filimon-danopoulos/pi-tx/input/gamepad"
	"github.com/filimon-danopoulos/pi-tx/metric"
	"github.com/filimon-danopoulos/pi-tx/pkg/buffer"
)

// Metrics holds Prometheus metrics for the UDP capture controller.
type Metrics struct {
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	samplesDropped  prometheus.Counter
	unmappedEvents  prometheus.Counter
	decodeErrors    prometheus.Counter
	socketErrors    prometheus.Counter
	batchSize       prometheus.Histogram
	lastActivity    prometheus.Gauge
}

func newMetrics(registry *metric.MetricsRegistry, port int) *Metrics {
	// nil registry means metrics disabled
	if registry == nil {
		return nil
	}

	m := &Metrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "udp",
			Name:      "packets_received_total",
			Help:      "Total UDP packets received",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "udp",
			Name:      "bytes_received_total",
			Help:      "Total bytes received from UDP",
		}),
		samplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "udp",
			Name:      "samples_dropped_total",
			Help:      "Samples dropped due to buffer overflow",
		}),
		unmappedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "udp",
			Name:      "unmapped_events_total",
			Help:      "Events from devices or controls with no mapping entry",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "udp",
			Name:      "decode_errors_total",
			Help:      "Datagrams that failed JSON decoding",
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "udp",
			Name:      "socket_errors_total",
			Help:      "Socket read errors encountered",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pitx",
			Subsystem: "udp",
			Name:      "batch_size",
			Help:      "Distribution of sample dispatch batch sizes",
			Buckets:   []float64{1, 5, 10, 20, 50, 100},
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pitx",
			Subsystem: "udp",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of last received packet",
		}),
	}

	serviceName := fmt.Sprintf("udp_%d", port)
	registry.RegisterCounter(serviceName, "packets_received", m.packetsReceived)
	registry.RegisterCounter(serviceName, "bytes_received", m.bytesReceived)
	registry.RegisterCounter(serviceName, "samples_dropped", m.samplesDropped)
	registry.RegisterCounter(serviceName, "unmapped_events", m.unmappedEvents)
	registry.RegisterCounter(serviceName, "decode_errors", m.decodeErrors)
	registry.RegisterCounter(serviceName, "socket_errors", m.socketErrors)
	registry.RegisterHistogram(serviceName, "batch_size", m.batchSize)
	registry.RegisterGauge(serviceName, "last_activity", m.lastActivity)

	return m
}

// Config holds the listener configuration.
type Config struct {
	Bind string `json:"bind"`
	Port int    `json:"port"`
}

// Validate checks the listener configuration.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return pitxerrors.WrapInvalid(fmt.Errorf("invalid port %d", c.Port),
			"udp", "Validate", "port validation")
	}
	return nil
}

// DefaultConfig returns the listener defaults.
func DefaultConfig() Config {
	return Config{Bind: "0.0.0.0", Port: 14550}
}

// event is the wire format for one datagram. A datagram either carries a
// raw device event (Device set, value interpreted through the mapping) or
// an already-normalized sample (Ch set).
type event struct {
	Device string  `json:"device,omitempty"`
	Type   int     `json:"type,omitempty"`
	Code   int     `json:"code,omitempty"`
	Value  int     `json:"value,omitempty"`
	Ch     int     `json:"ch,omitempty"`
	V      float64 `json:"v,omitempty"`
}

// Deps holds runtime dependencies for the UDP controller.
type Deps struct {
	Config          Config
	Mappings        gamepad.MappingSet
	Sink            input.Sink
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Controller listens for capture datagrams and forwards normalized
// samples to the sink.
type Controller struct {
	bind     string
	port     int
	mappings gamepad.MappingSet
	sink     input.Sink
	logger   *slog.Logger

	buffer buffer.Buffer[input.Sample]

	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	conn      *net.UDPConn

	packetsReceived atomic.Int64
	errorCount      atomic.Int64

	metrics *Metrics
}

var _ input.Controller = (*Controller)(nil)

// New creates a UDP capture controller.
func New(deps Deps) (*Controller, error) {
	if deps.Sink == nil {
		return nil, pitxerrors.WrapInvalid(fmt.Errorf("nil sink"),
			"udp", "New", "sink validation")
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}

	cfg := deps.Config
	if cfg.Bind == "" {
		cfg.Bind = "0.0.0.0"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "udp-input", "port", cfg.Port)
	}

	metrics := newMetrics(deps.MetricsRegistry, cfg.Port)

	var bufferOpts []buffer.Option[input.Sample]
	bufferOpts = append(bufferOpts, buffer.WithOverflowPolicy[input.Sample](buffer.DropOldest))
	if metrics != nil {
		bufferOpts = append(bufferOpts, buffer.WithDropCallback[input.Sample](
			func(input.Sample) { metrics.samplesDropped.Inc() }))
	}

	return &Controller{
		bind:      cfg.Bind,
		port:      cfg.Port,
		mappings:  deps.Mappings,
		sink:      deps.Sink,
		logger:    logger,
		buffer:    buffer.NewRing(1024, bufferOpts...),
		startTime: time.Now(),
		metrics:   metrics,
	}, nil
}

// Start binds the socket and begins the read loop. Idempotent while running.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return nil
	}

	c.shutdown = make(chan struct{})
	c.done = make(chan struct{})

	if err := c.bindSocket(); err != nil {
		c.cleanupUnlocked()
		return pitxerrors.WrapTransient(err, "udp", "Start", "socket binding")
	}

	c.running.Store(true)
	c.startTime = time.Now()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.done != nil {
				select {
				case <-c.done:
				default:
					close(c.done)
				}
			}
		}()
		c.readLoop(ctx)
	}()

	c.logger.Info("udp capture listening", "bind", c.bind, "port", c.port)
	return nil
}

func (c *Controller) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", c.bind, c.port))
	if err != nil {
		return fmt.Errorf("resolve UDP address %s:%d: %w", c.bind, c.port, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on UDP port %d: %w", c.port, err)
	}

	// Larger OS buffer avoids drops during event bursts. Some systems
	// clamp the size, so failure is only worth a warning.
	const socketBufferSize = 1 << 20
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		c.logger.Warn("could not set UDP buffer size",
			"buffer_size", socketBufferSize, "error", err)
	}

	c.conn = conn
	return nil
}

// Stop shuts the listener down, waiting up to timeout for the read loop.
func (c *Controller) Stop(timeout time.Duration) error {
	if !c.running.Load() {
		return nil
	}

	c.running.Store(false)

	c.mu.Lock()
	if c.shutdown != nil {
		select {
		case <-c.shutdown:
		default:
			close(c.shutdown)
		}
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return pitxerrors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"udp", "Stop", "graceful shutdown")
	}

	c.cleanup()
	return nil
}

func (c *Controller) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupUnlocked()
}

func (c *Controller) cleanupUnlocked() {
	if c.shutdown != nil {
		select {
		case <-c.shutdown:
		default:
			close(c.shutdown)
		}
		c.shutdown = nil
	}
	c.done = nil
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.buffer != nil {
		_ = c.buffer.Close()
	}
}

// Addr returns the bound socket address, for callers that bind port 0.
func (c *Controller) Addr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

func (c *Controller) readLoop(ctx context.Context) {
	packet := make([]byte, 2048)

	for c.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		// Short deadline so shutdown is noticed promptly.
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, _, err := conn.ReadFromUDP(packet)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-c.shutdown:
				return
			default:
				c.errorCount.Add(1)
				if c.metrics != nil {
					c.metrics.socketErrors.Inc()
				}
				continue
			}
		}

		c.packetsReceived.Add(1)
		if c.metrics != nil {
			c.metrics.packetsReceived.Inc()
			c.metrics.bytesReceived.Add(float64(n))
			c.metrics.lastActivity.Set(float64(time.Now().Unix()))
		}

		c.handleDatagram(packet[:n])
		c.dispatchBuffered()
	}
}

// handleDatagram decodes one datagram and buffers the resulting sample.
func (c *Controller) handleDatagram(data []byte) {
	var ev event
	if err := json.Unmarshal(data, &ev); err != nil {
		if c.metrics != nil {
			c.metrics.decodeErrors.Inc()
		}
		c.logger.Debug("dropping undecodable datagram", "error", err)
		return
	}

	sample, ok := c.toSample(ev)
	if !ok {
		return
	}
	_ = c.buffer.Write(sample)
}

// toSample resolves a wire event into a normalized sample. Raw device
// events go through the mapping tables; pre-normalized samples pass
// straight through.
func (c *Controller) toSample(ev event) (input.Sample, bool) {
	now := time.Now()

	if ev.Device != "" {
		dev, ok := c.mappings.Device(ev.Device)
		if !ok {
			c.countUnmapped("device", ev.Device)
			return input.Sample{}, false
		}
		ctl, ok := dev.Control(ev.Type, ev.Code)
		if !ok {
			c.countUnmapped("control", fmt.Sprintf("%s/%d:%d", ev.Device, ev.Type, ev.Code))
			return input.Sample{}, false
		}
		return input.Sample{
			ChannelID: ev.Ch,
			Value:     ctl.Normalize(ev.Value),
			Timestamp: now,
		}, ev.Ch > 0
	}

	if ev.Ch > 0 {
		return input.Sample{ChannelID: ev.Ch, Value: ev.V, Timestamp: now}, true
	}
	return input.Sample{}, false
}

func (c *Controller) countUnmapped(what, detail string) {
	if c.metrics != nil {
		c.metrics.unmappedEvents.Inc()
	}
	c.logger.Debug("unmapped input event", "missing", what, "detail", detail)
}

// dispatchBuffered drains the sample buffer into the sink.
func (c *Controller) dispatchBuffered() {
	const maxBatchSize = 64
	samples := c.buffer.ReadBatch(maxBatchSize)
	if len(samples) == 0 {
		return
	}

	if c.metrics != nil {
		c.metrics.batchSize.Observe(float64(len(samples)))
	}

	for _, s := range samples {
		if !c.running.Load() {
			return
		}
		if err := c.sink.Ingest(s.ChannelID, s.Value); err != nil {
			c.errorCount.Add(1)
			c.logger.Debug("sink rejected sample",
				"channel", s.ChannelID, "error", err)
		}
	}
}
