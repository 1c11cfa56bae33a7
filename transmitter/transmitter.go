// Package transmitter streams MULTI-serial control frames to an RC module.
// One frame carries every channel value plus the protocol flags; binding is
// a flag bit inside the frame, not a separate packet, so the transmitter
// simply keeps sending at a fixed rate and callers toggle settings.
package transmitter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	pitxerrors "github.com/filimon-danopoulos/pi-tx/errors"
	"github.com/filimon-danopoulos/pi-tx/metric"
)

// DefaultFrameRate is the frame rate the MULTI module expects, in Hz.
const DefaultFrameRate = 45.0

// DefaultChannelCount is the number of channels carried per frame.
const DefaultChannelCount = 10

// Source supplies the normalized channel vector sampled before each frame.
// The channel store satisfies this.
type Source interface {
	Snapshot() []float64
}

// Metrics holds Prometheus metrics for the transmitter.
type Metrics struct {
	framesSent    prometheus.Counter
	sendErrors    prometheus.Counter
	frameDuration prometheus.Histogram
	bindMode      prometheus.Gauge
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	// nil registry means metrics disabled
	if registry == nil {
		return nil
	}

	m := &Metrics{
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "transmitter",
			Name:      "frames_sent_total",
			Help:      "Total MULTI-serial frames written to the port",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "transmitter",
			Name:      "send_errors_total",
			Help:      "Frame writes that failed",
		}),
		frameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pitx",
			Subsystem: "transmitter",
			Name:      "frame_duration_seconds",
			Help:      "Time to build and write one frame",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.022},
		}),
		bindMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pitx",
			Subsystem: "transmitter",
			Name:      "bind_mode",
			Help:      "1 while the bind flag is set",
		}),
	}

	registry.RegisterCounter("transmitter", "frames_sent", m.framesSent)
	registry.RegisterCounter("transmitter", "send_errors", m.sendErrors)
	registry.RegisterHistogram("transmitter", "frame_duration", m.frameDuration)
	registry.RegisterGauge("transmitter", "bind_mode", m.bindMode)
	return m
}

// Config holds transmitter parameters.
type Config struct {
	Protocol     byte    `json:"protocol"`
	SubProtocol  byte    `json:"sub_protocol"`
	ChannelCount int     `json:"channel_count"`
	FrameRate    float64 `json:"frame_rate_hz"`
}

// DefaultConfig returns the AFHDS2A defaults.
func DefaultConfig() Config {
	return Config{
		Protocol:     ProtoAFHDS2A,
		SubProtocol:  SubPWMIBus,
		ChannelCount: DefaultChannelCount,
		FrameRate:    DefaultFrameRate,
	}
}

// Validate checks the transmitter configuration.
func (c *Config) Validate() error {
	if c.ChannelCount < 1 || c.ChannelCount > 16 {
		return pitxerrors.WrapInvalid(fmt.Errorf("channel count %d out of range", c.ChannelCount),
			"transmitter", "Validate", "channel count validation")
	}
	if c.FrameRate <= 0 {
		return pitxerrors.WrapInvalid(fmt.Errorf("frame rate %v must be positive", c.FrameRate),
			"transmitter", "Validate", "frame rate validation")
	}
	return nil
}

// Deps holds runtime dependencies for the transmitter.
type Deps struct {
	Config          Config
	Port            Port
	Source          Source
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Transmitter periodically samples the source, builds a frame and writes
// it to the port.
type Transmitter struct {
	config Config
	port   Port
	source Source
	logger *slog.Logger

	mu       sync.RWMutex
	settings Settings
	channels []uint16
	modelID  string

	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup

	framesSent atomic.Int64
	sendErrors atomic.Int64

	metrics *Metrics
}

// New creates a transmitter. The port must be opened by the caller before
// Start.
func New(deps Deps) (*Transmitter, error) {
	if deps.Port == nil {
		return nil, pitxerrors.WrapInvalid(fmt.Errorf("nil port"),
			"transmitter", "New", "port validation")
	}

	cfg := deps.Config
	if cfg.ChannelCount == 0 {
		cfg.ChannelCount = DefaultChannelCount
	}
	if cfg.FrameRate == 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.Protocol == 0 {
		cfg.Protocol = ProtoAFHDS2A
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "transmitter")
	}

	channels := make([]uint16, cfg.ChannelCount)
	for i := range channels {
		channels[i] = ChannelNeutral
	}

	return &Transmitter{
		config: cfg,
		port:   deps.Port,
		source: deps.Source,
		logger: logger,
		settings: Settings{
			Protocol:    cfg.Protocol,
			SubProtocol: cfg.SubProtocol,
		},
		channels: channels,
		metrics:  newMetrics(deps.MetricsRegistry),
	}, nil
}

// SetBind toggles the bind flag. Keep it set for a few seconds while the
// receiver is in bind mode.
func (t *Transmitter) SetBind(on bool) {
	t.mu.Lock()
	t.settings.Bind = on
	t.mu.Unlock()
	if t.metrics != nil {
		if on {
			t.metrics.bindMode.Set(1)
		} else {
			t.metrics.bindMode.Set(0)
		}
	}
}

// SetRangeCheck toggles the reduced-power range check flag.
func (t *Transmitter) SetRangeCheck(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settings.RangeCheck = on
}

// SetAutobind toggles the autobind flag.
func (t *Transmitter) SetAutobind(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settings.Autobind = on
}

// SetRxNum selects the receiver slot, clamped to 0..15.
func (t *Transmitter) SetRxNum(n int) {
	if n < 0 {
		n = 0
	}
	if n > 15 {
		n = 15
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settings.RxNum = byte(n)
}

// SetOption sets the fine-tune option, clamped to -32..31.
func (t *Transmitter) SetOption(option int) {
	if option < OptionMin {
		option = OptionMin
	}
	if option > OptionMax {
		option = OptionMax
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settings.Option = option
}

// SetModelID records which model is on the air. Metadata only, not part
// of the frame.
func (t *Transmitter) SetModelID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modelID = id
}

// ModelID returns the model currently on the air.
func (t *Transmitter) ModelID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.modelID
}

// SetChannel writes one channel directly, clamped to the 11-bit range.
// Only useful when no source is attached.
func (t *Transmitter) SetChannel(index int, value int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.channels) {
		return
	}
	if value < ChannelMin {
		value = ChannelMin
	}
	if value > ChannelMax {
		value = ChannelMax
	}
	t.channels[index] = uint16(value)
}

// FramesSent returns the number of frames written so far.
func (t *Transmitter) FramesSent() int64 {
	return t.framesSent.Load()
}

// Start begins periodic frame transmission. Idempotent while running.
func (t *Transmitter) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return nil
	}

	t.shutdown = make(chan struct{})
	t.done = make(chan struct{})
	t.running.Store(true)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(t.done)
		t.sendLoop(ctx)
	}()

	t.logger.Info("transmitter started",
		"protocol", t.config.Protocol,
		"channels", t.config.ChannelCount,
		"frame_rate_hz", t.config.FrameRate)
	return nil
}

// Stop halts transmission, waiting up to timeout for the sender loop.
func (t *Transmitter) Stop(timeout time.Duration) error {
	if !t.running.Load() {
		return nil
	}
	t.running.Store(false)

	t.mu.Lock()
	if t.shutdown != nil {
		select {
		case <-t.shutdown:
		default:
			close(t.shutdown)
		}
	}
	done := t.done
	t.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return pitxerrors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"transmitter", "Stop", "graceful shutdown")
	}
	return nil
}

func (t *Transmitter) sendLoop(ctx context.Context) {
	interval := time.Duration(float64(time.Second) / t.config.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.shutdown:
			return
		case <-ticker.C:
			t.sendFrame()
		}
	}
}

// sendFrame samples the source, builds one frame and writes it.
func (t *Transmitter) sendFrame() {
	var start time.Time
	if t.metrics != nil {
		start = time.Now()
	}

	if t.source != nil {
		t.sampleSource()
	}

	t.mu.RLock()
	frame := BuildFrame(t.settings, t.channels)
	t.mu.RUnlock()

	if err := t.port.Send(frame); err != nil {
		t.sendErrors.Add(1)
		if t.metrics != nil {
			t.metrics.sendErrors.Inc()
		}
		// Transient write errors are routine during reconnects, keep
		// streaming and let the next frame retry.
		t.logger.Debug("frame send failed", "error", err)
		return
	}

	t.framesSent.Add(1)
	if t.metrics != nil {
		t.metrics.framesSent.Inc()
		t.metrics.frameDuration.Observe(time.Since(start).Seconds())
	}
}

// sampleSource refreshes the channel values from the source snapshot.
func (t *Transmitter) sampleSource() {
	values := t.source.Snapshot()

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.channels {
		if i < len(values) {
			t.channels[i] = ChannelValue(values[i])
		} else {
			t.channels[i] = ChannelNeutral
		}
	}
}
