// Package recorder appends every channel update to a JSON-lines flight
// log so a session can be replayed or inspected after the fact. Writes
// are buffered and flushed on a timer to keep the hot path off the disk.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	pitxerrors "github.com/filimon-danopoulos/pi-tx/errors"
	"github.com/filimon-danopoulos/pi-tx/metric"
	"github.com/filimon-danopoulos/pi-tx/model"
)

// Metrics holds Prometheus metrics for the recorder.
type Metrics struct {
	recordsWritten prometheus.Counter
	bytesWritten   prometheus.Counter
	writeErrors    prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		recordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "recorder",
			Name:      "records_written_total",
			Help:      "Total records appended to the flight log",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "recorder",
			Name:      "bytes_written_total",
			Help:      "Total bytes appended to the flight log",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "recorder",
			Name:      "write_errors_total",
			Help:      "Total flight log write failures",
		}),
	}
	registry.RegisterCounter("recorder", "records_written", m.recordsWritten)
	registry.RegisterCounter("recorder", "bytes_written", m.bytesWritten)
	registry.RegisterCounter("recorder", "write_errors", m.writeErrors)
	return m
}

// record is one flight log line. Event is "channels" for vector updates
// and "model" when the active model switches.
type record struct {
	Event     string    `json:"event"`
	Timestamp int64     `json:"timestamp"` // Unix milliseconds
	Model     string    `json:"model,omitempty"`
	ModelID   string    `json:"model_id,omitempty"`
	Channels  []float64 `json:"channels,omitempty"`
}

// Config holds the recorder configuration.
type Config struct {
	Directory     string        `json:"directory"`
	FilePrefix    string        `json:"file_prefix"`
	BufferSize    int           `json:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// DefaultConfig returns the recorder defaults.
func DefaultConfig() Config {
	return Config{
		Directory:     "logs",
		FilePrefix:    "flight",
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

// Validate checks the recorder configuration.
func (c *Config) Validate() error {
	if c.Directory == "" {
		return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "recorder", "Validate",
			"directory cannot be empty")
	}
	if c.BufferSize < 1 {
		return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "recorder", "Validate",
			fmt.Sprintf("buffer size %d must be positive", c.BufferSize))
	}
	if c.FlushInterval <= 0 {
		return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "recorder", "Validate",
			"flush interval must be positive")
	}
	return nil
}

// Deps holds runtime dependencies for the recorder.
type Deps struct {
	Config          Config
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Recorder buffers flight log records and appends them to a per-session
// JSONL file. It observes the active channel store.
type Recorder struct {
	config Config
	logger *slog.Logger

	modelMu   sync.RWMutex
	modelName string
	modelID   string

	bufferMu sync.Mutex
	buffer   [][]byte

	fileMu sync.Mutex
	file   *os.File

	shutdown    chan struct{}
	done        chan struct{}
	running     bool
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	metrics *Metrics
}

// New creates a recorder. The log file is opened on Start.
func New(deps Deps) (*Recorder, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "recorder")
	}

	return &Recorder{
		config:  deps.Config,
		logger:  logger,
		metrics: newMetrics(deps.MetricsRegistry),
	}, nil
}

// Start opens a fresh session log file and launches the flush loop.
func (r *Recorder) Start(ctx context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.running {
		return nil
	}

	if err := os.MkdirAll(r.config.Directory, 0o755); err != nil {
		return pitxerrors.Wrap(err, "recorder", "Start", "create log directory")
	}

	name := fmt.Sprintf("%s-%s.jsonl", r.config.FilePrefix, time.Now().Format("20060102-150405"))
	path := filepath.Join(r.config.Directory, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return pitxerrors.Wrap(err, "recorder", "Start", "open log file")
	}

	r.fileMu.Lock()
	r.file = file
	r.fileMu.Unlock()

	r.shutdown = make(chan struct{})
	r.done = make(chan struct{})
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(r.done)
		r.flushLoop(ctx)
	}()

	r.logger.Info("flight log started", "path", path)
	return nil
}

// Stop flushes the buffer and closes the log file.
func (r *Recorder) Stop(timeout time.Duration) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if !r.running {
		return nil
	}
	r.running = false

	close(r.shutdown)
	select {
	case <-r.done:
	case <-time.After(timeout):
		return pitxerrors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"recorder", "Stop", "graceful shutdown")
	}
	r.wg.Wait()

	r.flush()

	r.fileMu.Lock()
	defer r.fileMu.Unlock()
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return pitxerrors.Wrap(err, "recorder", "Stop", "close log file")
		}
		r.file = nil
	}
	return nil
}

// Observe buffers one channel vector record.
func (r *Recorder) Observe(values []float64) {
	r.modelMu.RLock()
	rec := record{
		Event:     "channels",
		Timestamp: time.Now().UnixMilli(),
		Model:     r.modelName,
		Channels:  values,
	}
	r.modelMu.RUnlock()
	r.append(rec)
}

// ModelChanged writes a model marker so replays know which model the
// following updates belong to.
func (r *Recorder) ModelChanged(m *model.Model) {
	name, id := "", ""
	if m != nil {
		name, id = m.Name(), m.ModelID()
	}

	r.modelMu.Lock()
	r.modelName = name
	r.modelID = id
	r.modelMu.Unlock()

	r.append(record{
		Event:     "model",
		Timestamp: time.Now().UnixMilli(),
		Model:     name,
		ModelID:   id,
	})
}

func (r *Recorder) append(rec record) {
	data, err := json.Marshal(rec)
	if err != nil {
		r.logger.Error("encode record", "error", err)
		return
	}

	r.bufferMu.Lock()
	r.buffer = append(r.buffer, data)
	full := len(r.buffer) >= r.config.BufferSize
	r.bufferMu.Unlock()

	if full {
		r.flush()
	}
}

func (r *Recorder) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

// flush drains the buffer into the log file in one write per record.
func (r *Recorder) flush() {
	r.bufferMu.Lock()
	pending := r.buffer
	r.buffer = nil
	r.bufferMu.Unlock()

	if len(pending) == 0 {
		return
	}

	r.fileMu.Lock()
	defer r.fileMu.Unlock()
	if r.file == nil {
		return
	}

	for _, line := range pending {
		n, err := r.file.Write(append(line, '\n'))
		if err != nil {
			if r.metrics != nil {
				r.metrics.writeErrors.Inc()
			}
			r.logger.Error("write record", "error", err)
			return
		}
		if r.metrics != nil {
			r.metrics.recordsWritten.Inc()
			r.metrics.bytesWritten.Add(float64(n))
		}
	}
}
