// Package websocket serves the live channel vector to UI clients. Every
// store update is broadcast as one JSON message to all connected clients,
// so a dashboard can mirror exactly what the transmitter puts on the air.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	pitxerrors "github.com/filimon-danopoulos/pi-tx/errors"
	"github.com/filimon-danopoulos/pi-tx/metric"
	"github.com/filimon-danopoulos/pi-tx/model"
)

// Metrics holds Prometheus metrics for the websocket output.
type Metrics struct {
	updatesSent        prometheus.Counter
	bytesSent          prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	broadcastDuration  prometheus.Histogram
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	// Return nil if no registry provided (nil input = nil feature pattern)
	if registry == nil {
		return nil
	}

	m := &Metrics{
		updatesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "websocket",
			Name:      "updates_sent_total",
			Help:      "Total channel vector updates broadcast to clients",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to WebSocket clients",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pitx",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total client connections (including disconnected)",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pitx",
			Subsystem: "websocket",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"disconnect_reason"}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pitx",
			Subsystem: "websocket",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to broadcast one update to all clients",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.updatesSent,
		m.bytesSent,
		m.clientsConnected,
		m.connectionTotal,
		m.disconnectionTotal,
		m.broadcastDuration,
	)
	return m
}

// Update is the wire format for one broadcast message.
type Update struct {
	Type      string    `json:"type"` // always "channels"
	Model     string    `json:"model,omitempty"`
	Channels  []float64 `json:"channels"`
	Timestamp int64     `json:"timestamp"` // Unix milliseconds
}

// Config holds the server configuration.
type Config struct {
	Port int    `json:"port"`
	Path string `json:"path"`
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{Port: 8081, Path: "/ws"}
}

// Validate checks the server configuration.
func (c *Config) Validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "websocket", "Validate",
			fmt.Sprintf("invalid port %d (out of range 1024-65535)", c.Port))
	}
	if c.Path == "" {
		return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "websocket", "Validate",
			"endpoint path cannot be empty")
	}
	return nil
}

// Deps holds runtime dependencies for the websocket output.
type Deps struct {
	Config          Config
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// clientInfo tracks one connected client.
type clientInfo struct {
	conn        *websocket.Conn
	connectedAt time.Time
	writeMu     sync.Mutex
	closeOnce   sync.Once
}

func (c *clientInfo) close() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}

// Output is a WebSocket server broadcasting channel vector updates.
type Output struct {
	config   Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	server    *http.Server
	clients   map[*websocket.Conn]*clientInfo
	clientsMu sync.RWMutex

	modelName string
	modelMu   sync.RWMutex

	shutdown    chan struct{}
	running     bool
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	metrics *Metrics
}

// New creates a websocket output.
func New(deps Deps) (*Output, error) {
	cfg := deps.Config
	if cfg.Port == 0 {
		cfg.Port = DefaultConfig().Port
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "websocket-output", "port", cfg.Port)
	}

	return &Output{
		config: cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			// The UI is served from a different origin on the local network.
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*websocket.Conn]*clientInfo),
		metrics: newMetrics(deps.MetricsRegistry),
	}, nil
}

// SetModelName records the active model name included in updates.
func (o *Output) SetModelName(name string) {
	o.modelMu.Lock()
	defer o.modelMu.Unlock()
	o.modelName = name
}

// Observe broadcasts a channel vector to all connected clients.
func (o *Output) Observe(values []float64) {
	o.Broadcast(values)
}

// ModelChanged updates the model name attached to future broadcasts.
func (o *Output) ModelChanged(m *model.Model) {
	if m == nil {
		o.SetModelName("")
		return
	}
	o.SetModelName(m.Name())
}

// Start launches the HTTP server. Idempotent while running.
func (o *Output) Start(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.running {
		return nil
	}

	o.shutdown = make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(o.config.Path, o.handleWebSocket)

	o.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", o.config.Port),
		Handler: mux,
	}

	o.running = true
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			o.logger.Error("websocket server failed", "error", err)
		}
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.maintainClients(ctx)
	}()

	o.logger.Info("websocket output listening",
		"port", o.config.Port, "path", o.config.Path)
	return nil
}

// Stop shuts down the server and closes all client connections.
func (o *Output) Stop(timeout time.Duration) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if !o.running {
		return nil
	}
	o.running = false
	close(o.shutdown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := o.server.Shutdown(shutdownCtx); err != nil {
		o.logger.Warn("websocket server shutdown", "error", err)
	}

	o.closeAllClients("server_shutdown")

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return pitxerrors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"websocket", "Stop", "graceful shutdown")
	}

	o.server = nil
	return nil
}

// Broadcast sends the channel vector to every connected client. It is the
// store observer callback.
func (o *Output) Broadcast(values []float64) {
	o.clientsMu.RLock()
	if len(o.clients) == 0 {
		o.clientsMu.RUnlock()
		return
	}
	clients := make([]*clientInfo, 0, len(o.clients))
	for _, c := range o.clients {
		clients = append(clients, c)
	}
	o.clientsMu.RUnlock()

	o.modelMu.RLock()
	model := o.modelName
	o.modelMu.RUnlock()

	data, err := json.Marshal(Update{
		Type:      "channels",
		Model:     model,
		Channels:  values,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		o.logger.Error("encode update", "error", err)
		return
	}

	var start time.Time
	if o.metrics != nil {
		start = time.Now()
	}

	for _, client := range clients {
		client.writeMu.Lock()
		_ = client.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.writeMu.Unlock()

		if err != nil {
			o.removeClient(client.conn, "write_error")
			continue
		}
		if o.metrics != nil {
			o.metrics.bytesSent.Add(float64(len(data)))
		}
	}

	if o.metrics != nil {
		o.metrics.updatesSent.Inc()
		o.metrics.broadcastDuration.Observe(time.Since(start).Seconds())
	}
}

// ClientCount returns the number of connected clients.
func (o *Output) ClientCount() int {
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	return len(o.clients)
}

func (o *Output) handleWebSocket(rw http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		o.logger.Debug("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	client := &clientInfo{conn: conn, connectedAt: time.Now()}

	o.clientsMu.Lock()
	o.clients[conn] = client
	count := len(o.clients)
	o.clientsMu.Unlock()

	if o.metrics != nil {
		o.metrics.connectionTotal.Inc()
		o.metrics.clientsConnected.Set(float64(count))
	}
	o.logger.Debug("client connected", "remote", r.RemoteAddr, "clients", count)

	// Reader goroutine: clients send nothing meaningful, but reading is
	// required to notice closes and process control frames.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				o.removeClient(conn, "client_closed")
				return
			}
		}
	}()
}

// maintainClients pings clients periodically so dead connections are
// detected even when no updates flow.
func (o *Output) maintainClients(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.shutdown:
			return
		case <-ticker.C:
			o.clientsMu.RLock()
			clients := make([]*clientInfo, 0, len(o.clients))
			for _, c := range o.clients {
				clients = append(clients, c)
			}
			o.clientsMu.RUnlock()

			for _, client := range clients {
				client.writeMu.Lock()
				_ = client.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
				err := client.conn.WriteMessage(websocket.PingMessage, nil)
				client.writeMu.Unlock()
				if err != nil {
					o.removeClient(client.conn, "ping_failed")
				}
			}
		}
	}
}

func (o *Output) removeClient(conn *websocket.Conn, reason string) {
	o.clientsMu.Lock()
	client, ok := o.clients[conn]
	if ok {
		delete(o.clients, conn)
	}
	count := len(o.clients)
	o.clientsMu.Unlock()

	if !ok {
		return
	}
	client.close()

	if o.metrics != nil {
		o.metrics.clientsConnected.Set(float64(count))
		o.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
	}
	o.logger.Debug("client disconnected", "reason", reason, "clients", count)
}

func (o *Output) closeAllClients(reason string) {
	o.clientsMu.Lock()
	clients := o.clients
	o.clients = make(map[*websocket.Conn]*clientInfo)
	o.clientsMu.Unlock()

	for _, client := range clients {
		client.close()
	}
	if o.metrics != nil {
		o.metrics.clientsConnected.Set(0)
		if len(clients) > 0 {
			o.metrics.disconnectionTotal.WithLabelValues(reason).Add(float64(len(clients)))
		}
	}
}
