// Package natsclient wraps the NATS connection used to publish telemetry
// off the transmitter. It adds slog logging, reconnect handling and a
// status the rest of the system can poll, without leaking nats.go types
// into callers beyond the raw connection.
package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	pitxerrors "github.com/filimon-danopoulos/pi-tx/errors"
)

// ConnectionStatus tracks the client connection state.
type ConnectionStatus int32

const (
	// StatusDisconnected means no connection is established.
	StatusDisconnected ConnectionStatus = iota
	// StatusConnecting means a connection attempt is in flight.
	StatusConnecting
	// StatusConnected means the connection is healthy.
	StatusConnected
	// StatusClosed means Close was called; the client is done.
	StatusClosed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client manages one NATS connection with automatic reconnects.
type Client struct {
	url    string
	logger *slog.Logger

	name          string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration

	mu     sync.RWMutex
	conn   *nats.Conn
	status ConnectionStatus
}

// NewClient creates a client for the given server URL. Connect must be
// called before publishing.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, pitxerrors.WrapInvalid(fmt.Errorf("empty server URL"),
			"natsclient", "NewClient", "url validation")
	}

	c := &Client{
		url:           url,
		name:          "pi-tx",
		maxReconnects: -1, // keep trying, the link matters more than giving up
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "natsclient")
	}
	return c, nil
}

// URL returns the configured server URL.
func (c *Client) URL() string { return c.url }

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsHealthy reports whether the connection is up.
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status == StatusConnected && c.conn != nil && c.conn.IsConnected()
}

// GetConnection exposes the underlying connection, nil until Connect.
func (c *Client) GetConnection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

// Connect establishes the connection, honoring ctx for cancellation.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusClosed {
		return pitxerrors.WrapInvalid(fmt.Errorf("client is closed"),
			"natsclient", "Connect", "status check")
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("connecting to NATS", "url", c.url)

	opts := []nats.Option{
		nats.Name(c.name),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setStatus(StatusDisconnected)
			c.logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.setStatus(StatusConnected)
			c.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.logger.Error("NATS async error", "error", err)
		}),
	}

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			c.setStatus(StatusDisconnected)
			return pitxerrors.WrapTransient(err, "natsclient", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.setStatus(StatusDisconnected)
		return pitxerrors.WrapTransient(ctx.Err(), "natsclient", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.logger.Info("connected to NATS", "url", c.url)
	return nil
}

// Close drains and closes the connection.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.status = StatusClosed
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	drained := make(chan error, 1)
	go func() { drained <- conn.Drain() }()

	select {
	case err := <-drained:
		if err != nil {
			conn.Close()
			return pitxerrors.Wrap(err, "natsclient", "Close", "drain connection")
		}
	case <-ctx.Done():
		conn.Close()
		return pitxerrors.WrapTransient(ctx.Err(), "natsclient", "Close", "drain cancelled")
	}
	return nil
}

// Publish sends data on a subject.
func (c *Client) Publish(subject string, data []byte) error {
	conn := c.GetConnection()
	if conn == nil {
		return pitxerrors.WrapTransient(pitxerrors.ErrNoConnection,
			"natsclient", "Publish", "connection check")
	}
	if err := conn.Publish(subject, data); err != nil {
		return pitxerrors.WrapTransient(err, "natsclient", "Publish",
			fmt.Sprintf("publish to %s", subject))
	}
	return nil
}

// Subscribe delivers messages on a subject to the handler until ctx ends.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func([]byte)) error {
	conn := c.GetConnection()
	if conn == nil {
		return pitxerrors.WrapTransient(pitxerrors.ErrNoConnection,
			"natsclient", "Subscribe", "connection check")
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return pitxerrors.Wrap(err, "natsclient", "Subscribe",
			fmt.Sprintf("subscribe to %s", subject))
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}
