package natsclient

import (
	"log/slog"
	"time"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithName sets the connection name reported to the server.
func WithName(name string) ClientOption {
	return func(c *Client) { c.name = name }
}

// WithMaxReconnects limits reconnect attempts. Negative means unlimited.
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) { c.maxReconnects = max }
}

// WithReconnectWait sets the delay between reconnect attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) { c.reconnectWait = d }
}

// WithTimeout sets the initial connection timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}
