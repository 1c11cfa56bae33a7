package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pitxerrors "github.com/filimon-danopoulos/pi-tx/errors"
)

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient("")
	assert.Error(t, err)
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Nil(t, c.GetConnection())
}

func TestOptionsApply(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithName("test-tx"),
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithTimeout(time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, "test-tx", c.name)
	assert.Equal(t, 3, c.maxReconnects)
	assert.Equal(t, time.Second, c.reconnectWait)
}

func TestConnectHonorsContext(t *testing.T) {
	// Unroutable address; the attempt must end with the context, not hang.
	c, err := NewClient("nats://10.255.255.1:4222", WithTimeout(10*time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = c.Connect(ctx)
	assert.Error(t, err)
	assert.True(t, pitxerrors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestPublishWithoutConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = c.Publish("telemetry.channels", []byte("{}"))
	assert.ErrorIs(t, err, pitxerrors.ErrNoConnection)
}

func TestCloseWithoutConnect(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.NoError(t, c.Close(context.Background()))
	assert.Equal(t, StatusClosed, c.Status())

	err = c.Connect(context.Background())
	assert.Error(t, err, "closed client cannot reconnect")
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "closed", StatusClosed.String())
}
