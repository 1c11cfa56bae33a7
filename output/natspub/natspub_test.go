package natspub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filimon-danopoulos/pi-tx/natsclient"
)

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestNewDefaultsSubject(t *testing.T) {
	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	p, err := New(Deps{Client: client})
	require.NoError(t, err)
	assert.Equal(t, DefaultSubject, p.subject)
}

func TestPublishWithoutConnectionDoesNotPanic(t *testing.T) {
	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	p, err := New(Deps{Client: client, Subject: "test.channels"})
	require.NoError(t, err)

	p.SetModel("crawler", "4f2c")
	// No connection established; the observer callback must swallow the
	// failure rather than disturb the store's notification loop.
	p.Publish([]float64{0.5, -1})
}
