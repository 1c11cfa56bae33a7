package udp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filimon-danopoulos/pi-tx/input/gamepad"
)

// recordingSink collects ingested samples for assertions.
type recordingSink struct {
	mu      sync.Mutex
	samples []struct {
		ch int
		v  float64
	}
}

func (s *recordingSink) Ingest(channelID int, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, struct {
		ch int
		v  float64
	}{channelID, value})
	return nil
}

func (s *recordingSink) snapshot() []struct {
	ch int
	v  float64
} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]struct {
		ch int
		v  float64
	}, len(s.samples))
	copy(out, s.samples)
	return out
}

func testMappings(t *testing.T) gamepad.MappingSet {
	t.Helper()
	set, err := gamepad.Parse([]byte(`{
		"devices": [
			{"path": "/dev/input/event3",
			 "controls": [
				{"code": 1, "name": "stick_y", "kind": "bipolar"},
				{"code": 288, "name": "trigger", "kind": "button"}
			]}
		]
	}`))
	require.NoError(t, err)
	return set
}

func startController(t *testing.T, sink *recordingSink) (*Controller, *net.UDPConn) {
	t.Helper()

	ctrl, err := New(Deps{
		Config:   Config{Bind: "127.0.0.1", Port: 0},
		Mappings: testMappings(t),
		Sink:     sink,
	})
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(func() { _ = ctrl.Stop(2 * time.Second) })

	addr := ctrl.Addr()
	require.NotNil(t, addr)

	conn, err := net.DialUDP("udp", nil, addr.(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return ctrl, conn
}

func waitForSamples(t *testing.T, sink *recordingSink, n int) []struct {
	ch int
	v  float64
} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got := sink.snapshot()
		if len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d samples, got %d", n, len(sink.snapshot()))
	return nil
}

func TestNewRequiresSink(t *testing.T) {
	_, err := New(Deps{Config: DefaultConfig()})
	assert.Error(t, err)
}

func TestNewRejectsBadPort(t *testing.T) {
	sink := &recordingSink{}
	_, err := New(Deps{Config: Config{Port: 70000}, Sink: sink})
	assert.Error(t, err)
}

func TestDirectSampleDelivery(t *testing.T) {
	sink := &recordingSink{}
	_, conn := startController(t, sink)

	_, err := conn.Write([]byte(`{"ch": 2, "v": 0.5}`))
	require.NoError(t, err)

	got := waitForSamples(t, sink, 1)
	assert.Equal(t, 2, got[0].ch)
	assert.InDelta(t, 0.5, got[0].v, 0.001)
}

func TestRawEventNormalizedThroughMapping(t *testing.T) {
	sink := &recordingSink{}
	_, conn := startController(t, sink)

	// Full deflection on a default-range bipolar axis reads 1.0.
	_, err := conn.Write([]byte(
		`{"device": "/dev/input/event3", "type": 3, "code": 1, "value": 16383, "ch": 1}`))
	require.NoError(t, err)

	got := waitForSamples(t, sink, 1)
	assert.Equal(t, 1, got[0].ch)
	assert.InDelta(t, 1.0, got[0].v, 0.001)
}

func TestUnmappedEventsAreDropped(t *testing.T) {
	sink := &recordingSink{}
	_, conn := startController(t, sink)

	writes := [][]byte{
		[]byte(`{"device": "/dev/input/event9", "type": 3, "code": 1, "value": 100, "ch": 1}`),
		[]byte(`{"device": "/dev/input/event3", "type": 3, "code": 99, "value": 100, "ch": 1}`),
		[]byte(`not json at all`),
		[]byte(`{"ch": 4, "v": 1.0}`),
	}
	for _, w := range writes {
		_, err := conn.Write(w)
		require.NoError(t, err)
	}

	// Only the final well-formed direct sample arrives.
	got := waitForSamples(t, sink, 1)
	assert.Equal(t, 4, got[0].ch)
	assert.Len(t, got, 1)
}

func TestStartIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := startController(t, sink)

	assert.NoError(t, ctrl.Start(context.Background()))
}

func TestStopWithoutStart(t *testing.T) {
	ctrl, err := New(Deps{Config: DefaultConfig(), Sink: &recordingSink{}})
	require.NoError(t, err)
	assert.NoError(t, ctrl.Stop(time.Second))
}

func TestStopUnblocksReadLoop(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := startController(t, sink)

	done := make(chan error, 1)
	go func() { done <- ctrl.Stop(2 * time.Second) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}
