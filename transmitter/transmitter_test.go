package transmitter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	values []float64
}

func (s *staticSource) Snapshot() []float64 {
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}

func startTransmitter(t *testing.T, deps Deps) *Transmitter {
	t.Helper()
	tx, err := New(deps)
	require.NoError(t, err)
	require.NoError(t, tx.Start(context.Background()))
	t.Cleanup(func() { _ = tx.Stop(2 * time.Second) })
	return tx
}

func waitForFrames(t *testing.T, port *DebugPort, n int) []CapturedFrame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		frames := port.Frames()
		if len(frames) >= n {
			return frames
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames, got %d", n, len(port.Frames()))
	return nil
}

func TestNewRequiresPort(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Deps{Port: NewDebugPort(10), Config: Config{ChannelCount: 40}})
	assert.Error(t, err)
}

func TestStreamsSourceValues(t *testing.T) {
	port := NewDebugPort(10)
	require.NoError(t, port.Open())

	source := &staticSource{values: []float64{0, 1, -1, 0.5}}
	startTransmitter(t, Deps{
		Config: Config{ChannelCount: 6, FrameRate: 200},
		Port:   port,
		Source: source,
	})

	frames := waitForFrames(t, port, 2)
	last := frames[len(frames)-1]
	require.NoError(t, last.ParseErr)

	require.Len(t, last.Parsed.Channels, 6)
	assert.Equal(t, uint16(1023), last.Parsed.Channels[0])
	assert.Equal(t, uint16(2047), last.Parsed.Channels[1])
	assert.Equal(t, uint16(0), last.Parsed.Channels[2])
	assert.Equal(t, uint16(1535), last.Parsed.Channels[3])
	// Channels beyond the source vector stay neutral.
	assert.Equal(t, uint16(ChannelNeutral), last.Parsed.Channels[4])
	assert.Equal(t, uint16(ChannelNeutral), last.Parsed.Channels[5])
}

func TestSettingsReachTheAir(t *testing.T) {
	port := NewDebugPort(10)
	require.NoError(t, port.Open())

	tx := startTransmitter(t, Deps{
		Config: Config{FrameRate: 200},
		Port:   port,
	})

	tx.SetBind(true)
	tx.SetRxNum(9)
	tx.SetOption(-5)
	// Wait long enough that a frame built after the setters went out.
	time.Sleep(50 * time.Millisecond)

	frames := waitForFrames(t, port, 1)
	last := frames[len(frames)-1]
	require.NoError(t, last.ParseErr)
	assert.True(t, last.Parsed.Bind)
	assert.Equal(t, byte(9), last.Parsed.RxNum)
	assert.Equal(t, -5, last.Parsed.Option)

	tx.SetBind(false)
	time.Sleep(50 * time.Millisecond)
	last, ok := port.Latest()
	require.True(t, ok)
	assert.False(t, last.Parsed.Bind)
}

func TestRxNumAndOptionClamp(t *testing.T) {
	port := NewDebugPort(10)
	require.NoError(t, port.Open())
	tx, err := New(Deps{Port: port})
	require.NoError(t, err)

	tx.SetRxNum(99)
	tx.SetOption(-99)
	assert.Equal(t, byte(15), tx.settings.RxNum)
	assert.Equal(t, OptionMin, tx.settings.Option)
}

func TestStartStopLifecycle(t *testing.T) {
	port := NewDebugPort(10)
	require.NoError(t, port.Open())

	tx := startTransmitter(t, Deps{Config: Config{FrameRate: 200}, Port: port})
	assert.NoError(t, tx.Start(context.Background()), "second start is a no-op")

	waitForFrames(t, port, 1)
	require.NoError(t, tx.Stop(2*time.Second))
	assert.NoError(t, tx.Stop(time.Second), "second stop is a no-op")

	sent := tx.FramesSent()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, sent, tx.FramesSent(), "no frames after stop")
}

func TestKeepsStreamingThroughSendErrors(t *testing.T) {
	port := NewDebugPort(10)
	// Port intentionally not opened: every send fails.

	tx := startTransmitter(t, Deps{Config: Config{FrameRate: 200}, Port: port})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), tx.FramesSent())

	// Opening the port mid-run recovers without a restart.
	require.NoError(t, port.Open())
	waitForFrames(t, port, 1)
	assert.Greater(t, tx.FramesSent(), int64(0))
}

func TestModelIDMetadata(t *testing.T) {
	tx, err := New(Deps{Port: NewDebugPort(10)})
	require.NoError(t, err)
	assert.Empty(t, tx.ModelID())
	tx.SetModelID("4f2c")
	assert.Equal(t, "4f2c", tx.ModelID())
}
