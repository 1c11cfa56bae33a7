package recorder

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filimon-danopoulos/pi-tx/model"
)

func startRecorder(t *testing.T, cfg Config) *Recorder {
	t.Helper()

	rec, err := New(Deps{Config: cfg})
	require.NoError(t, err)
	require.NoError(t, rec.Start(context.Background()))
	t.Cleanup(func() { _ = rec.Stop(time.Second) })
	return rec
}

func logLines(t *testing.T, dir string) []record {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var records []record
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var rec record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		records = append(records, rec)
	}
	return records
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty directory", func(c *Config) { c.Directory = "" }},
		{"zero buffer", func(c *Config) { c.BufferSize = 0 }},
		{"negative flush interval", func(c *Config) { c.FlushInterval = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRecordsChannelUpdates(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Directory = dir

	rec := startRecorder(t, cfg)

	b := model.NewBuilder("trainer")
	require.NoError(t, b.AddChannels(model.NewBipolar(1, "/dev/input/event0", "0")))
	m, err := b.Build()
	require.NoError(t, err)

	rec.ModelChanged(m)
	rec.Observe([]float64{0.5, -1})
	rec.Observe([]float64{0.25, 0})
	require.NoError(t, rec.Stop(time.Second))

	records := logLines(t, dir)
	require.Len(t, records, 3)

	assert.Equal(t, "model", records[0].Event)
	assert.Equal(t, "trainer", records[0].Model)
	assert.NotEmpty(t, records[0].ModelID)

	assert.Equal(t, "channels", records[1].Event)
	assert.Equal(t, "trainer", records[1].Model)
	assert.Equal(t, []float64{0.5, -1}, records[1].Channels)
	assert.Equal(t, []float64{0.25, 0}, records[2].Channels)
	assert.NotZero(t, records[1].Timestamp)
}

func TestFlushesWhenBufferFills(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Directory = dir
	cfg.BufferSize = 2
	cfg.FlushInterval = time.Hour

	rec := startRecorder(t, cfg)

	rec.Observe([]float64{0})
	rec.Observe([]float64{1})

	require.Eventually(t, func() bool {
		return len(logLines(t, dir)) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestFlushesOnInterval(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Directory = dir
	cfg.FlushInterval = 20 * time.Millisecond

	rec := startRecorder(t, cfg)

	rec.Observe([]float64{0.75})

	require.Eventually(t, func() bool {
		return len(logLines(t, dir)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStopWithoutStart(t *testing.T) {
	rec, err := New(Deps{Config: DefaultConfig()})
	require.NoError(t, err)
	assert.NoError(t, rec.Stop(time.Second))
}

func TestStartIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Directory = dir

	rec := startRecorder(t, cfg)
	assert.NoError(t, rec.Start(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
