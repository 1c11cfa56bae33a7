package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filimon-danopoulos/pi-tx/metric"
	"github.com/filimon-danopoulos/pi-tx/model"
)

type recordingAttachment struct {
	mu      sync.Mutex
	models  []string
	vectors [][]float64
}

func (a *recordingAttachment) Observe(values []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vectors = append(a.vectors, values)
}

func (a *recordingAttachment) ModelChanged(m *model.Model) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.models = append(a.models, m.Name())
}

func buildModel(t *testing.T, name string) *model.Model {
	t.Helper()
	b := model.NewBuilder(name)
	require.NoError(t, b.AddChannels(
		model.NewBipolar(1, "/dev/input/event3", "0"),
		model.NewBipolar(2, "/dev/input/event3", "1"),
	))
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func TestActivateRequiresModel(t *testing.T) {
	s := New(Deps{})
	assert.Error(t, s.Activate(nil))
}

func TestEmptySessionBehavior(t *testing.T) {
	s := New(Deps{})

	assert.Nil(t, s.Model())
	assert.Nil(t, s.Store())
	assert.Nil(t, s.Snapshot())
	assert.Error(t, s.Ingest(1, 0.5), "samples before activation are rejected")
}

func TestActivateWiresAttachments(t *testing.T) {
	s := New(Deps{})
	att := &recordingAttachment{}
	s.Attach(att)

	require.NoError(t, s.Activate(buildModel(t, "crawler")))
	assert.Equal(t, []string{"crawler"}, att.models)

	require.NoError(t, s.Ingest(1, 0.5))
	require.Len(t, att.vectors, 1)
	assert.Equal(t, []float64{0.5, 0}, att.vectors[0])
}

func TestAttachAfterActivate(t *testing.T) {
	s := New(Deps{})
	require.NoError(t, s.Activate(buildModel(t, "crawler")))

	att := &recordingAttachment{}
	s.Attach(att)
	assert.Equal(t, []string{"crawler"}, att.models, "late attachment learns the model")

	require.NoError(t, s.Ingest(2, -1))
	require.Len(t, att.vectors, 1)
}

func TestSwitchReplacesState(t *testing.T) {
	s := New(Deps{})
	att := &recordingAttachment{}
	s.Attach(att)

	require.NoError(t, s.Activate(buildModel(t, "crawler")))
	require.NoError(t, s.Ingest(1, 0.7))
	firstStore := s.Store()

	require.NoError(t, s.Activate(buildModel(t, "boat")))
	assert.Equal(t, []string{"crawler", "boat"}, att.models)
	assert.NotSame(t, firstStore, s.Store())

	// No value migration: the new store starts from defaults.
	assert.Equal(t, []float64{0, 0}, s.Snapshot())

	// The old store's subscription is gone: ingesting into the new store
	// produces exactly one more notification.
	before := len(att.vectors)
	require.NoError(t, s.Ingest(1, 0.3))
	assert.Len(t, att.vectors, before+1)
}

func TestSwitchWithMetricsRegistry(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s := New(Deps{MetricsRegistry: registry})

	require.NoError(t, s.Activate(buildModel(t, "crawler")))
	require.NoError(t, s.Activate(buildModel(t, "boat")))
	// Second activation re-registers store metrics; reaching here without
	// a duplicate registration failure is the assertion.
	require.NoError(t, s.Ingest(1, 0.5))
}

func TestSnapshotTracksActiveStore(t *testing.T) {
	s := New(Deps{})
	require.NoError(t, s.Activate(buildModel(t, "crawler")))

	require.NoError(t, s.Ingest(1, 1))
	require.NoError(t, s.Ingest(2, -0.5))
	assert.Equal(t, []float64{1, -0.5}, s.Snapshot())
}
