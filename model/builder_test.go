package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filimon-danopoulos/pi-tx/errors"
)

func TestBuilderDuplicateChannel(t *testing.T) {
	b := NewBuilder("dup")
	require.NoError(t, b.AddChannel(NewBipolar(1, "/dev/input/event3", "0")))

	err := b.AddChannel(NewUnipolar(1, "/dev/input/event3", "1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateChannel))
}

func TestBuilderRejectsNonPositiveID(t *testing.T) {
	b := NewBuilder("bad-id")
	assert.Error(t, b.AddChannel(NewBipolar(0, "/dev/input/event3", "0")))
	assert.Error(t, b.AddChannel(NewBipolar(-3, "/dev/input/event3", "0")))
}

func TestBuilderRxNumClamped(t *testing.T) {
	b := NewBuilder("rx")
	require.NoError(t, b.AddChannel(NewBipolar(1, "/dev/input/event3", "0")))

	m, err := b.SetRxNum(99).Build()
	require.NoError(t, err)
	assert.Equal(t, MaxRxNum, m.RxNum())

	m, err = b.SetRxNum(-4).Build()
	require.NoError(t, err)
	assert.Equal(t, MinRxNum, m.RxNum())
}

func TestBuildRejectsEmptyName(t *testing.T) {
	_, err := NewBuilder("").Build()
	require.Error(t, err)

	var ve *errors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, -1, ve.ProcessorIndex)
}

func TestBuildRejectsUnknownReference(t *testing.T) {
	b := NewBuilder("dangling")
	require.NoError(t, b.AddChannel(NewBipolar(1, "/dev/input/event3", "0")))
	b.AddProcessor(Reverse{Channels: map[int]bool{1: true}})
	b.AddProcessor(Endpoint{Endpoints: map[int]Range{7: {Min: -1, Max: 1}}})

	_, err := b.Build()
	require.Error(t, err)

	var ve *errors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 1, ve.ProcessorIndex, "offending processor index is identifiable")
	assert.Contains(t, ve.Reason, "channel 7")
}

func TestBuildRejectsReverseOnNonBipolar(t *testing.T) {
	b := NewBuilder("reverse-btn")
	require.NoError(t, b.AddChannels(
		NewBipolar(1, "/dev/input/event3", "0"),
		NewButton(2, "/dev/input/event3", "304"),
	))
	b.AddProcessor(Reverse{Channels: map[int]bool{2: true}})

	_, err := b.Build()
	require.Error(t, err)

	var ve *errors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 0, ve.ProcessorIndex)
	assert.Contains(t, ve.Reason, "non-bipolar")

	// A false flag on a non-bipolar channel is not an application and passes.
	b2 := NewBuilder("reverse-btn-false")
	require.NoError(t, b2.AddChannels(
		NewBipolar(1, "/dev/input/event3", "0"),
		NewButton(2, "/dev/input/event3", "304"),
	))
	b2.AddProcessor(Reverse{Channels: map[int]bool{1: true, 2: false}})
	_, err = b2.Build()
	assert.NoError(t, err)
}

func TestBuildRejectsInvertedEndpointRange(t *testing.T) {
	b := NewBuilder("inverted")
	require.NoError(t, b.AddChannel(NewBipolar(1, "/dev/input/event3", "0")))
	b.AddProcessor(Endpoint{Endpoints: map[int]Range{1: {Min: 0.5, Max: -0.5}}})

	_, err := b.Build()
	require.Error(t, err)

	var ve *errors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Reason, "inverted")
}

func TestBuildRejectsAggregateToBoundChannel(t *testing.T) {
	b := NewBuilder("agg-bound")
	require.NoError(t, b.AddChannels(
		NewBipolar(1, "/dev/input/event3", "0"),
		NewBipolar(2, "/dev/input/event3", "1"),
	))
	b.AddProcessor(Aggregate{Mixes: []AggregateMix{{
		Inputs: []AggregateInput{NewAggregateInput(1, 0.5)},
		Target: 2,
	}}})

	_, err := b.Build()
	require.Error(t, err)

	var ve *errors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Reason, "bound")
}

func TestBuildGeneratesStableModelID(t *testing.T) {
	b := NewBuilder("id")
	require.NoError(t, b.AddChannel(NewBipolar(1, "/dev/input/event3", "0")))

	m1, err := b.Build()
	require.NoError(t, err)
	assert.NotEmpty(t, m1.ModelID())

	// Rebuilding from the same builder keeps the generated identity.
	m2, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, m1.ModelID(), m2.ModelID())

	// And so does the from-model cycle.
	m3, err := NewBuilderFromModel(m1).Build()
	require.NoError(t, err)
	assert.Equal(t, m1.ModelID(), m3.ModelID())
}

func TestBuildDeterministic(t *testing.T) {
	build := func() *Model {
		b := NewBuilder("det")
		require.NoError(t, b.AddChannels(
			NewBipolar(1, "/dev/input/event3", "0"),
			NewBipolar(2, "/dev/input/event3", "1"),
			NewVirtual(3, KindUnipolar),
		))
		b.AddProcessor(Differential{Mixes: []DifferentialMix{{Left: 1, Right: 2}}})
		b.AddProcessor(Aggregate{Mixes: []AggregateMix{{
			Inputs: []AggregateInput{NewAggregateInput(1, 0.3), NewAggregateInput(2, 0.7)},
			Target: 3,
		}}})
		b.AddProcessor(Endpoint{Endpoints: map[int]Range{1: {Min: -0.9, Max: 0.9}}})
		m, err := b.Build()
		require.NoError(t, err)
		return m
	}

	m1, m2 := build(), build()
	values1 := map[int]float64{1: 0.5, 2: -0.25, 3: 0}
	values2 := map[int]float64{1: 0.5, 2: -0.25, 3: 0}
	m1.Evaluate(values1)
	m2.Evaluate(values2)
	assert.Equal(t, values1, values2)
}

func TestFromModelIndependence(t *testing.T) {
	b := NewBuilder("orig")
	require.NoError(t, b.AddChannels(
		NewBipolar(1, "/dev/input/event3", "0"),
		NewBipolar(2, "/dev/input/event3", "1"),
	))
	b.AddProcessor(Reverse{Channels: map[int]bool{1: true}})
	b.SetRxNum(3)
	b.SetBindTimestamp(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	orig, err := b.Build()
	require.NoError(t, err)

	// The copy evaluates identically for a shared input.
	derived := NewBuilderFromModel(orig)
	clone, err := derived.Build()
	require.NoError(t, err)

	vOrig := map[int]float64{1: 0.6, 2: -0.3}
	vClone := map[int]float64{1: 0.6, 2: -0.3}
	orig.Evaluate(vOrig)
	clone.Evaluate(vClone)
	assert.Equal(t, vOrig, vClone)
	assert.Equal(t, orig.RxNum(), clone.RxNum())
	assert.Equal(t, orig.BindTimestamp(), clone.BindTimestamp())

	// Mutating the derived builder never affects the original model.
	require.NoError(t, derived.AddChannel(NewVirtual(9, KindUnipolar)))
	derived.AddProcessor(Endpoint{Endpoints: map[int]Range{1: {Min: -0.1, Max: 0.1}}})
	modified, err := derived.Build()
	require.NoError(t, err)
	assert.Equal(t, 3, modified.NumChannels())

	assert.Equal(t, 2, orig.NumChannels())
	assert.Len(t, orig.Processors(), 1)

	vOrig = map[int]float64{1: 0.6, 2: -0.3}
	orig.Evaluate(vOrig)
	assert.InDelta(t, -0.6, vOrig[1], 1e-9, "original pipeline unchanged")
}

func TestModelAccessorsReturnCopies(t *testing.T) {
	b := NewBuilder("copies")
	require.NoError(t, b.AddChannel(NewBipolar(1, "/dev/input/event3", "0")))
	b.AddProcessor(Reverse{Channels: map[int]bool{1: true}})
	m, err := b.Build()
	require.NoError(t, err)

	procs := m.Processors()
	procs[0].(Reverse).Channels[1] = false

	values := map[int]float64{1: 0.5}
	m.Evaluate(values)
	assert.InDelta(t, -0.5, values[1], 1e-9, "caller mutation of accessor copy does not leak")

	channels := m.Channels()
	channels[0].ID = 42
	assert.True(t, m.HasChannel(1))
	assert.False(t, m.HasChannel(42))
}
