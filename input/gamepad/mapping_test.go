package gamepad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBipolarAxis(t *testing.T) {
	c := &Control{Kind: KindBipolar, Min: 0, Max: 16383, Flat: 1023}

	assert.InDelta(t, -1.0, c.Normalize(0), 0.001)
	assert.InDelta(t, 1.0, c.Normalize(16383), 0.001)
	assert.InDelta(t, 0.0, c.Normalize(8191), 0.001, "center reads zero")
}

func TestNormalizeClampsOutOfRange(t *testing.T) {
	c := &Control{Kind: KindBipolar, Min: 0, Max: 16383}

	assert.InDelta(t, -1.0, c.Normalize(-500), 0.001)
	assert.InDelta(t, 1.0, c.Normalize(99999), 0.001)
}

func TestNormalizeFlatRegionSnapsToCenter(t *testing.T) {
	c := &Control{Kind: KindBipolar, Min: 0, Max: 16383, Flat: 1023}

	// Anything within the flat band around center reads exactly zero.
	assert.Equal(t, 0.0, c.Normalize(8191))
	assert.Equal(t, 0.0, c.Normalize(8191+900))
	assert.Equal(t, 0.0, c.Normalize(8191-900))

	// Just outside the band the value comes back.
	assert.NotEqual(t, 0.0, c.Normalize(8191+1100))
}

func TestNormalizeUnipolarAxis(t *testing.T) {
	c := &Control{Kind: KindUnipolar, Min: 0, Max: 16383}

	assert.InDelta(t, 0.0, c.Normalize(0), 0.001)
	assert.InDelta(t, 1.0, c.Normalize(16383), 0.001)
	assert.InDelta(t, 0.25, c.Normalize(4096), 0.01)
}

func TestNormalizeButton(t *testing.T) {
	c := &Control{Kind: KindButton}

	assert.Equal(t, 1.0, c.Normalize(1))
	assert.Equal(t, 1.0, c.Normalize(2), "key repeat still reads pressed")
	assert.Equal(t, 0.0, c.Normalize(0))
}

func TestNormalizeEmptyRange(t *testing.T) {
	c := &Control{Kind: KindBipolar, Min: 100, Max: 100}
	assert.Equal(t, 0.0, c.Normalize(100))
}

func TestParseAppliesAxisDefaults(t *testing.T) {
	set, err := Parse([]byte(`{
		"devices": [
			{
				"path": "/dev/input/event3",
				"name": "left-stick",
				"controls": [
					{"code": 1, "name": "stick_y", "kind": "bipolar"},
					{"code": 288, "name": "trigger", "kind": "button"}
				]
			}
		]
	}`))
	require.NoError(t, err)

	dev, ok := set.Device("/dev/input/event3")
	require.True(t, ok)

	axis, ok := dev.Control(EventAbs, 1)
	require.True(t, ok)
	assert.Equal(t, DefaultAxisMax, axis.Max)
	assert.Equal(t, DefaultFlat, axis.Flat)
	assert.Equal(t, DefaultFuzz, axis.Fuzz)

	btn, ok := dev.Control(EventKey, 288)
	require.True(t, ok)
	assert.Equal(t, KindButton, btn.Kind)
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"missing path", `{"devices": [{"name": "x"}]}`},
		{"duplicate path", `{"devices": [
			{"path": "/dev/input/event3"},
			{"path": "/dev/input/event3"}
		]}`},
		{"unknown kind", `{"devices": [{"path": "/dev/input/event3",
			"controls": [{"code": 1, "kind": "rotary"}]}]}`},
		{"empty axis range", `{"devices": [{"path": "/dev/input/event3",
			"controls": [{"code": 1, "kind": "bipolar", "min": 10, "max": 5}]}]}`},
		{"not json", `{devices}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.json))
			assert.Error(t, err)
		})
	}
}

func TestControlLookupMisses(t *testing.T) {
	set, err := Parse([]byte(`{
		"devices": [
			{"path": "/dev/input/event3",
			 "controls": [{"code": 1, "kind": "bipolar"}]}
		]
	}`))
	require.NoError(t, err)

	_, ok := set.Device("/dev/input/event9")
	assert.False(t, ok)

	dev, _ := set.Device("/dev/input/event3")
	_, ok = dev.Control(EventKey, 1)
	assert.False(t, ok, "axis registered under ABS, not KEY")
}
