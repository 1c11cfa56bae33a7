package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelKindString(t *testing.T) {
	tests := []struct {
		kind ChannelKind
		want string
	}{
		{KindBipolar, "bipolar"},
		{KindUnipolar, "unipolar"},
		{KindButton, "button"},
		{KindLatchingButton, "latching-button"},
		{KindVirtual, "virtual"},
		{ChannelKind(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestChannelBound(t *testing.T) {
	assert.True(t, NewBipolar(1, "/dev/input/event3", "0").Bound())
	assert.False(t, NewVirtual(2, KindUnipolar).Bound())

	// A physical kind without a device path is not bound either; it can be a
	// legal aggregate target.
	unbound := Channel{ID: 3, Kind: KindUnipolar}
	assert.False(t, unbound.Bound())
}

func TestChannelLogicalKind(t *testing.T) {
	assert.Equal(t, KindBipolar, NewBipolar(1, "/dev/input/event3", "0").LogicalKind())
	assert.Equal(t, KindButton, NewButton(2, "/dev/input/event3", "304").LogicalKind())

	v := NewVirtual(3, KindBipolar)
	assert.Equal(t, KindBipolar, v.LogicalKind())
	assert.True(t, v.Bipolar())
}

func TestChannelDefaultValue(t *testing.T) {
	for _, c := range []Channel{
		NewBipolar(1, "/dev/input/event3", "0"),
		NewUnipolar(2, "/dev/input/event3", "1"),
		NewButton(3, "/dev/input/event3", "304"),
		NewLatchingButton(4, "/dev/input/event3", "305"),
		NewVirtual(5, KindUnipolar),
	} {
		assert.Zero(t, c.DefaultValue())
	}
}
