package model

// ChannelKind is the closed set of channel type tags.
type ChannelKind int

const (
	// KindBipolar is a channel with logical range [-1.0, 1.0], typically a
	// stick axis.
	KindBipolar ChannelKind = iota
	// KindUnipolar is a channel with logical range [0.0, 1.0], typically a
	// throttle or slider.
	KindUnipolar
	// KindButton is a momentary button: 1.0 while pressed, 0.0 otherwise.
	KindButton
	// KindLatchingButton toggles between 0.0 and 1.0 on each rising edge of
	// the raw signal instead of mirroring it.
	KindLatchingButton
	// KindVirtual is a channel with no physical source; its value is written
	// only by processors (typically an Aggregate target).
	KindVirtual
)

// String returns the string representation of the channel kind
func (k ChannelKind) String() string {
	switch k {
	case KindBipolar:
		return "bipolar"
	case KindUnipolar:
		return "unipolar"
	case KindButton:
		return "button"
	case KindLatchingButton:
		return "latching-button"
	case KindVirtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// Channel describes one output slot: its identity, its logical value range
// and its binding to a physical control. Channels carry no behavior beyond
// classification; value handling lives in the store and the processors.
type Channel struct {
	// ID is the channel number, positive and unique within a Model.
	ID int
	// Kind classifies how raw samples for this channel are interpreted.
	Kind ChannelKind
	// DevicePath is the input device this channel is bound to. Empty for
	// virtual channels.
	DevicePath string
	// ControlCode identifies the specific control on the device.
	ControlCode string
	// DeviceName and ControlName are human-readable labels for the UI.
	DeviceName  string
	ControlName string
	// VirtualKind is the declared logical kind of a virtual channel
	// (bipolar, unipolar or button). Ignored for physical channels.
	VirtualKind ChannelKind
}

// NewBipolar creates a bipolar channel bound to a physical control.
func NewBipolar(id int, devicePath, controlCode string) Channel {
	return Channel{ID: id, Kind: KindBipolar, DevicePath: devicePath, ControlCode: controlCode}
}

// NewUnipolar creates a unipolar channel bound to a physical control.
func NewUnipolar(id int, devicePath, controlCode string) Channel {
	return Channel{ID: id, Kind: KindUnipolar, DevicePath: devicePath, ControlCode: controlCode}
}

// NewButton creates a momentary button channel bound to a physical control.
func NewButton(id int, devicePath, controlCode string) Channel {
	return Channel{ID: id, Kind: KindButton, DevicePath: devicePath, ControlCode: controlCode}
}

// NewLatchingButton creates a latching button channel bound to a physical control.
func NewLatchingButton(id int, devicePath, controlCode string) Channel {
	return Channel{ID: id, Kind: KindLatchingButton, DevicePath: devicePath, ControlCode: controlCode}
}

// NewVirtual creates a virtual channel with the given declared logical kind.
// Virtual channels are never bound to a device; their values are written by
// processors.
func NewVirtual(id int, logical ChannelKind) Channel {
	return Channel{ID: id, Kind: KindVirtual, ControlCode: "virtual", VirtualKind: logical}
}

// Bound reports whether the channel is bound to a physical input source.
func (c Channel) Bound() bool {
	return c.Kind != KindVirtual && c.DevicePath != ""
}

// LogicalKind resolves the channel's logical value range: for virtual
// channels this is the declared VirtualKind, for all others the Kind itself.
func (c Channel) LogicalKind() ChannelKind {
	if c.Kind == KindVirtual {
		return c.VirtualKind
	}
	return c.Kind
}

// Bipolar reports whether the channel's logical range is symmetric about zero.
func (c Channel) Bipolar() bool {
	return c.LogicalKind() == KindBipolar
}

// DefaultValue returns the initial value for the channel. Every kind defaults
// to neutral 0.0.
func (c Channel) DefaultValue() float64 {
	return 0.0
}
