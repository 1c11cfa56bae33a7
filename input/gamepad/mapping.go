// Package gamepad holds the device mapping layer: it describes which raw
// evdev controls exist on each input device and how their values normalize
// into logical channel ranges. Mappings load from a JSON file so a new
// transmitter box is a config change, not a rebuild.
package gamepad

import (
	"encoding/json"
	"fmt"
	"os"

	pitxerrors "github.com/filimon-danopoulos/pi-tx/errors"
)

// Linux input event types carried on the wire by capture devices.
const (
	EventKey = 1 // button and key events
	EventAbs = 3 // absolute axis events
)

// Default hardware range for a 14-bit stick axis. Applied when a mapping
// entry leaves min and max unset.
const (
	DefaultAxisMax = 16383
	DefaultFuzz    = 63
	DefaultFlat    = 1023
)

// ControlKind classifies how a raw control normalizes.
type ControlKind string

const (
	KindBipolar  ControlKind = "bipolar"  // axis, -1..1
	KindUnipolar ControlKind = "unipolar" // axis, 0..1
	KindButton   ControlKind = "button"   // key, 0 or 1
)

// Control describes a single raw control on a device.
type Control struct {
	Code      int         `json:"code"`
	EventType int         `json:"type"`
	Name      string      `json:"name"`
	Kind      ControlKind `json:"kind"`
	Min       int         `json:"min"`
	Max       int         `json:"max"`
	Fuzz      int         `json:"fuzz"`
	Flat      int         `json:"flat"`
}

// Normalize converts a raw hardware value into the control's logical range.
// Axis values are clamped to [Min, Max], scaled to 0..1 and snapped to
// center when inside the flat region, then shifted to -1..1 for bipolar
// controls. Buttons collapse to 0 or 1.
func (c *Control) Normalize(raw int) float64 {
	if c.Kind == KindButton {
		if raw != 0 {
			return 1
		}
		return 0
	}

	value := raw
	if value < c.Min {
		value = c.Min
	}
	if value > c.Max {
		value = c.Max
	}

	rangeSize := c.Max - c.Min
	if rangeSize == 0 {
		return 0
	}
	normalized := float64(value-c.Min) / float64(rangeSize)

	// Flat region snaps to center so a resting stick reads exactly zero.
	deadzone := float64(c.Flat) / float64(rangeSize)
	if normalized > 0.5-deadzone && normalized < 0.5+deadzone {
		normalized = 0.5
	}

	if c.Kind == KindBipolar {
		return normalized*2.0 - 1.0
	}
	return normalized
}

// DeviceMapping is the full control table for one physical device.
type DeviceMapping struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Controls []Control `json:"controls"`

	byKey map[controlKey]*Control
}

type controlKey struct {
	eventType int
	code      int
}

// Control looks up the control bound to an (event type, code) pair.
func (d *DeviceMapping) Control(eventType, code int) (*Control, bool) {
	c, ok := d.byKey[controlKey{eventType: eventType, code: code}]
	return c, ok
}

func (d *DeviceMapping) index() {
	d.byKey = make(map[controlKey]*Control, len(d.Controls))
	for i := range d.Controls {
		c := &d.Controls[i]
		d.byKey[controlKey{eventType: c.EventType, code: c.Code}] = c
	}
}

// MappingSet maps device paths to their control tables.
type MappingSet map[string]*DeviceMapping

// Device returns the mapping for a device path.
func (s MappingSet) Device(path string) (*DeviceMapping, bool) {
	d, ok := s[path]
	return d, ok
}

type mappingFile struct {
	Devices []*DeviceMapping `json:"devices"`
}

// Load reads a mapping file from disk and validates it.
func Load(path string) (MappingSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pitxerrors.Wrap(err, "gamepad", "Load", "read mapping file")
	}
	return Parse(data)
}

// Parse decodes and validates mapping JSON.
func Parse(data []byte) (MappingSet, error) {
	var file mappingFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, pitxerrors.WrapInvalid(err, "gamepad", "Parse", "decode mapping file")
	}

	set := make(MappingSet, len(file.Devices))
	for _, dev := range file.Devices {
		if dev.Path == "" {
			return nil, pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig,
				"gamepad", "Parse", "device entry missing path")
		}
		if _, exists := set[dev.Path]; exists {
			return nil, pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig,
				"gamepad", "Parse", fmt.Sprintf("duplicate device path %q", dev.Path))
		}
		for i := range dev.Controls {
			c := &dev.Controls[i]
			if err := applyDefaults(c); err != nil {
				return nil, pitxerrors.WrapInvalid(err, "gamepad", "Parse",
					fmt.Sprintf("device %q control %d", dev.Path, c.Code))
			}
		}
		dev.index()
		set[dev.Path] = dev
	}
	return set, nil
}

func applyDefaults(c *Control) error {
	switch c.Kind {
	case KindButton:
		if c.EventType == 0 {
			c.EventType = EventKey
		}
		return nil
	case KindBipolar, KindUnipolar:
		if c.EventType == 0 {
			c.EventType = EventAbs
		}
		if c.Min == 0 && c.Max == 0 {
			c.Max = DefaultAxisMax
			if c.Fuzz == 0 {
				c.Fuzz = DefaultFuzz
			}
			if c.Flat == 0 {
				c.Flat = DefaultFlat
			}
		}
		if c.Max <= c.Min {
			return fmt.Errorf("axis range [%d, %d] is empty", c.Min, c.Max)
		}
		return nil
	default:
		return fmt.Errorf("unknown control kind %q", c.Kind)
	}
}
