// Package input defines the capture boundary of pi-tx: normalized samples
// keyed by channel id, the sink they are delivered to, and the controller
// lifecycle shared by all capture implementations.
//
// Everything upstream of the Sink is collaborator territory: device
// discovery, raw event decoding and axis normalization happen here or on a
// companion device, never in the store.
package input

import (
	"context"
	"time"
)

// Sample is one normalized input reading. Value is already scaled into the
// channel's declared logical range. Delivery order per channel id follows
// capture order; cross-channel interleaving is unordered.
type Sample struct {
	ChannelID int       `json:"ch"`
	Value     float64   `json:"v"`
	Timestamp time.Time `json:"ts"`
}

// Sink consumes normalized samples. The channel store and the session both
// satisfy this.
type Sink interface {
	Ingest(channelID int, value float64) error
}

// Controller is the lifecycle contract for a capture source.
type Controller interface {
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}
