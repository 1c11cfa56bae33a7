package model

import "time"

// Receiver number bounds for the MULTI-serial protocol (model slot 0..15).
const (
	MinRxNum = 0
	MaxRxNum = 15
)

// Model is an immutable, named bundle of channels and a processor pipeline.
// Channels keep their declaration order, processors their evaluation order.
// Models are produced exclusively by ModelBuilder; modifying one means
// seeding a new builder from it and building again.
type Model struct {
	name          string
	channels      []Channel
	processors    []Processor
	modelID       string
	rxNum         int
	bindTimestamp time.Time
}

// Name returns the model name, which is also its persistence key.
func (m *Model) Name() string { return m.name }

// ModelID returns the opaque stable identity, generated once at first build
// and preserved across rebuilds.
func (m *Model) ModelID() string { return m.modelID }

// RxNum returns the receiver number, always within [MinRxNum, MaxRxNum].
func (m *Model) RxNum() int { return m.rxNum }

// BindTimestamp returns when the model was last bound to a receiver. The
// zero time means never bound.
func (m *Model) BindTimestamp() time.Time { return m.bindTimestamp }

// Channels returns the channels in declaration order.
func (m *Model) Channels() []Channel {
	out := make([]Channel, len(m.channels))
	copy(out, m.channels)
	return out
}

// Processors returns the pipeline in evaluation order.
func (m *Model) Processors() []Processor {
	out := make([]Processor, len(m.processors))
	for i, p := range m.processors {
		out[i] = copyProcessor(p)
	}
	return out
}

// Channel looks up a channel by id.
func (m *Model) Channel(id int) (Channel, bool) {
	for _, c := range m.channels {
		if c.ID == id {
			return c, true
		}
	}
	return Channel{}, false
}

// HasChannel reports whether the model defines the given channel id.
func (m *Model) HasChannel(id int) bool {
	_, ok := m.Channel(id)
	return ok
}

// NumChannels returns the number of declared channels.
func (m *Model) NumChannels() int { return len(m.channels) }

// Evaluate runs the full processor pipeline over the value vector in place,
// strictly in declared order. The vector must contain an entry for every
// channel of the model; Evaluate never adds or removes keys.
func (m *Model) Evaluate(values map[int]float64) {
	for _, p := range m.processors {
		apply(p, values)
	}
}

// copyProcessor deep-copies a processor so built models share no mutable
// state with builders or callers.
func copyProcessor(p Processor) Processor {
	switch proc := p.(type) {
	case Reverse:
		channels := make(map[int]bool, len(proc.Channels))
		for id, flagged := range proc.Channels {
			channels[id] = flagged
		}
		return Reverse{Channels: channels}
	case Endpoint:
		endpoints := make(map[int]Range, len(proc.Endpoints))
		for id, r := range proc.Endpoints {
			endpoints[id] = r
		}
		return Endpoint{Endpoints: endpoints}
	case Differential:
		mixes := make([]DifferentialMix, len(proc.Mixes))
		copy(mixes, proc.Mixes)
		return Differential{Mixes: mixes}
	case Aggregate:
		mixes := make([]AggregateMix, len(proc.Mixes))
		for i, m := range proc.Mixes {
			inputs := make([]AggregateInput, len(m.Inputs))
			for j, in := range m.Inputs {
				inputs[j] = AggregateInput{Channel: in.Channel, Weight: clampWeight(in.Weight)}
			}
			mixes[i] = AggregateMix{Inputs: inputs, Target: m.Target}
		}
		return Aggregate{Mixes: mixes}
	default:
		return p
	}
}
