package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/filimon-danopoulos/pi-tx/errors"
)

// ModelBuilder is the staged, validating constructor for Model. Channels and
// processors are accumulated in declaration order; all cross-reference
// validation happens at Build time, fail-fast on the first violation.
type ModelBuilder struct {
	name          string
	channels      []Channel
	ids           map[int]struct{}
	processors    []Processor
	rxNum         int
	modelID       string
	bindTimestamp time.Time
}

// NewBuilder starts an empty staged model with the given name.
func NewBuilder(name string) *ModelBuilder {
	return &ModelBuilder{
		name: name,
		ids:  make(map[int]struct{}),
	}
}

// NewBuilderFromModel seeds a builder with copies of an existing model's
// channels, processors and metadata. The resulting builder shares no mutable
// state with the original: building and further modification never affect it.
func NewBuilderFromModel(m *Model) *ModelBuilder {
	b := NewBuilder(m.Name())
	b.rxNum = m.RxNum()
	b.modelID = m.ModelID()
	b.bindTimestamp = m.BindTimestamp()
	b.channels = m.Channels()
	for _, c := range b.channels {
		b.ids[c.ID] = struct{}{}
	}
	b.processors = m.Processors()
	return b
}

// AddChannel stages a channel. It fails with ErrDuplicateChannel if the id is
// already present, and rejects non-positive ids.
func (b *ModelBuilder) AddChannel(c Channel) error {
	if c.ID <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("channel id %d must be positive", c.ID),
			"ModelBuilder", "AddChannel", "channel id validation")
	}
	if _, exists := b.ids[c.ID]; exists {
		return errors.Wrap(errors.ErrDuplicateChannel, "ModelBuilder", "AddChannel",
			fmt.Sprintf("adding channel %d", c.ID))
	}
	b.ids[c.ID] = struct{}{}
	b.channels = append(b.channels, c)
	return nil
}

// AddChannels stages multiple channels, stopping at the first failure.
func (b *ModelBuilder) AddChannels(channels ...Channel) error {
	for _, c := range channels {
		if err := b.AddChannel(c); err != nil {
			return err
		}
	}
	return nil
}

// AddProcessor appends a processor to the pipeline. Reference validity is
// deferred to Build.
func (b *ModelBuilder) AddProcessor(p Processor) *ModelBuilder {
	b.processors = append(b.processors, p)
	return b
}

// SetRxNum sets the receiver number, clamping it into [MinRxNum, MaxRxNum]
// rather than failing.
func (b *ModelBuilder) SetRxNum(n int) *ModelBuilder {
	if n < MinRxNum {
		n = MinRxNum
	}
	if n > MaxRxNum {
		n = MaxRxNum
	}
	b.rxNum = n
	return b
}

// SetModelID overrides the generated model identity. Used by persistence when
// reconstructing a stored model.
func (b *ModelBuilder) SetModelID(id string) *ModelBuilder {
	b.modelID = id
	return b
}

// SetBindTimestamp records when the model was last bound to a receiver.
func (b *ModelBuilder) SetBindTimestamp(t time.Time) *ModelBuilder {
	b.bindTimestamp = t
	return b
}

// Build validates the staged definition and returns an immutable Model. On
// the first violation it fails with a ValidationError carrying the offending
// processor index and reason. The model id is generated on first build and
// preserved by NewBuilderFromModel thereafter.
func (b *ModelBuilder) Build() (*Model, error) {
	if b.name == "" {
		return nil, errors.NewValidationError(-1, "model name must not be empty")
	}
	for i, p := range b.processors {
		if err := b.validateProcessor(i, p); err != nil {
			return nil, err
		}
	}

	id := b.modelID
	if id == "" {
		id = uuid.NewString()
	}

	m := &Model{
		name:          b.name,
		channels:      make([]Channel, len(b.channels)),
		processors:    make([]Processor, len(b.processors)),
		modelID:       id,
		rxNum:         b.rxNum,
		bindTimestamp: b.bindTimestamp,
	}
	copy(m.channels, b.channels)
	for i, p := range b.processors {
		m.processors[i] = copyProcessor(p)
	}
	// Preserve identity across from-model rebuild cycles.
	b.modelID = id
	return m, nil
}

// validateProcessor checks one processor against the staged channel set.
func (b *ModelBuilder) validateProcessor(index int, p Processor) error {
	for _, ref := range p.references() {
		if _, ok := b.ids[ref]; !ok {
			return errors.NewValidationError(index,
				"%s processor references unknown channel %d", p.Kind(), ref)
		}
	}

	switch proc := p.(type) {
	case Reverse:
		for _, id := range sortedKeys(proc.Channels) {
			if proc.Channels[id] && !b.channel(id).Bipolar() {
				return errors.NewValidationError(index,
					"reverse applied to non-bipolar channel %d (%s)",
					id, b.channel(id).LogicalKind())
			}
		}
	case Endpoint:
		for _, id := range sortedKeys(proc.Endpoints) {
			r := proc.Endpoints[id]
			if r.Min > r.Max {
				return errors.NewValidationError(index,
					"endpoint range inverted for channel %d: min %v > max %v",
					id, r.Min, r.Max)
			}
		}
	case Differential:
		// Reference existence is the only invariant; mixes may legally chain
		// over the same channels.
	case Aggregate:
		for _, m := range proc.Mixes {
			if target := b.channel(m.Target); target.Bound() {
				return errors.NewValidationError(index,
					"aggregate target channel %d is bound to %s",
					m.Target, target.DevicePath)
			}
		}
	}
	return nil
}

func (b *ModelBuilder) channel(id int) Channel {
	for _, c := range b.channels {
		if c.ID == id {
			return c
		}
	}
	return Channel{}
}
