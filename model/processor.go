package model

import "sort"

// ProcessorKind is the closed set of processor type tags.
type ProcessorKind int

const (
	// KindReverse negates the value of flagged bipolar channels.
	KindReverse ProcessorKind = iota
	// KindEndpoint clamps channel values into a configured [min, max] range.
	KindEndpoint
	// KindDifferential mixes channel pairs into sum/difference outputs.
	KindDifferential
	// KindAggregate writes a weighted sum of source channels to a target.
	KindAggregate
)

// String returns the string representation of the processor kind
func (k ProcessorKind) String() string {
	switch k {
	case KindReverse:
		return "reverse"
	case KindEndpoint:
		return "endpoints"
	case KindDifferential:
		return "differential"
	case KindAggregate:
		return "aggregate"
	default:
		return "unknown"
	}
}

// Processor is one pure transformation step in the evaluation pipeline. The
// set of implementations is closed: Reverse, Endpoint, Differential and
// Aggregate. Dispatch is an exhaustive type switch in apply; adding a kind
// without extending the switch is a bug, not an extension point.
type Processor interface {
	Kind() ProcessorKind
	// references returns every channel id the processor reads or writes, in
	// deterministic order, for build-time validation.
	references() []int
}

// Range is an inclusive [Min, Max] endpoint limit for one channel.
type Range struct {
	Min float64
	Max float64
}

// Reverse negates the value of each channel flagged true. Channels not
// present in the map are untouched. Only bipolar channels may be reversed;
// flagging any other kind is rejected at build time.
type Reverse struct {
	Channels map[int]bool
}

// Kind returns KindReverse.
func (Reverse) Kind() ProcessorKind { return KindReverse }

func (p Reverse) references() []int { return sortedKeys(p.Channels) }

// Endpoint clamps each referenced channel's value into its configured range.
// Min <= Max is enforced at build time.
type Endpoint struct {
	Endpoints map[int]Range
}

// Kind returns KindEndpoint.
func (Endpoint) Kind() ProcessorKind { return KindEndpoint }

func (p Endpoint) references() []int { return sortedKeys(p.Endpoints) }

// DifferentialMix pairs two channels for differential mixing. The outputs
// are left+right and right-left; Inverse swaps the two before write-back.
type DifferentialMix struct {
	Left    int
	Right   int
	Inverse bool
}

// Differential applies its mixes in declared order. Later mixes observe the
// values already written by earlier mixes in the same processor, which lets
// chained tank-steering mixes compose. Outputs are not re-clamped; that is a
// subsequent Endpoint processor's job.
type Differential struct {
	Mixes []DifferentialMix
}

// Kind returns KindDifferential.
func (Differential) Kind() ProcessorKind { return KindDifferential }

func (p Differential) references() []int {
	refs := make([]int, 0, len(p.Mixes)*2)
	for _, m := range p.Mixes {
		refs = append(refs, m.Left, m.Right)
	}
	return refs
}

// AggregateInput is one weighted source of an aggregate mix. Weight is
// clamped into [0, 1] at construction time, silently.
type AggregateInput struct {
	Channel int
	Weight  float64
}

// NewAggregateInput creates a weighted aggregate source, clamping the weight
// into [0, 1].
func NewAggregateInput(channel int, weight float64) AggregateInput {
	return AggregateInput{Channel: channel, Weight: clampWeight(weight)}
}

// AggregateMix writes the weighted sum of its inputs to the target channel.
// The target must not be bound to a physical source.
type AggregateMix struct {
	Inputs []AggregateInput
	Target int
}

// Aggregate applies its mixes in declared order.
type Aggregate struct {
	Mixes []AggregateMix
}

// Kind returns KindAggregate.
func (Aggregate) Kind() ProcessorKind { return KindAggregate }

func (p Aggregate) references() []int {
	refs := make([]int, 0, len(p.Mixes)*2)
	for _, m := range p.Mixes {
		for _, in := range m.Inputs {
			refs = append(refs, in.Channel)
		}
		refs = append(refs, m.Target)
	}
	return refs
}

// apply runs one processor over the value vector in place. The vector always
// contains every channel of the model; processors never add or remove keys.
func apply(p Processor, values map[int]float64) {
	switch proc := p.(type) {
	case Reverse:
		for id, flagged := range proc.Channels {
			if flagged {
				values[id] = -values[id]
			}
		}
	case Endpoint:
		for id, r := range proc.Endpoints {
			v := values[id]
			if v < r.Min {
				v = r.Min
			}
			if v > r.Max {
				v = r.Max
			}
			values[id] = v
		}
	case Differential:
		for _, m := range proc.Mixes {
			left := values[m.Left]
			right := values[m.Right]
			leftOut := left + right
			rightOut := right - left
			if m.Inverse {
				leftOut, rightOut = rightOut, leftOut
			}
			values[m.Left] = leftOut
			values[m.Right] = rightOut
		}
	case Aggregate:
		for _, m := range proc.Mixes {
			sum := 0.0
			for _, in := range m.Inputs {
				sum += values[in.Channel] * in.Weight
			}
			values[m.Target] = sum
		}
	}
}

func clampWeight(w float64) float64 {
	if w < 0.0 {
		return 0.0
	}
	if w > 1.0 {
		return 1.0
	}
	return w
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
