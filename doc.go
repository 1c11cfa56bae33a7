// Package pitx is a radio-control transmitter engine: it maps joystick and
// controller inputs onto a numbered set of output channels, runs every update
// through a configurable processing pipeline (reversal, endpoint clamping,
// differential mixing, weighted aggregation), and feeds the resulting channel
// vector to the display and transmission collaborators.
//
// # Architecture
//
// Data flows through a small set of focused packages:
//
//	┌────────────┐      ┌─────────────┐      ┌──────────────────┐
//	│   input    │      │    store    │      │    observers     │
//	│ (samples)  ├─────►│ ChannelStore├─────►│ websocket, nats, │
//	│            │      │  pipeline   │      │ transmitter      │
//	└────────────┘      └─────────────┘      └──────────────────┘
//	                          ▲
//	                    ┌─────┴─────┐
//	                    │   model   │  channels + processors,
//	                    │ (builder) │  validated at build time
//	                    └───────────┘
//
// Packages:
//   - model: channel/processor data model, Model, validating ModelBuilder
//   - store: live channel state, per-sample pipeline evaluation, observers
//   - modelstore: JSON persistence of model definitions
//   - input: capture boundary; input/udp network source, input/gamepad mapping
//   - transmitter: MULTI-serial framing and the periodic UART sender
//   - output/websocket: live channel vector feed for browser UIs
//   - output/natspub: channel vector telemetry over NATS
//   - session: owner of the active (model, store) pair with replace-on-switch
//   - config, errors, metric, pkg/buffer: infrastructure
//
// The store is the only stateful core: everything upstream produces normalized
// samples, everything downstream consumes an immutable post-pipeline snapshot.
package pitx
