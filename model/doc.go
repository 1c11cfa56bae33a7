// Package model defines the channel/processor data model for pi-tx.
//
// A Model is an ordered set of Channels plus an ordered pipeline of
// Processors. Channels describe one output slot each: its logical value range
// (bipolar, unipolar, button) and its binding to a physical control, if any.
// Processors are pure transformations over the full channel value vector,
// applied strictly in declared order on every evaluation.
//
// Models are immutable once built. The only supported way to produce one is
// ModelBuilder, which validates the whole definition at Build time: duplicate
// channel ids, dangling processor references, inverted endpoint ranges,
// reversal of non-bipolar channels and aggregate writes to physically bound
// channels are all rejected before a Model ever reaches the store.
//
// Evaluation order is the contract: there is no dependency analysis between
// processors. A Reverse placed after an Endpoint behaves differently from one
// placed before it, and that is intentional.
package model
