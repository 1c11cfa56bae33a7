// Package store holds the live channel state for one active model.
//
// A ChannelStore is bound 1:1 to a model.Model for its whole lifetime. Every
// ingested sample is interpreted according to its channel kind, written into
// the raw vector, and followed by a full re-evaluation of the model's
// processor pipeline. Observers are notified with a consistent post-pipeline
// snapshot after every state-changing ingest.
//
// Ingest calls are serialized by a single mutex; reads and notifications only
// ever see fully-evaluated vectors. Nothing in this package blocks on I/O,
// so the store is safe to drive at input-capture cadence. Switching models
// means discarding the store and building a new one; values are never
// migrated between models.
package store
