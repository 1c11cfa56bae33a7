package store

import (
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/filimon-danopoulos/pi-tx/errors"
	"github.com/filimon-danopoulos/pi-tx/metric"
	"github.com/filimon-danopoulos/pi-tx/model"
)

// Observer receives the full post-pipeline value vector, ordered by channel
// declaration order, after every state-changing ingest. The slice is a copy;
// observers may retain it.
type Observer func(vector []float64)

// Subscription is a handle for one registered observer. Unsubscribe is
// idempotent.
type Subscription struct {
	store *ChannelStore
	id    int
	once  sync.Once
}

// Unsubscribe removes the observer. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.store.mu.Lock()
		defer s.store.mu.Unlock()
		delete(s.store.observers, s.id)
	})
}

// Deps holds the dependencies for ChannelStore construction.
type Deps struct {
	Model           *model.Model
	Logger          *slog.Logger            // nil = slog.Default()
	MetricsRegistry *metric.MetricsRegistry // nil = metrics disabled
}

// ChannelStore is the mutable state container bridging asynchronous input
// capture to the display and transmission collaborators.
type ChannelStore struct {
	model    *model.Model
	channels []model.Channel
	logger   *slog.Logger
	metrics  *Metrics
	registry *metric.MetricsRegistry

	mu         sync.RWMutex
	raw        map[int]float64
	derived    map[int]float64
	lastSignal map[int]float64 // latching-button edge memory, keyed by channel id
	observers  map[int]Observer
	nextSub    int
}

// New creates a store bound to the given model, seeded with every channel's
// default value and with the pipeline already evaluated once.
func New(deps Deps) *ChannelStore {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &ChannelStore{
		model:      deps.Model,
		channels:   deps.Model.Channels(),
		logger:     logger.With("component", "ChannelStore", "model", deps.Model.Name()),
		metrics:    newMetrics(deps.MetricsRegistry),
		registry:   deps.MetricsRegistry,
		raw:        make(map[int]float64),
		derived:    make(map[int]float64),
		lastSignal: make(map[int]float64),
		observers:  make(map[int]Observer),
	}
	for _, c := range s.channels {
		s.raw[c.ID] = c.DefaultValue()
		if c.Kind == model.KindLatchingButton {
			s.lastSignal[c.ID] = 0
		}
	}
	s.evaluateLocked()
	return s
}

// Model returns the model this store is bound to.
func (s *ChannelStore) Model() *model.Model { return s.model }

// Close releases the store's metric registrations so a replacement store
// can register its own. The store itself stays readable.
func (s *ChannelStore) Close() {
	if s.metrics != nil {
		s.metrics.unregister(s.registry)
	}
}

// Channels returns the model's channels in declaration order.
func (s *ChannelStore) Channels() []model.Channel {
	out := make([]model.Channel, len(s.channels))
	copy(out, s.channels)
	return out
}

// Ingest applies one normalized input sample to the store. Unknown channel
// ids are rejected with ErrUnknownChannel and leave the store untouched.
// A sample that does not change the raw state (an identical value, or a
// non-rising latching-button signal) is a benign no-op: no pipeline run, no
// notification. Otherwise the full processor pipeline is re-evaluated and
// every observer is notified with the new vector.
func (s *ChannelStore) Ingest(channelID int, raw float64) error {
	s.mu.Lock()

	ch, ok := s.model.Channel(channelID)
	if !ok {
		s.mu.Unlock()
		s.metrics.rejectedInc()
		return errors.Wrap(errors.ErrUnknownChannel, "ChannelStore", "Ingest",
			"applying sample for channel "+strconv.Itoa(channelID))
	}

	value, changed := s.interpretLocked(ch, raw)
	if !changed {
		s.mu.Unlock()
		return nil
	}

	s.raw[channelID] = value

	start := time.Now()
	s.evaluateLocked()
	s.metrics.pipelineObserve(time.Since(start))
	s.metrics.ingestedInc()

	vector := s.vectorLocked()
	observers := s.observersLocked()
	s.mu.Unlock()

	for _, obs := range observers {
		obs(vector)
	}
	s.metrics.notifiedAdd(len(observers))
	return nil
}

// interpretLocked applies the channel kind's raw interpretation and reports
// whether the stored raw state changes.
func (s *ChannelStore) interpretLocked(ch model.Channel, raw float64) (float64, bool) {
	if ch.Kind != model.KindLatchingButton {
		return raw, s.raw[ch.ID] != raw
	}

	// Latching: only a rising edge toggles. Sustained or falling signals
	// are a no-op.
	rising := s.lastSignal[ch.ID] == 0 && raw != 0
	s.lastSignal[ch.ID] = raw
	if !rising {
		return 0, false
	}
	if s.raw[ch.ID] == 0 {
		return 1, true
	}
	return 0, true
}

// Read returns the current post-pipeline value of one channel.
func (s *ChannelStore) Read(channelID int) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.derived[channelID]
	if !ok {
		return 0, errors.Wrap(errors.ErrUnknownChannel, "ChannelStore", "Read",
			"reading channel "+strconv.Itoa(channelID))
	}
	return v, nil
}

// Snapshot returns a copy of the post-pipeline value vector in channel
// declaration order.
func (s *ChannelStore) Snapshot() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectorLocked()
}

// RawSnapshot returns a copy of the pre-pipeline raw vector in channel
// declaration order. Used by diagnostics views.
func (s *ChannelStore) RawSnapshot() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, len(s.channels))
	for i, c := range s.channels {
		out[i] = s.raw[c.ID]
	}
	return out
}

// Subscribe registers an observer invoked after every state-changing ingest.
func (s *ChannelStore) Subscribe(obs Observer) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.observers[id] = obs
	return &Subscription{store: s, id: id}
}

// evaluateLocked runs the full pipeline: derived = pipeline(raw). Full
// re-evaluation on every sample is deliberate; the channel count is bounded
// and incremental evaluation would only add bookkeeping.
func (s *ChannelStore) evaluateLocked() {
	for id, v := range s.raw {
		s.derived[id] = v
	}
	s.model.Evaluate(s.derived)
}

func (s *ChannelStore) vectorLocked() []float64 {
	out := make([]float64, len(s.channels))
	for i, c := range s.channels {
		out[i] = s.derived[c.ID]
	}
	return out
}

// observersLocked returns the registered observers in subscription order, so
// notification order is stable.
func (s *ChannelStore) observersLocked() []Observer {
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Observer, len(ids))
	for i, id := range ids {
		out[i] = s.observers[id]
	}
	return out
}
