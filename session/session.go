// Package session owns the active model context: the current model, its
// channel store and every subscription hanging off it. Switching models
// replaces the whole tuple, values never migrate from one store to the
// next, so a switch always starts from channel defaults.
package session

import (
	"fmt"
	"log/slog"
	"sync"

	pitxerrors "github.com/filimon-danopoulos/pi-tx/errors"
	"github.com/filimon-danopoulos/pi-tx/metric"
	"github.com/filimon-danopoulos/pi-tx/model"
	"github.com/filimon-danopoulos/pi-tx/store"
)

// Attachment is wired to the store of whichever model is active. The
// session re-subscribes attachments each time the model switches.
type Attachment interface {
	// Observe receives the full derived vector after every accepted sample.
	Observe(values []float64)
	// ModelChanged runs after a switch, before any Observe call for the
	// new model.
	ModelChanged(m *model.Model)
}

// Deps holds runtime dependencies for a session.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Session is the single owner of the active (model, store) pair.
type Session struct {
	logger   *slog.Logger
	registry *metric.MetricsRegistry

	mu            sync.RWMutex
	model         *model.Model
	store         *store.ChannelStore
	attachments   []Attachment
	subscriptions []*store.Subscription
}

// New creates an empty session. Nothing is active until Activate.
func New(deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "session")
	}
	return &Session{logger: logger, registry: deps.MetricsRegistry}
}

// Attach registers an attachment. Attachments registered before Activate
// are wired on the first switch; later ones join the current store
// immediately.
func (s *Session) Attach(a Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attachments = append(s.attachments, a)
	if s.store != nil {
		if s.model != nil {
			a.ModelChanged(s.model)
		}
		s.subscriptions = append(s.subscriptions, s.store.Subscribe(a.Observe))
	}
}

// Activate makes a model current. The previous store and its
// subscriptions are torn down wholesale before the new store is built.
func (s *Session) Activate(m *model.Model) error {
	if m == nil {
		return pitxerrors.WrapInvalid(fmt.Errorf("nil model"),
			"session", "Activate", "model validation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscriptions {
		sub.Unsubscribe()
	}
	s.subscriptions = nil
	if s.store != nil {
		s.store.Close()
	}

	st := store.New(store.Deps{
		Model:           m,
		Logger:          s.logger.With("model", m.Name()),
		MetricsRegistry: s.registry,
	})

	s.model = m
	s.store = st

	for _, a := range s.attachments {
		a.ModelChanged(m)
		s.subscriptions = append(s.subscriptions, st.Subscribe(a.Observe))
	}

	s.logger.Info("model activated",
		"model", m.Name(),
		"model_id", m.ModelID(),
		"channels", m.NumChannels())
	return nil
}

// Model returns the active model, nil before the first Activate.
func (s *Session) Model() *model.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Store returns the active channel store, nil before the first Activate.
func (s *Session) Store() *store.ChannelStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

// Ingest forwards a sample into the active store, satisfying input.Sink.
// Samples arriving before a model is active are rejected.
func (s *Session) Ingest(channelID int, value float64) error {
	s.mu.RLock()
	st := s.store
	s.mu.RUnlock()

	if st == nil {
		return pitxerrors.WrapInvalid(fmt.Errorf("no active model"),
			"session", "Ingest", "session state")
	}
	return st.Ingest(channelID, value)
}

// Snapshot returns the active store's derived vector, satisfying the
// transmitter's source contract. Before the first Activate it returns nil
// so the transmitter falls back to neutral values.
func (s *Session) Snapshot() []float64 {
	s.mu.RLock()
	st := s.store
	s.mu.RUnlock()

	if st == nil {
		return nil
	}
	return st.Snapshot()
}
