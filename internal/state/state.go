// Package state holds the shared view state: the current viewport, entity
// selection, time window and dataset. Mutations publish change topics on the
// dispatcher so the loader and marker layer can react; the store itself
// never calls them directly.
package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/urbanviz/mobview/internal/dispatcher"
	"github.com/urbanviz/mobview/internal/model"
	"github.com/urbanviz/mobview/internal/playback"
	"github.com/urbanviz/mobview/internal/timerange"
)

// Topics published on the dispatcher.
const (
	TopicViewportChanged  = "viewport.changed"
	TopicSelectionChanged = "selection.changed"
	TopicWindowChanged    = "window.changed"
	TopicDatasetChanged   = "dataset.changed"
)

// Store is the shared view state holder.
type Store struct {
	mu        sync.RWMutex
	viewport  model.Viewport
	selection string
	window    model.TimeWindow
	dataset   string

	engine     *playback.Engine
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger
}

// NewStore creates a view state store. The playback engine is stopped and
// kept in sync whenever the window or selection changes.
func NewStore(engine *playback.Engine, d *dispatcher.Dispatcher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		engine:     engine,
		dispatcher: d,
		logger:     logger,
	}
}

// Viewport returns the current viewport.
func (s *Store) Viewport() model.Viewport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewport
}

// Selection returns the currently selected entity ID, empty when nothing is
// selected.
func (s *Store) Selection() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

// Window returns the current time window.
func (s *Store) Window() model.TimeWindow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window
}

// Dataset returns the currently selected dataset ID.
func (s *Store) Dataset() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataset
}

// SetViewport installs a new viewport. Degenerate viewports are rejected
// silently so a transient zero-size widget never wipes the view.
func (s *Store) SetViewport(v model.Viewport) {
	if !v.Valid() {
		s.logger.Debug("Ignoring degenerate viewport", "viewport", v)
		return
	}
	s.mu.Lock()
	if s.viewport == v {
		s.mu.Unlock()
		return
	}
	s.viewport = v
	s.mu.Unlock()
	s.publish(TopicViewportChanged, v)
}

// SetSelection selects an entity, or clears the selection when given the
// empty string. Playback keeps running across selection changes; the
// visibility predicate narrows instead.
func (s *Store) SetSelection(entityID string) {
	s.mu.Lock()
	if s.selection == entityID {
		s.mu.Unlock()
		return
	}
	s.selection = entityID
	s.mu.Unlock()

	if s.engine != nil {
		s.engine.SetSelection(entityID)
	}
	s.publish(TopicSelectionChanged, entityID)
}

// SetWindowRaw resolves two raw datetime strings into a window and installs
// it. Resolution applies the clamp heuristic for suspiciously wide spans.
func (s *Store) SetWindowRaw(startRaw, endRaw string) model.TimeWindow {
	w := timerange.Resolve(startRaw, endRaw)
	s.SetWindow(w)
	return w
}

// SetWindow installs a new time window. Any running playback is stopped
// first; its cursor would be meaningless against the new bounds.
func (s *Store) SetWindow(w model.TimeWindow) {
	s.mu.Lock()
	s.window = w
	s.mu.Unlock()

	if s.engine != nil {
		s.engine.SetWindow(w)
	}
	s.publish(TopicWindowChanged, w)
}

// SetDataset switches the active dataset. Selection is cleared; entity IDs
// are only meaningful within one dataset.
func (s *Store) SetDataset(datasetID string) {
	s.mu.Lock()
	if s.dataset == datasetID {
		s.mu.Unlock()
		return
	}
	s.dataset = datasetID
	s.selection = ""
	s.mu.Unlock()

	if s.engine != nil {
		s.engine.SetSelection("")
	}
	s.publish(TopicDatasetChanged, datasetID)
}

// Scope snapshots the fields a fetch depends on.
func (s *Store) Scope() (model.Viewport, string, model.TimeWindow, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewport, s.selection, s.window, s.dataset
}

func (s *Store) publish(topic string, payload any) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(dispatcher.Event{
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}); err != nil {
		s.logger.Error("Failed to publish state change", "topic", topic, "error", err)
	}
}
