// Package markers keeps the marker and polyline objects on the map surface
// in sync with the point store. Markers are created once per unique point
// and then attached or detached as visibility changes; creating and
// destroying map objects is far more expensive than toggling them, and
// detach also preserves surface-side state like open tooltips. Polylines
// carry no such state and are rebuilt wholesale on every update.
package markers

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/urbanviz/mobview/internal/model"
	"github.com/urbanviz/mobview/internal/trajectory"
)

// Ref is an opaque surface-side object handle.
type Ref any

// MapSurface is the rendering surface the manager drives. Implementations
// wrap the actual map widget; headless implementations back tests and
// replays.
type MapSurface interface {
	CreateMarker(p model.Point, color string) (Ref, error)
	AttachMarker(ref Ref)
	DetachMarker(ref Ref)
	DestroyMarker(ref Ref)

	CreatePolyline(entityID string, coords [][2]float64, color string) (Ref, error)
	DestroyPolyline(ref Ref)
}

// typeColors maps entity types to their display color.
var typeColors = map[string]string{
	model.EntityTypeBike: "#2ecc71",
	model.EntityTypeBus:  "#3498db",
	model.EntityTypeCar:  "#e67e22",
	model.EntityTypeTaxi: "#f1c40f",
}

// unknownColor is used for entity types outside the known vocabulary.
const unknownColor = "#95a5a6"

// ColorFor returns the display color for an entity type.
func ColorFor(entityType string) string {
	if c, ok := typeColors[entityType]; ok {
		return c
	}
	return unknownColor
}

// Handle tracks one marker's surface object and its attachment state.
type Handle struct {
	Point    model.Point
	Ref      Ref
	Attached bool
}

// Manager owns all marker and polyline objects on one surface. Reconcile
// runs from loader goroutines while ApplyVisibility runs from the playback
// tick, so all bookkeeping is guarded by one mutex.
type Manager struct {
	surface MapSurface
	logger  *slog.Logger

	mu      sync.Mutex
	handles map[string]*Handle // keyed by model.Point.Key()
	lines   map[string]Ref     // keyed by entity ID
}

// NewManager creates a marker manager for the given surface.
func NewManager(surface MapSurface, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		surface: surface,
		logger:  logger,
		handles: make(map[string]*Handle),
		lines:   make(map[string]Ref),
	}
}

// Reconcile brings the marker set in line with the given trajectories:
// markers for new points are created detached, markers whose points are gone
// are destroyed, survivors are left untouched. Visibility is applied as a
// second step so creation and toggling stay separate concerns.
func (m *Manager) Reconcile(trs map[string]model.Trajectory, visible func(model.Point) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(m.handles))

	for _, tr := range trs {
		for _, p := range tr.Points {
			key := p.Key()
			seen[key] = true
			if _, ok := m.handles[key]; ok {
				continue
			}
			ref, err := m.surface.CreateMarker(p, ColorFor(p.EntityType))
			if err != nil {
				return fmt.Errorf("failed to create marker for %s: %w", p.EntityID, err)
			}
			m.handles[key] = &Handle{Point: p, Ref: ref}
		}
	}

	for key, h := range m.handles {
		if seen[key] {
			continue
		}
		if h.Attached {
			m.surface.DetachMarker(h.Ref)
		}
		m.surface.DestroyMarker(h.Ref)
		delete(m.handles, key)
	}

	m.applyVisibility(visible)
	return nil
}

// ApplyVisibility attaches or detaches existing markers to match the
// predicate. No marker is created or destroyed here, so it is cheap enough
// to run on every playback tick.
func (m *Manager) ApplyVisibility(visible func(model.Point) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyVisibility(visible)
}

func (m *Manager) applyVisibility(visible func(model.Point) bool) {
	attached := 0
	for _, h := range m.handles {
		want := visible(h.Point)
		switch {
		case want && !h.Attached:
			m.surface.AttachMarker(h.Ref)
			h.Attached = true
		case !want && h.Attached:
			m.surface.DetachMarker(h.Ref)
			h.Attached = false
		}
		if h.Attached {
			attached++
		}
	}
	m.logger.Debug("Applied marker visibility", "attached", attached, "total", len(m.handles))
}

// RebuildLines replaces all polylines with one built for the selected
// entity. Without a selection, or when the selection has fewer than two
// usable points, no line is drawn; a bbox fetch holds an unordered slice of
// each entity's history, and a line through that is noise.
func (m *Manager) RebuildLines(trs map[string]model.Trajectory, selection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearLines()
	if selection == "" {
		return nil
	}

	tr, ok := trs[selection]
	if !ok {
		return nil
	}
	coords := trajectory.LineCoords(tr)
	if coords == nil {
		return nil
	}
	color := unknownColor
	if len(tr.Points) > 0 {
		color = ColorFor(tr.Points[0].EntityType)
	}
	ref, err := m.surface.CreatePolyline(selection, coords, color)
	if err != nil {
		return fmt.Errorf("failed to create polyline for %s: %w", selection, err)
	}
	m.lines[selection] = ref
	return nil
}

// ClearLines removes all polylines without touching markers.
func (m *Manager) ClearLines() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLines()
}

func (m *Manager) clearLines() {
	for id, ref := range m.lines {
		m.surface.DestroyPolyline(ref)
		delete(m.lines, id)
	}
}

// Clear destroys every marker and polyline.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, h := range m.handles {
		if h.Attached {
			m.surface.DetachMarker(h.Ref)
		}
		m.surface.DestroyMarker(h.Ref)
		delete(m.handles, key)
	}
	m.clearLines()
}

// Handles returns the number of live marker handles.
func (m *Manager) Handles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Attached returns the number of currently attached markers.
func (m *Manager) Attached() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.handles {
		if h.Attached {
			n++
		}
	}
	return n
}

// Lines returns the number of live polylines.
func (m *Manager) Lines() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines)
}
