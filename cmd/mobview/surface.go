package main

import (
	"log/slog"
	"sync/atomic"

	"github.com/urbanviz/mobview/internal/markers"
	"github.com/urbanviz/mobview/internal/model"
)

// consoleSurface is a headless markers.MapSurface for CLI runs. Marker and
// polyline lifecycle events go to the debug log; refs are opaque counters.
type consoleSurface struct {
	logger *slog.Logger
	nextID atomic.Uint64
}

func (s *consoleSurface) CreateMarker(p model.Point, color string) (markers.Ref, error) {
	id := s.nextID.Add(1)
	s.logger.Debug("Marker created",
		"ref", id,
		"entity", p.EntityID,
		"lon", p.Longitude,
		"lat", p.Latitude,
		"color", color,
	)
	return id, nil
}

func (s *consoleSurface) AttachMarker(ref markers.Ref) {
	s.logger.Debug("Marker attached", "ref", ref)
}

func (s *consoleSurface) DetachMarker(ref markers.Ref) {
	s.logger.Debug("Marker detached", "ref", ref)
}

func (s *consoleSurface) DestroyMarker(ref markers.Ref) {
	s.logger.Debug("Marker destroyed", "ref", ref)
}

func (s *consoleSurface) CreatePolyline(entityID string, coords [][2]float64, color string) (markers.Ref, error) {
	id := s.nextID.Add(1)
	s.logger.Debug("Polyline created",
		"ref", id,
		"entity", entityID,
		"vertices", len(coords),
		"color", color,
	)
	return id, nil
}

func (s *consoleSurface) DestroyPolyline(ref markers.Ref) {
	s.logger.Debug("Polyline destroyed", "ref", ref)
}
