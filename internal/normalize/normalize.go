// Package normalize turns raw server payloads into canonical point lists.
//
// The backend is inconsistent about wrapping: depending on the endpoint and
// its pagination layer, points arrive as a bare feature array, a
// FeatureCollection, a FeatureCollection nested one level deep, or a
// paginated results object. Shape detection is an ordered list of typed
// matchers; the first match wins and an unrecognized shape degrades to an
// empty result, never an error.
package normalize

import (
	"database/sql"
	"log/slog"
	"strings"

	"github.com/urbanviz/mobview/internal/geo"
	"github.com/urbanviz/mobview/internal/model"
	"github.com/urbanviz/mobview/internal/timerange"
)

// Normalizer resolves raw payloads into canonical FeatureCollections.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a Normalizer. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// shapeMatcher inspects one candidate wrapping shape and returns the
// underlying feature array when it matches.
type shapeMatcher func(payload any) ([]any, bool)

// matchers are tried in fixed priority order; the first match wins.
var matchers = []shapeMatcher{
	matchBareArray,
	matchFeatures,
	matchNestedFeatures,
	matchResultsArray,
	matchResultsFeatures,
	matchResultsNestedFeatures,
}

func matchBareArray(payload any) ([]any, bool) {
	arr, ok := payload.([]any)
	return arr, ok
}

func matchFeatures(payload any) ([]any, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, false
	}
	arr, ok := obj["features"].([]any)
	return arr, ok
}

// matchNestedFeatures handles {features: {features: [...]}} — a
// FeatureCollection nested one level, a known backend quirk.
func matchNestedFeatures(payload any) ([]any, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, false
	}
	inner, ok := obj["features"].(map[string]any)
	if !ok {
		return nil, false
	}
	arr, ok := inner["features"].([]any)
	return arr, ok
}

// matchResultsArray handles the paginated entity endpoint, whose results
// array carries raw point records rather than GeoJSON features.
func matchResultsArray(payload any) ([]any, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, false
	}
	arr, ok := obj["results"].([]any)
	return arr, ok
}

func matchResultsFeatures(payload any) ([]any, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, false
	}
	return matchFeatures(obj["results"])
}

func matchResultsNestedFeatures(payload any) ([]any, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, false
	}
	return matchNestedFeatures(obj["results"])
}

// Normalize produces the canonical FeatureCollection for one raw response.
// Already-canonical input passes through unchanged, which keeps the operation
// idempotent.
func (n *Normalizer) Normalize(payload any) model.FeatureCollection {
	switch v := payload.(type) {
	case model.FeatureCollection:
		return v
	case []model.Point:
		return model.FeatureCollection{Count: len(v), Points: v}
	case nil:
		return model.FeatureCollection{}
	}

	var features []any
	matched := false
	for _, match := range matchers {
		if arr, ok := match(payload); ok {
			features = arr
			matched = true
			break
		}
	}
	if !matched {
		n.logger.Warn("unrecognized payload shape, treating as empty result")
		return model.FeatureCollection{}
	}

	points := make([]model.Point, 0, len(features))
	skipped := 0
	for _, f := range features {
		p, ok := resolveFeature(f)
		if !ok {
			skipped++
			continue
		}
		points = append(points, p)
	}
	if skipped > 0 {
		// One entry per batch, not per feature, to avoid log storms.
		n.logger.Warn("skipped features with unresolvable coordinates",
			"skipped", skipped, "resolved", len(points))
	}

	return model.FeatureCollection{Count: len(points), Points: points}
}

// resolveFeature resolves one feature-like object into a canonical point.
// Coordinate sources are tried in order: flat longitude/latitude properties,
// GeoJSON Point geometry, WKT string geometry. A feature none of them can
// resolve is skipped.
func resolveFeature(f any) (model.Point, bool) {
	feature, ok := f.(map[string]any)
	if !ok {
		return model.Point{}, false
	}

	// GeoJSON features carry attributes under properties; raw point records
	// carry them at the top level.
	props, ok := feature["properties"].(map[string]any)
	if !ok {
		props = feature
	}

	lon, lat, ok := resolveCoordinates(feature, props)
	if !ok {
		return model.Point{}, false
	}

	p := model.Point{
		EntityID:  stringProp(props, "entity_id"),
		Longitude: lon,
		Latitude:  lat,
		Speed:     floatProp(props, "speed"),
		Heading:   floatProp(props, "heading"),
		IsValid:   true,
	}
	if raw, ok := props["timestamp"].(string); ok {
		if ts := timerange.Parse(raw); ts != nil {
			p.Timestamp = *ts
		}
	}
	if valid, ok := props["is_valid"].(bool); ok {
		p.IsValid = valid
	}
	if extra, ok := props["extra_attributes"].(map[string]any); ok {
		p.Extra = extra
	}
	p.EntityType = InferEntityType(p.Extra, p.EntityID)

	return p, true
}

func resolveCoordinates(feature, props map[string]any) (lon, lat float64, ok bool) {
	if lon, lonOK := props["longitude"].(float64); lonOK {
		if lat, latOK := props["latitude"].(float64); latOK {
			return lon, lat, true
		}
	}

	switch g := feature["geometry"].(type) {
	case map[string]any:
		if g["type"] == "Point" {
			if coords, ok := g["coordinates"].([]any); ok && len(coords) >= 2 {
				lon, lonOK := coords[0].(float64)
				lat, latOK := coords[1].(float64)
				if lonOK && latOK {
					return lon, lat, true
				}
			}
		}
	case string:
		if c, err := geo.ParsePoint(g); err == nil {
			return c.Longitude, c.Latitude, true
		}
	}

	return 0, 0, false
}

// InferEntityType decides the display type for a point. The explicit
// entity_type attribute wins; otherwise the token before the first underscore
// of the entity id is used when it belongs to the known vocabulary.
func InferEntityType(extra map[string]any, entityID string) string {
	if t, ok := extra["entity_type"].(string); ok && t != "" {
		return t
	}
	prefix, _, found := strings.Cut(entityID, "_")
	if found && model.KnownEntityTypes[prefix] {
		return prefix
	}
	return model.EntityTypeUnknown
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func floatProp(props map[string]any, key string) sql.NullFloat64 {
	if v, ok := props[key].(float64); ok {
		return sql.NullFloat64{Float64: v, Valid: true}
	}
	return sql.NullFloat64{}
}
