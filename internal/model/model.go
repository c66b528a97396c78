package model

import (
	"database/sql"
	"fmt"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// CANONICAL TYPES
////////////////////////

// EntityType values the viewer knows how to color. Anything else renders
// as EntityTypeUnknown.
const (
	EntityTypeBike    = "bike"
	EntityTypeBus     = "bus"
	EntityTypeCar     = "car"
	EntityTypeTaxi    = "taxi"
	EntityTypeUnknown = "unknown"
)

// KnownEntityTypes is the vocabulary used when inferring a type from an
// entity id prefix.
var KnownEntityTypes = map[string]bool{
	EntityTypeBike: true,
	EntityTypeBus:  true,
	EntityTypeCar:  true,
	EntityTypeTaxi: true,
}

// Point is the canonical, coordinate-resolved representation of one GPS ping.
// A Point only exists if its coordinates resolved during normalization; there
// is no null-coordinate state.
type Point struct {
	EntityID   string
	EntityType string
	Timestamp  time.Time // zero value means the source timestamp was unresolvable
	Longitude  float64
	Latitude   float64
	Speed      sql.NullFloat64
	Heading    sql.NullFloat64
	IsValid    bool
	Extra      map[string]any
}

// Key identifies a point for marker-handle bookkeeping. Two pings from the
// same entity at the same instant and position are the same marker.
func (p Point) Key() string {
	return fmt.Sprintf("%s|%d|%.7f|%.7f", p.EntityID, p.Timestamp.UnixMilli(), p.Longitude, p.Latitude)
}

// HasTimestamp reports whether the source timestamp resolved.
func (p Point) HasTimestamp() bool {
	return !p.Timestamp.IsZero()
}

// FeatureCollection is the canonical result of normalizing one raw server
// response, regardless of its wrapping shape.
type FeatureCollection struct {
	Count  int
	Points []Point
}

// Trajectory is the time-ordered point sequence of a single entity. It is
// derived state, rebuilt whenever the backing point set changes.
type Trajectory struct {
	EntityID string
	Points   []Point
}

// Viewport is the geographic rectangle currently visible on the map.
type Viewport struct {
	MinLon float64
	MaxLon float64
	MinLat float64
	MaxLat float64
}

// Valid reports whether the rectangle is well-formed (min <= max on both axes).
func (v Viewport) Valid() bool {
	return v.MinLon <= v.MaxLon && v.MinLat <= v.MaxLat
}

// Contains reports whether a lon/lat pair falls inside the viewport.
func (v Viewport) Contains(lon, lat float64) bool {
	return lon >= v.MinLon && lon <= v.MaxLon && lat >= v.MinLat && lat <= v.MaxLat
}

// TimeWindow bounds the visible time range. Either bound may be nil
// (open-ended). When both are set, Start <= End holds after the clamp
// heuristic has been applied.
type TimeWindow struct {
	Start *time.Time
	End   *time.Time
}

// Closed reports whether both bounds are present.
func (w TimeWindow) Closed() bool {
	return w.Start != nil && w.End != nil
}

////////////////////////
// SESSION STORE MODELS
////////////////////////

// DatabaseModels lists the structs representing tables in the session store
// schema, in migration order.
var DatabaseModels = []interface{}{
	&Session{},
	&PointRecord{},
}

// Session is one recorded viewing session.
type Session struct {
	gorm.Model
	Dataset   string       `json:"dataset" gorm:"size:127"`
	StartedAt time.Time    `json:"startedAt" gorm:"type:timestamptz;index:idx_session_started"`
	EndedAt   sql.NullTime `json:"endedAt"`
	Notes     string       `json:"notes" gorm:"size:2000"`
}

func (*Session) TableName() string {
	return "sessions"
}

// PointRecord is one canonical point persisted for offline replay. Geometry
// is stored as a simplefeatures point so SQLite can round-trip it as WKB
// through the inherent Scan/Value implementations.
type PointRecord struct {
	ID         uint           `json:"id" gorm:"primarykey"`
	SessionID  uint           `json:"sessionId" gorm:"index:idx_pointrecord_session"`
	Session    Session        `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	EntityID   string         `json:"entityId" gorm:"size:100;index:idx_pointrecord_entity"`
	EntityType string         `json:"entityType" gorm:"size:32"`
	Time       time.Time      `json:"time" gorm:"type:timestamptz;index:idx_pointrecord_time"`
	Location   geom.Point     `json:"location"`
	Speed      sql.NullFloat64 `json:"speed"`
	Heading    sql.NullFloat64 `json:"heading"`
	IsValid    bool            `json:"isValid"`
	Extra      datatypes.JSON  `json:"extra"`
}

func (*PointRecord) TableName() string {
	return "point_records"
}
