package geo

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// GEO PARSING
// The backend emits geometry either as GeoJSON or as WKT strings, optionally
// prefixed with "SRID=n;" (EWKT). Coordinates are lon/lat WGS84 unless the
// SRID says 3857, in which case we reproject on the way in so the rest of the
// pipeline only ever sees 4326.

// ErrInvalidWKT is returned when a WKT string cannot be resolved to coordinates.
var ErrInvalidWKT = errors.New("invalid WKT geometry")

// Coordinate is a resolved lon/lat pair.
type Coordinate struct {
	Longitude float64
	Latitude  float64
}

const sridWebMercator = 3857

var (
	sridRe  = regexp.MustCompile(`(?i)^\s*SRID=(\d+)\s*;\s*`)
	pointRe = regexp.MustCompile(`(?i)^POINT\s*\(\s*(-?[0-9.eE+]+)\s+(-?[0-9.eE+]+)\s*\)\s*$`)
	lineRe  = regexp.MustCompile(`(?i)^LINESTRING\s*\(([^)]*)\)\s*$`)
)

// stripSRID removes an optional "SRID=n;" prefix and returns the SRID
// (0 when absent) and the remaining WKT body.
func stripSRID(wkt string) (int, string) {
	m := sridRe.FindStringSubmatch(wkt)
	if m == nil {
		return 0, strings.TrimSpace(wkt)
	}
	srid, err := strconv.Atoi(m[1])
	if err != nil {
		srid = 0
	}
	return srid, strings.TrimSpace(wkt[len(m[0]):])
}

// ParsePoint parses "[SRID=n;]POINT (lon lat)" into a Coordinate.
func ParsePoint(wkt string) (Coordinate, error) {
	srid, body := stripSRID(wkt)
	m := pointRe.FindStringSubmatch(body)
	if m == nil {
		return Coordinate{}, ErrInvalidWKT
	}
	lon, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Coordinate{}, ErrInvalidWKT
	}
	lat, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Coordinate{}, ErrInvalidWKT
	}
	return reproject(Coordinate{Longitude: lon, Latitude: lat}, srid), nil
}

// ParseLineString parses "[SRID=n;]LINESTRING (lon1 lat1, lon2 lat2, ...)"
// into an ordered coordinate list. Malformed pairs within the list are
// dropped individually rather than failing the whole line.
func ParseLineString(wkt string) ([]Coordinate, error) {
	srid, body := stripSRID(wkt)
	m := lineRe.FindStringSubmatch(body)
	if m == nil {
		return nil, ErrInvalidWKT
	}

	var coords []Coordinate
	for _, pair := range strings.Split(m[1], ",") {
		fields := strings.Fields(strings.TrimSpace(pair))
		if len(fields) != 2 {
			continue
		}
		lon, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		coords = append(coords, reproject(Coordinate{Longitude: lon, Latitude: lat}, srid))
	}
	return coords, nil
}

// reproject converts web-mercator coordinates back to 4326. Any other SRID
// (including 0 and 4326) passes through untouched.
func reproject(c Coordinate, srid int) Coordinate {
	if srid != sridWebMercator {
		return c
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(sridWebMercator, 4326)
	lon, lat, _ := f(c.Longitude, c.Latitude, 0)
	return Coordinate{Longitude: lon, Latitude: lat}
}

// PointGeom builds a simplefeatures point for storage. Geometry round-trips
// through SQLite as WKB via the type's inherent Scan/Value support.
// Coordinates the constructor rejects (NaN, infinite) degrade to the empty
// point rather than failing the record.
func PointGeom(lon, lat float64) geom.Point {
	pt, err := geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: lon, Y: lat},
			Type: geom.DimXY,
		},
	)
	if err != nil {
		return geom.Point{}
	}
	return pt
}

// LineGeom builds a simplefeatures line string from resolved coordinates.
func LineGeom(coords []Coordinate) (geom.LineString, error) {
	if len(coords) < 2 {
		return geom.LineString{}, fmt.Errorf("line must have at least 2 points, got %d", len(coords))
	}
	flat := make([]float64, 0, len(coords)*2)
	for _, c := range coords {
		flat = append(flat, c.Longitude, c.Latitude)
	}
	ls, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	if err != nil {
		return geom.LineString{}, fmt.Errorf("invalid line string: %w", err)
	}
	return ls, nil
}
