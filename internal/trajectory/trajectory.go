// Package trajectory partitions canonical points by entity and derives the
// ordered coordinate lists used for polyline rendering.
package trajectory

import (
	"sort"

	"github.com/urbanviz/mobview/internal/model"
)

// Group buckets points by entity id and time-sorts each bucket. The sort is
// stable: equal-timestamp points occur in sample data and must keep their
// original relative order so they render deterministically.
func Group(points []model.Point) map[string]model.Trajectory {
	buckets := make(map[string]model.Trajectory)
	for _, p := range points {
		tr := buckets[p.EntityID]
		tr.EntityID = p.EntityID
		tr.Points = append(tr.Points, p)
		buckets[p.EntityID] = tr
	}
	for id, tr := range buckets {
		sort.SliceStable(tr.Points, func(i, j int) bool {
			return tr.Points[i].Timestamp.Before(tr.Points[j].Timestamp)
		})
		buckets[id] = tr
	}
	return buckets
}

// LineCoords returns the trajectory's ordered (lat, lon) pairs for polyline
// rendering. A trajectory with fewer than 2 points yields no line; the entity
// renders points-only.
func LineCoords(tr model.Trajectory) [][2]float64 {
	if len(tr.Points) < 2 {
		return nil
	}
	coords := make([][2]float64, 0, len(tr.Points))
	for _, p := range tr.Points {
		coords = append(coords, [2]float64{p.Latitude, p.Longitude})
	}
	return coords
}

// Flatten returns all points of all trajectories in entity-bucket order.
// Useful for reapplying a visibility predicate over the full rendered set.
func Flatten(trs map[string]model.Trajectory) []model.Point {
	var points []model.Point
	for _, tr := range trs {
		points = append(points, tr.Points...)
	}
	return points
}
