package cache

import (
	"sync"

	"github.com/urbanviz/mobview/internal/model"
)

// PointStore holds the canonical point set currently backing the map, grouped
// into per-entity trajectories. Fetches replace, never merge: a successful
// load for a scope supersedes everything previously rendered for it.
// Latency here matters; the store sits between every fetch and every render.
type PointStore struct {
	m            sync.RWMutex
	trajectories map[string]model.Trajectory
}

func NewPointStore() *PointStore {
	return &PointStore{
		trajectories: make(map[string]model.Trajectory),
	}
}

// Replace installs a freshly-grouped trajectory set, discarding the previous one.
func (s *PointStore) Replace(trs map[string]model.Trajectory) {
	s.m.Lock()
	defer s.m.Unlock()
	if trs == nil {
		trs = make(map[string]model.Trajectory)
	}
	s.trajectories = trs
}

// Clear empties the store. Used when a fetch fails, so the view degrades to
// empty rather than staying partially stale.
func (s *PointStore) Clear() {
	s.m.Lock()
	defer s.m.Unlock()
	s.trajectories = make(map[string]model.Trajectory)
}

// Trajectories returns a shallow copy of the current trajectory map.
func (s *PointStore) Trajectories() map[string]model.Trajectory {
	s.m.RLock()
	defer s.m.RUnlock()
	out := make(map[string]model.Trajectory, len(s.trajectories))
	for id, tr := range s.trajectories {
		out[id] = tr
	}
	return out
}

// Trajectory looks up one entity's trajectory.
func (s *PointStore) Trajectory(entityID string) (model.Trajectory, bool) {
	s.m.RLock()
	defer s.m.RUnlock()
	tr, ok := s.trajectories[entityID]
	return tr, ok
}

// Len returns the total number of stored points.
func (s *PointStore) Len() int {
	s.m.RLock()
	defer s.m.RUnlock()
	n := 0
	for _, tr := range s.trajectories {
		n += len(tr.Points)
	}
	return n
}

// Entities returns the number of stored trajectories.
func (s *PointStore) Entities() int {
	s.m.RLock()
	defer s.m.RUnlock()
	return len(s.trajectories)
}

// Generation is a thread-safe monotonically increasing counter used to tag
// in-flight fetches so stale responses can be detected at apply time.
type Generation struct {
	mu sync.Mutex
	v  uint64
}

// Next increments the counter and returns the new value.
func (g *Generation) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.v++
	return g.v
}

// Current returns the most recently issued value.
func (g *Generation) Current() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.v
}
