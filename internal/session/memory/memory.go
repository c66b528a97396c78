// Package memory records session data in memory and exports it to a JSON
// file when the session ends.
package memory

import (
	"sync"
	"time"

	"github.com/urbanviz/mobview/internal/config"
	"github.com/urbanviz/mobview/internal/model"
)

// EntityRecord groups one entity with all points recorded for it.
type EntityRecord struct {
	EntityID   string
	EntityType string
	Points     []model.Point
}

// Backend stores session data in memory and exports to JSON.
type Backend struct {
	cfg config.MemoryConfig

	dataset   string
	notes     string
	startTime time.Time
	endTime   time.Time

	entities map[string]*EntityRecord // keyed by entity ID
	seen     map[string]bool          // point keys, for dedup across fetches

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend.
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:      cfg,
		entities: make(map[string]*EntityRecord),
		seen:     make(map[string]bool),
	}
}

// Init initializes the backend.
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources.
func (b *Backend) Close() error {
	return nil
}

// StartSession begins recording a new session.
func (b *Backend) StartSession(dataset, notes string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dataset = dataset
	b.notes = notes
	b.startTime = time.Now()
	b.endTime = time.Time{}

	// Reset all collections
	b.entities = make(map[string]*EntityRecord)
	b.seen = make(map[string]bool)
	b.lastExportPath = ""

	return nil
}

// EndSession finalizes and exports the session data.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.endTime = time.Now()
	return b.exportJSON()
}

// RecordPoints appends loaded points to their entity records. Overlapping
// fetches redeliver points, so each unique point is kept once.
func (b *Backend) RecordPoints(points []model.Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range points {
		key := p.Key()
		if b.seen[key] {
			continue
		}
		b.seen[key] = true

		rec, ok := b.entities[p.EntityID]
		if !ok {
			rec = &EntityRecord{EntityID: p.EntityID, EntityType: p.EntityType}
			b.entities[p.EntityID] = rec
		}
		rec.Points = append(rec.Points, p)
	}
	return nil
}

// PointCount returns the number of unique points recorded so far.
func (b *Backend) PointCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.seen)
}

// EntityCount returns the number of entities recorded so far.
func (b *Backend) EntityCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entities)
}

// GetExportedFilePath returns the path of the last export, empty before the
// first session ends.
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
