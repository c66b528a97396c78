// Package loader fetches point data for the current view scope, normalizes
// it, and installs the result into the point store. Every fetch is tagged
// with a generation number; only the most recently issued fetch is allowed
// to touch the store, so a slow response can never overwrite a newer one.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/urbanviz/mobview/internal/api"
	"github.com/urbanviz/mobview/internal/cache"
	"github.com/urbanviz/mobview/internal/dispatcher"
	"github.com/urbanviz/mobview/internal/model"
	"github.com/urbanviz/mobview/internal/normalize"
	"github.com/urbanviz/mobview/internal/trajectory"
)

const (
	// BboxLimit is the default cap on the viewport query. The backend
	// applies the same cap server-side, so asking for more just wastes the
	// round trip.
	BboxLimit = 1000
	// EntityLimit is the default cap on the per-entity history query, which
	// ignores the viewport and can span a whole recording.
	EntityLimit = 5000
)

// Topics published on the dispatcher.
const (
	TopicPointsLoaded = "points.loaded"
	TopicFetchFailed  = "fetch.failed"
)

// Fetcher is the slice of the API client the loader needs. *api.Client
// satisfies it.
type Fetcher interface {
	QueryPoints(q api.BboxQuery) (any, error)
	PointsByEntity(entityID string, q api.EntityQuery) (any, error)
}

// Recorder receives every successfully loaded point set, e.g. for session
// recording. Optional.
type Recorder interface {
	RecordPoints(points []model.Point) error
}

// Scope describes what one fetch is for. A non-empty Selection switches the
// loader from viewport mode to entity-history mode, in which the viewport is
// ignored entirely.
type Scope struct {
	Viewport   model.Viewport
	Selection  string
	Window     model.TimeWindow
	Dataset    string
	EntityType string
}

// LoadResult is the payload of a TopicPointsLoaded event.
type LoadResult struct {
	Generation uint64
	Points     int
	Entities   int
	Elapsed    time.Duration
}

// QueryOptions tune the queries the loader issues. The zero value is
// replaced with DefaultQuery by NewManager.
type QueryOptions struct {
	BboxLimit   int
	EntityLimit int
	OnlyValid   bool
}

// DefaultQuery returns the stock query tuning.
func DefaultQuery() QueryOptions {
	return QueryOptions{
		BboxLimit:   BboxLimit,
		EntityLimit: EntityLimit,
		OnlyValid:   true,
	}
}

// Dependencies holds all dependencies for the loader manager.
type Dependencies struct {
	Fetcher    Fetcher
	Normalizer *normalize.Normalizer
	Store      *cache.PointStore
	Dispatcher *dispatcher.Dispatcher
	Logger     *slog.Logger
	Recorder   Recorder     // optional
	Query      QueryOptions // zero value means DefaultQuery
}

// Manager coordinates fetches for the map view.
type Manager struct {
	deps Dependencies
	gen  cache.Generation

	// applyMu serializes apply so the generation check and the store install
	// are one atomic step; without it a stale response could pass the check
	// and then land after a newer result.
	applyMu sync.Mutex
}

// NewManager creates a new loader manager.
func NewManager(deps Dependencies) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Query == (QueryOptions{}) {
		deps.Query = DefaultQuery()
	}
	initMetrics()
	return &Manager{deps: deps}
}

// Refresh issues a fetch for the given scope in the background. Any fetch
// still in flight is implicitly superseded: its response will be dropped at
// apply time because its generation is no longer current.
func (m *Manager) Refresh(scope Scope) uint64 {
	gen := m.gen.Next()
	go func() {
		start := time.Now()
		payload, err := m.fetch(scope)
		m.apply(gen, scope, payload, err, time.Since(start))
	}()
	return gen
}

// RefreshSync is Refresh without the goroutine, for callers that need the
// result installed before returning (startup, tests).
func (m *Manager) RefreshSync(scope Scope) uint64 {
	gen := m.gen.Next()
	start := time.Now()
	payload, err := m.fetch(scope)
	m.apply(gen, scope, payload, err, time.Since(start))
	return gen
}

func (m *Manager) fetch(scope Scope) (any, error) {
	fetchCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Bool("entity_mode", scope.Selection != "")))

	if scope.Selection != "" {
		return m.deps.Fetcher.PointsByEntity(scope.Selection, api.EntityQuery{
			Dataset:   scope.Dataset,
			Limit:     m.deps.Query.EntityLimit,
			StartTime: formatBound(scope.Window.Start),
			EndTime:   formatBound(scope.Window.End),
		})
	}

	if !scope.Viewport.Valid() {
		return nil, fmt.Errorf("viewport %+v is degenerate", scope.Viewport)
	}
	return m.deps.Fetcher.QueryPoints(api.BboxQuery{
		Dataset:    scope.Dataset,
		MinLon:     scope.Viewport.MinLon,
		MaxLon:     scope.Viewport.MaxLon,
		MinLat:     scope.Viewport.MinLat,
		MaxLat:     scope.Viewport.MaxLat,
		StartTime:  formatBound(scope.Window.Start),
		EndTime:    formatBound(scope.Window.End),
		EntityType: scope.EntityType,
		OnlyValid:  m.deps.Query.OnlyValid,
		Limit:      m.deps.Query.BboxLimit,
	})
}

// apply installs a fetch result. Last request wins: a response whose
// generation is no longer current is discarded without touching the store,
// regardless of arrival order.
func (m *Manager) apply(gen uint64, scope Scope, payload any, err error, elapsed time.Duration) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	if gen != m.gen.Current() {
		staleCounter.Add(context.Background(), 1)
		m.deps.Logger.Debug("Dropping stale fetch response",
			"generation", gen, "current", m.gen.Current())
		return
	}

	if err != nil {
		failureCounter.Add(context.Background(), 1)
		m.deps.Store.Clear()
		m.deps.Logger.Error("Fetch failed, clearing view",
			"generation", gen, "selection", scope.Selection, "error", err)
		m.publish(TopicFetchFailed, err)
		return
	}

	fc := m.deps.Normalizer.Normalize(payload)
	trs := trajectory.Group(fc.Points)
	m.deps.Store.Replace(trs)

	if m.deps.Recorder != nil {
		if rerr := m.deps.Recorder.RecordPoints(fc.Points); rerr != nil {
			m.deps.Logger.Error("Failed to record loaded points", "error", rerr)
		}
	}

	pointCounter.Add(context.Background(), int64(len(fc.Points)))
	m.deps.Logger.Debug("Installed fetch result",
		"generation", gen, "points", len(fc.Points), "entities", len(trs), "elapsed", elapsed)
	m.publish(TopicPointsLoaded, LoadResult{
		Generation: gen,
		Points:     len(fc.Points),
		Entities:   len(trs),
		Elapsed:    elapsed,
	})
}

func (m *Manager) publish(topic string, payload any) {
	if m.deps.Dispatcher == nil {
		return
	}
	if err := m.deps.Dispatcher.Publish(dispatcher.Event{
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}); err != nil {
		m.deps.Logger.Error("Failed to publish load event", "topic", topic, "error", err)
	}
}

// Generation returns the most recently issued fetch generation.
func (m *Manager) Generation() uint64 {
	return m.gen.Current()
}

func formatBound(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
