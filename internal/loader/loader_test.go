package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/urbanviz/mobview/internal/api"
	"github.com/urbanviz/mobview/internal/cache"
	"github.com/urbanviz/mobview/internal/dispatcher"
	"github.com/urbanviz/mobview/internal/model"
	"github.com/urbanviz/mobview/internal/normalize"
)

type stubFetcher struct {
	mu          sync.Mutex
	bboxQueries []api.BboxQuery
	entityIDs   []string
	entityQs    []api.EntityQuery
	payload     any
	err         error
}

func (f *stubFetcher) QueryPoints(q api.BboxQuery) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bboxQueries = append(f.bboxQueries, q)
	return f.payload, f.err
}

func (f *stubFetcher) PointsByEntity(entityID string, q api.EntityQuery) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entityIDs = append(f.entityIDs, entityID)
	f.entityQs = append(f.entityQs, q)
	return f.payload, f.err
}

func feature(entityID string, lon, lat float64, ts string) map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"entity_id": entityID,
			"timestamp": ts,
		},
		"geometry": map[string]any{
			"type":        "Point",
			"coordinates": []any{lon, lat},
		},
	}
}

func newTestManager(fetcher Fetcher) (*Manager, *cache.PointStore, *dispatcher.Dispatcher) {
	store := cache.NewPointStore()
	d, _ := dispatcher.New(slog.Default())
	m := NewManager(Dependencies{
		Fetcher:    fetcher,
		Normalizer: normalize.New(slog.Default()),
		Store:      store,
		Dispatcher: d,
		Logger:     slog.Default(),
	})
	return m, store, d
}

func TestRefreshSync_ViewportMode(t *testing.T) {
	fetcher := &stubFetcher{payload: map[string]any{
		"features": []any{
			feature("taxi_1", 2.35, 48.85, "2024-01-15T08:00:00Z"),
			feature("taxi_1", 2.36, 48.86, "2024-01-15T08:00:05Z"),
			feature("bus_2", 2.30, 48.80, "2024-01-15T08:00:00Z"),
		},
	}}
	m, store, _ := newTestManager(fetcher)

	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	m.RefreshSync(Scope{
		Viewport: model.Viewport{MinLon: 2.2, MaxLon: 2.5, MinLat: 48.8, MaxLat: 48.9},
		Window:   model.TimeWindow{Start: &start},
		Dataset:  "tdrive",
	})

	if len(fetcher.bboxQueries) != 1 {
		t.Fatalf("expected 1 bbox query, got %d", len(fetcher.bboxQueries))
	}
	q := fetcher.bboxQueries[0]
	if q.Limit != BboxLimit {
		t.Errorf("expected limit %d, got %d", BboxLimit, q.Limit)
	}
	if !q.OnlyValid {
		t.Error("viewport queries must request only valid points")
	}
	if q.StartTime != "2024-01-15T00:00:00Z" {
		t.Errorf("unexpected start_time %q", q.StartTime)
	}
	if store.Len() != 3 || store.Entities() != 2 {
		t.Errorf("expected 3 points over 2 entities, got %d/%d", store.Len(), store.Entities())
	}
}

func TestRefreshSync_EntityModeIgnoresViewport(t *testing.T) {
	fetcher := &stubFetcher{payload: map[string]any{
		"count": float64(1),
		"results": []any{
			map[string]any{
				"entity_id": "taxi_42",
				"longitude": 2.35,
				"latitude":  48.85,
				"timestamp": "2024-01-15T08:00:00Z",
			},
		},
	}}
	m, store, _ := newTestManager(fetcher)

	// Degenerate viewport must not matter in entity mode.
	m.RefreshSync(Scope{Selection: "taxi_42"})

	if len(fetcher.bboxQueries) != 0 {
		t.Error("entity mode must not issue a bbox query")
	}
	if len(fetcher.entityIDs) != 1 || fetcher.entityIDs[0] != "taxi_42" {
		t.Fatalf("expected entity query for taxi_42, got %v", fetcher.entityIDs)
	}
	if fetcher.entityQs[0].Limit != EntityLimit {
		t.Errorf("expected limit %d, got %d", EntityLimit, fetcher.entityQs[0].Limit)
	}
	if store.Entities() != 1 {
		t.Errorf("expected 1 trajectory, got %d", store.Entities())
	}
}

func TestRefreshSync_DegenerateViewportFails(t *testing.T) {
	fetcher := &stubFetcher{}
	m, _, _ := newTestManager(fetcher)

	var failed bool
	m.deps.Dispatcher.Subscribe(TopicFetchFailed, func(e dispatcher.Event) error {
		failed = true
		return nil
	})

	m.RefreshSync(Scope{Viewport: model.Viewport{MinLon: 5, MaxLon: 2}})
	if len(fetcher.bboxQueries) != 0 {
		t.Error("degenerate viewport must not reach the fetcher")
	}
	if !failed {
		t.Error("expected fetch.failed event")
	}
}

func TestApply_StaleGenerationDropped(t *testing.T) {
	m, store, _ := newTestManager(&stubFetcher{})

	gen1 := m.gen.Next()
	gen2 := m.gen.Next()

	newer := []model.Point{{EntityID: "taxi_1", Timestamp: time.Now(), Longitude: 2.3, Latitude: 48.8}}
	m.apply(gen2, Scope{}, newer, nil, 0)
	if store.Len() != 1 {
		t.Fatalf("expected newer result installed, got %d points", store.Len())
	}

	// The older response arrives late and must be discarded.
	older := []model.Point{
		{EntityID: "bus_9", Timestamp: time.Now(), Longitude: 2.0, Latitude: 48.0},
		{EntityID: "bus_9", Timestamp: time.Now(), Longitude: 2.1, Latitude: 48.1},
	}
	m.apply(gen1, Scope{}, older, nil, 0)

	if store.Len() != 1 {
		t.Errorf("stale response must not touch the store, got %d points", store.Len())
	}
	if _, ok := store.Trajectory("bus_9"); ok {
		t.Error("stale trajectory installed")
	}
}

func TestRefreshSync_CustomQueryOptions(t *testing.T) {
	fetcher := &stubFetcher{payload: map[string]any{"features": []any{}}}
	m := NewManager(Dependencies{
		Fetcher:    fetcher,
		Normalizer: normalize.New(nil),
		Store:      cache.NewPointStore(),
		Query:      QueryOptions{BboxLimit: 250, EntityLimit: 100, OnlyValid: false},
	})

	m.RefreshSync(Scope{Viewport: model.Viewport{MinLon: 2.2, MaxLon: 2.5, MinLat: 48.8, MaxLat: 48.9}})
	if len(fetcher.bboxQueries) != 1 {
		t.Fatalf("expected 1 bbox query, got %d", len(fetcher.bboxQueries))
	}
	if q := fetcher.bboxQueries[0]; q.Limit != 250 || q.OnlyValid {
		t.Errorf("query options not honored: limit=%d onlyValid=%t", q.Limit, q.OnlyValid)
	}

	m.RefreshSync(Scope{Selection: "taxi_1"})
	if len(fetcher.entityQs) != 1 || fetcher.entityQs[0].Limit != 100 {
		t.Errorf("entity limit not honored: %+v", fetcher.entityQs)
	}
}

// echoFetcher answers entity queries with a single point for the queried
// entity, after a small random delay to shuffle completion order.
type echoFetcher struct{}

func (f *echoFetcher) QueryPoints(q api.BboxQuery) (any, error) {
	return nil, errors.New("unexpected bbox query")
}

func (f *echoFetcher) PointsByEntity(entityID string, q api.EntityQuery) (any, error) {
	time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	return []model.Point{
		{EntityID: entityID, Timestamp: time.Now(), Longitude: 2.3, Latitude: 48.8},
	}, nil
}

func TestRefreshSync_ConcurrentLastRequestWins(t *testing.T) {
	m, store, _ := newTestManager(&echoFetcher{})

	// Many overlapping fetches race to install their result. Whatever the
	// completion order, the store must end up holding the result of the
	// highest generation issued, never a superseded one.
	const n = 32
	var mu sync.Mutex
	gens := make(map[uint64]string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sel := fmt.Sprintf("taxi_%d", i)
			gen := m.RefreshSync(Scope{Selection: sel})
			mu.Lock()
			gens[gen] = sel
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	latest, ok := gens[m.Generation()]
	if !ok {
		t.Fatalf("no fetch recorded for latest generation %d", m.Generation())
	}
	if store.Entities() != 1 {
		t.Fatalf("expected exactly 1 trajectory installed, got %d", store.Entities())
	}
	if _, ok := store.Trajectory(latest); !ok {
		t.Errorf("store holds a superseded result, want entity %s", latest)
	}
}

func TestApply_FailureClearsStoreAndPublishes(t *testing.T) {
	m, store, d := newTestManager(&stubFetcher{})

	var failures int
	d.Subscribe(TopicFetchFailed, func(e dispatcher.Event) error {
		failures++
		return nil
	})

	gen := m.gen.Next()
	m.apply(gen, Scope{}, []model.Point{{EntityID: "taxi_1"}}, nil, 0)
	if store.Len() != 1 {
		t.Fatal("expected store populated before failure")
	}

	gen = m.gen.Next()
	m.apply(gen, Scope{}, nil, errors.New("backend down"), 0)

	if store.Len() != 0 {
		t.Errorf("failure must clear the store, got %d points", store.Len())
	}
	if failures != 1 {
		t.Errorf("expected 1 fetch.failed event, got %d", failures)
	}
}

func TestApply_PublishesLoadResult(t *testing.T) {
	m, _, d := newTestManager(&stubFetcher{})

	var got LoadResult
	d.Subscribe(TopicPointsLoaded, func(e dispatcher.Event) error {
		got = e.Payload.(LoadResult)
		return nil
	})

	gen := m.gen.Next()
	m.apply(gen, Scope{}, []model.Point{
		{EntityID: "taxi_1"},
		{EntityID: "taxi_1"},
		{EntityID: "bus_2"},
	}, nil, 0)

	if got.Generation != gen {
		t.Errorf("expected generation %d, got %d", gen, got.Generation)
	}
	if got.Points != 3 || got.Entities != 2 {
		t.Errorf("unexpected load result %+v", got)
	}
}

type stubRecorder struct {
	points []model.Point
}

func (r *stubRecorder) RecordPoints(points []model.Point) error {
	r.points = append(r.points, points...)
	return nil
}

func TestApply_RecorderReceivesPoints(t *testing.T) {
	rec := &stubRecorder{}
	store := cache.NewPointStore()
	m := NewManager(Dependencies{
		Fetcher:    &stubFetcher{},
		Normalizer: normalize.New(nil),
		Store:      store,
		Recorder:   rec,
	})

	gen := m.gen.Next()
	m.apply(gen, Scope{}, []model.Point{{EntityID: "bike_3"}}, nil, 0)

	if len(rec.points) != 1 || rec.points[0].EntityID != "bike_3" {
		t.Errorf("recorder did not receive loaded points: %+v", rec.points)
	}
}
