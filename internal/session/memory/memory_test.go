package memory

import (
	"database/sql"
	"testing"
	"time"

	"github.com/urbanviz/mobview/internal/config"
	"github.com/urbanviz/mobview/internal/model"
)

func samplePoints() []model.Point {
	t0 := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	return []model.Point{
		{EntityID: "taxi_1", EntityType: "taxi", Timestamp: t0, Longitude: 2.35, Latitude: 48.85,
			Speed: sql.NullFloat64{Float64: 12.5, Valid: true}},
		{EntityID: "taxi_1", EntityType: "taxi", Timestamp: t0.Add(5 * time.Second), Longitude: 2.36, Latitude: 48.86},
		{EntityID: "bus_2", EntityType: "bus", Timestamp: t0, Longitude: 2.30, Latitude: 48.80},
	}
}

func TestRecordPoints_DeduplicatesAcrossFetches(t *testing.T) {
	b := New(config.MemoryConfig{})
	if err := b.StartSession("tdrive", ""); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	if err := b.RecordPoints(samplePoints()); err != nil {
		t.Fatalf("RecordPoints failed: %v", err)
	}
	// Overlapping fetch redelivers the same points.
	if err := b.RecordPoints(samplePoints()); err != nil {
		t.Fatalf("RecordPoints failed: %v", err)
	}

	if b.PointCount() != 3 {
		t.Errorf("expected 3 unique points, got %d", b.PointCount())
	}
	if b.EntityCount() != 2 {
		t.Errorf("expected 2 entities, got %d", b.EntityCount())
	}
}

func TestStartSession_ResetsState(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()})
	_ = b.StartSession("tdrive", "")
	_ = b.RecordPoints(samplePoints())

	if err := b.StartSession("geolife", ""); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if b.PointCount() != 0 || b.EntityCount() != 0 {
		t.Error("new session must start empty")
	}
}

func TestBuildExport(t *testing.T) {
	b := New(config.MemoryConfig{})
	_ = b.StartSession("tdrive", "rush hour")
	_ = b.RecordPoints(samplePoints())

	export := b.buildExport()
	if export.Dataset != "tdrive" || export.Notes != "rush hour" {
		t.Errorf("unexpected metadata: %+v", export)
	}
	if export.PointCount != 3 || len(export.Entities) != 2 {
		t.Errorf("unexpected counts: points=%d entities=%d", export.PointCount, len(export.Entities))
	}

	// Entities are sorted by ID, so bus_2 comes first.
	if export.Entities[0].ID != "bus_2" || export.Entities[1].ID != "taxi_1" {
		t.Errorf("unexpected entity order: %s, %s", export.Entities[0].ID, export.Entities[1].ID)
	}

	taxi := export.Entities[1]
	if len(taxi.Positions) != 2 {
		t.Fatalf("expected 2 taxi positions, got %d", len(taxi.Positions))
	}
	coords := taxi.Positions[0][0].([]float64)
	if coords[0] != 2.35 || coords[1] != 48.85 {
		t.Errorf("unexpected coords %v", coords)
	}
	if taxi.Positions[0][2] != 12.5 {
		t.Errorf("expected speed 12.5, got %v", taxi.Positions[0][2])
	}
	if taxi.Positions[1][2] != nil {
		t.Errorf("missing speed must export as null, got %v", taxi.Positions[1][2])
	}
}
