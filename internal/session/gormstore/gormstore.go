// Package gormstore implements the session.Backend interface on GORM with an
// internal queue and a background DB writer goroutine, so point recording
// never blocks the loader on database latency.
package gormstore

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/urbanviz/mobview/internal/geo"
	"github.com/urbanviz/mobview/internal/model"
	"github.com/urbanviz/mobview/internal/queue"
)

const (
	writeInterval = 2 * time.Second
	writeBatch    = 1000
)

// Dependencies holds all dependencies for the GORM session backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger zerolog.Logger
}

// Backend implements session.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps      Dependencies
	records   *queue.Queue[model.PointRecord]
	sessionID atomic.Uint64
	stopChan  chan struct{}

	lastWriteNanos atomic.Int64
}

// New creates a new GORM session backend.
func New(deps Dependencies) *Backend {
	return &Backend{deps: deps}
}

// Init runs schema migration and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gormstore requires a database connection")
	}

	b.records = queue.New[model.PointRecord]()
	b.stopChan = make(chan struct{})

	if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate session schema: %w", err)
	}

	go b.writerLoop()
	return nil
}

// Close stops the writer goroutine after a final flush.
func (b *Backend) Close() error {
	close(b.stopChan)
	return b.flush()
}

// StartSession creates a session row and makes it current.
func (b *Backend) StartSession(dataset, notes string) error {
	s := model.Session{
		Dataset:   dataset,
		StartedAt: time.Now(),
		Notes:     notes,
	}
	if err := b.deps.DB.Create(&s).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	b.sessionID.Store(uint64(s.ID))
	return nil
}

// EndSession flushes pending records and stamps the session end time.
func (b *Backend) EndSession() error {
	id := b.sessionID.Load()
	if id == 0 {
		return fmt.Errorf("no session in progress")
	}
	if err := b.flush(); err != nil {
		return err
	}

	err := b.deps.DB.Model(&model.Session{}).
		Where("id = ?", uint(id)).
		Update("ended_at", time.Now()).Error
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	b.sessionID.Store(0)
	return nil
}

// RecordPoints queues loaded points for batch insertion. Points recorded
// outside a session are dropped.
func (b *Backend) RecordPoints(points []model.Point) error {
	id := b.sessionID.Load()
	if id == 0 {
		return nil
	}

	recs := make([]model.PointRecord, 0, len(points))
	for _, p := range points {
		rec, err := toRecord(uint(id), p)
		if err != nil {
			b.deps.Logger.Warn().Err(err).Str("entityID", p.EntityID).Msg("Skipping unrecordable point")
			continue
		}
		recs = append(recs, rec)
	}
	b.records.Push(recs...)
	return nil
}

// GetLastDBWriteDuration returns the duration of the last DB write cycle.
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return time.Duration(b.lastWriteNanos.Load())
}

func (b *Backend) writerLoop() {
	ticker := time.NewTicker(writeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.flush(); err != nil {
				b.deps.Logger.Error().Err(err).Msg("Failed to flush point records")
			}
		}
	}
}

func (b *Backend) flush() error {
	batch := b.records.GetAndEmpty()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := b.deps.DB.CreateInBatches(batch, writeBatch).Error; err != nil {
		// Put the batch back so a transient DB error loses nothing.
		b.records.Push(batch...)
		return fmt.Errorf("failed to write %d point records: %w", len(batch), err)
	}
	b.lastWriteNanos.Store(int64(time.Since(start)))

	b.deps.Logger.Debug().
		Int("records", len(batch)).
		Dur("duration", time.Since(start)).
		Msg("Flushed point records")
	return nil
}

func toRecord(sessionID uint, p model.Point) (model.PointRecord, error) {
	rec := model.PointRecord{
		SessionID:  sessionID,
		EntityID:   p.EntityID,
		EntityType: p.EntityType,
		Time:       p.Timestamp,
		Location:   geo.PointGeom(p.Longitude, p.Latitude),
		Speed:      p.Speed,
		Heading:    p.Heading,
		IsValid:    p.IsValid,
	}
	if p.Extra != nil {
		raw, err := json.Marshal(p.Extra)
		if err != nil {
			return model.PointRecord{}, fmt.Errorf("failed to encode extra attributes: %w", err)
		}
		rec.Extra = datatypes.JSON(raw)
	}
	return rec, nil
}
