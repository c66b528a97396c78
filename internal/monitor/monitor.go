// Package monitor periodically samples viewer health (store contents,
// playback state, fetch generation) into a status file and, when configured,
// InfluxDB.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/urbanviz/mobview/internal/cache"
	"github.com/urbanviz/mobview/internal/dataset"
	"github.com/urbanviz/mobview/internal/influx"
	"github.com/urbanviz/mobview/internal/logging"
	"github.com/urbanviz/mobview/internal/playback"
)

// GenerationProvider exposes the most recently issued fetch generation.
// *loader.Manager satisfies it.
type GenerationProvider interface {
	Generation() uint64
}

// DBWriteDurationProvider is an optional interface session backends can
// implement to expose their last DB write duration.
type DBWriteDurationProvider interface {
	GetLastDBWriteDuration() time.Duration
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Store      *cache.PointStore
	Loader     GenerationProvider
	Engine     *playback.Engine
	DatasetCtx *dataset.Context
	LogManager *logging.SlogManager
	Influx     *influx.Manager // optional
	Session    any             // checked for DBWriteDurationProvider
	StatusDir  string
}

// Status is one sampled snapshot of viewer health.
type Status struct {
	Time                time.Time `json:"time"`
	Dataset             string    `json:"dataset"`
	Points              int       `json:"points"`
	Entities            int       `json:"entities"`
	FetchGeneration     uint64    `json:"fetchGeneration"`
	PlaybackStatus      string    `json:"playbackStatus"`
	PlaybackCursor      string    `json:"playbackCursor,omitempty"`
	LastWriteDurationMs float32   `json:"lastWriteDurationMs"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus samples the current viewer status.
func (s *Service) GetStatus() Status {
	st := Status{
		Time:     time.Now(),
		Points:   s.deps.Store.Len(),
		Entities: s.deps.Store.Entities(),
	}
	if s.deps.DatasetCtx != nil {
		st.Dataset = s.deps.DatasetCtx.GetDataset().Name
	}
	if s.deps.Loader != nil {
		st.FetchGeneration = s.deps.Loader.Generation()
	}
	if s.deps.Engine != nil {
		snap := s.deps.Engine.Snapshot()
		st.PlaybackStatus = snap.Status.String()
		if !snap.Cursor.IsZero() {
			st.PlaybackCursor = snap.Cursor.UTC().Format(time.RFC3339)
		}
	}
	if p, ok := s.deps.Session.(DBWriteDurationProvider); ok {
		st.LastWriteDurationMs = float32(p.GetLastDBWriteDuration().Milliseconds())
	}
	return st
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.LogManager.Logger()
		logger.Debug("Starting status monitor goroutine", "function", "startStatusMonitor")

		statusFile, err := os.Create(s.deps.StatusDir + "/status.txt")
		if err != nil {
			logger.Error("Error creating status file", "error", err)
		}
		defer statusFile.Close()

		for {
			select {
			case <-s.stopChan:
				return
			default:
				time.Sleep(1000 * time.Millisecond)

				st := s.GetStatus()

				if statusFile != nil {
					raw, err := json.MarshalIndent(st, "", "  ")
					if err != nil {
						raw = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
					}
					statusFile.Truncate(0)
					statusFile.Seek(0, 0)
					statusFile.Write(append(raw, '\n'))
				}

				if s.deps.Influx != nil {
					err := s.deps.Influx.WriteViewerStatus(
						context.Background(), st.Points, st.Entities, st.PlaybackStatus)
					if err != nil {
						logger.Error("Error writing viewer status to InfluxDB", "error", err)
					}
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}
