package monitor

import (
	"testing"
	"time"

	"github.com/urbanviz/mobview/internal/api"
	"github.com/urbanviz/mobview/internal/cache"
	"github.com/urbanviz/mobview/internal/dataset"
	"github.com/urbanviz/mobview/internal/logging"
	"github.com/urbanviz/mobview/internal/model"
	"github.com/urbanviz/mobview/internal/playback"
)

type fixedGeneration uint64

func (g fixedGeneration) Generation() uint64 { return uint64(g) }

type fixedWriteDuration time.Duration

func (d fixedWriteDuration) GetLastDBWriteDuration() time.Duration { return time.Duration(d) }

func TestGetStatus(t *testing.T) {
	store := cache.NewPointStore()
	store.Replace(map[string]model.Trajectory{
		"taxi_1": {EntityID: "taxi_1", Points: []model.Point{
			{EntityID: "taxi_1"}, {EntityID: "taxi_1"},
		}},
	})

	dc := dataset.NewContext()
	dc.SetDataset(&api.Dataset{ID: "abc", Name: "tdrive"}, nil)

	s := NewService(Dependencies{
		Store:      store,
		Loader:     fixedGeneration(7),
		Engine:     playback.New(playback.Config{}),
		DatasetCtx: dc,
		LogManager: logging.NewSlogManager(),
		Session:    fixedWriteDuration(42 * time.Millisecond),
	})

	st := s.GetStatus()
	if st.Points != 2 || st.Entities != 1 {
		t.Errorf("unexpected counts: %+v", st)
	}
	if st.Dataset != "tdrive" {
		t.Errorf("unexpected dataset %q", st.Dataset)
	}
	if st.FetchGeneration != 7 {
		t.Errorf("unexpected generation %d", st.FetchGeneration)
	}
	if st.PlaybackStatus != "idle" {
		t.Errorf("unexpected playback status %q", st.PlaybackStatus)
	}
	if st.PlaybackCursor != "" {
		t.Errorf("idle engine must not report a cursor, got %q", st.PlaybackCursor)
	}
	if st.LastWriteDurationMs != 42 {
		t.Errorf("unexpected write duration %v", st.LastWriteDurationMs)
	}
}

func TestStartStop(t *testing.T) {
	s := NewService(Dependencies{
		Store:      cache.NewPointStore(),
		LogManager: logging.NewSlogManager(),
		StatusDir:  t.TempDir(),
	})

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Error("expected monitor running")
	}

	// Starting twice is a no-op.
	if err := s.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	s.Stop()
	deadline := time.After(3 * time.Second)
	for s.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("monitor did not stop")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
