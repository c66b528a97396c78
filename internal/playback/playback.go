// Package playback advances a simulated "current time" cursor across the
// visible window and exposes the visibility predicate gating each rendered
// point.
package playback

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/urbanviz/mobview/internal/model"
)

// Status is the playback state. There is no cursor while Idle.
type Status int

const (
	Idle Status = iota
	Playing
)

func (s Status) String() string {
	if s == Playing {
		return "playing"
	}
	return "idle"
}

// Defaults: a 200ms wall tick advancing 1000ms of simulated time, a 5x
// real-time replay rate.
const (
	DefaultTick = 200 * time.Millisecond
	DefaultStep = 1000 * time.Millisecond
)

// ErrWindowNotClosed is returned when playback is started without both
// window bounds present.
var ErrWindowNotClosed = errors.New("playback requires both window bounds")

// Snapshot is a point-in-time copy of the engine state, handed to the change
// callback after every transition.
type Snapshot struct {
	Status    Status
	Cursor    time.Time
	Window    model.TimeWindow
	Selection string
}

// Config wires an Engine.
type Config struct {
	Step      time.Duration // simulated time per tick; DefaultStep when zero
	Tick      time.Duration // wall-clock tick period; DefaultTick when zero
	Scheduler Scheduler     // wall-clock scheduler when nil
	Logger    *slog.Logger
	OnChange  func(Snapshot) // invoked after every cursor advance and stop
}

// Engine is the Idle/Playing state machine.
type Engine struct {
	mu        sync.Mutex
	status    Status
	cursor    time.Time
	window    model.TimeWindow
	selection string

	step      time.Duration
	tick      time.Duration
	scheduler Scheduler
	logger    *slog.Logger
	onChange  func(Snapshot)

	ticker Ticker
	done   chan struct{}
}

// New creates an idle engine.
func New(cfg Config) *Engine {
	if cfg.Step <= 0 {
		cfg.Step = DefaultStep
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewScheduler()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		step:      cfg.Step,
		tick:      cfg.Tick,
		scheduler: cfg.Scheduler,
		logger:    cfg.Logger,
		onChange:  cfg.OnChange,
	}
}

// Start places the cursor on the window start and begins ticking. It fails
// unless both window bounds are present; a running playback is restarted.
func (e *Engine) Start() error {
	e.mu.Lock()
	if !e.window.Closed() {
		e.mu.Unlock()
		return ErrWindowNotClosed
	}
	e.stopLocked()

	e.status = Playing
	e.cursor = *e.window.Start
	e.ticker = e.scheduler.NewTicker(e.tick)
	e.done = make(chan struct{})
	go e.run(e.ticker, e.done)

	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.logger.Debug("playback started", "cursor", snap.Cursor, "step", e.step)
	e.notify(snap)
	return nil
}

// Stop clears the cursor and returns to Idle. Safe to call when already idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	wasPlaying := e.status == Playing
	e.stopLocked()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	if wasPlaying {
		e.logger.Debug("playback stopped")
		e.notify(snap)
	}
}

// run drives Advance on each tick until the engine stops. Ticks are strictly
// sequential: the next tick is not consumed until the previous advance and
// its change callback complete.
func (e *Engine) run(ticker Ticker, done chan struct{}) {
	for {
		select {
		case <-ticker.C():
			e.Advance()
		case <-done:
			return
		}
	}
}

// Advance moves the cursor one step of simulated time. Advancing past the
// window end stops playback instead of rendering past it. Returns false once
// the engine has gone idle.
func (e *Engine) Advance() bool {
	e.mu.Lock()
	if e.status != Playing {
		e.mu.Unlock()
		return false
	}
	next := e.cursor.Add(e.step)
	if next.After(*e.window.End) {
		e.stopLocked()
		snap := e.snapshotLocked()
		e.mu.Unlock()
		e.logger.Debug("playback reached window end")
		e.notify(snap)
		return false
	}
	e.cursor = next
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	return true
}

// SetWindow installs a new time window. Any active playback is stopped
// before the new window takes effect.
func (e *Engine) SetWindow(w model.TimeWindow) {
	e.Stop()
	e.mu.Lock()
	e.window = w
	e.mu.Unlock()
}

// SetSelection changes the selected entity. Selection changes do not stop
// playback.
func (e *Engine) SetSelection(entityID string) {
	e.mu.Lock()
	e.selection = entityID
	e.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Visible decides whether a point is currently visible given the cursor,
// window and selection. Points with unresolvable timestamps are always
// hidden.
func (e *Engine) Visible(p model.Point) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !p.HasTimestamp() {
		return false
	}
	if e.status == Playing && p.Timestamp.After(e.cursor) {
		return false
	}
	if e.window.Start != nil && p.Timestamp.Before(*e.window.Start) {
		return false
	}
	if e.window.End != nil && p.Timestamp.After(*e.window.End) {
		return false
	}
	if e.selection != "" && p.EntityID != e.selection {
		return false
	}
	return true
}

func (e *Engine) stopLocked() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
	if e.done != nil {
		close(e.done)
		e.done = nil
	}
	e.status = Idle
	e.cursor = time.Time{}
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Status:    e.status,
		Cursor:    e.cursor,
		Window:    e.window,
		Selection: e.selection,
	}
}

func (e *Engine) notify(snap Snapshot) {
	if e.onChange != nil {
		e.onChange(snap)
	}
}
