package playback

import "time"

// Ticker abstracts a repeating wall-clock tick so tests can drive the engine
// with virtual time.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Scheduler creates tickers. The production implementation wraps time.Ticker.
type Scheduler interface {
	NewTicker(d time.Duration) Ticker
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

type realScheduler struct{}

func (realScheduler) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// NewScheduler returns the wall-clock scheduler.
func NewScheduler() Scheduler {
	return realScheduler{}
}
