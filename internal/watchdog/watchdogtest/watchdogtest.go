// Package watchdogtest provides a virtual clock and a recording feeder
// for testing code that runs under a [watchdog.Discipline].
package watchdogtest

import (
	"context"
	"sync"
	"time"

	"github.com/nugget/wxnode/internal/watchdog"
)

// Clock is a virtual clock. Sleep advances Now instantly, so a test can
// run minutes of retry loops in microseconds. Hooks run after each
// Sleep, letting a test change the world (bring Wi-Fi up, cancel a
// context) at a chosen virtual time.
type Clock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
	hooks []func(now time.Time)
}

// NewClock returns a virtual clock starting at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the virtual time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances virtual time by d unless ctx is already done.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept += d
	now := c.now
	hooks := append([]func(time.Time){}, c.hooks...)
	c.mu.Unlock()

	for _, h := range hooks {
		h(now)
	}
	return ctx.Err()
}

// Advance moves virtual time forward without sleeping, as if a
// blocking call took d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Slept returns the total virtual time spent in Sleep.
func (c *Clock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

// OnSleep registers a hook called with the new time after every Sleep.
func (c *Clock) OnSleep(h func(now time.Time)) {
	c.mu.Lock()
	c.hooks = append(c.hooks, h)
	c.mu.Unlock()
}

// Feeder records the virtual time of every feed.
type Feeder struct {
	mu      sync.Mutex
	clock   *Clock
	timeout time.Duration
	feeds   []time.Time
	closed  bool
}

// NewFeeder returns a Feeder that stamps feeds with clock's time.
func NewFeeder(clock *Clock, timeout time.Duration) *Feeder {
	return &Feeder{clock: clock, timeout: timeout}
}

func (f *Feeder) Feed() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds = append(f.feeds, f.clock.Now())
	return nil
}

func (f *Feeder) Timeout() time.Duration { return f.timeout }

func (f *Feeder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Count returns the number of feeds.
func (f *Feeder) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.feeds)
}

// Closed reports whether Close was called.
func (f *Feeder) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// MaxGap returns the longest interval between consecutive feeds. Time
// before the first feed is not counted.
func (f *Feeder) MaxGap() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var gap time.Duration
	for i := 1; i < len(f.feeds); i++ {
		if d := f.feeds[i].Sub(f.feeds[i-1]); d > gap {
			gap = d
		}
	}
	return gap
}

// New builds a Discipline over a fresh virtual clock and feeder using
// the device defaults: 8s timeout, 500ms feed interval.
func New() (*watchdog.Discipline, *Clock, *Feeder) {
	clock := NewClock()
	feeder := NewFeeder(clock, 8*time.Second)
	d, err := watchdog.NewDiscipline(feeder, 500*time.Millisecond, clock, nil)
	if err != nil {
		panic(err)
	}
	return d, clock, feeder
}
