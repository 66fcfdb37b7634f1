// Package watchdog keeps a liveness watchdog satisfied while the
// device does legitimate blocking work.
//
// A [Feeder] is the peripheral: a Linux /dev/watchdog node, the
// systemd service watchdog, or nothing at all on a development host.
// A [Discipline] wraps it with the one rule every caller relies on: no
// wait runs longer than the feed interval without a feed. Long waits
// go through [Discipline.Sleep], which slices them and feeds between
// slices, so a Wi-Fi association that takes a minute is not mistaken
// for a stalled control loop.
//
// Failing to feed is never reported to software. It shows up as a
// reset, which is the point: a hang becomes a visible reboot.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/wxnode/internal/config"
)

// Feeder is a watchdog peripheral with a fixed countdown.
type Feeder interface {
	// Feed resets the countdown.
	Feed() error
	// Timeout is the countdown length fixed at startup.
	Timeout() time.Duration
	// Close releases the peripheral. Drivers that support it disarm
	// the countdown so a clean shutdown is not followed by a reboot.
	Close() error
}

// Discipline feeds a [Feeder] around blocking work. It is not safe for
// concurrent use; the device runs a single control loop.
type Discipline struct {
	dev      Feeder
	clock    Clock
	interval time.Duration
	logger   *slog.Logger

	lastFeed time.Time
	feeds    int
}

// NewDiscipline creates a Discipline that never lets interval pass
// without a feed. The interval must be positive and shorter than half
// the feeder's timeout so a slice that overruns a little still lands
// well inside the countdown. A nil clock uses the wall clock; a nil
// logger uses [slog.Default].
func NewDiscipline(dev Feeder, interval time.Duration, clock Clock, logger *slog.Logger) (*Discipline, error) {
	timeout := dev.Timeout()
	if timeout <= 0 {
		return nil, fmt.Errorf("watchdog timeout %v must be positive", timeout)
	}
	if interval <= 0 || interval >= timeout/2 {
		return nil, fmt.Errorf("feed interval %v must be positive and shorter than half the watchdog timeout %v", interval, timeout)
	}
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discipline{
		dev:      dev,
		clock:    clock,
		interval: interval,
		logger:   logger,
	}, nil
}

// Feed resets the watchdog countdown. A failing feed is logged but not
// returned: there is nothing a caller could do about it, and the
// hardware will make its own decision.
func (d *Discipline) Feed() {
	now := d.clock.Now()
	if err := d.dev.Feed(); err != nil {
		d.logger.Warn("watchdog feed failed", "error", err)
		return
	}
	if !d.lastFeed.IsZero() {
		d.logger.Log(context.Background(), config.LevelTrace, "watchdog fed",
			"since_last", now.Sub(d.lastFeed))
	}
	d.lastFeed = now
	d.feeds++
}

// Sleep waits for dur while keeping the watchdog fed. It feeds
// immediately before the wait, then sleeps in slices no longer than
// the feed interval with a feed after each slice. Returns ctx.Err() if
// the context is cancelled first; the watchdog has been fed on the way
// out either way.
func (d *Discipline) Sleep(ctx context.Context, dur time.Duration) error {
	d.Feed()
	for remaining := dur; remaining > 0; {
		step := min(remaining, d.interval)
		err := d.clock.Sleep(ctx, step)
		d.Feed()
		if err != nil {
			return err
		}
		remaining -= step
	}
	return nil
}

// Now returns the current time on the discipline's clock. Callers that
// measure elapsed time across [Discipline.Sleep] calls use it so tests
// running on a virtual clock see consistent durations.
func (d *Discipline) Now() time.Time {
	return d.clock.Now()
}

// Interval returns the longest permitted gap between feeds.
func (d *Discipline) Interval() time.Duration {
	return d.interval
}

// Timeout returns the peripheral's countdown length.
func (d *Discipline) Timeout() time.Duration {
	return d.dev.Timeout()
}

// Feeds returns the number of successful feeds so far.
func (d *Discipline) Feeds() int {
	return d.feeds
}

// LastFeed returns when the watchdog was last fed successfully, or the
// zero time if it never has been.
func (d *Discipline) LastFeed() time.Time {
	return d.lastFeed
}
