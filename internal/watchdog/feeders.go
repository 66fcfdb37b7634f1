package watchdog

import (
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Systemd feeds the service manager's watchdog (WatchdogSec= in the
// unit file) with WATCHDOG=1 notifications. When the unit also sets
// Restart=on-watchdog or on-failure, a missed feed restarts the
// process rather than the machine.
type Systemd struct {
	timeout time.Duration
}

// NewSystemd reads the watchdog timeout systemd passed in
// WATCHDOG_USEC. It fails if the unit has no watchdog configured,
// since feeding into the void would silently remove the safety net.
func NewSystemd() (*Systemd, error) {
	timeout, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return nil, fmt.Errorf("read systemd watchdog: %w", err)
	}
	if timeout == 0 {
		return nil, errors.New("systemd watchdog not enabled for this unit (set WatchdogSec=)")
	}
	return &Systemd{timeout: timeout}, nil
}

// Feed sends WATCHDOG=1.
func (s *Systemd) Feed() error {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	if err != nil {
		return fmt.Errorf("systemd notify watchdog: %w", err)
	}
	if !sent {
		return errors.New("systemd notify socket unavailable")
	}
	return nil
}

// Ready tells systemd that startup has finished (Type=notify units).
func (s *Systemd) Ready() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return fmt.Errorf("systemd notify ready: %w", err)
	}
	return nil
}

// Timeout returns the unit's WatchdogSec.
func (s *Systemd) Timeout() time.Duration {
	return s.timeout
}

// Close announces an orderly stop so systemd does not treat the
// missing feeds during shutdown as a hang.
func (s *Systemd) Close() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("systemd notify stopping: %w", err)
	}
	return nil
}

// Nop is a watchdog with no hardware behind it. The timeout is still
// enforced by [NewDiscipline] so feed cadence on a development host
// matches the device.
type Nop struct {
	timeout time.Duration
}

// NewNop returns a Nop with the given nominal timeout.
func NewNop(timeout time.Duration) *Nop {
	return &Nop{timeout: timeout}
}

func (n *Nop) Feed() error            { return nil }
func (n *Nop) Timeout() time.Duration { return n.timeout }
func (n *Nop) Close() error           { return nil }

// Ready reports startup completion to feeders that track it (the
// systemd driver). Other feeders ignore it.
func (d *Discipline) Ready() error {
	if r, ok := d.dev.(interface{ Ready() error }); ok {
		return r.Ready()
	}
	return nil
}

// Close releases the underlying feeder.
func (d *Discipline) Close() error {
	return d.dev.Close()
}
