//go:build !linux

package watchdog

import (
	"errors"
	"time"
)

// Device is unavailable outside Linux.
type Device struct{}

// OpenDevice always fails outside Linux. Use the "systemd" or "none"
// watchdog driver on other hosts.
func OpenDevice(path string, timeout time.Duration) (*Device, error) {
	return nil, errors.New("watchdog device driver requires linux")
}

func (d *Device) Feed() error            { return errors.New("watchdog device driver requires linux") }
func (d *Device) Timeout() time.Duration { return 0 }
func (d *Device) Close() error           { return nil }
