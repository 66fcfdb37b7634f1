//go:build linux

package watchdog

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Device is a Linux watchdog character device such as /dev/watchdog.
// Opening the node arms the countdown; from then on the kernel reboots
// the machine if Feed is not called within Timeout.
type Device struct {
	f       *os.File
	fd      int
	timeout time.Duration
}

// OpenDevice opens and arms the watchdog at path, requesting the given
// timeout (rounded up to whole seconds, the ioctl's unit). Some
// hardware only supports a fixed countdown; in that case the request
// is ignored and the device's own timeout is reported by Timeout.
func OpenDevice(path string, timeout time.Duration) (*Device, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog %s: %w", path, err)
	}
	fd := int(f.Fd())

	secs := int((timeout + time.Second - 1) / time.Second)
	_ = unix.IoctlSetPointerInt(fd, unix.WDIOC_SETTIMEOUT, secs)

	actual := timeout
	if got, err := unix.IoctlGetInt(fd, unix.WDIOC_GETTIMEOUT); err == nil && got > 0 {
		actual = time.Duration(got) * time.Second
	}

	return &Device{f: f, fd: fd, timeout: actual}, nil
}

// Feed issues a keepalive ioctl.
func (d *Device) Feed() error {
	if err := unix.IoctlWatchdogKeepalive(d.fd); err != nil {
		return fmt.Errorf("watchdog keepalive: %w", err)
	}
	return nil
}

// Timeout returns the countdown the device reported after arming.
func (d *Device) Timeout() time.Duration {
	return d.timeout
}

// Close disarms the watchdog with the magic close character before
// releasing the device. Drivers built with nowayout ignore the magic
// character and will still reset the machine after the final timeout.
func (d *Device) Close() error {
	_, werr := d.f.Write([]byte("V"))
	cerr := d.f.Close()
	if werr != nil {
		return fmt.Errorf("watchdog magic close: %w", werr)
	}
	return cerr
}
