//go:build !linux

package reset

import (
	"errors"
	"log/slog"
)

// Reboot restarts the machine through the kernel. Outside Linux it
// only logs and parks, leaving the restart to an external watchdog.
type Reboot struct {
	Logger *slog.Logger
}

// Reset logs and parks forever.
func (r Reboot) Reset(reason string) {
	loggerOrDefault(r.Logger).Error("reboot unsupported on this platform, waiting for watchdog",
		"reason", reason, "error", errors.New("reboot requires linux"))
	park()
}
