//go:build linux

package reset

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// Reboot restarts the machine through the kernel. The process needs
// CAP_SYS_BOOT.
type Reboot struct {
	Logger *slog.Logger
}

// Reset flushes filesystem buffers and reboots. If the reboot syscall
// fails the process parks; a hardware watchdog, no longer fed, finishes
// the job.
func (r Reboot) Reset(reason string) {
	logger := loggerOrDefault(r.Logger)
	logger.Error("rebooting device", "reason", reason)

	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		logger.Error("reboot syscall failed, waiting for watchdog", "error", err)
	}
	park()
}
