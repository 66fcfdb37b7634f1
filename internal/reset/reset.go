// Package reset turns unrecoverable failures into a device restart.
//
// Recovery on a headless device is cheapest as a full restart: it
// re-runs Wi-Fi association and the broker handshake from scratch. The
// components that decide a failure is unrecoverable do not restart
// anything themselves. They return an [*Escalation], a terminal error
// kind that travels up the ordinary error path to the top of the
// program, which hands it to a [Resetter]. Keeping the decision and the
// action apart lets a test harness, or a host without a hardware
// watchdog, substitute a process exit for a reboot.
package reset

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Escalation is a failure that must end in a device reset. Nothing may
// run after it other than recording the reason and resetting.
type Escalation struct {
	Reason string
	Err    error
}

func (e *Escalation) Error() string {
	if e.Err == nil {
		return "reset required: " + e.Reason
	}
	return fmt.Sprintf("reset required: %s: %v", e.Reason, e.Err)
}

func (e *Escalation) Unwrap() error { return e.Err }

// Escalate wraps err as an [*Escalation].
func Escalate(reason string, err error) *Escalation {
	return &Escalation{Reason: reason, Err: err}
}

// IsEscalation reports whether err is or wraps an [*Escalation].
func IsEscalation(err error) bool {
	var esc *Escalation
	return errors.As(err, &esc)
}

// Resetter restarts the device. Production implementations never
// return.
type Resetter interface {
	Reset(reason string)
}

// Exit terminates the process with Code so a supervisor (systemd
// Restart=on-failure, a container runtime) starts it again.
type Exit struct {
	Code   int
	Logger *slog.Logger
}

// Reset exits the process.
func (e Exit) Reset(reason string) {
	loggerOrDefault(e.Logger).Error("exiting for restart", "reason", reason, "exit_code", e.Code)
	os.Exit(e.Code)
	park()
}

// park blocks forever without feeding anything.
func park() {
	for {
		time.Sleep(time.Hour)
	}
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
