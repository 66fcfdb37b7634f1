// Package wifi brings up the network link the broker session rides on.
//
// A [Session] owns the link's connection state. [Session.EnsureConnected]
// is the only way in: it returns once the radio reports association,
// however long that takes, feeding the watchdog between polls. Radio
// errors along the way are transient by definition (an access point
// rebooting, a supplicant restarting) and are logged, never returned.
package wifi

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/wxnode/internal/config"
	"github.com/nugget/wxnode/internal/watchdog"
)

// State is the link's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Faulted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Radio is the network interface driver.
type Radio interface {
	// Activate powers the radio on. Idempotent.
	Activate(ctx context.Context) error
	// IsConnected reports whether the link is associated and has an
	// address. It must return promptly.
	IsConnected() bool
	// Connect requests association. It may return before association
	// completes; callers poll IsConnected.
	Connect(ctx context.Context, ssid, password string) error
	// Address is the link's current address, or "" if none.
	Address() string
}

// Session tracks the link for the life of one boot.
type Session struct {
	radio  Radio
	cfg    config.WiFiConfig
	wd     *watchdog.Discipline
	logger *slog.Logger

	state State
}

// NewSession creates a Session in the Disconnected state.
func NewSession(radio Radio, cfg config.WiFiConfig, wd *watchdog.Discipline, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		radio:  radio,
		cfg:    cfg,
		wd:     wd,
		logger: logger,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	return s.state
}

// EnsureConnected returns once the link is up. If the radio already
// reports a connection it returns immediately without touching the
// radio. Otherwise it activates the radio, requests association and
// polls until the link comes up, re-issuing the request every
// ReassociateAfter. There is no attempt cap: without a link the device
// has nothing else to do.
//
// The only error is ctx.Err() when the operator interrupts the wait.
func (s *Session) EnsureConnected(ctx context.Context) error {
	if s.radio.IsConnected() {
		s.state = Connected
		return nil
	}

	s.state = Connecting
	s.logger.Info("connecting to wifi", "ssid", s.cfg.SSID)

	s.wd.Feed()
	if err := s.radio.Activate(ctx); err != nil {
		s.logger.Warn("wifi radio activation failed", "error", err)
	}

	start := s.wd.Now()
	requested := s.request(ctx)
	polls := 0

	for !s.radio.IsConnected() {
		if err := s.wd.Sleep(ctx, s.cfg.PollInterval); err != nil {
			s.state = Disconnected
			return err
		}
		polls++

		if s.cfg.ReassociateAfter > 0 && s.wd.Now().Sub(requested) >= s.cfg.ReassociateAfter {
			s.logger.Info("wifi still not associated, re-issuing connect",
				"ssid", s.cfg.SSID,
				"waited", s.wd.Now().Sub(start).Round(time.Millisecond),
			)
			requested = s.request(ctx)
		}
	}

	s.state = Connected
	s.logger.Info("wifi connected",
		"ssid", s.cfg.SSID,
		"address", s.radio.Address(),
		"polls", polls,
		"elapsed", s.wd.Now().Sub(start).Round(time.Millisecond),
	)
	return nil
}

// request issues an association request and returns when it was made.
func (s *Session) request(ctx context.Context) time.Time {
	s.wd.Feed()
	if err := s.radio.Connect(ctx, s.cfg.SSID, s.cfg.Password); err != nil {
		s.logger.Warn("wifi connect request failed", "ssid", s.cfg.SSID, "error", err)
	}
	s.wd.Feed()
	return s.wd.Now()
}
