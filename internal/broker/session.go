// Package broker owns the MQTT broker session.
//
// A [Session] holds at most one live connection handle. [Session.Connect]
// makes a bounded number of attempts with a watchdog-fed cooldown after
// each failure; running out of attempts is not an error the device can
// recover from in place, so it returns a [*reset.Escalation] and the
// caller resets. [Session.Publish] never retries a message: a failed
// publish drops the reading, replaces the connection once through
// [Session.Reconnect], and reports a recoverable [*PublishError].
//
// The wire protocol lives behind [Transport]. Two implementations are
// provided: [PahoV5] over eclipse/paho.golang and [PahoV311] over
// eclipse/paho.mqtt.golang, both with their own reconnection logic
// switched off so this package alone decides when to reconnect.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/wxnode/internal/config"
	"github.com/nugget/wxnode/internal/indicator"
	"github.com/nugget/wxnode/internal/reset"
	"github.com/nugget/wxnode/internal/watchdog"
)

// State is the broker session's connection state.
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

// Transport opens broker connections.
type Transport interface {
	// Connect opens a connection and completes the MQTT handshake. It
	// must give up when ctx is done.
	Connect(ctx context.Context, clientID, host string, port int) (Conn, error)
}

// Conn is one live broker connection.
type Conn interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Disconnect releases the connection. Callers replacing a broken
	// connection ignore its error.
	Disconnect() error
}

// ErrNotConnected is returned for a publish attempted with no handle.
var ErrNotConnected = errors.New("not connected")

// TransportError is a failure reported by the transport.
type TransportError struct {
	Op  string // connect, publish or disconnect
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PublishError reports a dropped message after which the session
// reconnected successfully. It is recoverable.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s dropped: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Session is the broker session. It is not safe for concurrent use.
type Session struct {
	transport Transport
	cfg       config.BrokerConfig
	clientID  string
	wd        *watchdog.Discipline
	led       indicator.Indicator
	logger    *slog.Logger

	conn       Conn
	state      State
	reconnects int
}

// NewSession creates a Session in the Disconnected state. A nil led
// disables the activity indicator.
func NewSession(transport Transport, cfg config.BrokerConfig, clientID string, wd *watchdog.Discipline, led indicator.Indicator, logger *slog.Logger) *Session {
	if led == nil {
		led = indicator.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		transport: transport,
		cfg:       cfg,
		clientID:  clientID,
		wd:        wd,
		led:       led,
		logger:    logger,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	return s.state
}

// Reconnects returns how many times the session has been re-established
// after a failed publish.
func (s *Session) Reconnects() int {
	return s.reconnects
}

// Connect establishes the session. The network must already be up.
//
// Up to ConnectAttempts attempts are made, each bounded by
// ConnectTimeout; every failure is followed by a Cooldown wait that
// keeps the watchdog fed. When the last attempt fails the session is
// Faulted and Connect returns a [*reset.Escalation]: the caller must
// reset the device and run nothing else. Cancelling ctx abandons the
// attempt and returns ctx.Err() instead.
func (s *Session) Connect(ctx context.Context) error {
	s.release()
	s.state = Connecting

	addr := s.cfg.Address()
	var lastErr error
	for attempt := 1; attempt <= s.cfg.ConnectAttempts; attempt++ {
		conn, err := s.dial(ctx)
		if err == nil {
			s.conn = conn
			s.state = Connected
			s.led.Set(true)
			s.logger.Info("connected to broker",
				"broker", addr,
				"client_id", s.clientID,
				"attempt", attempt,
			)
			return nil
		}
		if ctx.Err() != nil {
			s.state = Disconnected
			return ctx.Err()
		}

		lastErr = err
		s.logger.Warn("broker connect failed",
			"broker", addr,
			"attempt", attempt,
			"max_attempts", s.cfg.ConnectAttempts,
			"cooldown", s.cfg.Cooldown,
			"error", err,
		)
		if err := s.wd.Sleep(ctx, s.cfg.Cooldown); err != nil {
			s.state = Disconnected
			return err
		}
	}

	s.state = Faulted
	s.led.Set(false)
	s.logger.Error("broker unreachable, reset required",
		"broker", addr,
		"attempts", s.cfg.ConnectAttempts,
		"error", lastErr,
	)
	return reset.Escalate(fmt.Sprintf("broker %s unreachable after %d attempts", addr, s.cfg.ConnectAttempts), lastErr)
}

// dial makes one connect attempt bounded by ConnectTimeout.
func (s *Session) dial(ctx context.Context) (Conn, error) {
	s.wd.Feed()
	defer s.wd.Feed()

	dctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	conn, err := s.transport.Connect(dctx, s.clientID, s.cfg.Host, s.cfg.Port)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}
	return conn, nil
}

// Reconnect drops the current handle, ignoring any disconnect error,
// and runs [Session.Connect]. On nil return a fresh handle is held;
// any other return is an escalation or ctx.Err().
func (s *Session) Reconnect(ctx context.Context) error {
	s.reconnects++
	s.logger.Info("reconnecting to broker", "broker", s.cfg.Address(), "reconnects", s.reconnects)
	s.release()
	s.state = Disconnected
	return s.Connect(ctx)
}

// Publish sends payload to topic. There is no in-place retry: on
// failure the session reconnects exactly once and the message is
// dropped. A successful reconnect yields a [*PublishError] wrapping the
// [*TransportError]; a failed one yields the escalation.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte) error {
	err := s.send(ctx, topic, payload)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.Warn("publish failed, reconnecting", "topic", topic, "error", err)
	if rerr := s.Reconnect(ctx); rerr != nil {
		return rerr
	}
	return &PublishError{Topic: topic, Err: err}
}

func (s *Session) send(ctx context.Context, topic string, payload []byte) error {
	if s.conn == nil {
		return &TransportError{Op: "publish", Err: ErrNotConnected}
	}

	s.led.Set(false)
	s.wd.Feed()

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	err := s.conn.Publish(pctx, topic, payload)
	cancel()

	s.wd.Feed()
	s.led.Set(true)

	if err != nil {
		return &TransportError{Op: "publish", Err: err}
	}
	return nil
}

// Close disconnects the held handle for a graceful shutdown.
func (s *Session) Close() error {
	if s.conn == nil {
		s.state = Disconnected
		return nil
	}
	err := s.conn.Disconnect()
	s.conn = nil
	s.state = Disconnected
	s.led.Set(false)
	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	s.logger.Info("disconnected from broker", "broker", s.cfg.Address())
	return nil
}

// release drops the held handle, if any. Disconnect errors are
// expected here (the connection is usually already broken) and only
// logged at debug.
func (s *Session) release() {
	if s.conn == nil {
		return
	}
	s.wd.Feed()
	if err := s.conn.Disconnect(); err != nil {
		s.logger.Debug("ignoring disconnect error on stale connection", "error", err)
	}
	s.conn = nil
	s.wd.Feed()
}

// OpenTransport returns the transport for cfg.Protocol.
func OpenTransport(cfg config.BrokerConfig, logger *slog.Logger) (Transport, error) {
	switch cfg.Protocol {
	case config.ProtocolV5:
		return &PahoV5{KeepAlive: cfg.KeepAlive, QoS: byte(cfg.QoS), Logger: logger}, nil
	case config.ProtocolV311:
		return &PahoV311{KeepAlive: cfg.KeepAlive, ConnectTimeout: cfg.ConnectTimeout, QoS: byte(cfg.QoS)}, nil
	default:
		return nil, fmt.Errorf("unknown broker protocol %q", cfg.Protocol)
	}
}
