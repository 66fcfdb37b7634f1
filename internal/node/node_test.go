package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nugget/wxnode/internal/broker"
	"github.com/nugget/wxnode/internal/config"
	"github.com/nugget/wxnode/internal/reset"
	"github.com/nugget/wxnode/internal/sensor"
	"github.com/nugget/wxnode/internal/telemetry"
	"github.com/nugget/wxnode/internal/watchdog/watchdogtest"
	"github.com/nugget/wxnode/internal/wifi"
)

// radio associates after a number of polls.
type radio struct {
	upAfter  int
	checks   int
	connects int
}

func (r *radio) Activate(context.Context) error { return nil }

func (r *radio) Connect(context.Context, string, string) error {
	r.connects++
	return nil
}

func (r *radio) IsConnected() bool {
	r.checks++
	return r.checks > r.upAfter
}

func (r *radio) Address() string { return "192.0.2.10" }

type conn struct{ published int }

func (c *conn) Publish(context.Context, string, []byte) error {
	c.published++
	return nil
}

func (c *conn) Disconnect() error { return nil }

type transport struct {
	down     bool
	attempts int
	conn     conn
}

func (t *transport) Connect(context.Context, string, string, int) (broker.Conn, error) {
	t.attempts++
	if t.down {
		return nil, errors.New("connection refused")
	}
	return &t.conn, nil
}

type countingSensor struct{ reads int }

func (s *countingSensor) Measure() (sensor.Reading, error) {
	s.reads++
	return sensor.Reading{Temperature: 21.5, Humidity: 47.3}, nil
}

func (s *countingSensor) Name() string { return "counting" }
func (s *countingSensor) Close() error { return nil }

type resetter struct{ reasons []string }

func (r *resetter) Reset(reason string) { r.reasons = append(r.reasons, reason) }

type recorder struct{ reasons []string }

func (r *recorder) RecordReset(reason string) error {
	r.reasons = append(r.reasons, reason)
	return nil
}

type boot struct {
	node      *Node
	radio     *radio
	transport *transport
	sensor    *countingSensor
	wifi      *wifi.Session
	broker    *broker.Session
	clock     *watchdogtest.Clock
	feeder    *watchdogtest.Feeder
}

// newBoot assembles a device from scratch, as a reset would.
func newBoot(t *testing.T, tr *transport, rs reset.Resetter, rec ResetRecorder) *boot {
	t.Helper()
	wd, clock, feeder := watchdogtest.New()

	rad := &radio{upAfter: 4}
	ws := wifi.NewSession(rad, config.WiFiConfig{
		SSID:             "backyard",
		PollInterval:     500 * time.Millisecond,
		ReassociateAfter: 30 * time.Second,
	}, wd, nil)

	bs := broker.NewSession(tr, config.BrokerConfig{
		Host:            "broker.local",
		Port:            1883,
		ConnectAttempts: 3,
		Cooldown:        5 * time.Second,
		ConnectTimeout:  5 * time.Second,
		PublishTimeout:  2 * time.Second,
	}, "wxnode-test", wd, nil, nil)

	s := &countingSensor{}
	agent := telemetry.NewAgent(s, bs, wd, telemetry.Config{
		Topic:    "/home/sensor/outdoor",
		Interval: 2 * time.Second,
	}, nil)

	return &boot{
		node: New(Config{
			Network:   ws,
			Broker:    bs,
			Telemetry: agent,
			Resetter:  rs,
			Recorder:  rec,
		}),
		radio:     rad,
		transport: tr,
		sensor:    s,
		wifi:      ws,
		broker:    bs,
		clock:     clock,
		feeder:    feeder,
	}
}

func TestRun_BrokerUnreachableResetsOnce(t *testing.T) {
	rs := &resetter{}
	rec := &recorder{}
	b := newBoot(t, &transport{down: true}, rs, rec)

	err := b.node.Run(context.Background())

	if !reset.IsEscalation(err) {
		t.Fatalf("Run() error = %v, want escalation", err)
	}
	if len(rs.reasons) != 1 {
		t.Fatalf("resets = %d, want exactly 1", len(rs.reasons))
	}
	if len(rec.reasons) != 1 || rec.reasons[0] != rs.reasons[0] {
		t.Errorf("recorded reasons = %q, want %q", rec.reasons, rs.reasons)
	}
	if b.transport.attempts != 3 {
		t.Errorf("connect attempts = %d, want 3", b.transport.attempts)
	}
	if b.sensor.reads != 0 {
		t.Errorf("sensor read %d times after escalation", b.sensor.reads)
	}
	if got := b.feeder.MaxGap(); got >= b.feeder.Timeout() {
		t.Errorf("max feed gap %v reached the watchdog timeout", got)
	}
}

func TestRun_FreshBootStartsFromDisconnected(t *testing.T) {
	rs := &resetter{}
	tr := &transport{down: true}
	first := newBoot(t, tr, rs, nil)
	if err := first.node.Run(context.Background()); !reset.IsEscalation(err) {
		t.Fatalf("first boot error = %v, want escalation", err)
	}

	// The broker comes back while the device reboots.
	tr.down = false
	second := newBoot(t, tr, rs, nil)

	if second.wifi.State() != wifi.Disconnected || second.broker.State() != broker.Disconnected {
		t.Fatalf("fresh boot states = %v/%v, want disconnected/disconnected",
			second.wifi.State(), second.broker.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	second.clock.OnSleep(func(time.Time) {
		if second.sensor.reads >= 3 {
			cancel()
		}
	})

	if err := second.node.Run(ctx); err != nil {
		t.Fatalf("second boot Run() error = %v, want nil after interrupt", err)
	}
	if second.radio.connects != 1 {
		t.Errorf("wifi connect requests = %d, want 1", second.radio.connects)
	}
	if tr.conn.published != 3 {
		t.Errorf("published = %d, want 3", tr.conn.published)
	}
	if len(rs.reasons) != 1 {
		t.Errorf("resets = %d, want 1 (from the first boot only)", len(rs.reasons))
	}
	if second.broker.State() != broker.Disconnected {
		t.Errorf("broker state after interrupt = %v, want disconnected", second.broker.State())
	}
	if got := second.feeder.MaxGap(); got > 500*time.Millisecond {
		t.Errorf("max feed gap = %v, want <= 500ms", got)
	}
}

func TestRun_InterruptDuringNetwork(t *testing.T) {
	rs := &resetter{}
	b := newBoot(t, &transport{}, rs, nil)
	b.radio.upAfter = 1 << 30

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.clock.OnSleep(func(time.Time) { cancel() })

	if err := b.node.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v, want nil after interrupt", err)
	}
	if len(rs.reasons) != 0 {
		t.Errorf("resets = %d after an interrupt, want 0", len(rs.reasons))
	}
	if b.transport.attempts != 0 {
		t.Errorf("broker attempts = %d before the network was up", b.transport.attempts)
	}
}
