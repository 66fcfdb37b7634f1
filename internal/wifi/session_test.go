package wifi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nugget/wxnode/internal/config"
	"github.com/nugget/wxnode/internal/watchdog/watchdogtest"
)

// fakeRadio comes up once the virtual clock reaches upAt.
type fakeRadio struct {
	clock *watchdogtest.Clock
	upAt  time.Time
	never bool

	activateErr error
	connectErrs []error

	activations int
	connects    int
	checks      int
}

func (r *fakeRadio) Activate(context.Context) error {
	r.activations++
	return r.activateErr
}

func (r *fakeRadio) Connect(_ context.Context, ssid, password string) error {
	r.connects++
	if len(r.connectErrs) > 0 {
		err := r.connectErrs[0]
		r.connectErrs = r.connectErrs[1:]
		return err
	}
	return nil
}

func (r *fakeRadio) IsConnected() bool {
	r.checks++
	return !r.never && !r.clock.Now().Before(r.upAt)
}

func (r *fakeRadio) Address() string { return "192.0.2.10" }

func testConfig() config.WiFiConfig {
	return config.WiFiConfig{
		Driver:           config.RadioNMCLI,
		SSID:             "backyard",
		Password:         "hunter2",
		PollInterval:     500 * time.Millisecond,
		ReassociateAfter: 30 * time.Second,
	}
}

func TestEnsureConnected_AlreadyConnected(t *testing.T) {
	wd, clock, feeder := watchdogtest.New()
	radio := &fakeRadio{clock: clock, upAt: clock.Now()}
	s := NewSession(radio, testConfig(), wd, nil)

	for range 3 {
		if err := s.EnsureConnected(context.Background()); err != nil {
			t.Fatalf("EnsureConnected() error = %v", err)
		}
	}

	if radio.activations != 0 || radio.connects != 0 {
		t.Errorf("activations = %d, connects = %d, want 0, 0", radio.activations, radio.connects)
	}
	if s.State() != Connected {
		t.Errorf("State() = %v, want connected", s.State())
	}
	if clock.Slept() != 0 {
		t.Errorf("slept %v on an already-connected link", clock.Slept())
	}
	if feeder.Count() != 0 {
		t.Errorf("feeds = %d, want 0", feeder.Count())
	}
}

func TestEnsureConnected_TransientFailures(t *testing.T) {
	wd, clock, feeder := watchdogtest.New()
	radio := &fakeRadio{
		clock:       clock,
		upAt:        clock.Now().Add(12 * time.Second),
		activateErr: errors.New("rfkill blocked"),
		connectErrs: []error{errors.New("no network with SSID")},
	}
	s := NewSession(radio, testConfig(), wd, nil)

	if err := s.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected() error = %v", err)
	}
	if s.State() != Connected {
		t.Errorf("State() = %v, want connected", s.State())
	}
	if radio.activations != 1 {
		t.Errorf("activations = %d, want 1", radio.activations)
	}
	if got := feeder.MaxGap(); got > wd.Interval() {
		t.Errorf("max feed gap = %v, want <= %v", got, wd.Interval())
	}
	if got := feeder.MaxGap(); got >= wd.Timeout() {
		t.Errorf("max feed gap %v reached the watchdog timeout", got)
	}
	if clock.Slept() < 12*time.Second {
		t.Errorf("slept = %v, want at least 12s", clock.Slept())
	}
}

func TestEnsureConnected_Reassociates(t *testing.T) {
	wd, clock, _ := watchdogtest.New()
	radio := &fakeRadio{clock: clock, upAt: clock.Now().Add(65 * time.Second)}
	s := NewSession(radio, testConfig(), wd, nil)

	if err := s.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected() error = %v", err)
	}

	// Initial request, then at 30s and 60s.
	if radio.connects != 3 {
		t.Errorf("connects = %d, want 3", radio.connects)
	}
}

func TestEnsureConnected_StateWhileConnecting(t *testing.T) {
	wd, clock, _ := watchdogtest.New()
	radio := &fakeRadio{clock: clock, upAt: clock.Now().Add(2 * time.Second)}
	s := NewSession(radio, testConfig(), wd, nil)

	var seen []State
	clock.OnSleep(func(time.Time) { seen = append(seen, s.State()) })

	if err := s.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected() error = %v", err)
	}
	for _, st := range seen {
		if st != Connecting {
			t.Fatalf("state during poll = %v, want connecting", st)
		}
	}
	if len(seen) == 0 {
		t.Fatal("no polls observed")
	}
}

func TestEnsureConnected_Interrupted(t *testing.T) {
	wd, clock, feeder := watchdogtest.New()
	radio := &fakeRadio{clock: clock, never: true}
	s := NewSession(radio, testConfig(), wd, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := clock.Now()
	clock.OnSleep(func(now time.Time) {
		if now.Sub(start) >= 3*time.Second {
			cancel()
		}
	})

	err := s.EnsureConnected(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("EnsureConnected() error = %v, want context.Canceled", err)
	}
	if s.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
	if got := feeder.MaxGap(); got > wd.Interval() {
		t.Errorf("max feed gap = %v, want <= %v", got, wd.Interval())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Connected, "connected"},
		{Faulted, "faulted"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
