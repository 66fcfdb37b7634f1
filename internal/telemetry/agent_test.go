package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nugget/wxnode/internal/broker"
	"github.com/nugget/wxnode/internal/reset"
	"github.com/nugget/wxnode/internal/sensor"
	"github.com/nugget/wxnode/internal/watchdog/watchdogtest"
)

type sensorResult struct {
	reading sensor.Reading
	err     error
}

// scriptedSensor returns results in order, repeating the last one.
type scriptedSensor struct {
	results []sensorResult
	calls   int
	onRead  func()
}

func (s *scriptedSensor) Measure() (sensor.Reading, error) {
	if s.onRead != nil {
		s.onRead()
	}
	r := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	return r.reading, r.err
}

func (s *scriptedSensor) Name() string { return "scripted" }
func (s *scriptedSensor) Close() error { return nil }

type published struct {
	topic   string
	payload string
}

type fakePublisher struct {
	err    error
	msgs   []published
	closed bool
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic, string(payload)})
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func testAgentConfig() Config {
	return Config{Topic: "/home/sensor/outdoor", Interval: 2 * time.Second}
}

func ok(t, h float64) sensorResult { return sensorResult{reading: sensor.Reading{Temperature: t, Humidity: h}} }

func fail() sensorResult {
	return sensorResult{err: &sensor.Error{Sensor: "scripted", Err: errors.New("checksum mismatch")}}
}

func TestFormatPayload(t *testing.T) {
	tests := []struct {
		in   sensor.Reading
		want string
	}{
		{sensor.Reading{Temperature: 21.5, Humidity: 47.3}, `{"temperature": 21.50, "humidity": 47.30}`},
		{sensor.Reading{Temperature: -3.456, Humidity: 100}, `{"temperature": -3.46, "humidity": 100.00}`},
		{sensor.Reading{}, `{"temperature": 0.00, "humidity": 0.00}`},
	}
	for _, tt := range tests {
		if got := string(FormatPayload(tt.in)); got != tt.want {
			t.Errorf("FormatPayload(%+v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFormatPayload_ParsesAsJSON(t *testing.T) {
	var got struct {
		Temperature float64 `json:"temperature"`
		Humidity    float64 `json:"humidity"`
	}
	if err := json.Unmarshal(FormatPayload(sensor.Reading{Temperature: 21.5, Humidity: 47.3}), &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Temperature != 21.5 || got.Humidity != 47.3 {
		t.Errorf("decoded = %+v, want 21.5/47.3", got)
	}
}

func TestCycle_Publishes(t *testing.T) {
	wd, clock, _ := watchdogtest.New()
	s := &scriptedSensor{results: []sensorResult{ok(21.5, 47.3)}}
	pub := &fakePublisher{}
	a := NewAgent(s, pub, wd, testAgentConfig(), nil)

	if err := a.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	want := published{"/home/sensor/outdoor", `{"temperature": 21.50, "humidity": 47.30}`}
	if len(pub.msgs) != 1 || pub.msgs[0] != want {
		t.Errorf("published %+v, want [%+v]", pub.msgs, want)
	}
	if got := clock.Slept(); got != 2*time.Second {
		t.Errorf("slept = %v, want the 2s cycle interval", got)
	}
	if st := a.Stats(); st.Cycles != 1 || st.Published != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestCycle_AppliesCalibration(t *testing.T) {
	wd, _, _ := watchdogtest.New()
	s := &scriptedSensor{results: []sensorResult{ok(23.0, 47.3)}}
	pub := &fakePublisher{}
	cfg := testAgentConfig()
	cfg.CalibrationOffset = 1.5
	a := NewAgent(s, pub, wd, cfg, nil)

	if err := a.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].payload != `{"temperature": 21.50, "humidity": 47.30}` {
		t.Errorf("published %+v", pub.msgs)
	}
}

func TestCycle_SensorFailureSkipsPublish(t *testing.T) {
	wd, _, feeder := watchdogtest.New()
	feedsAtRead := -1
	s := &scriptedSensor{
		results: []sensorResult{fail()},
		onRead:  func() { feedsAtRead = feeder.Count() },
	}
	pub := &fakePublisher{}
	a := NewAgent(s, pub, wd, testAgentConfig(), nil)

	if err := a.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v, want nil for a sensor failure", err)
	}
	if len(pub.msgs) != 0 {
		t.Errorf("published %+v after a sensor failure", pub.msgs)
	}
	if feedsAtRead < 1 {
		t.Errorf("feeds before read = %d, want at least 1", feedsAtRead)
	}
	if feeder.Count() <= feedsAtRead {
		t.Errorf("no feed after the failed read (before %d, total %d)", feedsAtRead, feeder.Count())
	}
	if st := a.Stats(); st.SensorFailures != 1 || st.Published != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestCycle_RecoversAfterSensorFailure(t *testing.T) {
	wd, _, _ := watchdogtest.New()
	s := &scriptedSensor{results: []sensorResult{ok(20, 50), fail(), ok(21.5, 47.3)}}
	pub := &fakePublisher{}
	a := NewAgent(s, pub, wd, testAgentConfig(), nil)

	for i := range 3 {
		if err := a.Cycle(context.Background()); err != nil {
			t.Fatalf("cycle %d error = %v", i, err)
		}
	}

	want := []string{
		`{"temperature": 20.00, "humidity": 50.00}`,
		`{"temperature": 21.50, "humidity": 47.30}`,
	}
	if len(pub.msgs) != len(want) {
		t.Fatalf("published %d messages, want %d: %+v", len(pub.msgs), len(want), pub.msgs)
	}
	for i := range want {
		if pub.msgs[i].payload != want[i] {
			t.Errorf("message %d = %s, want %s", i, pub.msgs[i].payload, want[i])
		}
	}
}

func TestCycle_DroppedPublishIsRecoverable(t *testing.T) {
	wd, _, _ := watchdogtest.New()
	s := &scriptedSensor{results: []sensorResult{ok(21.5, 47.3)}}
	pub := &fakePublisher{err: &broker.PublishError{Topic: "/home/sensor/outdoor", Err: errors.New("broken pipe")}}
	a := NewAgent(s, pub, wd, testAgentConfig(), nil)

	if err := a.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() error = %v, want nil for a dropped publish", err)
	}
	if st := a.Stats(); st.Dropped != 1 {
		t.Errorf("Stats().Dropped = %d, want 1", st.Dropped)
	}
}

func TestRun_EscalationStopsTheLoop(t *testing.T) {
	wd, _, _ := watchdogtest.New()
	s := &scriptedSensor{results: []sensorResult{ok(21.5, 47.3)}}
	pub := &fakePublisher{err: reset.Escalate("broker unreachable", errors.New("refused"))}
	a := NewAgent(s, pub, wd, testAgentConfig(), nil)

	err := a.Run(context.Background())
	if !reset.IsEscalation(err) {
		t.Fatalf("Run() error = %v, want escalation", err)
	}
	if s.calls != 1 {
		t.Errorf("sensor reads = %d, want 1 (nothing runs after an escalation)", s.calls)
	}
	if pub.closed {
		t.Error("session closed on escalation")
	}
}

func TestRun_InterruptClosesSession(t *testing.T) {
	wd, clock, _ := watchdogtest.New()
	s := &scriptedSensor{results: []sensorResult{ok(21.5, 47.3)}}
	pub := &fakePublisher{}
	a := NewAgent(s, pub, wd, testAgentConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := clock.Now()
	clock.OnSleep(func(now time.Time) {
		if now.Sub(start) >= 9*time.Second {
			cancel()
		}
	})

	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v, want nil on interrupt", err)
	}
	if !pub.closed {
		t.Error("session not closed on interrupt")
	}
	if got := len(pub.msgs); got != 5 {
		t.Errorf("published %d readings in 9s of 2s cycles, want 5", got)
	}
}
