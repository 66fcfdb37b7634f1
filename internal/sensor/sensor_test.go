package sensor

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/nugget/wxnode/internal/config"
)

func TestReading_Calibrated(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		in     Reading
		offset float64
		want   Reading
	}{
		{"zero offset", Reading{21.5, 47.3}, 0, Reading{21.5, 47.3}},
		{"positive offset lowers temperature", Reading{23.0, 50}, 1.5, Reading{21.5, 50}},
		{"negative offset raises temperature", Reading{-2.0, 90}, -0.5, Reading{-1.5, 90}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Calibrated(tt.offset)
			if math.Abs(got.Temperature-tt.want.Temperature) > 1e-9 || got.Humidity != tt.want.Humidity {
				t.Errorf("Calibrated(%v) = %+v, want %+v", tt.offset, got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("checksum mismatch")
	err := error(&Error{Sensor: "DHT22", Err: cause})

	if got := err.Error(); got != "sensor DHT22: checksum mismatch" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	var se *Error
	if !errors.As(err, &se) {
		t.Error("errors.As(*Error) = false")
	}
}

func TestSimulated_Range(t *testing.T) {
	t.Parallel()
	s := NewSimulated(rand.New(rand.NewPCG(1, 2)))

	for range 100 {
		r, err := s.Measure()
		if err != nil {
			t.Fatalf("Measure() error = %v", err)
		}
		if r.Temperature < 15 || r.Temperature > 25 {
			t.Errorf("temperature %v out of simulated range", r.Temperature)
		}
		if r.Humidity < 40 || r.Humidity > 80 {
			t.Errorf("humidity %v out of simulated range", r.Humidity)
		}
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()
	s, err := Open(config.SensorConfig{Driver: config.SensorSimulated})
	if err != nil {
		t.Fatalf("Open(simulated) error = %v", err)
	}
	if s.Name() != "simulated" {
		t.Errorf("Name() = %q, want simulated", s.Name())
	}

	if _, err := Open(config.SensorConfig{Driver: "sht31"}); err == nil {
		t.Error("Open(unknown) error = nil")
	}
}
