// Package sensor reads temperature and humidity.
package sensor

import (
	"fmt"

	"github.com/nugget/wxnode/internal/config"
)

// Reading is one temperature/humidity sample. It belongs to the cycle
// that produced it and is never carried into the next.
type Reading struct {
	Temperature float64 // degrees Celsius
	Humidity    float64 // percent relative humidity
}

// Calibrated returns r with offset subtracted from the temperature.
// Humidity is passed through unchanged.
func (r Reading) Calibrated(offset float64) Reading {
	r.Temperature -= offset
	return r
}

// Sensor is a temperature/humidity source.
type Sensor interface {
	// Measure takes one reading. Failures are returned as *Error.
	Measure() (Reading, error)
	Name() string
	Close() error
}

// Error is a failed measurement. It never affects broker or network
// state; the cycle that hit it simply publishes nothing.
type Error struct {
	Sensor string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sensor %s: %v", e.Sensor, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Open returns the sensor selected by cfg.
func Open(cfg config.SensorConfig) (Sensor, error) {
	switch cfg.Driver {
	case config.SensorDHT22:
		return NewDHT22(cfg.Pin)
	case config.SensorSimulated:
		return NewSimulated(nil), nil
	default:
		return nil, fmt.Errorf("unknown sensor driver %q", cfg.Driver)
	}
}
