package sensor

import (
	"fmt"

	"github.com/MichaelS11/go-dht"
)

// DHT22 is an AM2302/DHT22 on a single GPIO line, bit-banged through
// periph by go-dht.
type DHT22 struct {
	pin string
	dev *dht.DHT
}

// NewDHT22 initializes the host GPIO drivers and binds the sensor to
// pin (a periph pin name such as "GPIO4").
func NewDHT22(pin string) (*DHT22, error) {
	if err := dht.HostInit(); err != nil {
		return nil, fmt.Errorf("init gpio host: %w", err)
	}

	dev, err := dht.NewDHT(pin, dht.Celsius, "dht22")
	if err != nil {
		return nil, fmt.Errorf("open dht22 on %s: %w", pin, err)
	}
	return &DHT22{pin: pin, dev: dev}, nil
}

func (d *DHT22) Name() string {
	return "DHT22"
}

// Measure takes a single reading. There is deliberately no retry here:
// go-dht's ReadRetry can hold the line for many seconds, and a failed
// read costs only this cycle's sample.
func (d *DHT22) Measure() (Reading, error) {
	humidity, temperature, err := d.dev.Read()
	if err != nil {
		return Reading{}, &Error{Sensor: d.Name(), Err: err}
	}
	return Reading{Temperature: temperature, Humidity: humidity}, nil
}

func (d *DHT22) Close() error {
	return nil
}
