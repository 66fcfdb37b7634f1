// Package indicator drives the activity LED. The LED is lit while the
// device is idle and connected, and dark while a publish is in flight,
// so a stuck publish is visible from across the room.
package indicator

import (
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Indicator is a single on/off light.
type Indicator interface {
	Set(on bool)
}

// Nop is an Indicator with no hardware behind it.
type Nop struct{}

func (Nop) Set(bool) {}

// LED is a GPIO-driven LED.
type LED struct {
	pin       gpio.PinIO
	activeLow bool
	logger    *slog.Logger
}

// OpenLED initializes the periph host drivers and claims the named pin
// (for example "GPIO17"). The LED starts off.
func OpenLED(name string, activeLow bool, logger *slog.Logger) (*LED, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init gpio host: %w", err)
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}

	l := &LED{pin: pin, activeLow: activeLow, logger: logger}
	if err := pin.Out(l.level(false)); err != nil {
		return nil, fmt.Errorf("configure %s as output: %w", name, err)
	}
	return l, nil
}

// Set turns the LED on or off. A failed write is logged; the LED is
// cosmetic and never interrupts telemetry.
func (l *LED) Set(on bool) {
	if err := l.pin.Out(l.level(on)); err != nil {
		l.logger.Warn("indicator write failed", "pin", l.pin.Name(), "error", err)
	}
}

func (l *LED) level(on bool) gpio.Level {
	if l.activeLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}

// Open returns an LED on pin, or Nop when pin is empty.
func Open(pin string, activeLow bool, logger *slog.Logger) (Indicator, error) {
	if pin == "" {
		return Nop{}, nil
	}
	return OpenLED(pin, activeLow, logger)
}
