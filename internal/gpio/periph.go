//go:build linux

package gpio

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphReader reads the PIR pin through periph.io. Useful on kernels or
// images where the character device is not exposed.
type PeriphReader struct {
	pin gpio.PinIO
}

// NewPeriphReader initialises the periph host drivers and configures the
// BCM pin as an input with pull-down.
func NewPeriphReader(pin int) (*PeriphReader, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if p == nil {
		return nil, fmt.Errorf("gpio pin GPIO%d not found", pin)
	}
	if err := p.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure GPIO%d as input: %w", pin, err)
	}
	return &PeriphReader{pin: p}, nil
}

// Read returns true when the pin reads HIGH.
func (r *PeriphReader) Read() (bool, error) {
	return r.pin.Read() == gpio.High, nil
}

// Close halts the pin.
func (r *PeriphReader) Close() error {
	if err := r.pin.Halt(); err != nil {
		return fmt.Errorf("halt %s: %w", r.pin.Name(), err)
	}
	return nil
}
