// Package gpio provides PIR sensor reading with hardware abstraction.
// The real implementations use the Linux GPIO character device (gpiocdev)
// or periph.io. The fake implementation allows testing without hardware.
package gpio

import "fmt"

// Reader reads the PIR output level.
type Reader interface {
	// Read returns true when the sensor output is HIGH (motion).
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// DefaultPin is the BCM pin the PIR output is wired to.
const DefaultPin = 23

// Backend names accepted by NewReader.
const (
	BackendCdev   = "cdev"
	BackendPeriph = "periph"
)

// NewReader opens pin using the named backend.
func NewReader(backend string, pin int) (Reader, error) {
	switch backend {
	case BackendCdev, "":
		r, err := NewRealReader(pin)
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendPeriph:
		r, err := NewPeriphReader(pin)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", backend)
	}
}
