package drone

import (
	"context"
	"fmt"

	"github.com/banshee-data/vanishcap/internal/event"
)

// Driver is the actuator collaborator. Implementations talk to real
// hardware; the worker only clamps, gates, and forwards.
type Driver interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Takeoff() error
	Land() error
	SendVelocity(cmd event.Command) error
	Telemetry() (Telemetry, error)
}

// Telemetry is the driver-reported vehicle state.
type Telemetry struct {
	Battery int     `json:"battery"` // percent
	Height  float64 `json:"height"`  // meters
	Flying  bool    `json:"flying"`
}

// DriverError wraps an actuator or link failure. Any DriverError fails the
// drone worker; the controller's teardown then attempts a safe landing.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

func driverErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DriverError{Op: op, Err: err}
}
