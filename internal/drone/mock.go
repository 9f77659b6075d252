package drone

import (
	"context"
	"sync"

	"github.com/banshee-data/vanishcap/internal/event"
)

// MockDriver implements Driver with configurable behavior for testing. It
// records every call and lets tests inject failures per operation.
type MockDriver struct {
	mu sync.Mutex

	// Injected failures, returned by the matching call when set.
	ConnectErr  error
	TakeoffErr  error
	LandErr     error
	SendErr     error
	TelemErr    error
	DisconnErr  error
	TelemetryAt Telemetry

	Connected    bool
	Disconnected bool
	Takeoffs     int
	Landings     int
	Sent         []event.Command
}

func (m *MockDriver) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectErr != nil {
		return driverErr("connect", m.ConnectErr)
	}
	m.Connected = true
	return nil
}

func (m *MockDriver) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Disconnected = true
	return m.DisconnErr
}

func (m *MockDriver) Takeoff() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TakeoffErr != nil {
		return driverErr("takeoff", m.TakeoffErr)
	}
	m.Takeoffs++
	return nil
}

func (m *MockDriver) Land() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LandErr != nil {
		return driverErr("land", m.LandErr)
	}
	m.Landings++
	return nil
}

func (m *MockDriver) SendVelocity(cmd event.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return driverErr("send", m.SendErr)
	}
	m.Sent = append(m.Sent, cmd)
	return nil
}

func (m *MockDriver) Telemetry() (Telemetry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TelemErr != nil {
		return Telemetry{}, driverErr("telemetry", m.TelemErr)
	}
	return m.TelemetryAt, nil
}

// LastSent returns the most recently forwarded command.
func (m *MockDriver) LastSent() (event.Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return event.Command{}, false
	}
	return m.Sent[len(m.Sent)-1], true
}
