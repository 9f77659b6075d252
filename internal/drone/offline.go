package drone

import (
	"context"

	"github.com/banshee-data/vanishcap/internal/event"
	"github.com/banshee-data/vanishcap/internal/monitoring"
)

// offlineDriver logs every call instead of touching hardware. It backs
// offline mode and demos without a vehicle.
type offlineDriver struct {
	log    *monitoring.Logger
	flying bool
}

func newOfflineDriver(log *monitoring.Logger) *offlineDriver {
	return &offlineDriver{log: log}
}

func (d *offlineDriver) Connect(ctx context.Context) error {
	d.log.Infof("would connect to vehicle")
	return nil
}

func (d *offlineDriver) Disconnect() error {
	d.log.Infof("would disconnect")
	return nil
}

func (d *offlineDriver) Takeoff() error {
	d.log.Warnf("would take off")
	d.flying = true
	return nil
}

func (d *offlineDriver) Land() error {
	d.log.Warnf("would land")
	d.flying = false
	return nil
}

func (d *offlineDriver) SendVelocity(cmd event.Command) error {
	d.log.Debugf("would send velocity x=%.2f y=%.2f z=%.2f yaw=%.2f", cmd.X, cmd.Y, cmd.Z, cmd.Yaw)
	return nil
}

func (d *offlineDriver) Telemetry() (Telemetry, error) {
	return Telemetry{Battery: 100, Flying: d.flying}, nil
}
