// Package drone implements the actuator worker: it gates and clamps
// navigator commands and forwards them to a flight driver.
package drone

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/vanishcap/internal/event"
	"github.com/banshee-data/vanishcap/internal/worker"
)

// Options configures the drone worker.
type Options struct {
	// Driver selects the actuator backend: "offline" or "serial".
	Driver string `yaml:"driver"`
	Port   string `yaml:"port"`
	Baud   int    `yaml:"baud"`

	// AutoTakeoff takes off as soon as the worker starts instead of
	// waiting for the first acquired target.
	AutoTakeoff bool `yaml:"auto_takeoff"`

	// Disable flags zero the corresponding command axes before
	// forwarding.
	DisableYaw bool `yaml:"disable_yaw"`
	DisableXY  bool `yaml:"disable_xy"`
	DisableZ   bool `yaml:"disable_z"`

	// Per-axis driver limits; commands are clamped to them before
	// forwarding, whatever the navigator sent.
	MaxLinearVelocity   float64 `yaml:"max_linear_velocity"`
	MaxVerticalVelocity float64 `yaml:"max_vertical_velocity"`
	MaxAngularVelocity  float64 `yaml:"max_angular_velocity"`

	// TelemetryIntervalSeconds paces driver telemetry polls.
	TelemetryIntervalSeconds float64 `yaml:"telemetry_interval_seconds"`
}

// Task forwards movement commands to the driver. A driver failure is fatal
// to the worker; teardown then attempts a safe landing while the link may
// still be up.
type Task struct {
	env    worker.Env
	opts   Options
	driver Driver

	flying    bool
	connected bool
	lastPoll  time.Time
}

// New builds the drone task from configuration. The driver is selected here
// so an unknown driver name fails at configuration time, and injected
// drivers (tests) survive untouched.
func New(env worker.Env, dec worker.OptionDecoder) (worker.Task, error) {
	t := &Task{env: env}
	if _, err := dec.Decode(&t.opts); err != nil {
		return nil, err
	}
	t.opts.applyDefaults()
	if env.Offline {
		t.opts.Driver = "offline"
	}
	switch t.opts.Driver {
	case "offline":
		t.driver = newOfflineDriver(env.Log)
	case "serial":
		if t.opts.Port == "" {
			return nil, fmt.Errorf("serial driver needs a port")
		}
		t.driver = newSerialDriver(t.opts.Port, t.opts.Baud, env.Log)
	default:
		return nil, fmt.Errorf("unknown driver %q (want offline or serial)", t.opts.Driver)
	}
	return t, nil
}

// NewWithDriver builds a drone task around an injected driver. Used by
// tests and by embedders with their own hardware backends.
func NewWithDriver(env worker.Env, opts Options, driver Driver) *Task {
	opts.applyDefaults()
	return &Task{env: env, opts: opts, driver: driver}
}

func (o *Options) applyDefaults() {
	if o.Driver == "" {
		o.Driver = "offline"
	}
	if o.MaxLinearVelocity <= 0 {
		o.MaxLinearVelocity = 1.0
	}
	if o.MaxVerticalVelocity <= 0 {
		o.MaxVerticalVelocity = 1.0
	}
	if o.MaxAngularVelocity <= 0 {
		o.MaxAngularVelocity = 1.0
	}
	if o.TelemetryIntervalSeconds <= 0 {
		o.TelemetryIntervalSeconds = 1.0
	}
}

// Start connects the driver and optionally takes off immediately.
func (t *Task) Start(ctx context.Context) error {
	if err := t.driver.Connect(ctx); err != nil {
		return err
	}
	t.connected = true
	if t.opts.AutoTakeoff {
		if err := t.driver.Takeoff(); err != nil {
			return err
		}
		t.flying = true
		t.env.Log.Warnf("auto takeoff complete")
	}
	return nil
}

// OnEvent forwards movement commands and reacts to target acquisition.
func (t *Task) OnEvent(ev event.Event) error {
	switch ev.Name {
	case event.TargetEvent:
		// First acquired target lifts off unless auto_takeoff already
		// did.
		if !t.flying {
			if err := t.driver.Takeoff(); err != nil {
				return worker.Fatal(err)
			}
			t.flying = true
			t.env.Log.Warnf("target acquired, taking off")
		}
		return nil
	case event.CommandEvent:
		cmd, ok := ev.Payload.(event.Command)
		if !ok {
			return fmt.Errorf("movement command with %T payload", ev.Payload)
		}
		return t.forward(cmd)
	default:
		t.env.Log.Debugf("ignoring event %s:%s", ev.Producer, ev.Name)
		return nil
	}
}

// forward gates, clamps, and sends one command.
func (t *Task) forward(cmd event.Command) error {
	cmd = t.Gate(cmd)
	if !t.flying {
		t.env.Log.Debugf("not flying, holding command x=%.2f y=%.2f z=%.2f yaw=%.2f", cmd.X, cmd.Y, cmd.Z, cmd.Yaw)
		return nil
	}
	if err := t.driver.SendVelocity(cmd); err != nil {
		return worker.Fatal(err)
	}
	return nil
}

// Gate applies the disable flags and per-axis clamps to a command.
func (t *Task) Gate(cmd event.Command) event.Command {
	if t.opts.DisableXY {
		cmd.X, cmd.Y = 0, 0
	}
	if t.opts.DisableZ {
		cmd.Z = 0
	}
	if t.opts.DisableYaw {
		cmd.Yaw = 0
	}
	cmd.X = clamp(cmd.X, t.opts.MaxLinearVelocity)
	cmd.Y = clamp(cmd.Y, t.opts.MaxLinearVelocity)
	cmd.Z = clamp(cmd.Z, t.opts.MaxVerticalVelocity)
	cmd.Yaw = clamp(cmd.Yaw, t.opts.MaxAngularVelocity)
	return cmd
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// Step polls telemetry at the configured interval and republishes it.
func (t *Task) Step(ctx context.Context) error {
	interval := time.Duration(t.opts.TelemetryIntervalSeconds * float64(time.Second))
	if time.Since(t.lastPoll) < interval {
		return nil
	}
	t.lastPoll = time.Now()
	telem, err := t.driver.Telemetry()
	if err != nil {
		return worker.Fatal(err)
	}
	t.env.EmitEvent(event.TelemetryEvent, event.Telemetry{
		Battery: telem.Battery,
		Height:  telem.Height,
		Flying:  telem.Flying,
	})
	return nil
}

// Stop lands if still flying, then disconnects. Landing failures during
// teardown are logged by the worker, not re-raised past the disconnect.
func (t *Task) Stop() error {
	if t.driver == nil || !t.connected {
		return nil
	}
	if t.flying {
		if err := t.driver.Land(); err != nil {
			t.env.Log.Errorf("landing during teardown: %v", err)
		} else {
			t.flying = false
			t.env.Log.Warnf("landed")
		}
	}
	t.connected = false
	return t.driver.Disconnect()
}
