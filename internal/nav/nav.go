// Package nav implements the navigator worker: it tracks the best-matching
// detection of the configured target class and turns it into rate-limited
// velocity commands.
package nav

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/vanishcap/internal/event"
	"github.com/banshee-data/vanishcap/internal/worker"
)

// Options configures the navigator control loop. Every constant the loop
// uses is configuration, not code; the defaults here are the documented
// choices.
type Options struct {
	// TargetClass is the detection class to track.
	TargetClass string `yaml:"target_class"`

	// MovementThreshold is the deadband: normalized offsets below it are
	// treated as zero to suppress jitter.
	MovementThreshold float64 `yaml:"movement_threshold"`

	// FollowTargetWidth is the desired normalized target width; the
	// difference drives forward/back velocity.
	FollowTargetWidth float64 `yaml:"follow_target_width"`
	// FollowTargetHeight is the desired normalized vertical position of
	// the target center; the difference drives vertical velocity.
	FollowTargetHeight float64 `yaml:"follow_target_height"`

	// Gains scale normalized errors into command units.
	PercentAngleToCommand    float64 `yaml:"percent_angle_to_command"`
	PercentForwardToCommand  float64 `yaml:"percent_forward_to_command"`
	PercentVerticalToCommand float64 `yaml:"percent_vertical_to_command"`

	// Per-axis command limits; every emitted command is clamped to them.
	MaxLinearVelocity   float64 `yaml:"max_linear_velocity"`
	MaxVerticalVelocity float64 `yaml:"max_vertical_velocity"`
	MaxAngularVelocity  float64 `yaml:"max_angular_velocity"`

	// MissThreshold is how many consecutive detection events without the
	// target class switch the navigator to searching.
	MissThreshold int `yaml:"miss_threshold"`
	// DetectionTimeoutSeconds switches to searching when the detection
	// stream itself goes quiet.
	DetectionTimeoutSeconds float64 `yaml:"detection_timeout_seconds"`

	// SearchYaw is the search sweep's yaw velocity as a fraction of
	// MaxAngularVelocity.
	SearchYaw float64 `yaml:"search_yaw"`
	// SearchSweepSeconds is how long to sweep one way before reversing.
	SearchSweepSeconds float64 `yaml:"search_sweep_seconds"`

	// DelayBetweenTimedYaws is the minimum interval, in seconds, between
	// yaw-only commands, so the vehicle cannot over-rotate between
	// frames.
	DelayBetweenTimedYaws float64 `yaml:"delay_between_timed_yaws"`
}

func (o *Options) applyDefaults() {
	if o.MovementThreshold <= 0 {
		o.MovementThreshold = 0.1
	}
	if o.FollowTargetWidth <= 0 {
		o.FollowTargetWidth = 0.25
	}
	if o.FollowTargetHeight <= 0 {
		o.FollowTargetHeight = 0.5
	}
	if o.PercentAngleToCommand <= 0 {
		o.PercentAngleToCommand = 1.0
	}
	if o.PercentForwardToCommand <= 0 {
		o.PercentForwardToCommand = 1.0
	}
	if o.PercentVerticalToCommand <= 0 {
		o.PercentVerticalToCommand = 1.0
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
	if o.MissThreshold <= 0 {
		o.MissThreshold = 5
	}
	if o.DetectionTimeoutSeconds <= 0 {
		o.DetectionTimeoutSeconds = 1.0
	}
	if o.SearchYaw <= 0 {
		o.SearchYaw = 0.3
	}
	if o.SearchSweepSeconds <= 0 {
		o.SearchSweepSeconds = 2.0
	}
	if o.DelayBetweenTimedYaws <= 0 {
		o.DelayBetweenTimedYaws = 0.25
	}
}

// Task is the navigator. State: the last tracked target and whether we are
// acquired or searching.
type Task struct {
	env  worker.Env
	opts Options

	searching  bool
	misses     int
	lastTarget *event.Detection

	lastDetectionAt time.Time
	lastYawAt       time.Time
	searchDir       float64
	lastSweepFlip   time.Time

	// now is replaceable for tests.
	now func() time.Time
}

// New builds the navigator task from configuration.
func New(env worker.Env, dec worker.OptionDecoder) (worker.Task, error) {
	t := &Task{env: env, searchDir: 1, now: time.Now}
	if _, err := dec.Decode(&t.opts); err != nil {
		return nil, err
	}
	if t.opts.TargetClass == "" {
		return nil, fmt.Errorf("navigator worker needs a target_class")
	}
	t.opts.applyDefaults()
	return t, nil
}

// CoalesceEvents keeps only the newest detection set in the queue.
func (t *Task) CoalesceEvents() []string { return []string{event.DetectionEvent} }

// Start begins in the searching state: no target until the detector says so.
func (t *Task) Start(ctx context.Context) error {
	t.searching = true
	t.lastDetectionAt = t.now()
	t.env.Log.Infof("tracking class %q", t.opts.TargetClass)
	return nil
}

// OnEvent consumes one detection event.
func (t *Task) OnEvent(ev event.Event) error {
	if ev.Name != event.DetectionEvent {
		t.env.Log.Debugf("ignoring event %s:%s", ev.Producer, ev.Name)
		return nil
	}
	dets, ok := ev.Payload.(event.Detections)
	if !ok {
		// Malformed payload skips the frame, never fails the worker.
		t.env.Log.Errorf("detection event with %T payload, skipping", ev.Payload)
		return nil
	}
	for _, d := range dets.Items {
		if err := d.Validate(); err != nil {
			t.env.Log.Errorf("frame %d: %v, skipping", dets.FrameSeq, err)
			return nil
		}
	}
	t.lastDetectionAt = t.now()

	target, found := t.pickTarget(dets.Items)
	if !found {
		t.misses++
		if !t.searching && t.misses >= t.opts.MissThreshold {
			t.env.Log.Warnf("target lost after %d misses, searching", t.misses)
			t.enterSearch()
		}
		if t.searching {
			t.emitSearch()
		}
		return nil
	}

	t.misses = 0
	if t.searching {
		t.env.Log.Infof("target acquired (confidence %.2f)", target.Confidence)
		t.searching = false
	}
	t.lastTarget = &target
	t.env.Emit(event.New(t.env.Name, event.TargetEvent, target).WithFrame(dets.FrameSeq))

	cmd := t.command(target)
	t.emitCommand(cmd, dets.FrameSeq)
	return nil
}

// Step watches for the detection stream going quiet; losing the stream is
// handled exactly like a miss run.
func (t *Task) Step(ctx context.Context) error {
	timeout := time.Duration(t.opts.DetectionTimeoutSeconds * float64(time.Second))
	if t.now().Sub(t.lastDetectionAt) < timeout {
		return nil
	}
	if !t.searching {
		t.env.Log.Warnf("no detections for %s, searching", timeout)
		t.enterSearch()
	}
	t.emitSearch()
	return nil
}

// Stop clears tracking state.
func (t *Task) Stop() error {
	t.lastTarget = nil
	return nil
}

func (t *Task) enterSearch() {
	t.searching = true
	t.lastTarget = nil
	t.lastSweepFlip = t.now()
}

// pickTarget filters to the target class and picks the highest-confidence
// detection, breaking ties toward the larger (closer) box.
func (t *Task) pickTarget(items []event.Detection) (event.Detection, bool) {
	var best event.Detection
	found := false
	for _, d := range items {
		if d.Class != t.opts.TargetClass {
			continue
		}
		if !found || d.Confidence > best.Confidence ||
			(d.Confidence == best.Confidence && d.Box.Area() > best.Box.Area()) {
			best = d
			found = true
		}
	}
	return best, found
}

// deadband zeroes offsets whose magnitude is below the movement threshold.
func (t *Task) deadband(v float64) float64 {
	if math.Abs(v) < t.opts.MovementThreshold {
		return 0
	}
	return v
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

// command turns one tracked detection into a velocity command: horizontal
// offset drives yaw, size error drives forward/back, vertical offset drives
// up/down. Each error passes the deadband, is scaled by its gain, and is
// clamped to its axis limit.
func (t *Task) command(d event.Detection) event.Command {
	cx, cy := d.Box.Center()

	// Offsets from frame center, normalized to [-1, 1].
	offX := t.deadband(2*cx - 1)
	offY := t.deadband(2 * (cy - t.opts.FollowTargetHeight))

	// Size error relative to the desired width: positive means too close.
	sizeErr := t.deadband((d.Box.Width() - t.opts.FollowTargetWidth) / t.opts.FollowTargetWidth)

	return event.Command{
		Yaw: clamp(offX*t.opts.PercentAngleToCommand*t.opts.MaxAngularVelocity, t.opts.MaxAngularVelocity),
		Y:   clamp(-sizeErr*t.opts.PercentForwardToCommand*t.opts.MaxLinearVelocity, t.opts.MaxLinearVelocity),
		// Image y grows downward: a target below center means descend.
		Z: clamp(-offY*t.opts.PercentVerticalToCommand*t.opts.MaxVerticalVelocity, t.opts.MaxVerticalVelocity),
	}
}

// emitCommand publishes cmd unless it is a yaw-only command inside the
// minimum inter-yaw interval.
func (t *Task) emitCommand(cmd event.Command, frameSeq int64) {
	if cmd.YawOnly() {
		delay := time.Duration(t.opts.DelayBetweenTimedYaws * float64(time.Second))
		if t.now().Sub(t.lastYawAt) < delay {
			t.env.Log.Debugf("suppressing yaw-only command inside %s pacing window", delay)
			return
		}
	}
	if cmd.Yaw != 0 {
		t.lastYawAt = t.now()
	}
	t.env.Emit(event.New(t.env.Name, event.CommandEvent, cmd).WithFrame(frameSeq))
	t.env.Log.Debugf("command x=%.2f y=%.2f z=%.2f yaw=%.2f", cmd.X, cmd.Y, cmd.Z, cmd.Yaw)
}

// emitSearch publishes the slow scan sweep, reversing direction each sweep
// period. It is yaw-only, so the pacing interval applies.
func (t *Task) emitSearch() {
	sweep := time.Duration(t.opts.SearchSweepSeconds * float64(time.Second))
	if t.now().Sub(t.lastSweepFlip) >= sweep {
		t.searchDir = -t.searchDir
		t.lastSweepFlip = t.now()
	}
	cmd := event.Command{Yaw: t.searchDir * t.opts.SearchYaw * t.opts.MaxAngularVelocity}
	t.emitCommand(cmd, 0)
}
