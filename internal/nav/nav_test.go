package nav

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vanishcap/internal/event"
	"github.com/banshee-data/vanishcap/internal/monitoring"
	"github.com/banshee-data/vanishcap/internal/worker"
)

type harness struct {
	task    *Task
	emitted []event.Event
	clock   time.Time
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	if opts.TargetClass == "" {
		opts.TargetClass = "person"
	}
	opts.applyDefaults()
	h.task = &Task{
		env: worker.Env{
			Name: "navigator",
			Log:  monitoring.NewLogger("navigator", monitoring.LevelError),
			Emit: func(ev event.Event) { h.emitted = append(h.emitted, ev) },
		},
		opts:      opts,
		searchDir: 1,
		now:       func() time.Time { return h.clock },
	}
	require.NoError(t, h.task.Start(context.Background()))
	h.emitted = nil
	return h
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func (h *harness) detections(items ...event.Detection) {
	h.advance(33 * time.Millisecond)
	ev := event.New("detector", event.DetectionEvent, event.Detections{FrameSeq: 1, Items: items})
	if err := h.task.OnEvent(ev); err != nil {
		panic(err)
	}
}

func (h *harness) commands() []event.Command {
	var out []event.Command
	for _, ev := range h.emitted {
		if ev.Name == event.CommandEvent {
			out = append(out, ev.Payload.(event.Command))
		}
	}
	return out
}

func (h *harness) targets() []event.Detection {
	var out []event.Detection
	for _, ev := range h.emitted {
		if ev.Name == event.TargetEvent {
			out = append(out, ev.Payload.(event.Detection))
		}
	}
	return out
}

// boxAt builds a box of the given width centered at (cx, cy), with height
// equal to width.
func boxAt(cx, cy, w float64) event.Box {
	return event.Box{X1: cx - w/2, Y1: cy - w/2, X2: cx + w/2, Y2: cy + w/2}
}

func person(cx, cy, w, conf float64) event.Detection {
	return event.Detection{Class: "person", Confidence: conf, Box: boxAt(cx, cy, w)}
}

func TestCenteredTargetAtFollowDistanceHolds(t *testing.T) {
	h := newHarness(t, Options{FollowTargetWidth: 0.25, FollowTargetHeight: 0.5})

	// dead center, at exactly the follow width: every axis inside the deadband
	h.detections(person(0.5, 0.5, 0.25, 0.9))

	cmds := h.commands()
	require.Len(t, cmds, 1)
	assert.True(t, cmds[0].IsZero(), "got %+v, want all-zero command", cmds[0])
	require.Len(t, h.targets(), 1)
}

func TestOffsetsInsideDeadbandAreZeroed(t *testing.T) {
	h := newHarness(t, Options{MovementThreshold: 0.1})

	// offset 2*0.52-1 = 0.04, below the 0.1 threshold
	h.detections(person(0.52, 0.5, 0.25, 0.9))

	cmds := h.commands()
	require.Len(t, cmds, 1)
	assert.True(t, cmds[0].IsZero(), "got %+v", cmds[0])
}

func TestHorizontalOffsetDrivesYaw(t *testing.T) {
	h := newHarness(t, Options{MaxAngularVelocity: 100})

	// center at 0.75: offset 0.5, yaw = 0.5 * 100
	h.detections(person(0.75, 0.5, 0.25, 0.9))

	cmds := h.commands()
	require.Len(t, cmds, 1)
	assert.InDelta(t, 50, cmds[0].Yaw, 1e-9)
	assert.Zero(t, cmds[0].Y)
	assert.Zero(t, cmds[0].Z)
}

func TestTooCloseTargetBacksOff(t *testing.T) {
	h := newHarness(t, Options{FollowTargetWidth: 0.25, MaxLinearVelocity: 40})

	// width 0.5 is twice the follow width: size error +1, back off at full speed
	h.detections(person(0.5, 0.5, 0.5, 0.9))

	cmds := h.commands()
	require.Len(t, cmds, 1)
	assert.InDelta(t, -40, cmds[0].Y, 1e-9)
}

func TestLowTargetDescends(t *testing.T) {
	h := newHarness(t, Options{MaxVerticalVelocity: 30})

	// center below the follow anchor: offY = 2*(0.8-0.5) = 0.6, descend
	h.detections(person(0.5, 0.8, 0.25, 0.9))

	cmds := h.commands()
	require.Len(t, cmds, 1)
	assert.InDelta(t, -18, cmds[0].Z, 1e-9)
}

func TestCommandsAreClamped(t *testing.T) {
	h := newHarness(t, Options{
		MaxAngularVelocity:      50,
		MaxLinearVelocity:       40,
		PercentAngleToCommand:   10,
		PercentForwardToCommand: 10,
	})

	h.detections(person(0.8, 0.5, 0.38, 0.9))

	cmds := h.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, 50.0, cmds[0].Yaw)
	assert.Equal(t, -40.0, cmds[0].Y)
}

func TestPickTargetPrefersConfidenceThenArea(t *testing.T) {
	h := newHarness(t, Options{})

	small := person(0.3, 0.5, 0.2, 0.9)
	big := person(0.7, 0.5, 0.4, 0.9)
	weak := person(0.5, 0.5, 0.6, 0.5)
	h.detections(weak, small, big)

	targets := h.targets()
	require.Len(t, targets, 1)
	assert.Equal(t, big, targets[0], "ties on confidence should pick the larger box")
}

func TestIgnoresOtherClasses(t *testing.T) {
	h := newHarness(t, Options{MissThreshold: 2})

	cat := event.Detection{Class: "cat", Confidence: 0.99, Box: boxAt(0.5, 0.5, 0.3)}
	h.detections(cat)
	assert.Empty(t, h.targets())
}

func TestMissRunEntersSearch(t *testing.T) {
	h := newHarness(t, Options{MissThreshold: 3, SearchYaw: 0.3, MaxAngularVelocity: 100})

	// acquire first
	h.detections(person(0.5, 0.5, 0.25, 0.9))
	require.Len(t, h.targets(), 1)
	h.emitted = nil

	empty := event.Detection{Class: "cat", Confidence: 0.9, Box: boxAt(0.5, 0.5, 0.3)}
	h.detections(empty)
	h.detections(empty)
	assert.Empty(t, h.commands(), "still tracking inside the miss threshold")

	h.advance(time.Second)
	h.detections(empty)
	cmds := h.commands()
	require.Len(t, cmds, 1)
	assert.InDelta(t, 30, cmds[0].Yaw, 1e-9, "search sweep at search_yaw fraction of max angular velocity")
	assert.True(t, cmds[0].YawOnly())
}

func TestDetectionTimeoutEntersSearch(t *testing.T) {
	h := newHarness(t, Options{DetectionTimeoutSeconds: 1})

	h.detections(person(0.5, 0.5, 0.25, 0.9))
	h.emitted = nil

	// quiet stream below the timeout: keep holding
	h.advance(500 * time.Millisecond)
	require.NoError(t, h.task.Step(context.Background()))
	assert.Empty(t, h.commands())

	h.advance(600 * time.Millisecond)
	require.NoError(t, h.task.Step(context.Background()))
	cmds := h.commands()
	require.Len(t, cmds, 1)
	assert.True(t, cmds[0].YawOnly())
}

func TestYawOnlyCommandsArePaced(t *testing.T) {
	h := newHarness(t, Options{DelayBetweenTimedYaws: 0.25, MaxAngularVelocity: 100})

	h.detections(person(0.75, 0.5, 0.25, 0.9)) // yaw-only, emitted
	h.detections(person(0.75, 0.5, 0.25, 0.9)) // 33ms later: suppressed
	require.Len(t, h.commands(), 1)

	h.advance(300 * time.Millisecond)
	h.detections(person(0.75, 0.5, 0.25, 0.9))
	assert.Len(t, h.commands(), 2)
}

func TestMixedAxisCommandsAreNotPaced(t *testing.T) {
	h := newHarness(t, Options{DelayBetweenTimedYaws: 10})

	// yaw plus forward motion must never be delayed
	h.detections(person(0.75, 0.5, 0.5, 0.9))
	h.detections(person(0.75, 0.5, 0.5, 0.9))
	assert.Len(t, h.commands(), 2)
}

func TestSearchSweepReversesDirection(t *testing.T) {
	h := newHarness(t, Options{
		SearchSweepSeconds:    1,
		DelayBetweenTimedYaws: 0.01,
		SearchYaw:             0.5,
		MaxAngularVelocity:    10,
	})

	h.advance(1100 * time.Millisecond)
	require.NoError(t, h.task.Step(context.Background()))
	h.advance(1100 * time.Millisecond)
	require.NoError(t, h.task.Step(context.Background()))

	cmds := h.commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, cmds[0].Yaw, -cmds[1].Yaw, "sweep direction should reverse after the sweep period")
	assert.NotZero(t, cmds[0].Yaw)
}

func TestMalformedDetectionSkipsFrame(t *testing.T) {
	h := newHarness(t, Options{})

	bad := event.Detection{Class: "person", Confidence: 0.9, Box: event.Box{X1: 0.9, Y1: 0.1, X2: 0.2, Y2: 0.5}}
	h.detections(bad, person(0.5, 0.5, 0.25, 0.9))

	assert.Empty(t, h.targets(), "a frame with any malformed detection is skipped whole")
	assert.Empty(t, h.commands())
}

func TestUnexpectedPayloadIsIgnored(t *testing.T) {
	h := newHarness(t, Options{})

	ev := event.New("detector", event.DetectionEvent, "not detections")
	require.NoError(t, h.task.OnEvent(ev))
	assert.Empty(t, h.emitted)
}

func TestNewRequiresTargetClass(t *testing.T) {
	env := worker.Env{Name: "navigator", Log: monitoring.NewLogger("navigator", monitoring.LevelError)}
	_, err := New(env, emptyDecoder{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target_class")
}

type emptyDecoder struct{}

func (emptyDecoder) Decode(out any) ([]string, error) { return nil, nil }
