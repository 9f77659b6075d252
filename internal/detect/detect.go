// Package detect implements the detector worker: it subscribes to frame
// events, runs the inference collaborator on the newest frame, and publishes
// detection events.
package detect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/vanishcap/internal/event"
	"github.com/banshee-data/vanishcap/internal/worker"
)

// Options configures the detector worker.
type Options struct {
	// Model is "stub" or the URL of an HTTP inference sidecar.
	Model string `yaml:"model"`
	// FrameSkip processes every Nth frame; 1 processes all.
	FrameSkip int `yaml:"frame_skip"`
	// InferTimeoutSeconds bounds one sidecar round trip.
	InferTimeoutSeconds float64 `yaml:"infer_timeout_seconds"`
	// StubDetections is what the stub model reports, for offline runs.
	StubDetections []event.Detection `yaml:"stub_detections"`
}

// Task holds the newest unprocessed frame and runs inference on it each
// step. Frames are coalesced: if inference is slower than capture, older
// frames are dropped, never queued.
type Task struct {
	env   worker.Env
	opts  Options
	model Model

	count   int64
	pending *event.Frame
}

// New builds the detector task from configuration.
func New(env worker.Env, dec worker.OptionDecoder) (worker.Task, error) {
	t := &Task{env: env}
	if _, err := dec.Decode(&t.opts); err != nil {
		return nil, err
	}
	if t.opts.FrameSkip <= 0 {
		t.opts.FrameSkip = 1
	}
	if t.opts.Model == "" {
		if !env.Offline {
			return nil, fmt.Errorf("detector worker needs a model")
		}
		t.opts.Model = "stub"
	}
	return t, nil
}

// CoalesceEvents keeps only the latest frame in the queue.
func (t *Task) CoalesceEvents() []string { return []string{event.FrameEvent} }

// Start connects the model collaborator.
func (t *Task) Start(ctx context.Context) error {
	switch {
	case t.opts.Model == "stub":
		t.model = &stubModel{detections: t.opts.StubDetections}
	case strings.HasPrefix(t.opts.Model, "http://"), strings.HasPrefix(t.opts.Model, "https://"):
		t.model = newHTTPModel(t.opts.Model, time.Duration(t.opts.InferTimeoutSeconds*float64(time.Second)))
	default:
		return fmt.Errorf("unsupported model %q (want \"stub\" or an http(s) URL)", t.opts.Model)
	}
	t.env.Log.Infof("using model %s, frame_skip %d", t.opts.Model, t.opts.FrameSkip)
	return nil
}

// OnEvent records the newest frame, honoring frame_skip.
func (t *Task) OnEvent(ev event.Event) error {
	if ev.Name != event.FrameEvent {
		t.env.Log.Debugf("ignoring event %s:%s", ev.Producer, ev.Name)
		return nil
	}
	frame, ok := ev.Payload.(event.Frame)
	if !ok {
		return fmt.Errorf("frame event with %T payload", ev.Payload)
	}
	t.count++
	if t.count%int64(t.opts.FrameSkip) != 0 {
		return nil
	}
	t.pending = &frame
	return nil
}

// Step runs inference on the pending frame, if any, and publishes the
// result. Inference failures skip the frame; they do not fail the worker.
func (t *Task) Step(ctx context.Context) error {
	if t.pending == nil {
		return nil
	}
	frame := *t.pending
	t.pending = nil

	items, err := t.model.Infer(frame)
	if err != nil {
		return fmt.Errorf("frame %d: %w", frame.Seq, err)
	}
	t.env.Log.Debugf("frame %d: %d detections", frame.Seq, len(items))
	t.env.Emit(event.New(t.env.Name, event.DetectionEvent, event.Detections{
		FrameSeq: frame.Seq,
		Items:    items,
	}).WithFrame(frame.Seq))
	return nil
}

// Stop releases the model.
func (t *Task) Stop() error {
	if t.model == nil {
		return nil
	}
	err := t.model.Close()
	t.model = nil
	return err
}
