// Package flightlog records a run's events and movement commands to a sqlite
// database so flights can be reviewed after the fact.
package flightlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/vanishcap/internal/event"
	"github.com/banshee-data/vanishcap/internal/worker"
)

// Options configures the flight log recorder.
type Options struct {
	// Path is the sqlite database file. Defaults to "flightlog.db".
	Path string `yaml:"path"`
	// RecordFrames includes frame events in the log when true. Frames are
	// high rate and usually only their sequence numbers matter.
	RecordFrames bool `yaml:"record_frames"`
}

// Task subscribes to pipeline events and appends them to the store.
type Task struct {
	env   worker.Env
	opts  Options
	store *Store
	runID string
	now   func() time.Time

	events   int
	commands int
}

// New builds the recorder task from decoded options.
func New(env worker.Env, dec worker.OptionDecoder) (worker.Task, error) {
	var opts Options
	if _, err := dec.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Path == "" {
		opts.Path = "flightlog.db"
	}
	return &Task{env: env, opts: opts, now: time.Now}, nil
}

// Start opens the store and begins a new run.
func (t *Task) Start(ctx context.Context) error {
	store, err := Open(t.opts.Path)
	if err != nil {
		return err
	}
	t.store = store
	t.runID = uuid.New().String()
	if err := store.BeginRun(t.runID, t.now()); err != nil {
		store.Close()
		return fmt.Errorf("begin run: %w", err)
	}
	t.env.Log.Infof("flight log run %s -> %s", t.runID, t.opts.Path)
	return nil
}

// OnEvent appends the event to the log. Write failures are returned so the
// runtime logs them, but they are not fatal; losing log rows should not bring
// the pipeline down.
func (t *Task) OnEvent(ev event.Event) error {
	if ev.Name == event.FrameEvent && !t.opts.RecordFrames {
		return nil
	}
	if ev.Name == event.CommandEvent {
		if cmd, ok := ev.Payload.(event.Command); ok {
			t.commands++
			return t.store.RecordCommand(t.runID, ev.Timestamp, ev.FrameSeq, cmd)
		}
	}
	t.events++
	return t.store.RecordEvent(t.runID, ev, detailFor(ev))
}

// Step is a no-op; the recorder is purely event driven.
func (t *Task) Step(ctx context.Context) error { return nil }

// Stop closes the store.
func (t *Task) Stop() error {
	if t.store == nil {
		return nil
	}
	t.env.Log.Infof("flight log run %s: %d events, %d commands", t.runID, t.events, t.commands)
	return t.store.Close()
}

// RunID reports the current run identifier.
func (t *Task) RunID() string { return t.runID }

func detailFor(ev event.Event) string {
	switch p := ev.Payload.(type) {
	case event.Detections:
		return fmt.Sprintf("detections=%d", len(p.Items))
	case event.Detection:
		return fmt.Sprintf("target class=%s conf=%.2f", p.Class, p.Confidence)
	case event.Telemetry:
		return fmt.Sprintf("bat=%d h=%.2f fly=%t", p.Battery, p.Height, p.Flying)
	case event.Profile:
		return fmt.Sprintf("max=%.4fs avg=%.4fs n=%d", p.MaxSecs, p.AvgSecs, p.Samples)
	default:
		return ""
	}
}
