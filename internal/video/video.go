// Package video implements the capture worker: it pulls frames from a video
// source and publishes them as frame events.
package video

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/vanishcap/internal/event"
	"github.com/banshee-data/vanishcap/internal/worker"
)

// Options configures the video worker.
type Options struct {
	Source    string  `yaml:"source"`
	Loop      bool    `yaml:"loop"`
	FPS       float64 `yaml:"fps"`
	Width     int     `yaml:"width"`
	Height    int     `yaml:"height"`
	MaxFrames int64   `yaml:"max_frames"`
}

// Task reads one frame per step and emits it. End of stream publishes a stop
// event so the controller shuts the pipeline down cleanly.
type Task struct {
	env    worker.Env
	opts   Options
	source Source
	seq    int64
	ended  bool
}

// New builds the video task from configuration.
func New(env worker.Env, dec worker.OptionDecoder) (worker.Task, error) {
	t := &Task{env: env}
	if _, err := dec.Decode(&t.opts); err != nil {
		return nil, err
	}
	if t.opts.Source == "" {
		if !env.Offline {
			return nil, fmt.Errorf("video worker needs a source")
		}
		t.opts.Source = "synth://"
	}
	return t, nil
}

// Start opens the video source. An unavailable source is a startup failure.
func (t *Task) Start(ctx context.Context) error {
	src, err := OpenSource(t.opts)
	if err != nil {
		return err
	}
	t.source = src
	t.env.Log.Infof("opened video source %s", t.opts.Source)
	return nil
}

// Step reads and publishes one frame.
func (t *Task) Step(ctx context.Context) error {
	if t.ended {
		return nil
	}
	frame, err := t.source.NextFrame()
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		t.ended = true
		t.env.Log.Warnf("end of video stream after %d frames", t.seq)
		t.env.EmitEvent(event.StopEvent, nil)
		return nil
	case errors.Is(err, errFrameTimeout):
		t.env.Log.Debugf("waiting for frames")
		return nil
	default:
		return fmt.Errorf("read frame: %w", err)
	}
	t.seq = frame.Seq
	t.env.Emit(event.New(t.env.Name, event.FrameEvent, frame).WithFrame(frame.Seq))
	t.env.Log.Debugf("frame %d (%dx%d, %d bytes)", frame.Seq, frame.Width, frame.Height, len(frame.Data))
	return nil
}

// OnEvent ignores everything; the video worker only produces.
func (t *Task) OnEvent(ev event.Event) error {
	t.env.Log.Debugf("ignoring event %s:%s", ev.Producer, ev.Name)
	return nil
}

// Stop releases the source. Safe to call after a failed Start.
func (t *Task) Stop() error {
	if t.source == nil {
		return nil
	}
	err := t.source.Close()
	t.source = nil
	return err
}
