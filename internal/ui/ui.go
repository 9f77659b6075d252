// Package ui implements the display worker: an HTTP dashboard serving the
// latest frame, tracked-target status, and per-worker profiling. It consumes
// events and produces nothing back into the pipeline.
package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/vanishcap/internal/event"
	"github.com/banshee-data/vanishcap/internal/worker"
)

// Options configures the display worker.
type Options struct {
	Listen string `yaml:"listen"`
	// HistoryPoints caps the retained profile points per worker.
	HistoryPoints int `yaml:"history_points"`
}

type profilePoint struct {
	At      time.Time `json:"at"`
	MaxSecs float64   `json:"max_secs"`
	AvgSecs float64   `json:"avg_secs"`
}

// Task serves the dashboard. All mutable state sits behind one mutex; HTTP
// handlers run on the server's goroutines, event updates on the worker's.
type Task struct {
	env  worker.Env
	opts Options

	srv  *http.Server
	addr string

	mu       sync.Mutex
	frame    event.Frame
	target   *event.Detection
	telem    any
	profiles map[string][]profilePoint
}

// New builds the display task from configuration.
func New(env worker.Env, dec worker.OptionDecoder) (worker.Task, error) {
	t := &Task{env: env, profiles: make(map[string][]profilePoint)}
	if _, err := dec.Decode(&t.opts); err != nil {
		return nil, err
	}
	if t.opts.Listen == "" {
		t.opts.Listen = ":8089"
	}
	if t.opts.HistoryPoints <= 0 {
		t.opts.HistoryPoints = 600
	}
	return t, nil
}

// CoalesceEvents keeps only the newest frame for display.
func (t *Task) CoalesceEvents() []string { return []string{event.FrameEvent} }

// Start binds the listen address; an occupied port is a startup failure.
func (t *Task) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleIndex)
	mux.HandleFunc("/frame.jpg", t.handleFrame)
	mux.HandleFunc("/stream.mjpeg", t.handleStream)
	mux.HandleFunc("/api/status", t.handleStatus)
	mux.HandleFunc("/api/profile", t.handleProfile)
	mux.HandleFunc("/chart", t.handleChart)

	ln, err := net.Listen("tcp", t.opts.Listen)
	if err != nil {
		return fmt.Errorf("ui listen %s: %w", t.opts.Listen, err)
	}
	t.srv = &http.Server{Handler: mux}
	t.addr = ln.Addr().String()
	go func() {
		if err := t.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.env.Log.Errorf("http server: %v", err)
		}
	}()
	t.env.Log.Warnf("dashboard at http://%s/", ln.Addr())
	return nil
}

// OnEvent records whatever the dashboard displays.
func (t *Task) OnEvent(ev event.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev.Name {
	case event.FrameEvent:
		if f, ok := ev.Payload.(event.Frame); ok {
			t.frame = f
		}
	case event.TargetEvent:
		if d, ok := ev.Payload.(event.Detection); ok {
			t.target = &d
		}
	case event.TelemetryEvent:
		t.telem = ev.Payload
	case event.ProfileEvent:
		p, ok := ev.Payload.(event.Profile)
		if !ok {
			return nil
		}
		pts := append(t.profiles[p.Worker], profilePoint{
			At:      ev.Timestamp,
			MaxSecs: p.MaxSecs,
			AvgSecs: p.AvgSecs,
		})
		if n := len(pts) - t.opts.HistoryPoints; n > 0 {
			pts = pts[n:]
		}
		t.profiles[p.Worker] = pts
	}
	return nil
}

// Addr returns the bound listen address, valid after Start.
func (t *Task) Addr() string { return t.addr }

// Step has nothing to advance; the HTTP server runs on its own goroutines.
func (t *Task) Step(ctx context.Context) error { return nil }

// Stop shuts the HTTP server down.
func (t *Task) Stop() error {
	if t.srv == nil {
		return nil
	}
	err := t.srv.Close()
	t.srv = nil
	return err
}

func (t *Task) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!doctype html>
<title>vanishcap</title>
<h1>vanishcap</h1>
<p><a href="/chart">profiling chart</a> | <a href="/api/status">status</a> | <a href="/api/profile">profile</a></p>
<img src="/stream.mjpeg" alt="live frame">
`)
}

func (t *Task) handleFrame(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	data := t.frame.Data
	t.mu.Unlock()
	if len(data) == 0 {
		http.Error(w, "no frame yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

// handleStream serves a multipart MJPEG stream of the latest frame at a
// fixed 10 fps, until the client goes away.
func (t *Task) handleStream(w http.ResponseWriter, r *http.Request) {
	const boundary = "vanishcapframe"
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var lastSeq int64 = -1
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
		t.mu.Lock()
		frame := t.frame
		t.mu.Unlock()
		if len(frame.Data) == 0 || frame.Seq == lastSeq {
			continue
		}
		lastSeq = frame.Seq
		fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frame.Data))
		if _, err := w.Write(frame.Data); err != nil {
			return
		}
		fmt.Fprint(w, "\r\n")
		flusher.Flush()
	}
}

func (t *Task) handleStatus(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	status := map[string]any{
		"frame_seq": t.frame.Seq,
		"target":    t.target,
		"telemetry": t.telem,
	}
	t.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (t *Task) handleProfile(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	out := make(map[string][]profilePoint, len(t.profiles))
	for name, pts := range t.profiles {
		out[name] = append([]profilePoint(nil), pts...)
	}
	t.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
