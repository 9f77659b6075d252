package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vanishcap/internal/event"
	"github.com/banshee-data/vanishcap/internal/monitoring"
	"github.com/banshee-data/vanishcap/internal/worker"
)

type optsDecoder struct {
	opts Options
}

func (d optsDecoder) Decode(out any) ([]string, error) {
	*out.(*Options) = d.opts
	return nil, nil
}

func newUI(t *testing.T) *Task {
	t.Helper()
	env := worker.Env{
		Name: "ui",
		Log:  monitoring.NewLogger("ui", monitoring.LevelError),
		Emit: func(event.Event) {},
	}
	task, err := New(env, optsDecoder{opts: Options{Listen: "127.0.0.1:0", HistoryPoints: 3}})
	require.NoError(t, err)
	return task.(*Task)
}

func TestStatusReflectsEvents(t *testing.T) {
	task := newUI(t)

	require.NoError(t, task.OnEvent(event.New("video", event.FrameEvent, event.Frame{Seq: 12, Data: []byte{0xFF}})))
	require.NoError(t, task.OnEvent(event.New("navigator", event.TargetEvent, event.Detection{Class: "person", Confidence: 0.8})))
	require.NoError(t, task.OnEvent(event.New("drone", event.TelemetryEvent, event.Telemetry{Battery: 64})))

	rec := httptest.NewRecorder()
	task.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, float64(12), status["frame_seq"])
	target := status["target"].(map[string]any)
	assert.Equal(t, "person", target["class"])
	telem := status["telemetry"].(map[string]any)
	assert.Equal(t, float64(64), telem["battery"])
}

func TestFrameEndpoint(t *testing.T) {
	task := newUI(t)

	rec := httptest.NewRecorder()
	task.handleFrame(rec, httptest.NewRequest(http.MethodGet, "/frame.jpg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "no frame before the first event")

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	require.NoError(t, task.OnEvent(event.New("video", event.FrameEvent, event.Frame{Seq: 1, Data: jpeg})))

	rec = httptest.NewRecorder()
	task.handleFrame(rec, httptest.NewRequest(http.MethodGet, "/frame.jpg", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, jpeg, rec.Body.Bytes())
}

func TestProfileHistoryIsCapped(t *testing.T) {
	task := newUI(t)

	for i := 0; i < 5; i++ {
		ev := event.New("video", event.ProfileEvent, event.Profile{Worker: "video", MaxSecs: float64(i)})
		require.NoError(t, task.OnEvent(ev))
	}

	rec := httptest.NewRecorder()
	task.handleProfile(rec, httptest.NewRequest(http.MethodGet, "/api/profile", nil))

	var out map[string][]profilePoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out["video"], 3, "history capped at history_points")
	assert.Equal(t, 2.0, out["video"][0].MaxSecs, "oldest points are dropped first")
	assert.Equal(t, 4.0, out["video"][2].MaxSecs)
}

func TestChartRenders(t *testing.T) {
	task := newUI(t)
	require.NoError(t, task.OnEvent(event.New("video", event.ProfileEvent, event.Profile{Worker: "video", MaxSecs: 0.01})))

	rec := httptest.NewRecorder()
	task.handleChart(rec, httptest.NewRequest(http.MethodGet, "/chart", nil))
	assert.Contains(t, rec.Body.String(), "echarts")
}

func TestServerLifecycle(t *testing.T) {
	task := newUI(t)
	require.NoError(t, task.Start(context.Background()))

	// second instance on the same port must fail startup
	addr := task.Addr()
	env := worker.Env{Name: "ui2", Log: monitoring.NewLogger("ui2", monitoring.LevelError)}
	dup, err := New(env, optsDecoder{opts: Options{Listen: addr}})
	require.NoError(t, err)
	assert.Error(t, dup.(*Task).Start(context.Background()))

	resp, err := http.Get(fmt.Sprintf("http://%s/api/status", addr))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, task.Stop())
	require.NoError(t, task.Stop(), "stop is idempotent")

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err = http.Get(fmt.Sprintf("http://%s/api/status", addr))
		if err != nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Error(t, err, "server must be gone after stop")
}
