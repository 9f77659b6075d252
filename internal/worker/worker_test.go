package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vanishcap/internal/bus"
	"github.com/banshee-data/vanishcap/internal/config"
	"github.com/banshee-data/vanishcap/internal/event"
	"github.com/banshee-data/vanishcap/internal/monitoring"
)

// fakeTask is a configurable Task for exercising the runtime machinery.
type fakeTask struct {
	mu       sync.Mutex
	startErr error
	stepFn   func(ctx context.Context) error
	eventFn  func(ev event.Event) error
	coalesce []string

	starts int
	stops  int
	events []event.Event
}

func (f *fakeTask) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeTask) Step(ctx context.Context) error {
	if f.stepFn != nil {
		return f.stepFn(ctx)
	}
	return nil
}

func (f *fakeTask) OnEvent(ev event.Event) error {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	if f.eventFn != nil {
		return f.eventFn(ev)
	}
	return nil
}

func (f *fakeTask) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeTask) CoalesceEvents() []string { return f.coalesce }

func (f *fakeTask) seen() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Event(nil), f.events...)
}

func quietLogger() *monitoring.Logger {
	return monitoring.NewLogger("test", monitoring.LevelError)
}

func newTestWorker(t *testing.T, task Task, opts *config.WorkerOptions) (*Worker, *bus.Bus) {
	t.Helper()
	if opts == nil {
		opts = &config.WorkerOptions{Name: "w"}
	}
	b := bus.New(quietLogger())
	return New(opts, task, b, quietLogger(), time.Second), b
}

func TestStartMovesToRunning(t *testing.T) {
	task := &fakeTask{}
	w, _ := newTestWorker(t, task, nil)

	require.Equal(t, Created, w.Phase())
	require.NoError(t, w.Start(context.Background()))
	assert.Equal(t, Running, w.Phase())
	assert.Equal(t, 1, task.starts)

	// second call is a no-op
	require.NoError(t, w.Start(context.Background()))
	assert.Equal(t, 1, task.starts)
}

func TestStartFailureMarksFailed(t *testing.T) {
	task := &fakeTask{startErr: fmt.Errorf("camera not found")}
	w, _ := newTestWorker(t, task, nil)

	err := w.Start(context.Background())
	require.Error(t, err)

	var serr *StartupError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "w", serr.Worker)
	assert.Equal(t, Failed, w.Phase())
	assert.Error(t, w.Err())
}

func TestEnqueueCoalescesNamedEvents(t *testing.T) {
	task := &fakeTask{coalesce: []string{"frame"}}
	w, _ := newTestWorker(t, task, nil)

	for i := 0; i < 5; i++ {
		w.enqueue(event.New("video", "frame", event.Frame{Seq: int64(i)}).WithFrame(int64(i)))
	}
	w.enqueue(event.New("drone", "telemetry", nil))
	w.enqueue(event.New("drone", "telemetry", nil))

	require.Equal(t, 3, w.QueueLen(), "one coalesced frame plus two queued telemetry")

	evs := w.drain()
	require.Len(t, evs, 3)
	// queued events come first, newest coalesced frame last
	assert.Equal(t, "telemetry", evs[0].Name)
	assert.Equal(t, "telemetry", evs[1].Name)
	assert.Equal(t, "frame", evs[2].Name)
	assert.Equal(t, int64(4), evs[2].FrameSeq)

	assert.Equal(t, 0, w.QueueLen())
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	task := &fakeTask{}
	w, _ := newTestWorker(t, task, nil)

	for i := 0; i <= maxPending; i++ {
		w.enqueue(event.New("p", "e", i))
	}
	require.Equal(t, maxPending, w.QueueLen())
	evs := w.drain()
	assert.Equal(t, 1, evs[0].Payload, "oldest event should have been dropped")
}

func TestRunDeliversSubscribedEvents(t *testing.T) {
	handled := make(chan event.Event, 1)
	task := &fakeTask{eventFn: func(ev event.Event) error {
		select {
		case handled <- ev:
		default:
		}
		return nil
	}}
	opts := &config.WorkerOptions{
		Name:   "nav",
		Events: []event.Subscription{{Producer: "detector", Event: "detection"}},
	}
	w, b := newTestWorker(t, task, opts)

	require.NoError(t, w.Start(context.Background()))
	w.Attach()
	done := make(chan error, 1)
	go w.Run(context.Background(), func(_ *Worker, err error) { done <- err })

	b.Publish(event.New("detector", "detection", nil))

	select {
	case ev := <-handled:
		assert.Equal(t, "detection", ev.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("event was never handled")
	}

	require.NoError(t, w.Stop())
	assert.Equal(t, Stopped, w.Phase())
	assert.Equal(t, 1, task.stops)
	require.NoError(t, <-done)
}

func TestFatalHandlerErrorFailsWorker(t *testing.T) {
	task := &fakeTask{eventFn: func(event.Event) error {
		return Fatal(fmt.Errorf("motor on fire"))
	}}
	w, _ := newTestWorker(t, task, nil)

	require.NoError(t, w.Start(context.Background()))
	done := make(chan error, 1)
	go w.Run(context.Background(), func(_ *Worker, err error) { done <- err })
	w.enqueue(event.New("nav", "movement_command", nil))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "motor on fire")
	case <-time.After(2 * time.Second):
		t.Fatal("worker never exited")
	}
	assert.Equal(t, Failed, w.Phase())
}

func TestNonFatalHandlerErrorIsIsolated(t *testing.T) {
	calls := 0
	task := &fakeTask{eventFn: func(event.Event) error {
		calls++
		return fmt.Errorf("transient")
	}}
	w, _ := newTestWorker(t, task, nil)

	require.NoError(t, w.Start(context.Background()))
	w.enqueue(event.New("p", "e", nil))
	w.enqueue(event.New("p", "e", nil))
	for _, ev := range w.drain() {
		require.NoError(t, w.handle(context.Background(), ev))
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, Running, w.Phase())
}

func TestStepBudgetStrikesFailWorker(t *testing.T) {
	task := &fakeTask{stepFn: func(ctx context.Context) error {
		time.Sleep(3 * time.Millisecond)
		return nil
	}}
	opts := &config.WorkerOptions{
		Name:                "slow",
		ExpectedStepSeconds: 0.001,
		StepTimeoutStrikes:  3,
	}
	w, _ := newTestWorker(t, task, opts)
	require.NoError(t, w.Start(context.Background()))

	var last error
	for i := 0; i < 3; i++ {
		last = w.step(context.Background())
	}

	var terr *StepTimeoutError
	require.ErrorAs(t, last, &terr)
	assert.Equal(t, "slow", terr.Worker)
	assert.Equal(t, Failed, w.Phase())
}

func TestFastStepResetsStrikes(t *testing.T) {
	slow := true
	task := &fakeTask{stepFn: func(ctx context.Context) error {
		if slow {
			time.Sleep(3 * time.Millisecond)
		}
		return nil
	}}
	opts := &config.WorkerOptions{
		Name:                "flaky",
		ExpectedStepSeconds: 0.001,
		StepTimeoutStrikes:  2,
	}
	w, _ := newTestWorker(t, task, opts)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.step(context.Background())) // strike 1
	slow = false
	require.NoError(t, w.step(context.Background())) // resets
	slow = true
	require.NoError(t, w.step(context.Background())) // strike 1 again
	assert.Equal(t, Running, w.Phase())
}

func TestStopIsIdempotent(t *testing.T) {
	task := &fakeTask{}
	w, _ := newTestWorker(t, task, nil)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.Equal(t, 1, task.stops)
	assert.Equal(t, Stopped, w.Phase())
}

func TestStopDetachesSubscriptions(t *testing.T) {
	task := &fakeTask{}
	opts := &config.WorkerOptions{
		Name:   "nav",
		Events: []event.Subscription{{Producer: "detector", Event: "detection"}},
	}
	w, b := newTestWorker(t, task, opts)
	w.Attach()
	require.Equal(t, 1, b.Subscribers("detector", "detection"))

	require.NoError(t, w.Stop())
	assert.Equal(t, 0, b.Subscribers("detector", "detection"))
}

func TestFatalMarker(t *testing.T) {
	base := errors.New("boom")
	wrapped := Fatal(base)
	assert.True(t, IsFatal(wrapped))
	assert.False(t, IsFatal(base))
	assert.Equal(t, base, Unfatal(wrapped))
	assert.Equal(t, base, Unfatal(base))
	assert.Nil(t, Fatal(nil))
}

func TestPhaseString(t *testing.T) {
	for p, want := range map[Phase]string{
		Created:  "created",
		Starting: "starting",
		Running:  "running",
		Stopping: "stopping",
		Stopped:  "stopped",
		Failed:   "failed",
	} {
		if got := p.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", p, got, want)
		}
	}
}
