// Package worker defines the unit of concurrent execution in the pipeline: a
// named task with a lifecycle, declared dependencies and subscriptions, a
// per-step time budget, and a profiler wrapping every step and event handler.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/vanishcap/internal/bus"
	"github.com/banshee-data/vanishcap/internal/config"
	"github.com/banshee-data/vanishcap/internal/event"
	"github.com/banshee-data/vanishcap/internal/monitoring"
)

// Phase is a worker's lifecycle state.
type Phase int32

const (
	Created Phase = iota
	Starting
	Running
	Stopping
	Stopped
	Failed
)

func (p Phase) String() string {
	switch p {
	case Created:
		return "created"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Task is the capability a worker variant implements: acquire resources,
// advance one unit of work per invocation, react to subscribed events, and
// release resources. Step and OnEvent run on the worker's own goroutine;
// Start and Stop are called by the controller.
type Task interface {
	Start(ctx context.Context) error
	Step(ctx context.Context) error
	OnEvent(ev event.Event) error
	Stop() error
}

// Coalescer is optionally implemented by tasks for which only the newest
// instance of an event matters (frames, detections). Named events are
// delivered keep-latest instead of queued.
type Coalescer interface {
	CoalesceEvents() []string
}

// Env is the explicit context handed to every task at construction: its
// name, logger, the global offline flag, and a way to publish events. No
// ambient globals.
type Env struct {
	Name    string
	Log     *monitoring.Logger
	Offline bool
	Emit    func(event.Event)
}

// EmitEvent publishes a payload under the task's own producer name.
func (e Env) EmitEvent(name string, payload any) {
	e.Emit(event.New(e.Name, name, payload))
}

// pending events are capped so a stalled worker cannot grow without bound;
// the oldest are dropped with a warning.
const maxPending = 1024

// profileEmitInterval throttles worker_profile events.
const profileEmitInterval = 100 * time.Millisecond

// idlePause bounds the run loop's spin when no events arrive and Step
// returns immediately.
const idlePause = time.Millisecond

// Worker wraps a Task with lifecycle, scheduling, event queueing, and
// profiling. The controller owns all Worker instances.
type Worker struct {
	name     string
	opts     *config.WorkerOptions
	task     Task
	log      *monitoring.Logger
	profiler *monitoring.Profiler
	bus      *bus.Bus
	grace    time.Duration

	coalesce map[string]bool

	phase atomic.Int32

	qmu         sync.Mutex
	pending     []event.Event
	latest      map[string]event.Event
	latestOrder []string
	wake        chan struct{}

	budget     time.Duration
	strikes    int
	overBudget int

	tokens []string

	cancelMu    sync.Mutex
	cancel      context.CancelFunc
	runLaunched atomic.Bool
	done        chan struct{}

	stopOnce sync.Once
	stopErr  error

	errMu   sync.Mutex
	failErr error
}

// New wraps task with the runtime machinery configured by opts.
func New(opts *config.WorkerOptions, task Task, b *bus.Bus, log *monitoring.Logger, grace time.Duration) *Worker {
	w := &Worker{
		name:     opts.Name,
		opts:     opts,
		task:     task,
		log:      log,
		profiler: monitoring.NewProfiler(opts.ProfileWindowDuration()),
		bus:      b,
		grace:    grace,
		coalesce: map[string]bool{},
		latest:   map[string]event.Event{},
		wake:     make(chan struct{}, 1),
		budget:   opts.StepBudget(),
		strikes:  opts.StepTimeoutStrikes,
		done:     make(chan struct{}),
	}
	if c, ok := task.(Coalescer); ok {
		for _, name := range c.CoalesceEvents() {
			w.coalesce[name] = true
		}
	}
	return w
}

// Name returns the worker's configured name.
func (w *Worker) Name() string { return w.name }

// DependsOn returns the names of workers that must be Running first.
func (w *Worker) DependsOn() []string { return w.opts.DependsOn }

// Subscriptions returns the worker's declared (producer, event) pairs.
func (w *Worker) Subscriptions() []event.Subscription { return w.opts.Events }

// Profiler exposes the worker's step/handler timing window.
func (w *Worker) Profiler() *monitoring.Profiler { return w.profiler }

// Phase returns the current lifecycle phase.
func (w *Worker) Phase() Phase { return Phase(w.phase.Load()) }

func (w *Worker) setPhase(p Phase) { w.phase.Store(int32(p)) }

// Err returns the failure that moved the worker to Failed, or nil.
func (w *Worker) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.failErr
}

func (w *Worker) fail(err error) {
	w.errMu.Lock()
	if w.failErr == nil {
		w.failErr = err
	}
	w.errMu.Unlock()
	w.setPhase(Failed)
	w.log.Errorf("worker failed: %v", err)
}

// Attach wires the worker's declared subscriptions into the bus. Handlers
// only enqueue; the events are processed on the worker's goroutine.
func (w *Worker) Attach() {
	for _, sub := range w.opts.Events {
		token := w.bus.Subscribe(sub.Producer, sub.Event, func(ev event.Event) error {
			w.enqueue(ev)
			return nil
		})
		w.tokens = append(w.tokens, token)
	}
}

// Detach revokes the worker's bus subscriptions so no handler outlives it.
func (w *Worker) Detach() {
	for _, t := range w.tokens {
		w.bus.Unsubscribe(t)
	}
	w.tokens = nil
}

func (w *Worker) enqueue(ev event.Event) {
	w.qmu.Lock()
	if w.coalesce[ev.Name] {
		if _, ok := w.latest[ev.Name]; !ok {
			w.latestOrder = append(w.latestOrder, ev.Name)
		}
		w.latest[ev.Name] = ev
	} else {
		if len(w.pending) >= maxPending {
			w.log.Warnf("event queue full, dropping oldest %s:%s", w.pending[0].Producer, w.pending[0].Name)
			w.pending = w.pending[1:]
		}
		w.pending = append(w.pending, ev)
	}
	w.qmu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// drain returns and clears all queued events: the ordered backlog first,
// then the newest instance of each coalesced event.
func (w *Worker) drain() []event.Event {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	evs := w.pending
	w.pending = nil
	for _, name := range w.latestOrder {
		evs = append(evs, w.latest[name])
		delete(w.latest, name)
	}
	w.latestOrder = w.latestOrder[:0]
	return evs
}

// QueueLen reports how many events are waiting. Exposed for tests.
func (w *Worker) QueueLen() int {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	return len(w.pending) + len(w.latest)
}

// Start acquires the task's resources. It is idempotent: only the first call
// from Created does anything. A failure leaves the worker Failed and is
// reported as a StartupError.
func (w *Worker) Start(ctx context.Context) error {
	if !w.phase.CompareAndSwap(int32(Created), int32(Starting)) {
		return nil
	}
	w.log.Infof("starting")
	if err := w.task.Start(ctx); err != nil {
		serr := &StartupError{Worker: w.name, Err: err}
		w.errMu.Lock()
		w.failErr = serr
		w.errMu.Unlock()
		w.setPhase(Failed)
		w.log.Errorf("start failed: %v", err)
		return serr
	}
	w.setPhase(Running)
	w.log.Infof("running")
	return nil
}

// Run executes the worker's loop until ctx is cancelled or the worker fails.
// It must run on its own goroutine, after Start succeeded. onExit is invoked
// exactly once when the loop ends, with the worker's failure (nil on clean
// exit).
func (w *Worker) Run(ctx context.Context, onExit func(*Worker, error)) {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancelMu.Lock()
	w.cancel = cancel
	w.cancelMu.Unlock()
	w.runLaunched.Store(true)
	defer cancel()
	defer close(w.done)

	var lastProfile time.Time
	for {
		if runCtx.Err() != nil {
			onExit(w, nil)
			return
		}

		for _, ev := range w.drain() {
			if err := w.handle(runCtx, ev); err != nil {
				onExit(w, err)
				return
			}
		}

		if err := w.step(runCtx); err != nil {
			onExit(w, err)
			return
		}

		if time.Since(lastProfile) >= profileEmitInterval {
			lastProfile = time.Now()
			w.bus.Publish(event.New(w.name, event.ProfileEvent, event.Profile{
				Worker:  w.name,
				MaxSecs: w.profiler.Max().Seconds(),
				AvgSecs: w.profiler.Mean().Seconds(),
				Samples: w.profiler.Len(),
			}))
		}

		select {
		case <-runCtx.Done():
			onExit(w, nil)
			return
		case <-w.wake:
		case <-time.After(idlePause):
		}
	}
}

// handle runs one event through the task, profiled. Handler errors are
// logged and isolated unless marked fatal.
func (w *Worker) handle(ctx context.Context, ev event.Event) error {
	var err error
	w.profiler.Time(func() {
		err = w.task.OnEvent(ev)
	})
	if err == nil {
		return nil
	}
	if IsFatal(err) {
		werr := Unfatal(err)
		w.fail(werr)
		return werr
	}
	w.log.Errorf("handler for %s:%s failed: %v", ev.Producer, ev.Name, err)
	return nil
}

// step runs one task step, profiled and checked against the step budget.
func (w *Worker) step(ctx context.Context) error {
	var err error
	took := w.profiler.Time(func() {
		err = w.task.Step(ctx)
	})
	if err != nil {
		if errors.Is(err, ctx.Err()) && ctx.Err() != nil {
			return nil
		}
		if IsFatal(err) {
			werr := Unfatal(err)
			w.fail(werr)
			return werr
		}
		w.log.Errorf("step failed: %v", err)
	}
	if w.budget > 0 {
		if took > w.budget {
			w.overBudget++
			terr := &StepTimeoutError{Worker: w.name, Took: took, Budget: w.budget}
			w.log.Warnf("%v (strike %d/%d)", terr, w.overBudget, w.strikes)
			if w.overBudget >= w.strikes {
				w.fail(terr)
				return terr
			}
		} else {
			w.overBudget = 0
		}
	}
	return nil
}

// Stop cancels the run loop, waits up to the grace period for it to exit,
// then releases the task's resources. It is idempotent and moves the worker
// to Stopped regardless of prior phase; a recorded failure stays visible via
// Err.
func (w *Worker) Stop() error {
	w.stopOnce.Do(func() {
		if w.Phase() != Failed {
			w.setPhase(Stopping)
		}
		w.cancelMu.Lock()
		cancel := w.cancel
		w.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
		if w.runLaunched.Load() {
			select {
			case <-w.done:
			case <-time.After(w.grace):
				// The goroutine is stuck past its budget; tear down
				// anyway and record the anomaly.
				w.log.Errorf("run loop did not stop within %s, detaching anyway", w.grace)
			}
		}
		w.Detach()
		w.stopErr = w.task.Stop()
		if w.stopErr != nil {
			w.log.Errorf("stop: %v", w.stopErr)
		}
		w.setPhase(Stopped)
		w.log.Infof("stopped")
	})
	return w.stopErr
}
