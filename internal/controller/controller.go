// Package controller owns the configured workers: it resolves their start
// order, wires subscriptions into the event bus, runs the scheduling loop,
// and tears everything down on shutdown or failure.
package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/banshee-data/vanishcap/internal/bus"
	"github.com/banshee-data/vanishcap/internal/config"
	"github.com/banshee-data/vanishcap/internal/event"
	"github.com/banshee-data/vanishcap/internal/monitoring"
	"github.com/banshee-data/vanishcap/internal/worker"
)

// Wifi is the network-manager collaborator: join the drone's network before
// starting workers, restore the previous network after teardown.
type Wifi interface {
	Connect(ssid, password string) error
	ReconnectPrevious() error
}

// Controller builds and supervises the worker set described by one
// configuration document.
type Controller struct {
	cfg     *config.Config
	log     *monitoring.Logger
	bus     *bus.Bus
	workers map[string]*worker.Worker
	order   []string
	wifi    Wifi
}

// Option adjusts controller construction.
type Option func(*Controller)

// WithWifi injects a network manager. Without one, wifi configuration is
// ignored (offline behavior).
func WithWifi(w Wifi) Option {
	return func(c *Controller) { c.wifi = w }
}

// recordingDecoder remembers the unknown keys a constructor's Decode call
// reported so the controller can warn about them centrally.
type recordingDecoder struct {
	opts    *config.WorkerOptions
	decoded bool
	unknown []string
}

func (r *recordingDecoder) Decode(out any) ([]string, error) {
	unknown, err := r.opts.Decode(out)
	r.decoded = true
	r.unknown = unknown
	return unknown, err
}

// New constructs one worker per configured entry and computes the start
// order. Configuration-time failures (unknown worker type, unknown
// dependency, dependency cycle) abort before any worker is started.
func New(cfg *config.Config, reg *worker.Registry, options ...Option) (*Controller, error) {
	lvl, err := monitoring.ParseLevel(cfg.Controller.LogLevel)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:     cfg,
		log:     monitoring.NewLogger("controller", lvl),
		workers: make(map[string]*worker.Worker),
	}
	c.bus = bus.New(c.log.Named("bus"))
	for _, opt := range options {
		opt(c)
	}

	order, err := startOrder(cfg.Workers)
	if err != nil {
		return nil, err
	}
	c.order = order

	for _, opts := range cfg.Workers {
		ctor, err := reg.Lookup(opts.Type)
		if err != nil {
			return nil, fmt.Errorf("worker %q: %w", opts.Name, err)
		}
		wlog := monitoring.NewLogger(opts.Name, cfg.WorkerLevel(opts))
		env := worker.Env{
			Name:    opts.Name,
			Log:     wlog,
			Offline: cfg.Controller.Offline,
			Emit:    func(ev event.Event) { c.bus.Publish(ev) },
		}
		dec := &recordingDecoder{opts: opts}
		task, err := ctor(env, dec)
		if err != nil {
			return nil, fmt.Errorf("worker %q: %w", opts.Name, err)
		}
		if !dec.decoded {
			dec.unknown = opts.UnknownKeys()
		}
		if len(dec.unknown) > 0 {
			c.log.Warnf("worker %q: ignoring unrecognized options: %s",
				opts.Name, strings.Join(dec.unknown, ", "))
		}
		c.workers[opts.Name] = worker.New(opts, task, c.bus, wlog, cfg.Controller.StopGrace())
	}
	return c, nil
}

// startOrder topologically sorts workers over depends_on. Ties (workers with
// no remaining unsatisfied dependency) break by configuration order, so
// startup is deterministic.
func startOrder(workers []*config.WorkerOptions) ([]string, error) {
	byName := make(map[string]*config.WorkerOptions, len(workers))
	for _, w := range workers {
		byName[w.Name] = w
	}
	for _, w := range workers {
		for _, dep := range w.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, &UnknownDependencyError{Worker: w.Name, Dependency: dep}
			}
		}
	}

	placed := make(map[string]bool, len(workers))
	order := make([]string, 0, len(workers))
	for len(order) < len(workers) {
		progressed := false
		for _, w := range workers {
			if placed[w.Name] {
				continue
			}
			ready := true
			for _, dep := range w.DependsOn {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				placed[w.Name] = true
				order = append(order, w.Name)
				progressed = true
				break
			}
		}
		if !progressed {
			var remaining []string
			for _, w := range workers {
				if !placed[w.Name] {
					remaining = append(remaining, w.Name)
				}
			}
			return nil, &DependencyCycleError{Remaining: remaining}
		}
	}
	return order, nil
}

// StartOrder returns the resolved startup order.
func (c *Controller) StartOrder() []string {
	return append([]string(nil), c.order...)
}

// Worker returns the named worker, or nil. Exposed for tests.
func (c *Controller) Worker(name string) *worker.Worker {
	return c.workers[name]
}

// Bus returns the controller's event bus.
func (c *Controller) Bus() *bus.Bus { return c.bus }

type exit struct {
	worker *worker.Worker
	err    error
}

// Run starts every worker in dependency order, supervises the run loops
// until shutdown, and tears everything down in reverse order. It returns nil
// on clean shutdown (context cancelled or a worker published a stop event)
// and the original failure otherwise. Teardown always runs, and secondary
// teardown failures are logged, not returned.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.connectWifi(); err != nil {
		return err
	}

	started := make([]string, 0, len(c.order))
	var startFailure error
	for _, name := range c.order {
		w := c.workers[name]
		w.Attach()
		if err := w.Start(ctx); err != nil {
			// Dependents of a failed worker can never legitimately
			// reach Running, so abort the remaining startups.
			c.log.Errorf("aborting startup: %v", err)
			w.Detach()
			startFailure = err
			break
		}
		started = append(started, name)
	}
	if startFailure != nil {
		c.teardown(started)
		return startFailure
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	exits := make(chan exit, len(c.order))
	stopRequested := make(chan string, 1)
	var stopTokens []string
	for _, name := range c.order {
		token := c.bus.Subscribe(name, event.StopEvent, func(ev event.Event) error {
			select {
			case stopRequested <- ev.Producer:
			default:
			}
			return nil
		})
		stopTokens = append(stopTokens, token)
	}
	defer func() {
		for _, t := range stopTokens {
			c.bus.Unsubscribe(t)
		}
	}()

	for _, name := range c.order {
		w := c.workers[name]
		go w.Run(runCtx, func(w *worker.Worker, err error) {
			exits <- exit{worker: w, err: err}
		})
	}
	c.log.Infof("pipeline running: %s", strings.Join(c.order, " -> "))

	var runFailure error
	select {
	case <-ctx.Done():
		c.log.Warnf("shutdown signal received")
	case from := <-stopRequested:
		c.log.Warnf("stop requested by worker %q", from)
	case e := <-exits:
		if e.err != nil {
			runFailure = fmt.Errorf("worker %q failed: %w", e.worker.Name(), e.err)
			c.log.Errorf("%v", runFailure)
		} else {
			c.log.Warnf("worker %q exited", e.worker.Name())
		}
	}

	cancel()
	c.teardown(started)
	return runFailure
}

// teardown stops workers in reverse dependency order (dependents before
// dependencies), then restores the previous network if configured.
func (c *Controller) teardown(started []string) {
	for i := len(started) - 1; i >= 0; i-- {
		w := c.workers[started[i]]
		if err := w.Stop(); err != nil {
			c.log.Errorf("stopping %q: %v", w.Name(), err)
		}
	}
	c.restoreWifi()
}

func (c *Controller) connectWifi() error {
	wc := c.cfg.Controller.Wifi
	if wc == nil || wc.Connect == nil || c.cfg.Controller.Offline || c.wifi == nil {
		return nil
	}
	c.log.Infof("connecting to network %q", wc.Connect.SSID)
	if err := c.wifi.Connect(wc.Connect.SSID, wc.Connect.Password); err != nil {
		return fmt.Errorf("wifi connect %q: %w", wc.Connect.SSID, err)
	}
	return nil
}

func (c *Controller) restoreWifi() {
	wc := c.cfg.Controller.Wifi
	if wc == nil || !wc.Reconnect || c.cfg.Controller.Offline || c.wifi == nil {
		return
	}
	if err := c.wifi.ReconnectPrevious(); err != nil {
		c.log.Errorf("restoring previous network: %v", err)
	}
}
