package monitoring

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Sample is one recorded execution duration.
type Sample struct {
	Duration time.Duration
	At       time.Time
}

// Profiler retains step and handler durations for a trailing time window.
// Samples older than the window are evicted lazily on the next read. The
// window length is fixed at construction.
type Profiler struct {
	mu      sync.Mutex
	window  time.Duration
	samples []Sample

	// now is replaceable for tests.
	now func() time.Time
}

// DefaultProfileWindow is used when a worker does not configure
// profile_window.
const DefaultProfileWindow = 1 * time.Second

// NewProfiler returns a profiler retaining samples for the given window.
// Non-positive windows fall back to DefaultProfileWindow.
func NewProfiler(window time.Duration) *Profiler {
	if window <= 0 {
		window = DefaultProfileWindow
	}
	return &Profiler{window: window, now: time.Now}
}

// Window returns the configured retention window.
func (p *Profiler) Window() time.Duration { return p.window }

// Record adds one duration sample stamped now.
func (p *Profiler) Record(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, Sample{Duration: d, At: p.now()})
}

// Time runs fn and records how long it took, returning the duration.
func (p *Profiler) Time(fn func()) time.Duration {
	start := p.now()
	fn()
	d := p.now().Sub(start)
	p.Record(d)
	return d
}

// evictLocked drops samples older than the window. Callers hold p.mu.
func (p *Profiler) evictLocked() {
	cutoff := p.now().Add(-p.window)
	i := 0
	for i < len(p.samples) && p.samples[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		p.samples = append(p.samples[:0], p.samples[i:]...)
	}
}

// live returns the in-window durations in seconds.
func (p *Profiler) live() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictLocked()
	out := make([]float64, len(p.samples))
	for i, s := range p.samples {
		out[i] = s.Duration.Seconds()
	}
	return out
}

// Len returns the number of samples currently inside the window.
func (p *Profiler) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictLocked()
	return len(p.samples)
}

// Max returns the longest duration inside the window, or zero when empty.
func (p *Profiler) Max() time.Duration {
	var max time.Duration
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictLocked()
	for _, s := range p.samples {
		if s.Duration > max {
			max = s.Duration
		}
	}
	return max
}

// Mean returns the mean duration inside the window, or zero when empty.
func (p *Profiler) Mean() time.Duration {
	xs := p.live()
	if len(xs) == 0 {
		return 0
	}
	return time.Duration(stat.Mean(xs, nil) * float64(time.Second))
}

// Quantile returns the q-th empirical quantile of in-window durations, or
// zero when empty. q must be in [0,1].
func (p *Profiler) Quantile(q float64) time.Duration {
	xs := p.live()
	if len(xs) == 0 {
		return 0
	}
	sort.Float64s(xs)
	return time.Duration(stat.Quantile(q, stat.Empirical, xs, nil) * float64(time.Second))
}
