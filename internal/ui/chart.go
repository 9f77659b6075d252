package ui

import (
	"net/http"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleChart renders the per-worker step-time history as a line chart.
// Debugging-only view of the same data /api/profile serves as JSON.
func (t *Task) handleChart(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	names := make([]string, 0, len(t.profiles))
	for name := range t.profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	maxLen := 0
	series := make(map[string][]opts.LineData, len(names))
	for _, name := range names {
		pts := t.profiles[name]
		if len(pts) > maxLen {
			maxLen = len(pts)
		}
		data := make([]opts.LineData, 0, len(pts))
		for _, p := range pts {
			data = append(data, opts.LineData{Value: p.MaxSecs * 1000})
		}
		series[name] = data
	}
	t.mu.Unlock()

	xs := make([]string, maxLen)
	for i := range xs {
		xs[i] = ""
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "worker step time",
			Subtitle: "max over profile window, milliseconds",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
	)
	line.SetXAxis(xs)
	for _, name := range names {
		line.AddSeries(name, series[name])
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(w); err != nil {
		t.env.Log.Errorf("render chart: %v", err)
	}
}
