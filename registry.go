package main

import (
	"github.com/banshee-data/vanishcap/internal/detect"
	"github.com/banshee-data/vanishcap/internal/drone"
	"github.com/banshee-data/vanishcap/internal/flightlog"
	"github.com/banshee-data/vanishcap/internal/nav"
	"github.com/banshee-data/vanishcap/internal/ui"
	"github.com/banshee-data/vanishcap/internal/video"
	"github.com/banshee-data/vanishcap/internal/worker"
)

// defaultRegistry lists every worker type the binary can run. A worker's
// configured type defaults to its name, so entries here double as the
// conventional worker names.
func defaultRegistry() *worker.Registry {
	reg := worker.NewRegistry()
	reg.Register("video", video.New)
	reg.Register("detector", detect.New)
	reg.Register("navigator", nav.New)
	reg.Register("drone", drone.New)
	reg.Register("ui", ui.New)
	reg.Register("flightlog", flightlog.New)
	return reg
}
