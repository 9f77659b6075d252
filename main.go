package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/banshee-data/vanishcap/internal/config"
	"github.com/banshee-data/vanishcap/internal/controller"
	"github.com/banshee-data/vanishcap/internal/monitoring"
	"github.com/banshee-data/vanishcap/internal/version"
	"github.com/banshee-data/vanishcap/internal/wifi"
)

var (
	configPath  = flag.String("config", "vanishcap.yaml", "Pipeline configuration file")
	validate    = flag.Bool("validate", false, "Parse the configuration, print the start order, and exit")
	showVersion = flag.Bool("version", false, "Print the build version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if cfg.Controller.LogFile != "" {
		f, err := os.OpenFile(cfg.Controller.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	ctl, err := controller.New(cfg, defaultRegistry(), controllerOptions(cfg)...)
	if err != nil {
		log.Fatalf("building pipeline: %v", err)
	}

	if *validate {
		fmt.Printf("configuration OK, start order: %s\n", strings.Join(ctl.StartOrder(), " -> "))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctl.Run(ctx); err != nil {
		log.Fatalf("pipeline failed: %v", err)
	}
	log.Printf("shutdown complete")
}

// controllerOptions wires the host-level collaborators the controller cannot
// build itself.
func controllerOptions(cfg *config.Config) []controller.Option {
	var opts []controller.Option
	if wc := cfg.Controller.Wifi; wc != nil && !cfg.Controller.Offline {
		iface := ""
		if wc.Connect != nil {
			iface = wc.Connect.Interface
		}
		lvl, _ := monitoring.ParseLevel(cfg.Controller.LogLevel)
		opts = append(opts, controller.WithWifi(wifi.NewManager(monitoring.NewLogger("wifi", lvl), iface)))
	}
	return opts
}
