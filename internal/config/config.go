// Package config loads the pipeline configuration document: one controller
// section plus an ordered mapping of worker name to worker options. Document
// order is preserved because startup tie-breaking depends on it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/vanishcap/internal/event"
)

// Config is the full parsed configuration document.
type Config struct {
	Controller ControllerConfig
	// Workers holds one entry per configured worker, in document order.
	Workers []*WorkerOptions
}

// ControllerConfig holds the global controller options.
type ControllerConfig struct {
	LogLevel string      `yaml:"log_level"`
	LogFile  string      `yaml:"log_file"`
	Offline  bool        `yaml:"offline"`
	Wifi     *WifiConfig `yaml:"wifi"`
	// StopGraceSeconds bounds how long teardown waits for a worker's run
	// loop to exit before declaring it stuck.
	StopGraceSeconds float64 `yaml:"stop_grace_seconds"`
}

// StopGrace returns the teardown grace period.
func (c ControllerConfig) StopGrace() time.Duration {
	if c.StopGraceSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.StopGraceSeconds * float64(time.Second))
}

// WifiConfig configures the optional network manager.
type WifiConfig struct {
	Connect   *WifiConnect `yaml:"connect"`
	Reconnect bool         `yaml:"reconnect"`
}

// WifiConnect names the network to join before starting workers.
type WifiConnect struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
	// Interface pins the connection to one wireless device.
	Interface string `yaml:"interface"`
}

// WorkerOptions carries the options common to every worker plus the raw
// document node so each worker constructor can decode its own options.
type WorkerOptions struct {
	Name string `yaml:"-"`
	Type string `yaml:"type"`

	LogLevel      string               `yaml:"log_level"`
	ProfileWindow float64              `yaml:"profile_window"` // seconds
	DependsOn     []string             `yaml:"depends_on"`
	Events        []event.Subscription `yaml:"events"`

	// ExpectedStepSeconds is the per-step time budget; zero disables the
	// budget check.
	ExpectedStepSeconds float64 `yaml:"expected_step_seconds"`
	// StepTimeoutStrikes is how many consecutive over-budget steps mark
	// the worker failed.
	StepTimeoutStrikes int `yaml:"step_timeout_strikes"`

	raw yaml.Node
}

// commonKeys are the worker option keys consumed by WorkerOptions itself.
var commonKeys = map[string]bool{
	"type":                  true,
	"log_level":             true,
	"profile_window":        true,
	"depends_on":            true,
	"events":                true,
	"expected_step_seconds": true,
	"step_timeout_strikes":  true,
}

// ProfileWindowDuration returns profile_window as a duration, defaulted.
func (w *WorkerOptions) ProfileWindowDuration() time.Duration {
	if w.ProfileWindow <= 0 {
		return time.Second
	}
	return time.Duration(w.ProfileWindow * float64(time.Second))
}

// StepBudget returns the expected step duration, or zero when unset.
func (w *WorkerOptions) StepBudget() time.Duration {
	if w.ExpectedStepSeconds <= 0 {
		return 0
	}
	return time.Duration(w.ExpectedStepSeconds * float64(time.Second))
}

// Decode unmarshals the worker's raw options into out, a pointer to the
// worker-specific options struct. Keys recognized neither by out nor by the
// common options are returned so the caller can warn about them.
func (w *WorkerOptions) Decode(out any) (unknown []string, err error) {
	if w.raw.Kind == 0 {
		return nil, nil
	}
	if out != nil {
		if err := w.raw.Decode(out); err != nil {
			return nil, fmt.Errorf("worker %q options: %w", w.Name, err)
		}
	}
	known := map[string]bool{}
	for k := range commonKeys {
		known[k] = true
	}
	if out != nil {
		for _, k := range yamlFieldNames(out) {
			known[k] = true
		}
	}
	for i := 0; i+1 < len(w.raw.Content); i += 2 {
		key := w.raw.Content[i].Value
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	return unknown, nil
}

// UnknownKeys returns option keys not consumed by the common options. Used
// for workers that declare no options of their own.
func (w *WorkerOptions) UnknownKeys() []string {
	unknown, _ := w.Decode(nil)
	return unknown
}

// UnmarshalYAML parses the document root, preserving worker order.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("config root must be a mapping, got %s", nodeKind(value))
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode, valNode := value.Content[i], value.Content[i+1]
		switch keyNode.Value {
		case "controller":
			if err := valNode.Decode(&c.Controller); err != nil {
				return fmt.Errorf("controller section: %w", err)
			}
		case "workers":
			if valNode.Kind != yaml.MappingNode {
				return fmt.Errorf("workers section must be a mapping of name to options")
			}
			for j := 0; j+1 < len(valNode.Content); j += 2 {
				name := valNode.Content[j].Value
				opts := &WorkerOptions{Name: name}
				if err := valNode.Content[j+1].Decode(opts); err != nil {
					return fmt.Errorf("worker %q: %w", name, err)
				}
				opts.raw = *valNode.Content[j+1]
				c.Workers = append(c.Workers, opts)
			}
		default:
			return fmt.Errorf("unknown top-level section %q", keyNode.Value)
		}
	}
	return nil
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	}
	return fmt.Sprintf("node kind %d", n.Kind)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses the configuration document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	for _, w := range c.Workers {
		if w.Type == "" {
			w.Type = w.Name
		}
		if w.ProfileWindow <= 0 {
			w.ProfileWindow = 1.0
		}
		if w.StepTimeoutStrikes <= 0 {
			w.StepTimeoutStrikes = 5
		}
	}
}

// Validate rejects structurally invalid documents. Dependency resolution
// (cycles, unknown names) is the controller's job; this only checks shape.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for _, w := range c.Workers {
		if w.Name == "" {
			return fmt.Errorf("every worker needs a non-empty name")
		}
		if seen[w.Name] {
			return fmt.Errorf("duplicate worker name %q", w.Name)
		}
		seen[w.Name] = true
		for _, s := range w.Events {
			if s.Producer == "" || s.Event == "" {
				return fmt.Errorf("worker %q: event subscriptions need both producer and event", w.Name)
			}
		}
		for _, d := range w.DependsOn {
			if d == w.Name {
				return fmt.Errorf("worker %q depends on itself", w.Name)
			}
		}
		if _, err := ParseLevelOrDefault(w.LogLevel); err != nil {
			return fmt.Errorf("worker %q: %w", w.Name, err)
		}
	}
	if _, err := ParseLevelOrDefault(c.Controller.LogLevel); err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	if wc := c.Controller.Wifi; wc != nil && wc.Connect != nil && wc.Connect.SSID == "" {
		return fmt.Errorf("controller: wifi.connect.ssid must not be empty")
	}
	return nil
}

// Worker returns the options for the named worker, or nil.
func (c *Config) Worker(name string) *WorkerOptions {
	for _, w := range c.Workers {
		if w.Name == name {
			return w
		}
	}
	return nil
}
