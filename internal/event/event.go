// Package event defines the messages exchanged between pipeline workers and
// the typed payloads they carry.
package event

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Well-known event names. Workers may emit additional names; these are the
// ones the built-in workers produce and subscribe to.
const (
	FrameEvent     = "frame"
	DetectionEvent = "detection"
	CommandEvent   = "movement_command"
	TargetEvent    = "target"
	TelemetryEvent = "telemetry"
	ProfileEvent   = "worker_profile"
	StopEvent      = "stop"
)

// Event is a single message on the bus: who produced it, what it is, when it
// was created, and an event-name-specific payload. Events are passed by
// value; payloads that contain reference types implement Cloner so the bus
// can hand each subscriber an independent copy.
type Event struct {
	Producer  string
	Name      string
	Timestamp time.Time
	FrameSeq  int64
	Payload   any
}

// New builds an event stamped with the current time.
func New(producer, name string, payload any) Event {
	return Event{
		Producer:  producer,
		Name:      name,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// WithFrame attaches the video frame sequence number the event derives from.
func (e Event) WithFrame(seq int64) Event {
	e.FrameSeq = seq
	return e
}

// Cloner is implemented by payloads that alias mutable memory. Publish makes
// one clone before delivery so no handler observes producer-side mutation.
type Cloner interface {
	Clone() any
}

// Subscription names one (producer, event) pair a worker wants delivered.
type Subscription struct {
	Producer string `yaml:"producer"`
	Event    string `yaml:"event"`
}

// UnmarshalYAML accepts either the compact form `[producer, event]` or the
// mapping form `{producer: ..., event: ...}`.
func (s *Subscription) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		if len(value.Content) != 2 {
			return fmt.Errorf("event subscription pair needs exactly two entries, got %d", len(value.Content))
		}
		s.Producer = value.Content[0].Value
		s.Event = value.Content[1].Value
		return nil
	case yaml.MappingNode:
		type plain Subscription
		var p plain
		if err := value.Decode(&p); err != nil {
			return err
		}
		*s = Subscription(p)
		return nil
	}
	return fmt.Errorf("event subscription must be a [producer, event] pair or a mapping")
}
