package event

import "fmt"

// Frame is the payload of a "frame" event: one encoded image from the video
// source.
type Frame struct {
	Seq    int64
	Width  int
	Height int
	// Data holds the encoded image bytes (JPEG for the built-in sources).
	Data []byte
}

// Clone deep-copies the pixel buffer. Publish clones once per event, so
// delivery never aliases the producer's reusable read buffer.
func (f Frame) Clone() any {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	f.Data = data
	return f
}

// Box is an axis-aligned bounding box in normalized [0,1] image coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Valid reports whether the box is well-formed and inside the unit square.
func (b Box) Valid() bool {
	return b.X1 >= 0 && b.Y1 >= 0 && b.X2 <= 1 && b.Y2 <= 1 && b.X1 < b.X2 && b.Y1 < b.Y2
}

// Width returns the normalized box width.
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns the normalized box height.
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the normalized box area.
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Center returns the normalized box center point.
func (b Box) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Detection is one object reported by the detector for a frame.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Validate reports why a detection cannot be used, or nil.
func (d Detection) Validate() error {
	if d.Class == "" {
		return fmt.Errorf("detection missing class label")
	}
	if !d.Box.Valid() {
		return fmt.Errorf("detection box %+v outside unit square or degenerate", d.Box)
	}
	return nil
}

// Detections is the payload of a "detection" event: everything the model saw
// in one frame, in model output order.
type Detections struct {
	FrameSeq int64
	Items    []Detection
}

// Clone copies the detection slice so later mutation by the producer cannot
// reach the delivered payload. Subscribers share the one delivered copy.
func (d Detections) Clone() any {
	items := make([]Detection, len(d.Items))
	copy(items, d.Items)
	d.Items = items
	return d
}

// Command is the payload of a "movement_command" event. Axes are velocities
// in the configured command units, already clamped by the navigator; the
// drone worker clamps again against its driver limits.
type Command struct {
	X   float64 `json:"x"`   // left/right, positive right
	Y   float64 `json:"y"`   // forward/back, positive forward
	Z   float64 `json:"z"`   // vertical, positive up
	Yaw float64 `json:"yaw"` // rotation, positive clockwise
}

// IsZero reports whether every axis is exactly zero.
func (c Command) IsZero() bool {
	return c.X == 0 && c.Y == 0 && c.Z == 0 && c.Yaw == 0
}

// YawOnly reports whether yaw is the only non-zero axis.
func (c Command) YawOnly() bool {
	return c.Yaw != 0 && c.X == 0 && c.Y == 0 && c.Z == 0
}

// Telemetry is the payload of a "telemetry" event: vehicle state as last
// reported by the drone driver.
type Telemetry struct {
	Battery int     `json:"battery"`
	Height  float64 `json:"height"`
	Flying  bool    `json:"flying"`
}

// Profile is the payload of a "worker_profile" event: one worker's step
// timing over its trailing profile window.
type Profile struct {
	Worker  string  `json:"worker"`
	MaxSecs float64 `json:"max_secs"`
	AvgSecs float64 `json:"avg_secs"`
	Samples int     `json:"samples"`
}
