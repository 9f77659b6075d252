package video

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/banshee-data/vanishcap/internal/event"
)

// Source is the video collaborator: a lazy sequence of frames. NextFrame
// blocks until a frame is available and returns io.EOF at end of stream.
type Source interface {
	NextFrame() (event.Frame, error)
	Close() error
}

// OpenSource resolves a source string:
//
//	synth://           deterministic generated frames (offline, tests)
//	udp://host:port    one JPEG frame per datagram
//	anything else      path to an MJPEG file, replayed once (or looped)
func OpenSource(opts Options) (Source, error) {
	switch {
	case strings.HasPrefix(opts.Source, "synth://"):
		return newSynthSource(opts), nil
	case strings.HasPrefix(opts.Source, "udp://"):
		return newUDPSource(strings.TrimPrefix(opts.Source, "udp://"))
	default:
		return openFileSource(opts)
	}
}

// synthSource generates gradient frames with a moving square, paced at the
// configured FPS. Deterministic for a given frame number.
type synthSource struct {
	width, height int
	interval      time.Duration
	maxFrames     int64
	n             int64
	last          time.Time
}

func newSynthSource(opts Options) *synthSource {
	fps := opts.FPS
	if fps <= 0 {
		fps = 30
	}
	w, h := opts.Width, opts.Height
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 480
	}
	return &synthSource{
		width:     w,
		height:    h,
		interval:  time.Duration(float64(time.Second) / fps),
		maxFrames: opts.MaxFrames,
	}
}

func (s *synthSource) NextFrame() (event.Frame, error) {
	if s.maxFrames > 0 && s.n >= s.maxFrames {
		return event.Frame{}, io.EOF
	}
	if wait := s.interval - time.Since(s.last); !s.last.IsZero() && wait > 0 {
		time.Sleep(wait)
	}
	s.last = time.Now()
	s.n++

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(s.n), A: 255})
		}
	}
	// 32x32 marker square sweeping left to right, one pixel per frame
	mx := int(s.n) % (s.width - 32)
	for y := s.height/2 - 16; y < s.height/2+16; y++ {
		for x := mx; x < mx+32; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return event.Frame{}, fmt.Errorf("encode synth frame: %w", err)
	}
	return event.Frame{Seq: s.n, Width: s.width, Height: s.height, Data: buf.Bytes()}, nil
}

func (s *synthSource) Close() error { return nil }

// fileSource replays the JPEG frames of an MJPEG file.
type fileSource struct {
	frames   [][]byte
	interval time.Duration
	loop     bool
	i        int
	n        int64
	last     time.Time
}

func openFileSource(opts Options) (*fileSource, error) {
	data, err := os.ReadFile(opts.Source)
	if err != nil {
		return nil, fmt.Errorf("open video source: %w", err)
	}
	frames := SplitMJPEG(data)
	if len(frames) == 0 {
		return nil, fmt.Errorf("no JPEG frames in %s", opts.Source)
	}
	fps := opts.FPS
	if fps <= 0 {
		fps = 30
	}
	return &fileSource{
		frames:   frames,
		interval: time.Duration(float64(time.Second) / fps),
		loop:     opts.Loop,
	}, nil
}

func (s *fileSource) NextFrame() (event.Frame, error) {
	if s.i >= len(s.frames) {
		if !s.loop {
			return event.Frame{}, io.EOF
		}
		s.i = 0
	}
	if wait := s.interval - time.Since(s.last); !s.last.IsZero() && wait > 0 {
		time.Sleep(wait)
	}
	s.last = time.Now()
	data := s.frames[s.i]
	s.i++
	s.n++
	f := event.Frame{Seq: s.n, Data: data}
	if cfg, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
		f.Width, f.Height = cfg.Width, cfg.Height
	}
	return f, nil
}

func (s *fileSource) Close() error { return nil }

// SplitMJPEG slices a concatenated JPEG stream into individual frames by
// scanning for SOI/EOI marker pairs.
func SplitMJPEG(data []byte) [][]byte {
	var frames [][]byte
	soi := []byte{0xFF, 0xD8}
	eoi := []byte{0xFF, 0xD9}
	for {
		start := bytes.Index(data, soi)
		if start < 0 {
			break
		}
		end := bytes.Index(data[start:], eoi)
		if end < 0 {
			break
		}
		end += start + len(eoi)
		frames = append(frames, data[start:end])
		data = data[end:]
	}
	return frames
}

// udpSource reads one JPEG frame per datagram from a local UDP port, the
// transport the drone's video link uses.
type udpSource struct {
	conn *net.UDPConn
	buf  []byte
	n    int64
}

func newUDPSource(addr string) (*udpSource, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve video address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen video stream: %w", err)
	}
	return &udpSource{conn: conn, buf: make([]byte, 1<<16)}, nil
}

func (s *udpSource) NextFrame() (event.Frame, error) {
	// Bounded read so the worker's step stays responsive to stop.
	if err := s.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		return event.Frame{}, err
	}
	n, _, err := s.conn.ReadFromUDP(s.buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return event.Frame{}, errFrameTimeout
		}
		return event.Frame{}, err
	}
	s.n++
	data := make([]byte, n)
	copy(data, s.buf[:n])
	f := event.Frame{Seq: s.n, Data: data}
	if cfg, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
		f.Width, f.Height = cfg.Width, cfg.Height
	}
	return f, nil
}

func (s *udpSource) Close() error { return s.conn.Close() }

var errFrameTimeout = fmt.Errorf("no frame within read deadline")
