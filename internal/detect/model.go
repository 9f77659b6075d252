package detect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/banshee-data/vanishcap/internal/event"
)

// Model is the inference collaborator: a frame in, the bounding boxes the
// model saw out. It is consumed here, not reimplemented; the built-in
// implementations are an HTTP sidecar client and a deterministic stub.
type Model interface {
	Infer(frame event.Frame) ([]event.Detection, error)
	Close() error
}

// httpModel posts JPEG frames to an inference sidecar and decodes its JSON
// detection list. Boxes come back in normalized [0,1] coordinates.
type httpModel struct {
	url    string
	client *http.Client
}

func newHTTPModel(url string, timeout time.Duration) *httpModel {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &httpModel{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (m *httpModel) Infer(frame event.Frame) ([]event.Detection, error) {
	resp, err := m.client.Post(m.url, "image/jpeg", bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference returned %s: %s", resp.Status, body)
	}
	var out []event.Detection
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	return out, nil
}

func (m *httpModel) Close() error {
	m.client.CloseIdleConnections()
	return nil
}

// stubModel returns a fixed detection for every frame. It keeps the pipeline
// runnable offline and drives the synthetic source in demos and tests.
type stubModel struct {
	detections []event.Detection
}

func (m *stubModel) Infer(event.Frame) ([]event.Detection, error) {
	out := make([]event.Detection, len(m.detections))
	copy(out, m.detections)
	return out, nil
}

func (m *stubModel) Close() error { return nil }
