package testutil

import (
	"encoding/json"
	"errors"
	"sync"
)

// ErrSendFailed is returned by a Transport configured to fail
var ErrSendFailed = errors.New("send failed")

// Transport records frames and close calls
type Transport struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
	code   int
	reason string
}

// NewTransport creates a recording transport
func NewTransport() *Transport {
	return &Transport{}
}

// FailSends makes every later Send fail
func (t *Transport) FailSends() {
	t.mu.Lock()
	t.fail = true
	t.mu.Unlock()
}

func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail || t.closed {
		return ErrSendFailed
	}
	t.frames = append(t.frames, frame)
	return nil
}

func (t *Transport) Close(code int, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.code = code
	t.reason = reason
}

// Frames decodes every recorded frame
func (t *Transport) Frames() []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]any, 0, len(t.frames))
	for _, f := range t.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// FramesOfType returns the recorded frames with the given type
func (t *Transport) FramesOfType(frameType string) []map[string]any {
	var out []map[string]any
	for _, f := range t.Frames() {
		if f["type"] == frameType {
			out = append(out, f)
		}
	}
	return out
}

// Closed returns whether Close was called and with which code and reason
func (t *Transport) Closed() (bool, int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed, t.code, t.reason
}
