package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hamchoi/talkmate/pkg/audio"
)

// micReadyTimeout bounds how long Start waits for the browser to acquire the
// microphone and confirm with a mic_ready event.
const micReadyTimeout = 5 * time.Second

// captureBuffer is the frame channel depth. At ~100ms per browser chunk this
// holds several seconds of audio before frames are dropped.
const captureBuffer = 64

// wsCapture adapts the browser microphone into an [audio.Capture]. Start asks
// the client to begin streaming via a mic_start event; the client answers with
// mic_ready (or mic_error) and then sends raw PCM as binary WebSocket
// messages, which the gateway feeds in through push.
type wsCapture struct {
	send func(v any) error

	mu      sync.Mutex
	started bool
	frames  chan audio.Frame
	ready   chan error
	opened  time.Time
}

var _ audio.Capture = (*wsCapture)(nil)

func newWSCapture(send func(v any) error) *wsCapture {
	return &wsCapture{send: send}
}

// Start implements [audio.Capture]. It blocks until the browser confirms the
// microphone is live, so permission problems surface here rather than as a
// silent empty take.
func (c *wsCapture) Start(ctx context.Context) (<-chan audio.Frame, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil, errors.New("server: capture already started")
	}
	frames := make(chan audio.Frame, captureBuffer)
	ready := make(chan error, 1)
	c.started = true
	c.frames = frames
	c.ready = ready
	c.opened = time.Now()
	c.mu.Unlock()

	if err := c.send(event{Type: "mic_start"}); err != nil {
		c.reset()
		return nil, fmt.Errorf("server: request microphone: %w", err)
	}

	select {
	case err := <-ready:
		if err != nil {
			c.reset()
			return nil, err
		}
	case <-ctx.Done():
		c.reset()
		return nil, ctx.Err()
	case <-time.After(micReadyTimeout):
		c.reset()
		return nil, errors.New("server: timed out waiting for the microphone")
	}

	return frames, nil
}

// Stop implements [audio.Capture]. It tells the browser to release the
// microphone and closes the frame stream.
func (c *wsCapture) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	frames := c.frames
	c.frames = nil
	c.ready = nil
	c.mu.Unlock()

	err := c.send(event{Type: "mic_stop"})
	close(frames)
	return err
}

// reset clears the capture state after a failed Start.
func (c *wsCapture) reset() {
	c.mu.Lock()
	c.started = false
	c.frames = nil
	c.ready = nil
	c.mu.Unlock()
	_ = c.send(event{Type: "mic_stop"})
}

// push feeds one binary PCM chunk from the client into the frame stream.
// Chunks arriving while no capture is active are dropped, as are chunks that
// would block a full buffer.
func (c *wsCapture) push(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.frames == nil {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f := audio.Frame{
		Data:       cp,
		SampleRate: 16000,
		Channels:   1,
		Timestamp:  time.Since(c.opened),
	}
	select {
	case c.frames <- f:
	default:
	}
}

// micReady resolves a pending Start.
func (c *wsCapture) micReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready != nil {
		select {
		case c.ready <- nil:
		default:
		}
	}
}

// micError resolves a pending Start with a failure. code is the browser's
// getUserMedia error classification.
func (c *wsCapture) micError(code string) {
	var err error
	switch code {
	case "permission_denied":
		err = audio.ErrPermissionDenied
	case "not_found":
		err = audio.ErrDeviceNotFound
	default:
		err = fmt.Errorf("server: microphone error: %s", code)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready != nil {
		select {
		case c.ready <- err:
		default:
		}
	}
}
