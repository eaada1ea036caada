// Package mock provides in-memory mock implementations of the [audio.Capture]
// and [audio.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	cap := &mock.Capture{Frames: []audio.Frame{{Data: pcm, SampleRate: 16000, Channels: 1}}}
//	player := &mock.Player{}
//	frames, err := cap.Start(ctx)
package mock

import (
	"context"
	"sync"

	"github.com/hamchoi/talkmate/pkg/audio"
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture]. Set Frames (and
// optionally StartError) before use; every Start call emits all Frames on the
// returned channel and then leaves it open until Stop or ctx cancellation.
type Capture struct {
	mu sync.Mutex

	// Frames are emitted, in order, on every channel returned by Start.
	Frames []audio.Frame

	// StartError, when non-nil, is returned by Start.
	StartError error

	// CloseAfterFrames closes the stream right after the scripted frames are
	// emitted instead of waiting for Stop.
	CloseAfterFrames bool

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	stop chan struct{}
}

// Start implements [audio.Capture]. It returns StartError when set, otherwise
// a channel fed with the scripted Frames.
func (c *Capture) Start(ctx context.Context) (<-chan audio.Frame, error) {
	c.mu.Lock()
	c.CallCountStart++
	if c.StartError != nil {
		err := c.StartError
		c.mu.Unlock()
		return nil, err
	}
	frames := make([]audio.Frame, len(c.Frames))
	copy(frames, c.Frames)
	stop := make(chan struct{})
	c.stop = stop
	closeAfter := c.CloseAfterFrames
	c.mu.Unlock()

	out := make(chan audio.Frame, len(frames)+1)
	go func() {
		defer close(out)
		// The channel has room for every scripted frame, so delivery never
		// blocks. Frames are always drained in full; a racing Stop only
		// decides when the channel closes, not how many frames arrive.
		for _, f := range frames {
			out <- f
		}
		if closeAfter {
			return
		}
		select {
		case <-stop:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// Stop implements [audio.Capture]. Safe to call repeatedly.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStop++
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
	}
	return nil
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player]. By default every Play
// completes immediately; set Hold to true to complete playback manually via
// Finish.
type Player struct {
	mu sync.Mutex

	// PlayError, when non-nil, is returned by Play.
	PlayError error

	// Hold keeps playbacks pending until Finish is called.
	Hold bool

	// Played records the clips passed to Play, in order.
	Played []*audio.Buffer

	pending []chan struct{}
}

// Play implements [audio.Player].
func (p *Player) Play(_ context.Context, clip *audio.Buffer) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PlayError != nil {
		return nil, p.PlayError
	}
	p.Played = append(p.Played, clip)
	done := make(chan struct{})
	if p.Hold {
		p.pending = append(p.pending, done)
	} else {
		close(done)
	}
	return done, nil
}

// Finish completes the oldest pending playback. It reports whether a playback
// was pending.
func (p *Player) Finish() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return false
	}
	close(p.pending[0])
	p.pending = p.pending[1:]
	return true
}

// PlayCount returns how many clips have been played.
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Played)
}
