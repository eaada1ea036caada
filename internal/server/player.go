package server

import (
	"context"
	"sync"
	"time"

	"github.com/hamchoi/talkmate/pkg/audio"
)

// playbackGrace is added to the clip duration for the completion fallback
// timer, covering network transfer and browser buffering.
const playbackGrace = 2 * time.Second

// wsPlayer adapts the browser's audio output into an [audio.Player]. Each clip
// is announced with an audio event carrying an id and the PCM format, followed
// by one binary message with the samples. The client reports completion with
// playback_ended; a fallback timer based on the clip duration covers clients
// that never do.
type wsPlayer struct {
	sendJSON   func(v any) error
	sendBinary func(data []byte) error

	mu      sync.Mutex
	nextID  int
	pending map[int]*pendingPlayback
}

type pendingPlayback struct {
	done  chan struct{}
	timer *time.Timer
}

var _ audio.Player = (*wsPlayer)(nil)

func newWSPlayer(sendJSON func(v any) error, sendBinary func(data []byte) error) *wsPlayer {
	return &wsPlayer{
		sendJSON:   sendJSON,
		sendBinary: sendBinary,
		pending:    make(map[int]*pendingPlayback),
	}
}

// Play implements [audio.Player].
func (p *wsPlayer) Play(ctx context.Context, clip *audio.Buffer) (<-chan struct{}, error) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	pb := &pendingPlayback{done: make(chan struct{})}
	p.pending[id] = pb
	p.mu.Unlock()

	header := event{
		Type:       "audio",
		PlaybackID: id,
		SampleRate: clip.SampleRate,
		Channels:   clip.Channels,
		DurationMS: int(clip.Duration() / time.Millisecond),
	}
	if err := p.sendJSON(header); err != nil {
		p.complete(id)
		return nil, err
	}
	if err := p.sendBinary(clip.Data); err != nil {
		p.complete(id)
		return nil, err
	}

	p.mu.Lock()
	if p.pending[id] == pb {
		pb.timer = time.AfterFunc(clip.Duration()+playbackGrace, func() { p.complete(id) })
	}
	p.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			p.complete(id)
		case <-pb.done:
		}
	}()

	return pb.done, nil
}

// playbackEnded handles the client's completion report.
func (p *wsPlayer) playbackEnded(id int) {
	p.complete(id)
}

// closeAll completes every pending playback; called on connection teardown.
func (p *wsPlayer) closeAll() {
	p.mu.Lock()
	ids := make([]int, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.complete(id)
	}
}

func (p *wsPlayer) complete(id int) {
	p.mu.Lock()
	pb, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
		if pb.timer != nil {
			pb.timer.Stop()
		}
	}
	p.mu.Unlock()
	if ok {
		close(pb.done)
	}
}
