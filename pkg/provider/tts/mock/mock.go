// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled PCM bytes to consumers and to verify which
// texts were synthesized.
//
// Example:
//
//	p := &mock.Provider{AudioByText: map[string][]byte{"Hello!": pcm}}
//	out, _ := p.Synthesize(ctx, tts.Request{Text: "Hello!"})
package mock

import (
	"context"
	"sync"

	"github.com/hamchoi/talkmate/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the Request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// AudioByText maps request text to the PCM bytes to return. Texts absent
	// from the map fall back to Audio.
	AudioByText map[string][]byte

	// Audio is returned for any text not covered by AudioByText. When both
	// are empty and SynthesizeErr is nil, Synthesize returns tts.ErrNoAudio.
	Audio []byte

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// FailTexts lists request texts for which Synthesize returns
	// tts.ErrNoAudio regardless of the other fields.
	FailTexts []string

	// SampleRate and Channels are reported by OutputFormat. Zero values
	// default to 24000/1.
	SampleRate int
	Channels   int

	// VoicesResult is returned by Voices.
	VoicesResult []tts.VoiceProfile

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the configured audio for req.Text.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})

	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	for _, ft := range p.FailTexts {
		if ft == req.Text {
			return nil, tts.ErrNoAudio
		}
	}
	if audio, ok := p.AudioByText[req.Text]; ok {
		return audio, nil
	}
	if p.Audio != nil {
		return p.Audio, nil
	}
	return nil, tts.ErrNoAudio
}

// OutputFormat implements tts.Provider.
func (p *Provider) OutputFormat() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rate, ch := p.SampleRate, p.Channels
	if rate == 0 {
		rate = 24000
	}
	if ch == 0 {
		ch = 1
	}
	return rate, ch
}

// Voices implements tts.Provider.
func (p *Provider) Voices() []tts.VoiceProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.VoicesResult
}

// SynthesizeCallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) SynthesizeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
