// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., the Gemini TTS API)
// and presents a uniform request/response interface. TalkMate synthesizes
// complete dialogue lines ahead of playback and caches the decoded PCM, so
// the interface is a single-shot Synthesize rather than a streaming pipe.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (the prefetcher synthesizes every script line
// concurrently).
package tts

import (
	"context"
	"errors"
)

// ErrNoAudio indicates the provider responded without usable audio data for
// the given text. Callers treat the line as unplayable and skip it.
var ErrNoAudio = errors.New("tts: no audio data in response")

// Request describes a single synthesis job.
type Request struct {
	// Text is the exact line to speak. Must be non-empty.
	Text string

	// Voice is the provider-specific voice name. Empty selects the provider
	// default.
	Voice string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts req.Text into raw little-endian int16 PCM bytes at
	// the provider's native output rate (24000 Hz mono for Gemini TTS).
	//
	// Returns ErrNoAudio (possibly wrapped) when the service answers without
	// audio content, and other errors for transport or authentication
	// failures.
	Synthesize(ctx context.Context, req Request) ([]byte, error)

	// OutputFormat reports the sample rate in Hz and channel count of the PCM
	// returned by Synthesize.
	OutputFormat() (sampleRate, channels int)

	// Voices returns the static voice catalogue of this provider.
	Voices() []VoiceProfile
}

// Factory builds a Provider bound to a specific API key. TalkMate learns the
// key at runtime, so synthesis call sites hold a Factory rather than a fixed
// Provider.
type Factory func(apiKey string) (Provider, error)
