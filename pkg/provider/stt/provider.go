// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., the Gemini
// Live API or Deepgram) and exposes a uniform streaming interface. The central
// abstraction is SessionHandle: once opened, a session accepts raw PCM audio
// chunks and emits two streams of Transcript values — low-latency partials for
// live display and authoritative finals that are appended, in order, to the
// learner's accumulated reply.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after Close has been called.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition hints for a new STT
// session. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. TalkMate captures learner
	// speech at 16000 Hz mono.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT providers). Implementors may downmix stereo internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect the language, if
	// supported.
	Language string
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without requiring a live
// provider connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk should match the SampleRate, Channels, and
	// bit-depth agreed in StreamConfig. Calling SendAudio after Close returns
	// ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim
	// Transcript values as the provider makes preliminary guesses. These are
	// suitable for driving live display but must not be appended to the
	// accumulated reply. The channel is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel that emits authoritative Transcript
	// values once the provider has committed to a recognition result. Callers
	// append these, in channel order, to the accumulated reply. The channel
	// is closed when the session ends; channel closure is the session-ended
	// signal consumers should act on.
	Finals() <-chan Transcript

	// Errs returns a read-only channel carrying transport failures that end
	// the session from the provider side (network drop, protocol error). At
	// most one error is delivered; the channel is closed when the session
	// ends. A close without an error means the session ended normally.
	Errs() <-chan error

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. After Close returns, the Partials, Finals,
	// and Errs channels will be closed. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously (e.g., one per connected learner).
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned SessionHandle
	// is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close when
	// done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// Factory builds a Provider bound to a specific API key. TalkMate learns the
// key at runtime, so the recorder holds a Factory rather than a fixed
// Provider.
type Factory func(apiKey string) (Provider, error)
