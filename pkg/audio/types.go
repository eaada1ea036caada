package audio

import "time"

// Frame represents a single block of captured audio flowing from a microphone
// source to a transcription session. Frames are the atomic unit of capture
// transport; the recorder forwards them in arrival order.
type Frame struct {
	// PCM audio data, little-endian int16 samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT input).
	SampleRate int

	// Channels: 1 for mono capture, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Buffer is a decoded, playable audio clip. Synthesized speech is decoded into
// a Buffer once and may be played any number of times.
type Buffer struct {
	// PCM audio data, little-endian int16 samples.
	Data []byte

	// SampleRate in Hz (e.g., 24000 for synthesized speech).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int
}

// Samples returns the number of per-channel sample frames in the buffer.
func (b *Buffer) Samples() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Data) / 2 / b.Channels
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Samples()) * time.Second / time.Duration(b.SampleRate)
}
