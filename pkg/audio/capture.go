// Package audio defines the interfaces and types for microphone capture and
// speech playback within TalkMate.
//
// The two primary abstractions are:
//
//   - [Capture] — acquires a microphone source and delivers a finite stream of
//     PCM [Frame] blocks while active.
//   - [Player] — plays a decoded [Buffer] and signals completion.
//
// Implementations are provided by transport-specific adapter packages (the
// WebSocket gateway adapts a browser microphone into a Capture). The
// interfaces are intentionally narrow to keep the conversation orchestrator
// decoupled from transport details.
//
// This package lives under pkg/ because external code (alternative capture
// transports, local sound-card adapters) is expected to implement [Capture]
// and [Player].
package audio

import (
	"context"
	"errors"
)

// Sentinel errors returned by [Capture.Start]. The orchestrator maps them to
// distinct user-facing messages, so implementations should wrap the underlying
// cause with one of these where the cause is known.
var (
	// ErrPermissionDenied indicates the user refused microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceNotFound indicates no usable microphone device exists.
	ErrDeviceNotFound = errors.New("audio: no microphone device found")
)

// Capture acquires a microphone source and produces PCM frames.
//
// Start acquires the source and returns a read-only channel of [Frame] values
// in capture order. The channel is closed when the source ends or Stop is
// called. The supplied ctx governs the acquisition attempt and the lifetime
// of the stream; cancelling it releases the source.
//
// Stop releases the source. It is safe to call Stop more than once and before
// Start; extra calls are no-ops.
//
// Implementations must be safe for concurrent use.
type Capture interface {
	Start(ctx context.Context) (<-chan Frame, error)
	Stop() error
}

// Player plays a decoded audio buffer.
//
// Play begins playback of clip and returns a channel that is closed when the
// underlying sink reaches end of stream for this clip. Implementations play
// one clip at a time; callers serialize Play calls. Cancelling ctx abandons
// the playback.
//
// Implementations must be safe for concurrent use.
type Player interface {
	Play(ctx context.Context, clip *Buffer) (<-chan struct{}, error)
}
