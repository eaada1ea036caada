package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hamchoi/talkmate/pkg/audio"
	"github.com/hamchoi/talkmate/pkg/provider/stt"
)

// captureSampleRate is the PCM format learner speech is captured in.
const (
	captureSampleRate = 16000
	captureChannels   = 1
	captureLanguage   = "en-US"
)

// recorderEvents receives the recorder's output. All callbacks run on the
// recorder's goroutines; implementations take their own locks.
type recorderEvents struct {
	// onPartial delivers interim transcript text for live display.
	onPartial func(text string)

	// onFinal delivers the accumulated transcript exactly once, after the
	// provider has closed its final stream. It is not called when the
	// accumulated text is blank.
	onFinal func(text string)

	// onError delivers a transport failure that ended the session early.
	// onFinal may still follow if fragments were accumulated before the
	// failure.
	onError func(err error)
}

// recorder owns one microphone take: it pipes capture frames into an STT
// session and accumulates the final transcript fragments in arrival order.
type recorder struct {
	session stt.SessionHandle
	capture audio.Capture
	cancel  context.CancelFunc

	stopOnce sync.Once
	done     chan struct{}

	mu     sync.Mutex
	finals strings.Builder
}

// startRecorder acquires the microphone and opens an STT session. The
// returned recorder is already streaming; call stop to finish the take and
// trigger final transcript delivery.
func startRecorder(ctx context.Context, factory stt.Factory, apiKey string, capture audio.Capture, ev recorderEvents) (*recorder, error) {
	provider, err := factory(apiKey)
	if err != nil {
		return nil, fmt.Errorf("tutor: build stt provider: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	frames, err := capture.Start(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("tutor: start capture: %w", err)
	}
	// Devices deliver whatever format the hardware runs at; the STT stream is
	// opened for 16kHz mono, so frames are converted on the way in.
	frames = audio.ConvertStream(frames, audio.Format{
		SampleRate: captureSampleRate,
		Channels:   captureChannels,
	})

	session, err := provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: captureSampleRate,
		Channels:   captureChannels,
		Language:   captureLanguage,
	})
	if err != nil {
		_ = capture.Stop()
		cancel()
		return nil, fmt.Errorf("tutor: open stt stream: %w", err)
	}

	r := &recorder{
		session: session,
		capture: capture,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go r.pump(frames)
	go r.consume(ev)
	return r, nil
}

// pump forwards capture frames to the STT session in order. When the frame
// channel closes (capture stopped) the session is closed, which in turn
// closes the transcript channels and ends consume.
func (r *recorder) pump(frames <-chan audio.Frame) {
	for f := range frames {
		if err := r.session.SendAudio(f.Data); err != nil {
			// Session gone; drain remaining frames so the capture side never
			// blocks.
			for range frames {
			}
			break
		}
	}
	_ = r.session.Close()
}

// consume reads the session's output until the final stream closes, then
// delivers the accumulated transcript.
func (r *recorder) consume(ev recorderEvents) {
	defer close(r.done)

	partials := r.session.Partials()
	finals := r.session.Finals()
	errs := r.session.Errs()

	for partials != nil || finals != nil || errs != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if ev.onPartial != nil {
				ev.onPartial(t.Text)
			}
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			r.mu.Lock()
			r.finals.WriteString(t.Text)
			r.mu.Unlock()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("stt session ended with transport error", "err", err)
			if ev.onError != nil {
				ev.onError(err)
			}
		}
	}

	text := strings.TrimSpace(r.transcript())
	if text != "" && ev.onFinal != nil {
		ev.onFinal(text)
	}
}

// transcript returns the accumulated final text so far.
func (r *recorder) transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finals.String()
}

// stop releases the microphone, which ends the frame stream and lets the STT
// session flush and close. Safe to call more than once. Final transcript
// delivery happens asynchronously; wait on wait() if ordering matters.
func (r *recorder) stop() {
	r.stopOnce.Do(func() {
		_ = r.capture.Stop()
		// Let the session flush its pending finals before tearing down the
		// context; cancelling immediately would race the flush.
		go func() {
			<-r.done
			r.cancel()
		}()
	})
}

// wait blocks until the final transcript has been delivered (or discarded).
func (r *recorder) wait() <-chan struct{} {
	return r.done
}
