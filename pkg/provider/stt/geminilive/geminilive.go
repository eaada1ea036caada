// Package geminilive provides an stt.Provider backed by Google's Gemini Live
// API. It establishes a bidirectional WebSocket connection to the Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol: audio is transmitted as base64-encoded PCM chunks and input
// transcription fragments arrive on serverContent messages.
//
// The Live API emits committed transcription fragments rather than
// interim/final pairs, so every fragment is delivered on Finals and the
// Partials channel never carries values.
package geminilive

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hamchoi/talkmate/pkg/provider/stt"
)

// Compile-time assertions that Provider and session satisfy the stt interfaces.
var _ stt.Provider = (*Provider)(nil)
var _ stt.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements stt.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Gemini Live Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("geminilive: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a live transcription session. The returned SessionHandle
// is ready to accept audio once the setup message has been sent.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("geminilive: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	sess := &session{
		conn:       conn,
		sampleRate: sampleRate,
		partials:   make(chan stt.Transcript, 64),
		finals:     make(chan stt.Transcript, 64),
		errs:       make(chan error, 1),
		done:       make(chan struct{}),
		ctx:        sessCtx,
		cancel:     sessCancel,
	}

	if err := sess.sendSetup(p.model); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("geminilive: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// Factory returns an stt.Factory that builds a Gemini Live provider for the
// given API key, carrying opts into every build.
func Factory(opts ...Option) stt.Factory {
	return func(apiKey string) (stt.Provider, error) {
		return New(apiKey, opts...)
	}
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                   string           `json:"model"`
	GenerationConfig        generationConfig `json:"generationConfig"`
	InputAudioTranscription *struct{}        `json:"inputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *liveError       `json:"error,omitempty"`
}

type liveError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	TurnComplete       bool           `json:"turnComplete,omitempty"`
	InputTranscription *transcription `json:"inputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn       *websocket.Conn
	sampleRate int
	partials   chan stt.Transcript
	finals     chan stt.Transcript
	errs       chan error

	mu     sync.Mutex
	closed bool

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message. Requesting
// text response modality plus input transcription gives a recognition-only
// session: the model's own output is never played.
func (s *session) sendSetup(model string) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"text"},
			},
			InputAudioTranscription: &struct{}{},
		},
	}
	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("geminilive: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches transcription
// fragments. It owns the output channels: it closes them when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// If the session context was cancelled, exit cleanly.
			if s.ctx.Err() != nil {
				return
			}
			s.deliverErr(fmt.Errorf("geminilive: read: %w", err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		if msg.Error != nil {
			text := msg.Error.Message
			if text == "" {
				text = "unknown error"
			}
			s.deliverErr(fmt.Errorf("geminilive: %s", text))
			return
		}

		if msg.ServerContent == nil {
			continue
		}
		if tr := msg.ServerContent.InputTranscription; tr != nil && tr.Text != "" {
			out := stt.Transcript{Text: tr.Text, IsFinal: true}
			select {
			case s.finals <- out:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the Live connection open while
// the learner pauses between sentences.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// deliverErr delivers at most one transport error to the Errs channel.
func (s *session) deliverErr(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.partials)
		close(s.finals)
		close(s.errs)
	})
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio delivers a raw PCM audio chunk (s16le, mono) to the model.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return stt.ErrSessionClosed
	}
	s.mu.Unlock()

	encoded := base64.StdEncoding.EncodeToString(chunk)
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: fmt.Sprintf("audio/pcm;rate=%d", s.sampleRate), Data: encoded},
			},
		},
	}
	return s.writeJSON(msg)
}

// Partials returns the interim transcript channel. The Live API does not emit
// interim results; the channel exists to satisfy the interface and is closed
// with the session.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the channel of committed transcription fragments.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Errs returns the channel carrying the session-ending transport error, if any.
func (s *session) Errs() <-chan error { return s.errs }

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
