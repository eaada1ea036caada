// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// streaming WebSocket API. It implements the tts.Provider interface.
//
// Each Synthesize call opens a stream-input socket, sends the whole utterance
// followed by a flush, and accumulates the base64 PCM chunks into one clip.
// Scripted tutor lines are short, so a socket per line keeps the provider
// stateless between turns.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/hamchoi/talkmate/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultWSBaseURL  = "wss://api.elevenlabs.io"
	defaultAPIBaseURL = "https://api.elevenlabs.io"
	defaultModel      = "eleven_flash_v2_5"
	defaultOutputFmt  = "pcm_24000"

	// defaultVoiceID is the premade "Rachel" voice.
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice sets the default voice ID used when a request leaves Voice empty.
func WithVoice(voiceID string) Option {
	return func(p *Provider) {
		p.voice = voiceID
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000",
// "pcm_24000"). The sample rate reported by OutputFormat follows it.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithWSBaseURL overrides the WebSocket base URL. Primarily used in tests to
// point at a local mock server.
func WithWSBaseURL(base string) Option {
	return func(p *Provider) {
		p.wsBaseURL = strings.TrimRight(base, "/")
	}
}

// WithAPIBaseURL overrides the REST base URL used for the voice catalogue.
func WithAPIBaseURL(base string) Option {
	return func(p *Provider) {
		p.apiBaseURL = strings.TrimRight(base, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	voice        string
	outputFormat string
	wsBaseURL    string
	apiBaseURL   string
	httpClient   *http.Client
}

// New creates an ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		voice:        defaultVoiceID,
		outputFormat: defaultOutputFmt,
		wsBaseURL:    defaultWSBaseURL,
		apiBaseURL:   defaultAPIBaseURL,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Factory returns a tts.Factory that builds an ElevenLabs provider for the
// given API key, carrying opts into every build.
func Factory(opts ...Option) tts.Factory {
	return func(apiKey string) (tts.Provider, error) {
		return New(apiKey, opts...)
	}
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// boiMessage is the initial "begin of input" handshake carrying the API key.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// audioResponse is a JSON message received from ElevenLabs over the socket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// Synthesize implements tts.Provider. It opens a stream-input WebSocket,
// sends the utterance plus a flush, and concatenates the returned PCM chunks.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if req.Text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(1 << 22)

	// BOI authenticates and configures the stream. ElevenLabs requires a
	// non-empty first text value.
	boi := boiMessage{
		Text:          " ",
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		XiAPIKey:      p.apiKey,
		OutputFormat:  p.outputFormat,
	}
	if err := writeJSON(ctx, conn, boi); err != nil {
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}
	if err := writeJSON(ctx, conn, textMessage{Text: req.Text + " "}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send text: %w", err)
	}
	// Empty text flushes the stream and makes the server finalize.
	if err := writeJSON(ctx, conn, textMessage{Text: ""}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send flush: %w", err)
	}

	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			// The server closes the socket after the final chunk; whatever
			// audio arrived before a clean close is the clip.
			if len(pcm) > 0 && ctx.Err() == nil {
				return pcm, nil
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}

		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}

	if len(pcm) == 0 {
		return nil, fmt.Errorf("elevenlabs: %w", tts.ErrNoAudio)
	}
	return pcm, nil
}

// OutputFormat implements tts.Provider. The sample rate is derived from the
// configured output format string (e.g., "pcm_24000"); output is always mono.
func (p *Provider) OutputFormat() (int, int) {
	return parseOutputRate(p.outputFormat), 1
}

// Voices implements tts.Provider with a catalogue of well-known premade
// voices. Use [Provider.ListVoices] for the live account catalogue.
func (p *Provider) Voices() []tts.VoiceProfile {
	return []tts.VoiceProfile{
		{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel", Provider: "elevenlabs"},
		{ID: "AZnzlk1XvdvUeBnXmlld", Name: "Domi", Provider: "elevenlabs"},
		{ID: "EXAVITQu4vr4xnSDxMaL", Name: "Bella", Provider: "elevenlabs"},
		{ID: "ErXwobaYiN019PkySvjV", Name: "Antoni", Provider: "elevenlabs"},
		{ID: "pNInz6obpgDQGcFmaJgB", Name: "Adam", Provider: "elevenlabs"},
	}
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available to the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return voiceProfiles(vr), nil
}

// ---- helpers ----

// streamURL constructs the stream-input WebSocket URL for a voice.
func (p *Provider) streamURL(voiceID string) string {
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s",
		p.wsBaseURL, voiceID, p.model, p.outputFormat)
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// parseOutputRate extracts the sample rate from a "pcm_<rate>" format string.
// Unknown formats report the default 24 kHz.
func parseOutputRate(format string) int {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 24000
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 24000
	}
	return rate
}

// voiceProfiles maps an ElevenLabs voices response onto VoiceProfile values.
func voiceProfiles(vr voicesResponse) []tts.VoiceProfile {
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return profiles
}
