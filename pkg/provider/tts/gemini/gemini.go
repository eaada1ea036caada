// Package gemini provides a Gemini-backed TTS provider using the
// generateContent REST endpoint with audio response modality. It implements
// the tts.Provider interface.
//
// Synthesized audio arrives as base64-encoded raw PCM, 24 kHz mono s16le.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hamchoi/talkmate/pkg/provider/tts"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash-preview-tts"
	defaultVoice   = "Kore"

	outputSampleRate = 24000
	outputChannels   = 1
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Gemini TTS model (e.g., "gemini-2.5-flash-preview-tts").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice sets the default prebuilt voice name used when a request leaves
// Voice empty.
func WithVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}

// WithBaseURL overrides the API base URL. Primarily used in tests to point at
// a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the Gemini TTS API.
type Provider struct {
	apiKey     string
	model      string
	voice      string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Gemini TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		voice:      defaultVoice,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Factory returns a tts.Factory that builds a Gemini TTS provider for the
// given API key, carrying opts into every build.
func Factory(opts ...Option) tts.Factory {
	return func(apiKey string) (tts.Provider, error) {
		return New(apiKey, opts...)
	}
}

// ---- request/response types ----

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// Synthesize implements tts.Provider. It posts a generateContent request with
// audio response modality and decodes the inline PCM payload.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if req.Text == "" {
		return nil, errors.New("gemini: text must not be empty")
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}

	body := generateRequest{
		Contents: []content{{Parts: []part{{Text: req.Text}}}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: synthesize HTTP: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini: synthesize: unexpected status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	return parseAudioResponse(raw)
}

// OutputFormat implements tts.Provider.
func (p *Provider) OutputFormat() (int, int) {
	return outputSampleRate, outputChannels
}

// Voices implements tts.Provider with the prebuilt Gemini voice catalogue.
func (p *Provider) Voices() []tts.VoiceProfile {
	return []tts.VoiceProfile{
		{ID: "Aoede", Name: "Aoede", Provider: "gemini"},
		{ID: "Charon", Name: "Charon", Provider: "gemini"},
		{ID: "Fenrir", Name: "Fenrir", Provider: "gemini"},
		{ID: "Kore", Name: "Kore", Provider: "gemini"},
		{ID: "Puck", Name: "Puck", Provider: "gemini"},
	}
}

// parseAudioResponse extracts and decodes the inline PCM payload from a
// generateContent response body. Returns tts.ErrNoAudio (wrapped) when the
// response carries no audio part.
func parseAudioResponse(raw []byte) ([]byte, error) {
	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	if gr.Error != nil {
		return nil, fmt.Errorf("gemini: api error %d: %s", gr.Error.Code, gr.Error.Message)
	}

	for _, cand := range gr.Candidates {
		for _, pt := range cand.Content.Parts {
			if pt.InlineData == nil || pt.InlineData.Data == "" {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(pt.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("gemini: decode audio: %w", err)
			}
			if len(pcm) == 0 {
				continue
			}
			return pcm, nil
		}
	}
	return nil, fmt.Errorf("gemini: %w", tts.ErrNoAudio)
}

// truncate shortens raw for inclusion in error messages.
func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
