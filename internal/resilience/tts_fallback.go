package resilience

import (
	"context"
	"log/slog"

	"github.com/hamchoi/talkmate/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] on top of a [Chain] of TTS backends.
//
// Callers decode synthesized PCM using OutputFormat, which reports the
// primary's format. Fallbacks should therefore emit the same sample rate and
// channel count as the primary; AddFallback warns when they do not.
type TTSFallback struct {
	chain *Chain[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg ChainConfig) *TTSFallback {
	return &TTSFallback{
		chain: NewChain(primaryName, primary, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	rate, ch := f.OutputFormat()
	fbRate, fbCh := provider.OutputFormat()
	if fbRate != rate || fbCh != ch {
		slog.Warn("tts fallback output format differs from primary",
			"provider", name,
			"primary_rate", rate, "primary_channels", ch,
			"fallback_rate", fbRate, "fallback_channels", fbCh)
	}
	f.chain.Extend(name, provider)
}

// Synthesize renders the request against the first healthy provider. If the
// primary fails, subsequent fallbacks are tried.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	return Call(f.chain, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, req)
	})
}

// OutputFormat reports the primary's PCM format. This does not participate in
// failover because the caller picks a decode format once per session.
func (f *TTSFallback) OutputFormat() (int, int) {
	return f.chain.Primary().OutputFormat()
}

// Voices returns the primary's voice catalogue.
func (f *TTSFallback) Voices() []tts.VoiceProfile {
	return f.chain.Primary().Voices()
}

// NamedTTSFactory pairs a provider name with its keyed constructor.
type NamedTTSFactory struct {
	Name    string
	Factory tts.Factory
}

// NewTTSFactory composes keyed factories into one that builds a [TTSFallback]
// per API key. A fallback constructor that rejects a key is skipped with a
// warning instead of failing the whole chain; the primary's error is fatal.
func NewTTSFactory(primary NamedTTSFactory, cfg ChainConfig, fallbacks ...NamedTTSFactory) tts.Factory {
	return func(apiKey string) (tts.Provider, error) {
		p, err := primary.Factory(apiKey)
		if err != nil {
			return nil, err
		}
		fb := NewTTSFallback(p, primary.Name, cfg)
		for _, f := range fallbacks {
			prov, err := f.Factory(apiKey)
			if err != nil {
				slog.Warn("skipping tts fallback provider", "provider", f.Name, "error", err)
				continue
			}
			fb.AddFallback(f.Name, prov)
		}
		return fb, nil
	}
}
