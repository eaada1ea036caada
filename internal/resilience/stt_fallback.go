package resilience

import (
	"context"
	"log/slog"

	"github.com/hamchoi/talkmate/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] on top of a [Chain] of STT backends.
type STTFallback struct {
	chain *Chain[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg ChainConfig) *STTFallback {
	return &STTFallback{
		chain: NewChain(primaryName, primary, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.chain.Extend(name, provider)
}

// StartStream opens a streaming transcription session against the first healthy
// provider. If the primary fails to start the stream, subsequent fallbacks are
// tried. Only stream setup is covered by failover; once a session is live,
// transport errors surface on its Errs channel as usual.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Call(f.chain, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// NamedSTTFactory pairs a provider name with its keyed constructor.
type NamedSTTFactory struct {
	Name    string
	Factory stt.Factory
}

// NewSTTFactory composes keyed factories into one that builds an [STTFallback]
// per API key. A fallback constructor that rejects a key is skipped with a
// warning instead of failing the whole chain; the primary's error is fatal.
func NewSTTFactory(primary NamedSTTFactory, cfg ChainConfig, fallbacks ...NamedSTTFactory) stt.Factory {
	return func(apiKey string) (stt.Provider, error) {
		p, err := primary.Factory(apiKey)
		if err != nil {
			return nil, err
		}
		fb := NewSTTFallback(p, primary.Name, cfg)
		for _, f := range fallbacks {
			prov, err := f.Factory(apiKey)
			if err != nil {
				slog.Warn("skipping stt fallback provider", "provider", f.Name, "error", err)
				continue
			}
			fb.AddFallback(f.Name, prov)
		}
		return fb, nil
	}
}
