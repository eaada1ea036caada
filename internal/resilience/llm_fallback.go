package resilience

import (
	"context"
	"log/slog"

	"github.com/hamchoi/talkmate/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] on top of a [Chain] of LLM backends.
// When the primary fails or its breaker is open, the next healthy link is
// tried.
type LLMFallback struct {
	chain *Chain[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg ChainConfig) *LLMFallback {
	return &LLMFallback{
		chain: NewChain(primaryName, primary, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.chain.Extend(name, provider)
}

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(f.chain, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion sends the request to the first healthy provider and returns a
// streaming chunk channel. Note: only the initial connection attempt is covered
// by failover; once a stream is established, mid-stream errors are the caller's
// responsibility.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return Call(f.chain, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Capabilities returns the primary's capabilities. This does not participate
// in failover because capabilities are static metadata.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.chain.Primary().Capabilities()
}

// NamedLLMFactory pairs a provider name with its keyed constructor.
type NamedLLMFactory struct {
	Name    string
	Factory llm.Factory
}

// NewLLMFactory composes keyed factories into one that builds an [LLMFallback]
// per API key. A fallback constructor that rejects a key is skipped with a
// warning instead of failing the whole chain; the primary's error is fatal.
func NewLLMFactory(primary NamedLLMFactory, cfg ChainConfig, fallbacks ...NamedLLMFactory) llm.Factory {
	return func(apiKey string) (llm.Provider, error) {
		p, err := primary.Factory(apiKey)
		if err != nil {
			return nil, err
		}
		fb := NewLLMFallback(p, primary.Name, cfg)
		for _, f := range fallbacks {
			prov, err := f.Factory(apiKey)
			if err != nil {
				slog.Warn("skipping llm fallback provider", "provider", f.Name, "error", err)
				continue
			}
			fb.AddFallback(f.Name, prov)
		}
		return fb, nil
	}
}
