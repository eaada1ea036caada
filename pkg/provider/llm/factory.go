package llm

import "sync"

// Factory builds a Provider bound to a specific API key. TalkMate learns the
// key at runtime (the learner enters it in the client), so components that
// talk to an LLM hold a Factory rather than a fixed Provider.
type Factory func(apiKey string) (Provider, error)

// Memoize wraps f so that repeated calls with the same key reuse a single
// Provider instance. A call with a different key discards the previous
// instance and builds a fresh one. The returned Factory is safe for
// concurrent use.
func Memoize(f Factory) Factory {
	var (
		mu       sync.Mutex
		boundKey string
		bound    Provider
	)
	return func(apiKey string) (Provider, error) {
		mu.Lock()
		defer mu.Unlock()
		if bound != nil && boundKey == apiKey {
			return bound, nil
		}
		p, err := f(apiKey)
		if err != nil {
			return nil, err
		}
		boundKey = apiKey
		bound = p
		return p, nil
	}
}
