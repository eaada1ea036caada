package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrChainExhausted is returned when every link in a [Chain] failed or was
// skipped by an open breaker.
var ErrChainExhausted = errors.New("resilience: provider chain exhausted")

// ChainConfig tunes the [Breaker] guarding each link. The Name field is set
// per link from the provider name.
type ChainConfig struct {
	Breaker BreakerConfig
}

// link pairs one provider with its private breaker.
type link[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain holds a primary provider and zero or more fallbacks of the same
// type. Calls go to the primary first; when it fails or its breaker is open,
// the next link is tried in the order the links were added.
//
// A Chain is built once per learner key, so its breakers track that
// learner's traffic only.
type Chain[T any] struct {
	links []link[T]
	cfg   ChainConfig
}

// NewChain creates a [Chain] whose first link is the named primary.
func NewChain[T any](name string, primary T, cfg ChainConfig) *Chain[T] {
	bc := cfg.Breaker
	bc.Name = name
	return &Chain[T]{
		links: []link[T]{{name: name, value: primary, breaker: NewBreaker(bc)}},
		cfg:   cfg,
	}
}

// Extend appends a fallback link. Links are tried in insertion order.
func (c *Chain[T]) Extend(name string, value T) {
	bc := c.cfg.Breaker
	bc.Name = name
	c.links = append(c.links, link[T]{name: name, value: value, breaker: NewBreaker(bc)})
}

// Primary returns the first link's provider. Static per-provider metadata
// (capabilities, output formats, voice catalogues) comes from here; only
// live calls fail over.
func (c *Chain[T]) Primary() T {
	return c.links[0].value
}

// Do runs fn against each link in order until one succeeds. Links with an
// open breaker are skipped. When nothing succeeds the last error is wrapped
// in [ErrChainExhausted].
func (c *Chain[T]) Do(fn func(T) error) error {
	var lastErr error
	for i := range c.links {
		l := &c.links[i]
		err := l.breaker.Do(func() error {
			return fn(l.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping provider, breaker open", "provider", l.name)
		} else {
			slog.Warn("provider failed, moving down the chain", "provider", l.name, "err", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrChainExhausted, lastErr)
}

// Call runs fn against each link of c until one succeeds, returning the
// result. A package-level function because Go methods cannot add type
// parameters.
func Call[T any, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var out R
	err := c.Do(func(v T) error {
		var callErr error
		out, callErr = fn(v)
		return callErr
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return out, nil
}
