package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hamchoi/talkmate/pkg/provider/llm"
	"github.com/hamchoi/talkmate/pkg/provider/stt"
	"github.com/hamchoi/talkmate/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Build* methods when no builder has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their builder functions for each provider
// type. Builders return key-binding factories rather than live providers,
// because the learner's API key only becomes known at runtime. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]func(ProviderEntry) (llm.Factory, error)
	stt map[string]func(ProviderEntry) (stt.Factory, error)
	tts map[string]func(ProviderEntry) (tts.Factory, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]func(ProviderEntry) (llm.Factory, error)),
		stt: make(map[string]func(ProviderEntry) (stt.Factory, error)),
		tts: make(map[string]func(ProviderEntry) (tts.Factory, error)),
	}
}

// RegisterLLM registers an LLM provider builder under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, builder func(ProviderEntry) (llm.Factory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = builder
}

// RegisterSTT registers an STT provider builder under name.
func (r *Registry) RegisterSTT(name string, builder func(ProviderEntry) (stt.Factory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = builder
}

// RegisterTTS registers a TTS provider builder under name.
func (r *Registry) RegisterTTS(name string, builder func(ProviderEntry) (tts.Factory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = builder
}

// BuildLLM returns an LLM factory using the builder registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no builder has been
// registered for that name.
func (r *Registry) BuildLLM(entry ProviderEntry) (llm.Factory, error) {
	r.mu.RLock()
	builder, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return builder(entry)
}

// BuildSTT returns an STT factory using the builder registered under entry.Name.
func (r *Registry) BuildSTT(entry ProviderEntry) (stt.Factory, error) {
	r.mu.RLock()
	builder, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return builder(entry)
}

// BuildTTS returns a TTS factory using the builder registered under entry.Name.
func (r *Registry) BuildTTS(entry ProviderEntry) (tts.Factory, error) {
	r.mu.RLock()
	builder, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return builder(entry)
}
