package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hamchoi/talkmate/pkg/provider/llm"
)

// ErrInvalidScript indicates the model returned output that could not be
// parsed into a usable conversation script.
var ErrInvalidScript = errors.New("script: model returned an invalid script")

// Generator produces conversation scripts from an LLM backend. The backend is
// built lazily per API key through the factory, so learners can swap keys
// mid-session without restarting the service.
type Generator struct {
	factory  llm.Factory
	language string
}

// NewGenerator creates a script Generator. language is the learner's native
// language used for per-line translations, e.g. "Vietnamese".
func NewGenerator(factory llm.Factory, language string) (*Generator, error) {
	if factory == nil {
		return nil, errors.New("script: factory must not be nil")
	}
	if language == "" {
		return nil, errors.New("script: language must not be empty")
	}
	return &Generator{factory: memoizedOrSame(factory), language: language}, nil
}

// memoizedOrSame wraps f with llm.Memoize so repeated calls with the same key
// reuse one backend.
func memoizedOrSame(f llm.Factory) llm.Factory {
	return llm.Memoize(f)
}

// Generate asks the model for a complete script about topic at the given
// difficulty and validates its shape. The returned lines alternate between
// bot and user turns, starting with the bot.
func (g *Generator) Generate(ctx context.Context, topic string, difficulty Difficulty, apiKey string) ([]Line, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("script: topic must not be empty")
	}
	if !difficulty.IsValid() {
		return nil, fmt.Errorf("script: unknown difficulty %q", difficulty)
	}

	provider, err := g.factory(apiKey)
	if err != nil {
		return nil, fmt.Errorf("script: build llm provider: %w", err)
	}

	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "user", Content: GenerationPrompt(topic, difficulty, g.language)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("script: generate: %w", err)
	}

	lines, err := ParseScript(resp.Content)
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// GenerateClosing asks the model for the short farewell spoken when the
// learner ends the session before the dialogue runs out. The response goes
// through the same parsing and shape checks as a full script.
func (g *Generator) GenerateClosing(ctx context.Context, apiKey string) ([]Line, error) {
	provider, err := g.factory(apiKey)
	if err != nil {
		return nil, fmt.Errorf("script: build llm provider: %w", err)
	}

	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "user", Content: ClosingPrompt(g.language)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("script: generate closing: %w", err)
	}
	return ParseScript(resp.Content)
}

// ParseScript decodes a model response into script lines. Models routinely
// wrap JSON in markdown code fences, so those are stripped first.
func ParseScript(raw string) ([]Line, error) {
	cleaned := stripCodeFence(raw)

	var lines []Line
	if err := json.Unmarshal([]byte(cleaned), &lines); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty script", ErrInvalidScript)
	}
	if lines[0].Role != RoleBot {
		return nil, fmt.Errorf("%w: first turn must belong to the bot, got %q", ErrInvalidScript, lines[0].Role)
	}
	for i, l := range lines {
		if !l.Role.IsValid() {
			return nil, fmt.Errorf("%w: turn %d has unknown role %q", ErrInvalidScript, i, l.Role)
		}
		if strings.TrimSpace(l.Text) == "" {
			return nil, fmt.Errorf("%w: turn %d has empty text", ErrInvalidScript, i)
		}
	}
	return lines, nil
}

// stripCodeFence removes a surrounding markdown code fence (``` or ```json)
// if present and trims whitespace.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// Drop the language tag on the opening fence line.
		first := strings.TrimSpace(s[:idx])
		if first == "" || isFenceTag(first) {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isFenceTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
