// Package feedback turns a finished conversation into encouraging tutor
// feedback, and translates that feedback into the learner's language.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hamchoi/talkmate/internal/script"
	"github.com/hamchoi/talkmate/pkg/provider/llm"
)

// Turn pairs the scripted line the learner was supposed to read with what the
// transcription actually heard. Skipped turns carry "(skipped)" as Actual.
type Turn struct {
	Expected string
	Actual   string

	// Similarity is the Jaro-Winkler similarity of Actual against Expected,
	// recorded at scoring time. It is informational and not sent to the model.
	Similarity float64
}

// Generator produces session feedback from an LLM backend, built per API key
// through the factory.
type Generator struct {
	factory llm.Factory
}

// NewGenerator creates a feedback Generator.
func NewGenerator(factory llm.Factory) (*Generator, error) {
	if factory == nil {
		return nil, errors.New("feedback: factory must not be nil")
	}
	return &Generator{factory: llm.Memoize(factory)}, nil
}

// Generate asks the model for end-of-session feedback covering the learner's
// turns, score and level. The result is a short block of English prose.
func (g *Generator) Generate(ctx context.Context, turns []Turn, difficulty script.Difficulty, score int, apiKey string) (string, error) {
	provider, err := g.factory(apiKey)
	if err != nil {
		return "", fmt.Errorf("feedback: build llm provider: %w", err)
	}

	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "user", Content: GenerationPrompt(turns, difficulty, score)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("feedback: generate: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errors.New("feedback: model returned empty feedback")
	}
	return text, nil
}

// Translate renders English text into the target language. Only the
// translated text is returned, stripped of surrounding whitespace.
func (g *Generator) Translate(ctx context.Context, text, language, apiKey string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("feedback: text must not be empty")
	}
	provider, err := g.factory(apiKey)
	if err != nil {
		return "", fmt.Errorf("feedback: build llm provider: %w", err)
	}

	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "user", Content: TranslationPrompt(text, language)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("feedback: translate: %w", err)
	}
	translated := strings.TrimSpace(resp.Content)
	if translated == "" {
		return "", errors.New("feedback: model returned empty translation")
	}
	return translated, nil
}

// GenerationPrompt builds the feedback prompt from the learner's per-turn
// history.
func GenerationPrompt(turns []Turn, difficulty script.Difficulty, score int) string {
	var history strings.Builder
	for i, t := range turns {
		if i > 0 {
			history.WriteString("\n\n")
		}
		fmt.Fprintf(&history, "Expected: %q\nActual:   %q", t.Expected, t.Actual)
	}

	return fmt.Sprintf(`
You are an expert AI English language tutor. Your task is to provide feedback to a student based on their performance in a practice conversation.
The student was practicing at the %q level.

Here is the user's performance history. For each turn, you will see the 'expected' text from the script and the 'actual' text that the user spoke (transcribed).
---
%s
---

Based on this, provide concise, encouraging, and constructive feedback. Follow these rules:
1.  **Start with the Score:** Begin the feedback by stating the user's score. The user's completion score is %d out of 10. Frame it positively. For example: "Great work! Your completion score for this session is %d/10."
2.  **Be Positive:** Follow the score with something the user did well. Even if they struggled, find something to praise (e.g., "You did a great job attempting all the lines!").
3.  **Be Specific & Gentle:** Identify ONE primary area for improvement. Compare the 'expected' and 'actual' text. Look for patterns in pronunciation mistakes (e.g., missed '-s' endings, vowel sounds) or skipped words. Frame it gently, like "One thing to watch out for is..." or "A helpful tip for next time...". Do not be harsh.
4.  **Be Actionable:** Suggest a simple, concrete next step for them to focus on. For example, "For your next practice, try focusing on the 'th' sound," or "Try to speak a little more slowly to make sure you pronounce every word."
5.  **Keep it Short:** The entire feedback should be 3-5 sentences (under 120 words).
6.  **Address the User Directly:** Use "you" and "your".

Generate the feedback now as a single block of text.
`, string(difficulty), history.String(), score, score)
}

// TranslationPrompt builds the prompt that translates English text into the
// given language, asking for the bare translation only.
func TranslationPrompt(text, language string) string {
	return fmt.Sprintf(`
Translate the following English text to %s in a natural and fluent way.
Only return the translated text, without any additional comments or explanations.

English text:
---
%s
---

%s Translation:
`, language, text, language)
}
