package script

import (
	"fmt"
	"strings"
)

// difficultyInstructions steer the vocabulary and sentence complexity the
// model should use per level.
var difficultyInstructions = map[Difficulty]string{
	DifficultyA1: `The script should use simple A1-level (Beginger) vocabulary and basic sentence structures, focusing on everyday topics like personal information and immediate surroundings.`,
	DifficultyA2: `The script should use A2-level (Elementary) vocabulary. Sentences should be straightforward, covering routine tasks and direct exchange of information.`,
	DifficultyB1: `The script should use B1-level (Intermediate) vocabulary. The conversation should handle main points on familiar matters, allowing for expressing opinions and plans.`,
	DifficultyB2: `The script should use B2-level (Upper-Intermediate) vocabulary. It can involve more complex sentences on both concrete and abstract topics, allowing for a degree of fluency and spontaneity.`,
	DifficultyC1: `The script should use C1-level (Advanced) vocabulary, including idiomatic expressions. It should feature complex sentence structures for social, academic, and professional purposes, showing effective and flexible language use.`,
}

// ClosingPrompt builds the prompt for the short goodbye the bot speaks when
// the learner ends a session before the script runs out.
func ClosingPrompt(language string) string {
	upper := strings.ToUpper(language)
	return fmt.Sprintf(`
You are an AI English tutor scriptwriter using a native British English conversational style. A practice conversation is ending early, and the tutor bot needs a short, warm goodbye.

The script should be an array of objects in JSON format. Each object represents a turn and must have three properties:
1. "role": always "bot".
2. "text": the English sentence for that turn.
3. "translation": the %s translation of the "text".

Rules:
- The script must contain exactly 1 or 2 turns, all from the "bot".
- Thank the user for practising and encourage them to come back, in one short sentence per turn.
- Do not ask any questions.

Now, generate the JSON goodbye script.
`, upper)
}

// GenerationPrompt builds the prompt that asks the model for a full
// conversation script on topic at the given difficulty, with per-line
// translations into language.
func GenerationPrompt(topic string, difficulty Difficulty, language string) string {
	turns := turnCountByDifficulty[difficulty]
	upper := strings.ToUpper(language)
	return fmt.Sprintf(`
You are an AI English tutor scriptwriter. Your goal is to create a sophisticated, natural, and friendly conversation script for a user learning English, using a native British English conversational style.
The user wants to practice speaking about the topic: %q.
The user's English level is %q.

%s

The script should be an array of objects in JSON format. Each object represents a turn in the conversation and must have three properties:
1. "role": either "bot" or "user".
2. "text": the English sentence for that turn.
3. "translation": the %s translation of the "text".

Rules for the script content:
- The conversation must be logical, culturally aware, and demonstrate knowledge on the topic.
- Use natural, everyday British English colloquialisms and phrasings.
- The bot's responses should be concise (1-2 sentences) and often end with a question to encourage interaction.
- The user's lines should be natural responses to the bot's questions.
- The script should have a natural flow with a clear beginning, middle, and end.
- The conversation should delve deeper into the topic, avoiding simple, superficial exchanges.
- Each level should have a mix of sentence lengths and complexities. Even the easiest level should have some variation.
- The total script should contain between %d and %d turns.
- The first turn MUST be from the "bot".

Example output format for a different topic:
[
  {
    "role": "bot",
    "text": "Alright, mate? I hear you're into cooking. What's your favourite thing to rustle up?",
    "translation": "This should be the %s translation of the English text."
  },
  {
    "role": "user",
    "text": "I love making spaghetti bolognese. It's a proper classic, isn't it?",
    "translation": "This should be the %s translation of the English text."
  }
]

Now, generate the JSON script for the topic: %q.
`, topic, string(difficulty), difficultyInstructions[difficulty], language, turns.min, turns.max, upper, upper, topic)
}
