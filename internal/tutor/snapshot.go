package tutor

import "github.com/hamchoi/talkmate/internal/script"

// TurnOutcome records how one learner turn went.
type TurnOutcome struct {
	// Index is the line's position in the script.
	Index int `json:"index"`

	// Expected is the scripted line text.
	Expected string `json:"expected"`

	// Actual is what the transcription heard, or "(skipped)".
	Actual string `json:"actual"`

	// Similarity is the Jaro-Winkler similarity of Actual against Expected.
	Similarity float64 `json:"similarity"`

	// Correct is true when the reading met the acceptance threshold.
	Correct bool `json:"correct"`

	// Skipped is true when the learner skipped the line.
	Skipped bool `json:"skipped"`
}

// Snapshot is an immutable view of the session state, published on every
// change. The WebSocket gateway forwards snapshots to the browser verbatim.
type Snapshot struct {
	Phase         Phase             `json:"phase"`
	HasCredential bool              `json:"has_credential"`
	Topic         string            `json:"topic,omitempty"`
	Difficulty    script.Difficulty `json:"difficulty,omitempty"`
	Lines         []script.Line     `json:"lines,omitempty"`
	TurnIndex     int               `json:"turn_index"`
	Outcomes      []TurnOutcome     `json:"outcomes,omitempty"`

	// Live conversation state.
	BotSpeaking bool   `json:"bot_speaking"`
	Recording   bool   `json:"recording"`
	HintPlaying bool   `json:"hint_playing"`
	LivePartial string `json:"live_partial,omitempty"`

	// LastTranscript is the most recent full transcript of a rejected
	// attempt, shown so the learner can see what was heard before retrying.
	LastTranscript string `json:"last_transcript,omitempty"`

	// MissedWords lists the expected words a rejected attempt did not cover,
	// after forgiving near-phonetic matches. Shown as a retry hint alongside
	// LastTranscript.
	MissedWords []string `json:"missed_words,omitempty"`

	// PrefetchDone/PrefetchTotal report audio prefetch progress.
	PrefetchDone  int `json:"prefetch_done"`
	PrefetchTotal int `json:"prefetch_total"`

	// Results, valid once Phase is conversation_ended. Feedback is the
	// English text; FeedbackTranslation is its target-language rendering.
	// When generation or translation fails, both carry the same apology.
	Score               int    `json:"score"`
	Feedback            string `json:"feedback,omitempty"`
	FeedbackTranslation string `json:"feedback_translation,omitempty"`

	// Err is a user-facing error message, cleared on the next operation.
	Err string `json:"error,omitempty"`
}
