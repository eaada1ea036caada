// Package tutor runs the conversation practice session: it walks the learner
// through a generated script, speaks the bot lines, listens to the learner's
// lines, and produces end-of-session feedback.
package tutor

// Phase is the session's position in the practice flow. Transitions only move
// forward except for Reset (back to topic selection) and ChangeCredential
// (back to key entry).
type Phase string

const (
	// PhaseAPIKeyNeeded means no API key is saved; every provider-backed
	// operation is blocked until the learner supplies one.
	PhaseAPIKeyNeeded Phase = "api_key_needed"

	// PhaseTopicSelection waits for the learner to pick a topic and level.
	PhaseTopicSelection Phase = "topic_selection"

	// PhaseGeneratingScript means script generation is in flight.
	PhaseGeneratingScript Phase = "generating_script"

	// PhaseInConversation is the practice loop itself.
	PhaseInConversation Phase = "in_conversation"

	// PhaseGeneratingFeedback means feedback generation is in flight.
	PhaseGeneratingFeedback Phase = "generating_feedback"

	// PhaseConversationEnded shows the score and feedback.
	PhaseConversationEnded Phase = "conversation_ended"
)
