package tts

// VoiceProfile describes a TTS voice available for tutor speech.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (gender, accent,
	// speaker type, etc.).
	Metadata map[string]string
}
