// Package script models the generated conversation script and produces new
// scripts from an LLM backend.
package script

import "fmt"

// Role identifies who speaks a script line.
type Role string

const (
	// RoleBot lines are spoken by the tutor through TTS playback.
	RoleBot Role = "bot"

	// RoleUser lines are read aloud by the learner and validated against the
	// transcription.
	RoleUser Role = "user"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleBot || r == RoleUser
}

// Difficulty is a CEFR level the learner practices at.
type Difficulty string

const (
	DifficultyA1 Difficulty = "A1"
	DifficultyA2 Difficulty = "A2"
	DifficultyB1 Difficulty = "B1"
	DifficultyB2 Difficulty = "B2"
	DifficultyC1 Difficulty = "C1"
)

// Difficulties lists all supported levels in ascending order.
func Difficulties() []Difficulty {
	return []Difficulty{DifficultyA1, DifficultyA2, DifficultyB1, DifficultyB2, DifficultyC1}
}

// IsValid reports whether d is a supported level.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyA1, DifficultyA2, DifficultyB1, DifficultyB2, DifficultyC1:
		return true
	}
	return false
}

// ParseDifficulty converts a string into a Difficulty or fails.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(s)
	if !d.IsValid() {
		return "", fmt.Errorf("script: unknown difficulty %q", s)
	}
	return d, nil
}

// Line is one turn of a generated conversation script. Lines are immutable
// once generated; the session's turn index points directly into the ordered
// line slice.
type Line struct {
	// Role says whether the tutor speaks this line or the learner reads it.
	Role Role `json:"role"`

	// Text is the English sentence for this turn.
	Text string `json:"text"`

	// Translation is the sentence translated into the learner's language.
	Translation string `json:"translation"`
}

// turnRange is the inclusive total-turn-count target per difficulty.
// Roughly half of the turns belong to the learner.
type turnRange struct {
	min, max int
}

var turnCountByDifficulty = map[Difficulty]turnRange{
	DifficultyA1: {min: 20, max: 28},
	DifficultyA2: {min: 24, max: 34},
	DifficultyB1: {min: 28, max: 40},
	DifficultyB2: {min: 32, max: 46},
	DifficultyC1: {min: 36, max: 52},
}
