// Package score evaluates how closely a learner's transcribed speech matches
// the expected script line. Acceptance is lexical: the fraction of distinct
// expected words the learner produced, with a looser substring fallback at
// beginner levels.
package score

import (
	"math"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/hamchoi/talkmate/internal/script"
)

// acceptThresholds maps each difficulty to the minimum word-overlap ratio a
// transcript needs to count as a correct reading.
var acceptThresholds = map[script.Difficulty]float64{
	script.DifficultyA1: 0.30,
	script.DifficultyA2: 0.45,
	script.DifficultyB1: 0.60,
	script.DifficultyB2: 0.75,
	script.DifficultyC1: 0.90,
}

// Threshold returns the overlap ratio required at the given difficulty.
// Unknown difficulties fall back to the strictest threshold.
func Threshold(d script.Difficulty) float64 {
	if t, ok := acceptThresholds[d]; ok {
		return t
	}
	return acceptThresholds[script.DifficultyC1]
}

// Normalize lowercases s, strips sentence punctuation and returns the
// whitespace-separated words. Punctuation inside words (hyphens, digits)
// survives so "well-known" stays one token.
func Normalize(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch r {
		case '.', ',', '\'', '?', '!':
		default:
			b.WriteRune(r)
		}
	}
	return strings.Fields(b.String())
}

// OverlapRatio computes the fraction of distinct words in expected that also
// appear in actual. An expected sentence with no words yields 0.
func OverlapRatio(actual, expected string) float64 {
	expectedWords := Normalize(expected)
	if len(expectedWords) == 0 {
		return 0
	}

	expectedSet := make(map[string]struct{}, len(expectedWords))
	for _, w := range expectedWords {
		expectedSet[w] = struct{}{}
	}

	actualSet := make(map[string]struct{})
	for _, w := range Normalize(actual) {
		actualSet[w] = struct{}{}
	}

	matched := 0
	for w := range expectedSet {
		if _, ok := actualSet[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(expectedSet))
}

// Accept reports whether the transcript counts as a correct reading of the
// expected line at the given difficulty, along with the overlap ratio that
// was measured.
//
// At A1 and A2 a reading also passes when one normalized sentence contains
// the other whole, so beginners are not failed for a dropped filler word or
// an extra lead-in.
func Accept(actual, expected string, d script.Difficulty) (bool, float64) {
	ratio := OverlapRatio(actual, expected)
	if ratio >= Threshold(d) {
		return true, ratio
	}

	if d == script.DifficultyA1 || d == script.DifficultyA2 {
		a := strings.Join(Normalize(actual), " ")
		e := strings.Join(Normalize(expected), " ")
		if a != "" && e != "" && (strings.Contains(a, e) || strings.Contains(e, a)) {
			return true, ratio
		}
	}
	return false, ratio
}

// Similarity returns the Jaro-Winkler similarity of the normalized transcript
// and expected line, in [0, 1]. It feeds the per-turn quality signal in the
// end-of-session feedback and never gates acceptance.
func Similarity(actual, expected string) float64 {
	a := strings.Join(Normalize(actual), " ")
	e := strings.Join(Normalize(expected), " ")
	if a == "" && e == "" {
		return 1
	}
	if a == "" || e == "" {
		return 0
	}
	return matchr.JaroWinkler(a, e, false)
}

// SessionScore converts per-turn results into the 0-10 session score shown to
// the learner. A session with no learner turns scores a full 10.
func SessionScore(successful, total int) int {
	if total <= 0 {
		return 10
	}
	return int(math.Round(float64(successful) / float64(total) * 10))
}
