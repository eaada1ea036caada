package score

import (
	"github.com/antzucaro/matchr"
)

const (
	// phoneticJWThreshold is the minimum Jaro-Winkler score a spoken word
	// needs, on top of a Double Metaphone code overlap, to cover an expected
	// word.
	phoneticJWThreshold = 0.70

	// fuzzyJWThreshold is the minimum Jaro-Winkler score that covers an
	// expected word without any phonetic overlap. Catches small spelling
	// drift from the recognizer ("colour" vs "color").
	fuzzyJWThreshold = 0.85
)

// MissedWords returns the distinct expected words the transcript did not
// cover, in the order they appear in the expected line. It backs the retry
// hint shown after a rejected reading and never gates acceptance.
//
// A word counts as covered when the learner said it verbatim, said something
// that shares a Double Metaphone code with it and scores at least 0.70
// Jaro-Winkler, or said something scoring at least 0.85 Jaro-Winkler alone.
// The phonetic stage forgives recognizer misspellings of proper nouns and
// loanwords that plain overlap counting would flag as missing.
func MissedWords(actual, expected string) []string {
	expectedWords := Normalize(expected)
	if len(expectedWords) == 0 {
		return nil
	}
	spokenWords := Normalize(actual)

	spokenSet := make(map[string]struct{}, len(spokenWords))
	spokenCodes := make([]wordCodes, 0, len(spokenWords))
	for _, w := range spokenWords {
		if _, dup := spokenSet[w]; dup {
			continue
		}
		spokenSet[w] = struct{}{}
		spokenCodes = append(spokenCodes, newWordCodes(w))
	}

	var missed []string
	seen := make(map[string]struct{}, len(expectedWords))
	for _, w := range expectedWords {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := spokenSet[w]; ok {
			continue
		}
		if coveredPhonetically(newWordCodes(w), spokenCodes) {
			continue
		}
		missed = append(missed, w)
	}
	return missed
}

// wordCodes bundles a normalized word with its Double Metaphone codes.
type wordCodes struct {
	word    string
	primary string
	second  string
}

func newWordCodes(w string) wordCodes {
	p, s := matchr.DoubleMetaphone(w)
	return wordCodes{word: w, primary: p, second: s}
}

// overlaps reports whether the two words share at least one non-empty code.
func (c wordCodes) overlaps(o wordCodes) bool {
	for _, a := range [...]string{c.primary, c.second} {
		if a == "" {
			continue
		}
		if a == o.primary || (o.second != "" && a == o.second) {
			return true
		}
	}
	return false
}

// coveredPhonetically reports whether any spoken word sounds close enough to
// the expected word per the two-stage phonetic-then-fuzzy check.
func coveredPhonetically(expected wordCodes, spoken []wordCodes) bool {
	for _, s := range spoken {
		jw := matchr.JaroWinkler(s.word, expected.word, false)
		if expected.overlaps(s) {
			if jw >= phoneticJWThreshold {
				return true
			}
			continue
		}
		if jw >= fuzzyJWThreshold {
			return true
		}
	}
	return false
}
