package score_test

import (
	"math"
	"reflect"
	"testing"

	"github.com/hamchoi/talkmate/internal/score"
	"github.com/hamchoi/talkmate/internal/script"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "lowercases and strips punctuation",
			input: "Hello, World!",
			want:  []string{"hello", "world"},
		},
		{
			name:  "drops apostrophes and question marks",
			input: "What's your name?",
			want:  []string{"whats", "your", "name"},
		},
		{
			name:  "collapses whitespace",
			input: "  I   love    making  spaghetti.  ",
			want:  []string{"i", "love", "making", "spaghetti"},
		},
		{
			name:  "keeps hyphens and digits",
			input: "It's a well-known fact, 100%.",
			want:  []string{"its", "a", "well-known", "fact", "100%"},
		},
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
		{
			name:  "punctuation only",
			input: "?!.,",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := score.Normalize(tt.input)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize(%q) = %v; want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestOverlapRatio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		actual   string
		expected string
		want     float64
	}{
		{
			name:     "perfect match",
			actual:   "I love making spaghetti bolognese.",
			expected: "I love making spaghetti bolognese.",
			want:     1,
		},
		{
			name:     "case and punctuation ignored",
			actual:   "i love MAKING spaghetti bolognese",
			expected: "I love making spaghetti bolognese!",
			want:     1,
		},
		{
			name:     "half the words",
			actual:   "I love cooking pasta",
			expected: "I love making spaghetti",
			want:     0.5,
		},
		{
			name:     "no overlap",
			actual:   "completely different words",
			expected: "nothing matches here at all",
			want:     0,
		},
		{
			name:     "duplicate expected words counted once",
			actual:   "the",
			expected: "the the the cat",
			want:     0.5,
		},
		{
			name:     "empty expected",
			actual:   "anything",
			expected: "",
			want:     0,
		},
		{
			name:     "empty actual",
			actual:   "",
			expected: "some words",
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := score.OverlapRatio(tt.actual, tt.expected)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("OverlapRatio(%q, %q) = %v; want %v", tt.actual, tt.expected, got, tt.want)
			}
		})
	}
}

func TestAccept(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		actual     string
		expected   string
		difficulty script.Difficulty
		want       bool
	}{
		{
			name:       "A1 accepts loose reading",
			actual:     "my name John",
			expected:   "Hello, my name is John and I live in Hanoi.",
			difficulty: script.DifficultyA1,
			want:       true,
		},
		{
			name:       "C1 rejects the same loose reading",
			actual:     "my name John",
			expected:   "Hello, my name is John and I live in Hanoi.",
			difficulty: script.DifficultyC1,
			want:       false,
		},
		{
			name:       "C1 accepts near-perfect reading",
			actual:     "Hello my name is John and I live in Hanoi",
			expected:   "Hello, my name is John and I live in Hanoi.",
			difficulty: script.DifficultyC1,
			want:       true,
		},
		{
			name:       "A1 substring fallback when transcript is a prefix",
			actual:     "good morning",
			expected:   "Good morning! How are you doing today, my friend?",
			difficulty: script.DifficultyA1,
			want:       true,
		},
		{
			name:       "A2 substring fallback when transcript wraps the line",
			actual:     "um well good morning how are you",
			expected:   "good morning how are you",
			difficulty: script.DifficultyA2,
			want:       true,
		},
		{
			name:       "B1 gets no substring fallback",
			actual:     "good",
			expected:   "Good morning! Lovely weather we are having, would you not say so?",
			difficulty: script.DifficultyB1,
			want:       false,
		},
		{
			name:       "B2 boundary exactly at threshold",
			actual:     "one two three",
			expected:   "one two three four",
			difficulty: script.DifficultyB2,
			want:       true, // 0.75 meets the 0.75 threshold
		},
		{
			name:       "empty transcript never accepted",
			actual:     "",
			expected:   "Say something.",
			difficulty: script.DifficultyA1,
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ratio := score.Accept(tt.actual, tt.expected, tt.difficulty)
			if got != tt.want {
				t.Errorf("Accept(%q, %q, %s) = %v (ratio %v); want %v",
					tt.actual, tt.expected, tt.difficulty, got, ratio, tt.want)
			}
		})
	}
}

// Raising the difficulty must never turn a rejected reading into an accepted
// one for the same transcript.
func TestAccept_MonotonicInDifficulty(t *testing.T) {
	t.Parallel()

	actual := "I quite fancy a cup of tea"
	expected := "I quite fancy a nice hot cup of tea this morning, to be honest."

	prev := true
	for _, d := range script.Difficulties() {
		ok, _ := score.Accept(actual, expected, d)
		if ok && !prev {
			t.Fatalf("accepted at %s after rejection at an easier level", d)
		}
		prev = ok
	}
}

func TestThreshold(t *testing.T) {
	t.Parallel()

	want := map[script.Difficulty]float64{
		script.DifficultyA1: 0.30,
		script.DifficultyA2: 0.45,
		script.DifficultyB1: 0.60,
		script.DifficultyB2: 0.75,
		script.DifficultyC1: 0.90,
	}
	for d, w := range want {
		if got := score.Threshold(d); got != w {
			t.Errorf("Threshold(%s) = %v; want %v", d, got, w)
		}
	}
	if got := score.Threshold(script.Difficulty("Z9")); got != 0.90 {
		t.Errorf("Threshold(unknown) = %v; want strictest 0.90", got)
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	if got := score.Similarity("Hello there!", "hello there"); got != 1 {
		t.Errorf("Similarity(identical after normalize) = %v; want 1", got)
	}
	if got := score.Similarity("", ""); got != 1 {
		t.Errorf("Similarity(empty, empty) = %v; want 1", got)
	}
	if got := score.Similarity("", "hello"); got != 0 {
		t.Errorf("Similarity(empty, text) = %v; want 0", got)
	}

	near := score.Similarity("hello ther", "hello there")
	far := score.Similarity("xyzzy", "hello there")
	if near <= far {
		t.Errorf("near (%v) should exceed far (%v)", near, far)
	}
	if near <= 0 || near > 1 {
		t.Errorf("Similarity out of range: %v", near)
	}
}

func TestSessionScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		successful, total, want int
	}{
		{0, 0, 10},  // no learner turns counts as complete
		{10, 10, 10},
		{0, 10, 0},
		{5, 10, 5},
		{1, 3, 3},  // 3.33 rounds down
		{2, 3, 7},  // 6.67 rounds up
		{1, 2, 5},
		{7, 8, 9},  // 8.75 rounds up
	}
	for _, tt := range tests {
		if got := score.SessionScore(tt.successful, tt.total); got != tt.want {
			t.Errorf("SessionScore(%d, %d) = %d; want %d", tt.successful, tt.total, got, tt.want)
		}
	}
}
