package tutor_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hamchoi/talkmate/internal/credential"
	"github.com/hamchoi/talkmate/internal/feedback"
	"github.com/hamchoi/talkmate/internal/script"
	"github.com/hamchoi/talkmate/internal/tutor"
	audiomock "github.com/hamchoi/talkmate/pkg/audio/mock"
	"github.com/hamchoi/talkmate/pkg/provider/stt"
	sttmock "github.com/hamchoi/talkmate/pkg/provider/stt/mock"
	"github.com/hamchoi/talkmate/pkg/provider/tts"
	ttsmock "github.com/hamchoi/talkmate/pkg/provider/tts/mock"
)

// manualClock records scheduled callbacks so tests fire them explicitly
// instead of sleeping through the real inter-turn pauses.
type manualClock struct {
	mu  sync.Mutex
	fns []func()
}

func (c *manualClock) AfterFunc(_ time.Duration, fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
	return func() {}
}

func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fns)
}

// fire runs the oldest scheduled callback, waiting for one to be scheduled
// first.
func (c *manualClock) fire(t *testing.T) {
	t.Helper()
	waitFor(t, "a scheduled callback", func() bool { return c.pending() > 0 })
	c.mu.Lock()
	fn := c.fns[0]
	c.fns = c.fns[1:]
	c.mu.Unlock()
	fn()
}

type fakeScripts struct {
	mu           sync.Mutex
	lines        []script.Line
	err          error
	topics       []string
	closingErr   error
	closingCalls int
}

func (f *fakeScripts) Generate(_ context.Context, topic string, _ script.Difficulty, _ string) ([]script.Line, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return f.lines, f.err
}

func (f *fakeScripts) GenerateClosing(context.Context, string) ([]script.Line, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closingCalls++
	if f.closingErr != nil {
		return nil, f.closingErr
	}
	return []script.Line{{Role: script.RoleBot, Text: "Lovely chatting with you. Bye for now!"}}, nil
}

func (f *fakeScripts) closingCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closingCalls
}

type fakeFeedback struct {
	mu           sync.Mutex
	text         string
	generateErr  error
	translated   string
	translateErr error
	turns        []feedback.Turn
	score        int
}

func (f *fakeFeedback) Generate(_ context.Context, turns []feedback.Turn, _ script.Difficulty, score int, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append([]feedback.Turn(nil), turns...)
	f.score = score
	return f.text, f.generateErr
}

func (f *fakeFeedback) Translate(_ context.Context, text, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.translateErr != nil {
		return "", f.translateErr
	}
	if f.translated != "" {
		return f.translated, nil
	}
	return text, nil
}

// harness bundles a session with all of its fakes.
type harness struct {
	session  *tutor.Session
	clock    *manualClock
	scripts  *fakeScripts
	feedback *fakeFeedback
	speech   *ttsmock.Provider
	sttSess  *sttmock.Session
	capture  *audiomock.Capture
	player   *audiomock.Player
	creds    *credential.MemStore
}

var testScript = []script.Line{
	{Role: script.RoleBot, Text: "Good morning! What can I get you?", Translation: "Chào buổi sáng!"},
	{Role: script.RoleUser, Text: "I would like a coffee please", Translation: "Tôi muốn một ly cà phê"},
	{Role: script.RoleBot, Text: "Coming right up.", Translation: "Có ngay."},
	{Role: script.RoleUser, Text: "Thank you very much", Translation: "Cảm ơn nhiều"},
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:    &manualClock{},
		scripts:  &fakeScripts{lines: testScript},
		feedback: &fakeFeedback{text: "Well done."},
		speech:   &ttsmock.Provider{Audio: []byte{1, 0, 2, 0}},
		sttSess:  sttmock.NewSession(),
		capture:  &audiomock.Capture{},
		player:   &audiomock.Player{},
		creds:    credential.NewMemStore(),
	}

	sess, err := tutor.New(tutor.Deps{
		Credentials: h.creds,
		Scripts:     h.scripts,
		Feedback:    h.feedback,
		Speech:      func(string) (tts.Provider, error) { return h.speech, nil },
		Transcriber: func(string) (stt.Provider, error) { return &sttmock.Provider{Session: h.sttSess}, nil },
		Capture:     h.capture,
		Player:      h.player,
		Clock:       h.clock,
	})
	if err != nil {
		t.Fatalf("tutor.New() error = %v", err)
	}
	h.session = sess
	return h
}

// startConversation drives the session to the first learner turn.
func (h *harness) startConversation(t *testing.T) {
	t.Helper()
	if err := h.session.SetCredential("test-key"); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}
	if err := h.session.SubmitTopic(context.Background(), "ordering coffee", script.DifficultyA2); err != nil {
		t.Fatalf("SubmitTopic() error = %v", err)
	}
	// The opening bot line plays and completes immediately with the mock
	// player, advancing to the first learner turn.
	waitFor(t, "the first learner turn", func() bool {
		snap := h.session.Snapshot()
		return snap.Phase == tutor.PhaseInConversation && snap.TurnIndex == 1
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_WithoutCredentialStartsAtKeyEntry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	snap := h.session.Snapshot()
	if snap.Phase != tutor.PhaseAPIKeyNeeded {
		t.Errorf("Phase = %s, want %s", snap.Phase, tutor.PhaseAPIKeyNeeded)
	}
	if snap.HasCredential {
		t.Error("HasCredential = true, want false")
	}
}

func TestNew_WithSavedCredentialStartsAtTopicSelection(t *testing.T) {
	t.Parallel()

	creds := credential.NewMemStore()
	if err := creds.Save("saved-key"); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t)
	sess, err := tutor.New(tutor.Deps{
		Credentials: creds,
		Scripts:     h.scripts,
		Feedback:    h.feedback,
		Speech:      func(string) (tts.Provider, error) { return h.speech, nil },
		Transcriber: func(string) (stt.Provider, error) { return &sttmock.Provider{}, nil },
		Capture:     h.capture,
		Player:      h.player,
		Clock:       h.clock,
	})
	if err != nil {
		t.Fatalf("tutor.New() error = %v", err)
	}
	if snap := sess.Snapshot(); snap.Phase != tutor.PhaseTopicSelection {
		t.Errorf("Phase = %s, want %s", snap.Phase, tutor.PhaseTopicSelection)
	}
}

func TestSetCredential_PersistsAndUnlocksTopics(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.session.SetCredential("my-key"); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}
	if snap := h.session.Snapshot(); snap.Phase != tutor.PhaseTopicSelection {
		t.Errorf("Phase = %s, want %s", snap.Phase, tutor.PhaseTopicSelection)
	}
	key, err := h.creds.Load()
	if err != nil || key != "my-key" {
		t.Errorf("stored key = %q, %v; want %q, nil", key, err, "my-key")
	}

	if err := h.session.SetCredential("  "); err == nil {
		t.Error("SetCredential(blank) error = nil, want error")
	}
}

func TestSubmitTopic_PlaysOpeningBotLine(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.startConversation(t)

	snap := h.session.Snapshot()
	if len(snap.Lines) != len(testScript) {
		t.Fatalf("len(Lines) = %d, want %d", len(snap.Lines), len(testScript))
	}
	if h.player.PlayCount() < 1 {
		t.Error("opening bot line was never played")
	}
	if got := h.scripts.topics; len(got) != 1 || got[0] != "ordering coffee" {
		t.Errorf("generated topics = %v, want [ordering coffee]", got)
	}
}

func TestSubmitTopic_TracesProviderCalls(t *testing.T) {
	// Swaps the global tracer provider, so no t.Parallel.
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})

	h := newHarness(t)
	h.startConversation(t)

	waitFor(t, "script and synthesis spans", func() bool {
		names := make(map[string]bool)
		for _, s := range exp.GetSpans() {
			names[s.Name] = true
		}
		return names["provider.script.generate"] && names["provider.tts.synthesize"]
	})
}

func TestSubmitTopic_GenerationFailureReturnsToTopicSelection(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scripts.err = errors.New("model overloaded")
	if err := h.session.SetCredential("test-key"); err != nil {
		t.Fatal(err)
	}
	if err := h.session.SubmitTopic(context.Background(), "ordering coffee", script.DifficultyA2); err != nil {
		t.Fatalf("SubmitTopic() error = %v", err)
	}
	waitFor(t, "return to topic selection", func() bool {
		return h.session.Snapshot().Phase == tutor.PhaseTopicSelection
	})
	if snap := h.session.Snapshot(); snap.Err == "" {
		t.Error("Err is empty, want a user-facing message")
	}
}

func TestSubmitTopic_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.session.SetCredential("test-key"); err != nil {
		t.Fatal(err)
	}
	if err := h.session.SubmitTopic(context.Background(), "  ", script.DifficultyA2); err == nil {
		t.Error("SubmitTopic(blank topic) error = nil, want error")
	}
	if err := h.session.SubmitTopic(context.Background(), "travel", script.Difficulty("Z9")); err == nil {
		t.Error("SubmitTopic(bad difficulty) error = nil, want error")
	}
}

func TestRecording_AcceptedAdvancesTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.startConversation(t)

	if err := h.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	waitFor(t, "recording state", func() bool { return h.session.Snapshot().Recording })

	h.sttSess.PartialsCh <- stt.Transcript{Text: "i would like"}
	waitFor(t, "live partial", func() bool {
		return h.session.Snapshot().LivePartial == "i would like"
	})

	h.sttSess.FinalsCh <- stt.Transcript{Text: "I would like a coffee", IsFinal: true}
	if err := h.session.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}

	waitFor(t, "an accepted outcome", func() bool {
		snap := h.session.Snapshot()
		return len(snap.Outcomes) == 1 && snap.Outcomes[0].Correct
	})
	snap := h.session.Snapshot()
	if snap.TurnIndex != 1 {
		t.Errorf("TurnIndex = %d before the pause elapsed, want 1", snap.TurnIndex)
	}

	h.clock.fire(t)
	waitFor(t, "advance past the learner turn", func() bool {
		return h.session.Snapshot().TurnIndex >= 2
	})
}

func TestRecording_RejectedKeepsTurnOpen(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.startConversation(t)

	if err := h.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	waitFor(t, "recording state", func() bool { return h.session.Snapshot().Recording })

	h.sttSess.FinalsCh <- stt.Transcript{Text: "completely unrelated words here", IsFinal: true}
	if err := h.session.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}

	waitFor(t, "the rejected transcript", func() bool {
		return h.session.Snapshot().LastTranscript == "completely unrelated words here"
	})
	snap := h.session.Snapshot()
	if snap.TurnIndex != 1 {
		t.Errorf("TurnIndex = %d, want 1 (turn stays open for retry)", snap.TurnIndex)
	}
	if len(snap.Outcomes) != 0 {
		t.Errorf("len(Outcomes) = %d, want 0", len(snap.Outcomes))
	}
	wantMissed := []string{"i", "would", "like", "a", "coffee", "please"}
	if !reflect.DeepEqual(snap.MissedWords, wantMissed) {
		t.Errorf("MissedWords = %v, want %v", snap.MissedWords, wantMissed)
	}
}

func TestStartRecording_OnBotTurnFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	// Not in conversation at all.
	if err := h.session.StartRecording(context.Background()); err == nil {
		t.Error("StartRecording() before conversation error = nil, want error")
	}
}

func TestSkipTurn_RecordsSkippedOutcome(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.startConversation(t)

	if err := h.session.SkipTurn(context.Background()); err != nil {
		t.Fatalf("SkipTurn() error = %v", err)
	}
	snap := h.session.Snapshot()
	if len(snap.Outcomes) != 1 {
		t.Fatalf("len(Outcomes) = %d, want 1", len(snap.Outcomes))
	}
	o := snap.Outcomes[0]
	if !o.Skipped || o.Correct {
		t.Errorf("outcome = %+v, want Skipped and not Correct", o)
	}
	if o.Actual != "(skipped)" {
		t.Errorf("Actual = %q, want %q", o.Actual, "(skipped)")
	}

	h.clock.fire(t)
	waitFor(t, "advance past the skipped turn", func() bool {
		return h.session.Snapshot().TurnIndex >= 2
	})
}

func TestPlayHint_SpeaksLearnerLine(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.startConversation(t)
	before := h.player.PlayCount()

	if err := h.session.PlayHint(context.Background()); err != nil {
		t.Fatalf("PlayHint() error = %v", err)
	}
	waitFor(t, "hint playback", func() bool { return h.player.PlayCount() > before })
	waitFor(t, "hint completion", func() bool { return !h.session.Snapshot().HintPlaying })

	// The turn is untouched.
	if snap := h.session.Snapshot(); snap.TurnIndex != 1 {
		t.Errorf("TurnIndex = %d, want 1", snap.TurnIndex)
	}
}

func TestPlayHint_RefusedWhileBotAudioPlays(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.player.Hold = true
	if err := h.session.SetCredential("test-key"); err != nil {
		t.Fatal(err)
	}
	if err := h.session.SubmitTopic(context.Background(), "ordering coffee", script.DifficultyA2); err != nil {
		t.Fatal(err)
	}
	// The opening bot line is held mid-playback.
	waitFor(t, "the opening bot line to start", func() bool {
		return h.session.Snapshot().BotSpeaking
	})

	if err := h.session.PlayHint(context.Background()); err == nil {
		t.Error("PlayHint() error = nil, want refusal while bot audio plays")
	}

	h.player.Finish()
	waitFor(t, "the first learner turn", func() bool {
		return h.session.Snapshot().TurnIndex == 1
	})
}

func TestPlayHint_RefusedWhileHintPlays(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.startConversation(t)
	h.player.Hold = true

	if err := h.session.PlayHint(context.Background()); err != nil {
		t.Fatalf("PlayHint() error = %v", err)
	}
	waitFor(t, "the hint to start", func() bool {
		return h.session.Snapshot().HintPlaying
	})
	if err := h.session.PlayHint(context.Background()); err == nil {
		t.Error("PlayHint() error = nil, want refusal while a hint plays")
	}
	h.player.Finish()
}

func TestEndConversation_ScoresAndTranslatesFeedback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.feedback.text = "Good effort overall."
	h.feedback.translated = "Nỗ lực tốt."
	h.startConversation(t)

	if err := h.session.SkipTurn(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.session.EndConversation(context.Background()); err != nil {
		t.Fatalf("EndConversation() error = %v", err)
	}
	waitFor(t, "conversation end", func() bool {
		return h.session.Snapshot().Phase == tutor.PhaseConversationEnded
	})

	snap := h.session.Snapshot()
	if snap.Feedback != "Good effort overall." {
		t.Errorf("Feedback = %q, want the English text", snap.Feedback)
	}
	if snap.FeedbackTranslation != "Nỗ lực tốt." {
		t.Errorf("FeedbackTranslation = %q, want the translated text", snap.FeedbackTranslation)
	}
	// One turn evaluated, zero correct.
	if snap.Score != 0 {
		t.Errorf("Score = %d, want 0", snap.Score)
	}
	if len(h.feedback.turns) != 1 || h.feedback.turns[0].Actual != "(skipped)" {
		t.Errorf("feedback turns = %+v, want one skipped turn", h.feedback.turns)
	}
}

func TestEndConversation_SpeaksFarewell(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.startConversation(t)
	before := h.player.PlayCount()

	if err := h.session.EndConversation(context.Background()); err != nil {
		t.Fatalf("EndConversation() error = %v", err)
	}
	waitFor(t, "the farewell to play", func() bool {
		return h.scripts.closingCallCount() == 1 && h.player.PlayCount() > before
	})
	waitFor(t, "the session to end", func() bool {
		return h.session.Snapshot().Phase == tutor.PhaseConversationEnded
	})
}

func TestEndConversation_FarewellFailureStillDeliversFeedback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scripts.closingErr = errors.New("quota exhausted")
	h.startConversation(t)

	if err := h.session.EndConversation(context.Background()); err != nil {
		t.Fatalf("EndConversation() error = %v", err)
	}
	waitFor(t, "the session to end with feedback", func() bool {
		snap := h.session.Snapshot()
		return snap.Phase == tutor.PhaseConversationEnded && snap.Feedback != ""
	})
}

func TestEndConversation_NoTurnsScoresTen(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.startConversation(t)

	if err := h.session.EndConversation(context.Background()); err != nil {
		t.Fatalf("EndConversation() error = %v", err)
	}
	waitFor(t, "conversation end", func() bool {
		return h.session.Snapshot().Phase == tutor.PhaseConversationEnded
	})
	if snap := h.session.Snapshot(); snap.Score != 10 {
		t.Errorf("Score = %d, want 10 when no turns were evaluated", snap.Score)
	}
}

func TestEndConversation_FeedbackFailureFallsBackToApology(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.feedback.generateErr = errors.New("model overloaded")
	h.startConversation(t)

	if err := h.session.EndConversation(context.Background()); err != nil {
		t.Fatalf("EndConversation() error = %v", err)
	}
	waitFor(t, "conversation end", func() bool {
		return h.session.Snapshot().Phase == tutor.PhaseConversationEnded
	})
	snap := h.session.Snapshot()
	if !strings.Contains(snap.Feedback, "Xin lỗi") {
		t.Errorf("Feedback = %q, want the apology fallback", snap.Feedback)
	}
	if snap.FeedbackTranslation != snap.Feedback {
		t.Errorf("FeedbackTranslation = %q, want the same apology", snap.FeedbackTranslation)
	}
}

func TestEndConversation_TranslationFailureFallsBackToApology(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.feedback.text = "Keep practising your vowels."
	h.feedback.translateErr = errors.New("quota exceeded")
	h.startConversation(t)

	if err := h.session.EndConversation(context.Background()); err != nil {
		t.Fatalf("EndConversation() error = %v", err)
	}
	waitFor(t, "conversation end", func() bool {
		return h.session.Snapshot().Phase == tutor.PhaseConversationEnded
	})
	snap := h.session.Snapshot()
	if !strings.Contains(snap.Feedback, "Xin lỗi") {
		t.Errorf("Feedback = %q, want the apology fallback", snap.Feedback)
	}
	if snap.FeedbackTranslation != snap.Feedback {
		t.Errorf("FeedbackTranslation = %q, want the same apology", snap.FeedbackTranslation)
	}
}

func TestReset_ReturnsToTopicSelection(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.startConversation(t)

	h.session.Reset()
	snap := h.session.Snapshot()
	if snap.Phase != tutor.PhaseTopicSelection {
		t.Errorf("Phase = %s, want %s", snap.Phase, tutor.PhaseTopicSelection)
	}
	if len(snap.Lines) != 0 || snap.TurnIndex != 0 || len(snap.Outcomes) != 0 {
		t.Errorf("conversation state not cleared: %+v", snap)
	}
	if !snap.HasCredential {
		t.Error("HasCredential = false, want true after Reset")
	}
}

func TestChangeCredential_ClearsKeyAndConversation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.startConversation(t)

	if err := h.session.ChangeCredential(); err != nil {
		t.Fatalf("ChangeCredential() error = %v", err)
	}
	snap := h.session.Snapshot()
	if snap.Phase != tutor.PhaseAPIKeyNeeded {
		t.Errorf("Phase = %s, want %s", snap.Phase, tutor.PhaseAPIKeyNeeded)
	}
	if snap.HasCredential {
		t.Error("HasCredential = true, want false")
	}
	if _, err := h.creds.Load(); !errors.Is(err, credential.ErrNoCredential) {
		t.Errorf("Load() error = %v, want ErrNoCredential", err)
	}
}

func TestPrefetch_ReportsProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.startConversation(t)

	waitFor(t, "prefetch completion", func() bool {
		snap := h.session.Snapshot()
		return snap.PrefetchDone == snap.PrefetchTotal && snap.PrefetchTotal == len(testScript)
	})
}
