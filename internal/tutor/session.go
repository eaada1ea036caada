package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hamchoi/talkmate/internal/credential"
	"github.com/hamchoi/talkmate/internal/feedback"
	"github.com/hamchoi/talkmate/internal/history"
	"github.com/hamchoi/talkmate/internal/observe"
	"github.com/hamchoi/talkmate/internal/score"
	"github.com/hamchoi/talkmate/internal/script"
	"github.com/hamchoi/talkmate/pkg/audio"
	"github.com/hamchoi/talkmate/pkg/provider/stt"
	"github.com/hamchoi/talkmate/pkg/provider/tts"
)

// Pauses between turns, tuned so the conversation feels like a dialogue
// rather than a quiz.
const (
	correctAdvanceDelay = 1200 * time.Millisecond
	skipAdvanceDelay    = 300 * time.Millisecond
	synthFailureDelay   = 1000 * time.Millisecond
)

// apologyFallback is shown when feedback generation fails. The session still
// ends normally with the score.
const apologyFallback = "Xin lỗi, chúng tôi không thể tạo phản hồi cho phiên này."

// skippedMarker is recorded as the transcript of a skipped turn.
const skippedMarker = "(skipped)"

// ScriptGenerator produces a conversation script for a topic and level, plus
// the short farewell spoken when a session ends early.
type ScriptGenerator interface {
	Generate(ctx context.Context, topic string, difficulty script.Difficulty, apiKey string) ([]script.Line, error)
	GenerateClosing(ctx context.Context, apiKey string) ([]script.Line, error)
}

// FeedbackGenerator produces end-of-session feedback and translations.
type FeedbackGenerator interface {
	Generate(ctx context.Context, turns []feedback.Turn, difficulty script.Difficulty, score int, apiKey string) (string, error)
	Translate(ctx context.Context, text, language, apiKey string) (string, error)
}

// SessionRecorder archives finished sessions. Implemented by *history.Store.
type SessionRecorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Deps wires a Session to its collaborators. Credentials, Scripts, Feedback,
// Speech, Transcriber, Capture and Player are required.
type Deps struct {
	Credentials credential.Store
	Scripts     ScriptGenerator
	Feedback    FeedbackGenerator
	Speech      tts.Factory
	Transcriber stt.Factory
	Capture     audio.Capture
	Player      audio.Player

	// History is optional; nil disables archiving.
	History SessionRecorder

	// Clock defaults to the wall clock.
	Clock Clock

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// TargetLanguage defaults to "Vietnamese".
	TargetLanguage string
}

func (d *Deps) validate() error {
	var errs []error
	if d.Credentials == nil {
		errs = append(errs, errors.New("Credentials is required"))
	}
	if d.Scripts == nil {
		errs = append(errs, errors.New("Scripts is required"))
	}
	if d.Feedback == nil {
		errs = append(errs, errors.New("Feedback is required"))
	}
	if d.Speech == nil {
		errs = append(errs, errors.New("Speech is required"))
	}
	if d.Transcriber == nil {
		errs = append(errs, errors.New("Transcriber is required"))
	}
	if d.Capture == nil {
		errs = append(errs, errors.New("Capture is required"))
	}
	if d.Player == nil {
		errs = append(errs, errors.New("Player is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("tutor: invalid deps: %w", err)
	}
	return nil
}

// Session is the conversation practice state machine for one learner. All
// exported methods are safe for concurrent use; state changes are published
// as [Snapshot] values on [Session.Updates].
type Session struct {
	deps Deps

	mu         sync.Mutex
	generation int
	phase      Phase
	apiKey     string

	topic      string
	difficulty script.Difficulty
	lines      []script.Line
	turn       int
	outcomes   []TurnOutcome

	botSpeaking    bool
	hintPlaying    bool
	livePartial    string
	lastTranscript string
	missedWords    []string

	prefetchDone  int
	prefetchTotal int

	scoreValue          int
	feedbackText        string
	feedbackTranslation string
	lastErr             string

	cache       *bufferCache
	rec         *recorder
	cancelTimer func()

	updates chan Snapshot
}

// New creates a Session. When the credential store already holds an API key
// the session starts at topic selection, otherwise at key entry.
func New(deps Deps) (*Session, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = NewClock()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.TargetLanguage == "" {
		deps.TargetLanguage = "Vietnamese"
	}

	s := &Session{
		deps:    deps,
		phase:   PhaseAPIKeyNeeded,
		cache:   newBufferCache(),
		updates: make(chan Snapshot, 64),
	}

	key, err := deps.Credentials.Load()
	switch {
	case err == nil:
		s.apiKey = key
		s.phase = PhaseTopicSelection
	case errors.Is(err, credential.ErrNoCredential):
		// First run.
	default:
		slog.Warn("could not load saved credential", "err", err)
	}

	s.publishLocked()
	return s, nil
}

// Updates returns the snapshot stream. The channel is buffered; when a slow
// consumer falls behind, intermediate snapshots are dropped in favour of
// newer ones.
func (s *Session) Updates() <-chan Snapshot {
	return s.updates
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:               s.phase,
		HasCredential:       s.apiKey != "",
		Topic:               s.topic,
		Difficulty:          s.difficulty,
		Lines:               s.lines,
		TurnIndex:           s.turn,
		Outcomes:            append([]TurnOutcome(nil), s.outcomes...),
		BotSpeaking:         s.botSpeaking,
		Recording:           s.rec != nil,
		HintPlaying:         s.hintPlaying,
		LivePartial:         s.livePartial,
		LastTranscript:      s.lastTranscript,
		MissedWords:         append([]string(nil), s.missedWords...),
		PrefetchDone:        s.prefetchDone,
		PrefetchTotal:       s.prefetchTotal,
		Score:               s.scoreValue,
		Feedback:            s.feedbackText,
		FeedbackTranslation: s.feedbackTranslation,
		Err:                 s.lastErr,
	}
	return snap
}

// publishLocked pushes the current snapshot without blocking. When the buffer
// is full the oldest pending snapshot is dropped.
func (s *Session) publishLocked() {
	snap := s.snapshotLocked()
	for {
		select {
		case s.updates <- snap:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}

// stillCurrent reports whether an async callback started in generation gen
// should still apply. Reset and ChangeCredential bump the generation so stale
// callbacks fall through.
func (s *Session) stillCurrent(gen int) bool {
	return s.generation == gen
}

// ---- credential operations ----

// SetCredential saves the learner's API key and unlocks topic selection.
func (s *Session) SetCredential(apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return errors.New("tutor: apiKey must not be empty")
	}
	if err := s.deps.Credentials.Save(apiKey); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = apiKey
	s.lastErr = ""
	if s.phase == PhaseAPIKeyNeeded {
		s.phase = PhaseTopicSelection
	}
	s.publishLocked()
	return nil
}

// ChangeCredential clears the saved key and returns to key entry. Any
// conversation in progress is abandoned.
func (s *Session) ChangeCredential() error {
	if err := s.deps.Credentials.Clear(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.apiKey = ""
	s.phase = PhaseAPIKeyNeeded
	s.publishLocked()
	return nil
}

// Reset abandons the current conversation and returns to topic selection,
// keeping the saved credential.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	if s.apiKey != "" {
		s.phase = PhaseTopicSelection
	} else {
		s.phase = PhaseAPIKeyNeeded
	}
	s.publishLocked()
}

// resetLocked clears conversation state and invalidates in-flight callbacks.
func (s *Session) resetLocked() {
	s.generation++
	if s.cancelTimer != nil {
		s.cancelTimer()
		s.cancelTimer = nil
	}
	if s.rec != nil {
		s.rec.stop()
	}
	s.topic = ""
	s.difficulty = ""
	s.lines = nil
	s.turn = 0
	s.outcomes = nil
	s.botSpeaking = false
	s.hintPlaying = false
	s.livePartial = ""
	s.lastTranscript = ""
	s.missedWords = nil
	s.prefetchDone = 0
	s.prefetchTotal = 0
	s.scoreValue = 0
	s.feedbackText = ""
	s.feedbackTranslation = ""
	s.lastErr = ""
	s.cache.Clear()
}

// ---- conversation setup ----

// SubmitTopic generates a script for topic at the given level and starts the
// conversation. Generation runs in the background; progress arrives through
// snapshots.
func (s *Session) SubmitTopic(ctx context.Context, topic string, difficulty script.Difficulty) error {
	if strings.TrimSpace(topic) == "" {
		return errors.New("tutor: topic must not be empty")
	}
	if !difficulty.IsValid() {
		return fmt.Errorf("tutor: unknown difficulty %q", difficulty)
	}

	s.mu.Lock()
	if s.phase != PhaseTopicSelection {
		s.mu.Unlock()
		return fmt.Errorf("tutor: cannot submit a topic during %s", s.phase)
	}
	if s.apiKey == "" {
		s.mu.Unlock()
		return errors.New("tutor: no API key saved")
	}
	gen := s.generation
	apiKey := s.apiKey
	s.phase = PhaseGeneratingScript
	s.topic = topic
	s.difficulty = difficulty
	s.lastErr = ""
	s.publishLocked()
	s.mu.Unlock()

	go s.generateScript(ctx, gen, topic, difficulty, apiKey)
	return nil
}

func (s *Session) generateScript(ctx context.Context, gen int, topic string, difficulty script.Difficulty, apiKey string) {
	spanCtx, span := observe.ProviderSpan(ctx, "script.generate", "llm")
	start := time.Now()
	lines, err := s.deps.Scripts.Generate(spanCtx, topic, difficulty, apiKey)
	s.deps.Metrics.ScriptDuration.Record(ctx, time.Since(start).Seconds())
	observe.FinishSpan(span, err)

	s.mu.Lock()
	if !s.stillCurrent(gen) {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.deps.Metrics.RecordProviderError(ctx, "script", "llm")
		slog.Error("script generation failed", "topic", topic, "err", err)
		s.phase = PhaseTopicSelection
		s.lastErr = "Could not generate a conversation script. Please try again."
		s.publishLocked()
		s.mu.Unlock()
		return
	}

	s.lines = lines
	s.turn = 0
	s.prefetchTotal = len(lines)
	s.phase = PhaseInConversation
	s.deps.Metrics.ActiveSessions.Add(ctx, 1)
	s.publishLocked()
	s.mu.Unlock()

	go s.prefetch(ctx, gen, lines, apiKey)
	go s.playCurrentBotLine(ctx, gen)
}

// ---- bot playback ----

// ensureAudio returns the synthesized audio for text, consulting the cache
// first.
func (s *Session) ensureAudio(ctx context.Context, text, apiKey string) (*audio.Buffer, error) {
	if buf, ok := s.cache.Get(text); ok {
		return buf, nil
	}

	provider, err := s.deps.Speech(apiKey)
	if err != nil {
		return nil, fmt.Errorf("tutor: build tts provider: %w", err)
	}

	spanCtx, span := observe.ProviderSpan(ctx, "tts.synthesize", "tts")
	start := time.Now()
	pcm, err := provider.Synthesize(spanCtx, tts.Request{Text: text})
	s.deps.Metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	observe.FinishSpan(span, err)
	if err != nil {
		s.deps.Metrics.RecordProviderError(ctx, "speech", "tts")
		return nil, err
	}

	rate, channels := provider.OutputFormat()
	buf, err := audio.DecodePCM(pcm, rate, channels)
	if err != nil {
		return nil, fmt.Errorf("tutor: decode synthesized audio: %w", err)
	}
	s.cache.Put(text, buf)
	return buf, nil
}

// playCurrentBotLine speaks the current line when it belongs to the bot, then
// advances. A synthesis failure skips the line after a short pause so the
// conversation never stalls.
func (s *Session) playCurrentBotLine(ctx context.Context, gen int) {
	s.mu.Lock()
	if !s.stillCurrent(gen) || s.phase != PhaseInConversation {
		s.mu.Unlock()
		return
	}
	if s.turn >= len(s.lines) || s.lines[s.turn].Role != script.RoleBot {
		s.mu.Unlock()
		return
	}
	line := s.lines[s.turn]
	apiKey := s.apiKey
	s.botSpeaking = true
	s.publishLocked()
	s.mu.Unlock()

	buf, err := s.ensureAudio(ctx, line.Text, apiKey)
	if err != nil {
		slog.Warn("bot line synthesis failed; skipping line", "err", err)
		s.mu.Lock()
		if s.stillCurrent(gen) {
			s.botSpeaking = false
			s.scheduleAdvanceLocked(ctx, gen, synthFailureDelay)
			s.publishLocked()
		}
		s.mu.Unlock()
		return
	}

	done, err := s.deps.Player.Play(ctx, buf)
	if err != nil {
		slog.Warn("bot line playback failed; skipping line", "err", err)
		s.mu.Lock()
		if s.stillCurrent(gen) {
			s.botSpeaking = false
			s.scheduleAdvanceLocked(ctx, gen, synthFailureDelay)
			s.publishLocked()
		}
		s.mu.Unlock()
		return
	}

	select {
	case <-done:
	case <-ctx.Done():
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stillCurrent(gen) {
		return
	}
	s.botSpeaking = false
	s.advanceLocked(ctx, gen)
}

// scheduleAdvanceLocked arms a timer that advances the conversation after d.
func (s *Session) scheduleAdvanceLocked(ctx context.Context, gen int, d time.Duration) {
	if s.cancelTimer != nil {
		s.cancelTimer()
	}
	s.cancelTimer = s.deps.Clock.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.stillCurrent(gen) {
			return
		}
		s.cancelTimer = nil
		s.advanceLocked(ctx, gen)
	})
}

// advanceLocked moves to the next turn. Reaching the end of the script flows
// straight into feedback.
func (s *Session) advanceLocked(ctx context.Context, gen int) {
	if s.phase != PhaseInConversation {
		return
	}
	s.turn++
	s.livePartial = ""
	s.lastTranscript = ""
	s.missedWords = nil

	if s.turn >= len(s.lines) {
		s.beginFeedbackLocked(ctx, gen)
		return
	}
	s.publishLocked()
	if s.lines[s.turn].Role == script.RoleBot {
		go s.playCurrentBotLine(ctx, gen)
	}
}

// ---- learner turns ----

// StartRecording opens the microphone for the current learner line.
func (s *Session) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseInConversation {
		s.mu.Unlock()
		return fmt.Errorf("tutor: cannot record during %s", s.phase)
	}
	if s.turn >= len(s.lines) || s.lines[s.turn].Role != script.RoleUser {
		s.mu.Unlock()
		return errors.New("tutor: current turn is not a learner line")
	}
	if s.rec != nil {
		s.mu.Unlock()
		return errors.New("tutor: already recording")
	}
	if s.apiKey == "" {
		s.mu.Unlock()
		return errors.New("tutor: no API key saved")
	}
	gen := s.generation
	apiKey := s.apiKey
	s.mu.Unlock()

	ev := recorderEvents{
		onPartial: func(text string) { s.handlePartial(gen, text) },
		onFinal:   func(text string) { s.handleFinal(ctx, gen, text) },
		onError:   func(err error) { s.handleTransportError(gen, err) },
	}
	rec, err := startRecorder(ctx, s.deps.Transcriber, apiKey, s.deps.Capture, ev)
	if err != nil {
		return s.describeCaptureError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stillCurrent(gen) || s.phase != PhaseInConversation {
		rec.stop()
		return errors.New("tutor: conversation ended while opening the microphone")
	}
	s.rec = rec
	s.livePartial = ""
	s.lastTranscript = ""
	s.missedWords = nil
	s.deps.Metrics.ActiveRecordings.Add(ctx, 1)
	s.publishLocked()

	// Clear the recorder once the take has fully finished, whether it ended
	// via StopRecording, a skip, or a transport failure. Final transcript
	// delivery (handleFinal) happens before wait() unblocks.
	go func() {
		<-rec.wait()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.rec != rec {
			return
		}
		s.rec = nil
		s.deps.Metrics.ActiveRecordings.Add(ctx, -1)
		s.publishLocked()
	}()
	return nil
}

// describeCaptureError converts capture sentinels into user-facing messages.
func (s *Session) describeCaptureError(err error) error {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return errors.New("tutor: microphone permission denied; allow access and try again")
	case errors.Is(err, audio.ErrDeviceNotFound):
		return errors.New("tutor: no microphone found; connect one and try again")
	default:
		return err
	}
}

// StopRecording ends the current take. The final transcript arrives
// asynchronously and drives turn evaluation.
func (s *Session) StopRecording() error {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec == nil {
		return errors.New("tutor: not recording")
	}
	rec.stop()
	return nil
}

func (s *Session) handlePartial(gen int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stillCurrent(gen) {
		return
	}
	s.livePartial = text
	s.publishLocked()
}

func (s *Session) handleTransportError(gen int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stillCurrent(gen) {
		return
	}
	if s.rec != nil {
		s.rec.stop()
	}
	s.lastErr = "The transcription connection dropped. Please try again."
	s.publishLocked()
}

// handleFinal evaluates the finished take against the expected line.
func (s *Session) handleFinal(ctx context.Context, gen int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stillCurrent(gen) || s.phase != PhaseInConversation {
		return
	}
	if s.turn >= len(s.lines) || s.lines[s.turn].Role != script.RoleUser {
		return
	}

	expected := s.lines[s.turn].Text
	accepted, _ := score.Accept(text, expected, s.difficulty)
	similarity := score.Similarity(text, expected)
	s.livePartial = ""

	if !accepted {
		// Keep the turn open so the learner can retry; show what was heard
		// and which expected words never landed.
		s.deps.Metrics.RecordTurnResult(ctx, "retry")
		s.lastTranscript = text
		s.missedWords = score.MissedWords(text, expected)
		s.publishLocked()
		return
	}

	s.deps.Metrics.RecordTurnResult(ctx, "correct")
	s.outcomes = append(s.outcomes, TurnOutcome{
		Index:      s.turn,
		Expected:   expected,
		Actual:     text,
		Similarity: similarity,
		Correct:    true,
	})
	s.publishLocked()
	s.scheduleAdvanceLocked(ctx, gen, correctAdvanceDelay)
}

// SkipTurn records the current learner line as skipped and moves on.
func (s *Session) SkipTurn(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseInConversation {
		return fmt.Errorf("tutor: cannot skip during %s", s.phase)
	}
	if s.turn >= len(s.lines) || s.lines[s.turn].Role != script.RoleUser {
		return errors.New("tutor: current turn is not a learner line")
	}
	if s.rec != nil {
		s.rec.stop()
	}

	gen := s.generation
	expected := s.lines[s.turn].Text
	s.deps.Metrics.RecordTurnResult(ctx, "skipped")
	s.outcomes = append(s.outcomes, TurnOutcome{
		Index:    s.turn,
		Expected: expected,
		Actual:   skippedMarker,
		Skipped:  true,
	})
	s.publishLocked()
	s.scheduleAdvanceLocked(ctx, gen, skipAdvanceDelay)
	return nil
}

// PlayHint speaks the learner's current line so they can hear how it should
// sound. The turn stays open.
func (s *Session) PlayHint(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseInConversation {
		s.mu.Unlock()
		return fmt.Errorf("tutor: cannot play a hint during %s", s.phase)
	}
	if s.turn >= len(s.lines) || s.lines[s.turn].Role != script.RoleUser {
		s.mu.Unlock()
		return errors.New("tutor: current turn is not a learner line")
	}
	if s.hintPlaying || s.botSpeaking {
		s.mu.Unlock()
		return errors.New("tutor: audio is already playing")
	}
	gen := s.generation
	line := s.lines[s.turn]
	apiKey := s.apiKey
	s.hintPlaying = true
	s.publishLocked()
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			if s.stillCurrent(gen) {
				s.hintPlaying = false
				s.publishLocked()
			}
			s.mu.Unlock()
		}()

		buf, err := s.ensureAudio(ctx, line.Text, apiKey)
		if err != nil {
			slog.Warn("hint synthesis failed", "err", err)
			return
		}
		done, err := s.deps.Player.Play(ctx, buf)
		if err != nil {
			slog.Warn("hint playback failed", "err", err)
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
		}
	}()
	return nil
}

// EndConversation finishes the conversation early and moves to feedback. The
// bot speaks a short farewell in parallel while the feedback is prepared; a
// farewell failure is logged and nothing more.
func (s *Session) EndConversation(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseInConversation {
		return fmt.Errorf("tutor: cannot end during %s", s.phase)
	}
	go s.playFarewell(ctx, s.generation, s.apiKey)
	s.beginFeedbackLocked(ctx, s.generation)
	return nil
}

// playFarewell generates and speaks the closing goodbye. It never touches the
// phase; feedback proceeds regardless of how the farewell fares.
func (s *Session) playFarewell(ctx context.Context, gen int, apiKey string) {
	spanCtx, span := observe.ProviderSpan(ctx, "script.closing", "llm")
	lines, err := s.deps.Scripts.GenerateClosing(spanCtx, apiKey)
	observe.FinishSpan(span, err)
	if err != nil {
		slog.Warn("closing script generation failed", "err", err)
		return
	}

	for _, line := range lines {
		if line.Role != script.RoleBot {
			continue
		}
		s.mu.Lock()
		current := s.stillCurrent(gen)
		s.mu.Unlock()
		if !current {
			return
		}

		buf, err := s.ensureAudio(ctx, line.Text, apiKey)
		if err != nil {
			slog.Warn("farewell synthesis failed", "err", err)
			return
		}
		done, err := s.deps.Player.Play(ctx, buf)
		if err != nil {
			slog.Warn("farewell playback failed", "err", err)
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}

// ---- feedback ----

func (s *Session) beginFeedbackLocked(ctx context.Context, gen int) {
	if s.cancelTimer != nil {
		s.cancelTimer()
		s.cancelTimer = nil
	}
	if s.rec != nil {
		s.rec.stop()
	}
	s.phase = PhaseGeneratingFeedback
	s.botSpeaking = false
	s.hintPlaying = false
	s.livePartial = ""
	s.missedWords = nil
	s.deps.Metrics.ActiveSessions.Add(ctx, -1)

	successful := 0
	for _, o := range s.outcomes {
		if o.Correct {
			successful++
		}
	}
	s.scoreValue = score.SessionScore(successful, len(s.outcomes))
	s.publishLocked()

	turns := make([]feedback.Turn, len(s.outcomes))
	for i, o := range s.outcomes {
		turns[i] = feedback.Turn{Expected: o.Expected, Actual: o.Actual, Similarity: o.Similarity}
	}

	go s.generateFeedback(ctx, gen, turns, s.difficulty, s.scoreValue, s.apiKey)
}

// generateFeedback produces feedback in English, translates it, and always
// lands in conversation_ended. Failures fall back to an apology.
func (s *Session) generateFeedback(ctx context.Context, gen int, turns []feedback.Turn, difficulty script.Difficulty, scoreValue int, apiKey string) {
	start := time.Now()
	english, translated := s.buildFeedback(ctx, turns, difficulty, scoreValue, apiKey)
	s.deps.Metrics.FeedbackDuration.Record(ctx, time.Since(start).Seconds())

	s.mu.Lock()
	if !s.stillCurrent(gen) {
		s.mu.Unlock()
		return
	}
	s.feedbackText = english
	s.feedbackTranslation = translated
	s.phase = PhaseConversationEnded
	s.deps.Metrics.RecordSessionCompleted(ctx, string(difficulty))
	s.publishLocked()
	topic := s.topic
	outcomes := append([]TurnOutcome(nil), s.outcomes...)
	s.mu.Unlock()

	s.archive(ctx, topic, difficulty, scoreValue, outcomes, english)
}

// buildFeedback runs the generate-then-translate flow. A failure in either
// step replaces both texts with the apology, so the learner never sees a
// half-finished pair.
func (s *Session) buildFeedback(ctx context.Context, turns []feedback.Turn, difficulty script.Difficulty, scoreValue int, apiKey string) (english, translated string) {
	genCtx, span := observe.ProviderSpan(ctx, "feedback.generate", "llm")
	english, err := s.deps.Feedback.Generate(genCtx, turns, difficulty, scoreValue, apiKey)
	observe.FinishSpan(span, err)
	if err != nil {
		s.deps.Metrics.RecordProviderError(ctx, "feedback", "llm")
		slog.Error("feedback generation failed", "err", err)
		return apologyFallback, apologyFallback
	}
	trCtx, span := observe.ProviderSpan(ctx, "feedback.translate", "llm")
	translated, err = s.deps.Feedback.Translate(trCtx, english, s.deps.TargetLanguage, apiKey)
	observe.FinishSpan(span, err)
	if err != nil {
		s.deps.Metrics.RecordProviderError(ctx, "feedback", "llm")
		slog.Error("feedback translation failed", "err", err)
		return apologyFallback, apologyFallback
	}
	return english, translated
}

// archive records the finished session. Failures are logged, never surfaced.
func (s *Session) archive(ctx context.Context, topic string, difficulty script.Difficulty, scoreValue int, outcomes []TurnOutcome, feedbackText string) {
	if s.deps.History == nil {
		return
	}
	turns := make([]history.Turn, len(outcomes))
	for i, o := range outcomes {
		turns[i] = history.Turn{Expected: o.Expected, Actual: o.Actual, Similarity: o.Similarity}
	}
	err := s.deps.History.Record(ctx, history.Entry{
		Topic:      topic,
		Difficulty: string(difficulty),
		Score:      scoreValue,
		Turns:      turns,
		Feedback:   feedbackText,
	})
	if err != nil {
		slog.Warn("could not archive session", "err", err)
	}
}
