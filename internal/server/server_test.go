package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/hamchoi/talkmate/internal/config"
	"github.com/hamchoi/talkmate/internal/credential"
	"github.com/hamchoi/talkmate/internal/feedback"
	"github.com/hamchoi/talkmate/internal/history"
	"github.com/hamchoi/talkmate/internal/script"
	"github.com/hamchoi/talkmate/internal/server"
	"github.com/hamchoi/talkmate/internal/tutor"
	sttpkg "github.com/hamchoi/talkmate/pkg/provider/stt"
	sttmock "github.com/hamchoi/talkmate/pkg/provider/stt/mock"
	ttspkg "github.com/hamchoi/talkmate/pkg/provider/tts"
	ttsmock "github.com/hamchoi/talkmate/pkg/provider/tts/mock"
)

// clientEvent mirrors the gateway's wire format from the browser's point of
// view.
type clientEvent struct {
	Type       string          `json:"type"`
	APIKey     string          `json:"api_key,omitempty"`
	Topic      string          `json:"topic,omitempty"`
	Difficulty string          `json:"difficulty,omitempty"`
	Code       string          `json:"code,omitempty"`
	PlaybackID int             `json:"playback_id,omitempty"`
	SampleRate int             `json:"sample_rate,omitempty"`
	Channels   int             `json:"channels,omitempty"`
	Message    string          `json:"message,omitempty"`
	State      *tutor.Snapshot `json:"state,omitempty"`
}

type stubScripts struct{ lines []script.Line }

func (s *stubScripts) Generate(context.Context, string, script.Difficulty, string) ([]script.Line, error) {
	return s.lines, nil
}

func (s *stubScripts) GenerateClosing(context.Context, string) ([]script.Line, error) {
	return []script.Line{{Role: script.RoleBot, Text: "Cheerio, and well done!"}}, nil
}

type stubFeedback struct{ text string }

func (s *stubFeedback) Generate(context.Context, []feedback.Turn, script.Difficulty, int, string) (string, error) {
	return s.text, nil
}

func (s *stubFeedback) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

// wsClient drives the gateway protocol in tests.
type wsClient struct {
	t    *testing.T
	ctx  context.Context
	conn *websocket.Conn

	lastAudio clientEvent
	lastPCM   []byte
}

func dialGateway(t *testing.T, sttSess *sttmock.Session) *wsClient {
	t.Helper()

	srv, err := server.New(config.ServerConfig{}, server.Deps{
		Credentials: credential.NewMemStore(),
		Scripts: &stubScripts{lines: []script.Line{
			{Role: script.RoleBot, Text: "Hello there!", Translation: "Xin chào!"},
			{Role: script.RoleUser, Text: "Nice to meet you", Translation: "Rất vui được gặp bạn"},
		}},
		Feedback:    &stubFeedback{text: "Great work."},
		Speech:      func(string) (ttspkg.Provider, error) { return &ttsmock.Provider{Audio: []byte{1, 0, 2, 0}}, nil },
		Transcriber: func(string) (sttpkg.Provider, error) { return &sttmock.Provider{Session: sttSess}, nil },
	})
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket.Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	return &wsClient{t: t, ctx: ctx, conn: conn}
}

func (c *wsClient) send(ev clientEvent) {
	c.t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// next reads one message, tracking audio headers and their binary payloads.
func (c *wsClient) next() (clientEvent, bool) {
	c.t.Helper()
	typ, data, err := c.conn.Read(c.ctx)
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	if typ == websocket.MessageBinary {
		c.lastPCM = data
		return clientEvent{}, false
	}
	var ev clientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.t.Fatalf("unmarshal %q: %v", data, err)
	}
	if ev.Type == "audio" {
		c.lastAudio = ev
	}
	return ev, true
}

// waitEvent reads until an event of the given type arrives.
func (c *wsClient) waitEvent(typ string) clientEvent {
	c.t.Helper()
	for {
		ev, ok := c.next()
		if ok && ev.Type == typ {
			return ev
		}
	}
}

// waitPhase reads snapshots until the session reaches the given phase.
func (c *wsClient) waitPhase(phase tutor.Phase) tutor.Snapshot {
	c.t.Helper()
	for {
		ev, ok := c.next()
		if ok && ev.Type == "snapshot" && ev.State != nil && ev.State.Phase == phase {
			return *ev.State
		}
	}
}

// waitSnapshot reads snapshots until cond holds.
func (c *wsClient) waitSnapshot(cond func(tutor.Snapshot) bool) tutor.Snapshot {
	c.t.Helper()
	for {
		ev, ok := c.next()
		if ok && ev.Type == "snapshot" && ev.State != nil && cond(*ev.State) {
			return *ev.State
		}
	}
}

// waitAudio reads until a complete clip (header plus binary payload) arrived.
func (c *wsClient) waitAudio() (clientEvent, []byte) {
	c.t.Helper()
	c.lastPCM = nil
	for c.lastPCM == nil {
		c.next()
	}
	return c.lastAudio, c.lastPCM
}

func TestGateway_ConversationFlow(t *testing.T) {
	t.Parallel()

	sttSess := sttmock.NewSession()
	c := dialGateway(t, sttSess)

	c.waitPhase(tutor.PhaseAPIKeyNeeded)

	c.send(clientEvent{Type: "save_key", APIKey: "test-key"})
	c.waitPhase(tutor.PhaseTopicSelection)

	c.send(clientEvent{Type: "submit_topic", Topic: "introductions", Difficulty: "A2"})

	// The opening bot line arrives as an audio event plus PCM payload.
	header, pcm := c.waitAudio()
	if header.SampleRate != 24000 || header.Channels != 1 {
		t.Errorf("audio format = %d Hz / %d ch, want 24000/1", header.SampleRate, header.Channels)
	}
	if len(pcm) == 0 {
		t.Error("audio payload is empty")
	}
	c.send(clientEvent{Type: "playback_ended", PlaybackID: header.PlaybackID})

	// Bot line done, learner turn open.
	c.waitSnapshot(func(s tutor.Snapshot) bool {
		return s.Phase == tutor.PhaseInConversation && s.TurnIndex == 1 && !s.BotSpeaking
	})

	// Record the learner line.
	c.send(clientEvent{Type: "start_recording"})
	c.waitEvent("mic_start")
	c.send(clientEvent{Type: "mic_ready"})
	c.waitSnapshot(func(s tutor.Snapshot) bool { return s.Recording })

	if err := c.conn.Write(c.ctx, websocket.MessageBinary, []byte{3, 0, 4, 0}); err != nil {
		t.Fatalf("send pcm: %v", err)
	}
	sttSess.FinalsCh <- sttpkg.Transcript{Text: "Nice to meet you", IsFinal: true}
	c.send(clientEvent{Type: "stop_recording"})
	c.waitEvent("mic_stop")

	c.waitSnapshot(func(s tutor.Snapshot) bool {
		return len(s.Outcomes) == 1 && s.Outcomes[0].Correct
	})

	// The accepted final turn rolls into feedback and the session ends.
	final := c.waitPhase(tutor.PhaseConversationEnded)
	if final.Score != 10 {
		t.Errorf("Score = %d, want 10", final.Score)
	}
	if final.Feedback != "Great work." {
		t.Errorf("Feedback = %q, want %q", final.Feedback, "Great work.")
	}
}

func TestGateway_MicPermissionDenied(t *testing.T) {
	t.Parallel()

	sttSess := sttmock.NewSession()
	c := dialGateway(t, sttSess)

	c.waitPhase(tutor.PhaseAPIKeyNeeded)
	c.send(clientEvent{Type: "save_key", APIKey: "test-key"})
	c.send(clientEvent{Type: "submit_topic", Topic: "introductions", Difficulty: "A1"})

	header, _ := c.waitAudio()
	c.send(clientEvent{Type: "playback_ended", PlaybackID: header.PlaybackID})
	c.waitSnapshot(func(s tutor.Snapshot) bool {
		return s.Phase == tutor.PhaseInConversation && s.TurnIndex == 1
	})

	c.send(clientEvent{Type: "start_recording"})
	c.waitEvent("mic_start")
	c.send(clientEvent{Type: "mic_error", Code: "permission_denied"})

	ev := c.waitEvent("error")
	if !strings.Contains(ev.Message, "microphone") {
		t.Errorf("error message = %q, want a microphone hint", ev.Message)
	}
}

func TestGateway_UnknownEvent(t *testing.T) {
	t.Parallel()

	c := dialGateway(t, sttmock.NewSession())
	c.waitPhase(tutor.PhaseAPIKeyNeeded)

	c.send(clientEvent{Type: "self_destruct"})
	ev := c.waitEvent("error")
	if !strings.Contains(ev.Message, "unknown event") {
		t.Errorf("error message = %q, want unknown event", ev.Message)
	}
}

func TestServer_HealthAndMetricsEndpoints(t *testing.T) {
	t.Parallel()

	srv, err := server.New(config.ServerConfig{}, server.Deps{
		Credentials: credential.NewMemStore(),
		Scripts:     &stubScripts{},
		Feedback:    &stubFeedback{},
		Speech:      func(string) (ttspkg.Provider, error) { return &ttsmock.Provider{}, nil },
		Transcriber: func(string) (sttpkg.Provider, error) { return &sttmock.Provider{}, nil },
	})
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

type stubArchive struct {
	entries []history.Entry
	limits  []int
}

func (a *stubArchive) Record(context.Context, history.Entry) error { return nil }

func (a *stubArchive) Recent(_ context.Context, limit int) ([]history.Entry, error) {
	a.limits = append(a.limits, limit)
	return a.entries, nil
}

func newHistoryServer(t *testing.T, archive tutor.SessionRecorder) *httptest.Server {
	t.Helper()
	srv, err := server.New(config.ServerConfig{}, server.Deps{
		Credentials: credential.NewMemStore(),
		Scripts:     &stubScripts{},
		Feedback:    &stubFeedback{},
		Speech:      func(string) (ttspkg.Provider, error) { return &ttsmock.Provider{}, nil },
		Transcriber: func(string) (sttpkg.Provider, error) { return &sttmock.Provider{}, nil },
		History:     archive,
	})
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_HistoryEndpoint(t *testing.T) {
	t.Parallel()

	archive := &stubArchive{entries: []history.Entry{
		{Topic: "ordering coffee", Difficulty: "A2", Score: 8, Feedback: "Nỗ lực tốt."},
	}}
	ts := newHistoryServer(t, archive)

	resp, err := http.Get(ts.URL + "/history?limit=5")
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Sessions []history.Entry `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].Topic != "ordering coffee" {
		t.Errorf("sessions = %+v, want the archived entry", body.Sessions)
	}
	if len(archive.limits) != 1 || archive.limits[0] != 5 {
		t.Errorf("queried limits = %v, want [5]", archive.limits)
	}
}

func TestServer_HistoryEndpoint_BadLimit(t *testing.T) {
	t.Parallel()

	ts := newHistoryServer(t, &stubArchive{})
	for _, q := range []string{"?limit=0", "?limit=101", "?limit=many"} {
		resp, err := http.Get(ts.URL + "/history" + q)
		if err != nil {
			t.Fatalf("GET /history%s: %v", q, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET /history%s status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestServer_HistoryEndpoint_NoArchive(t *testing.T) {
	t.Parallel()

	ts := newHistoryServer(t, nil)
	resp, err := http.Get(ts.URL + "/history")
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without an archive", resp.StatusCode)
	}
}
