// Package server exposes TalkMate over HTTP: a WebSocket gateway that carries
// the conversation protocol to the browser, a Prometheus /metrics endpoint,
// and health probes.
//
// The WebSocket protocol uses JSON text messages for events in both
// directions and binary messages for PCM audio. The client streams microphone
// audio as binary frames; the server announces each synthesized clip with an
// "audio" event followed by one binary message with the samples.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/hamchoi/talkmate/internal/script"
	"github.com/hamchoi/talkmate/internal/tutor"
)

// writeTimeout bounds each WebSocket write so one stalled client cannot pin a
// goroutine forever.
const writeTimeout = 10 * time.Second

// event is the JSON envelope for every text message on the WebSocket, in both
// directions. Unused fields are omitted per message type.
type event struct {
	Type string `json:"type"`

	// Client to server.
	APIKey     string `json:"api_key,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	Code       string `json:"code,omitempty"`
	PlaybackID int    `json:"playback_id,omitempty"`

	// Server to client.
	SampleRate int             `json:"sample_rate,omitempty"`
	Channels   int             `json:"channels,omitempty"`
	DurationMS int             `json:"duration_ms,omitempty"`
	Message    string          `json:"message,omitempty"`
	State      *tutor.Snapshot `json:"state,omitempty"`
}

// wsConn is one learner connection: a WebSocket plus the tutor session and
// audio adapters bound to it.
type wsConn struct {
	ws      *websocket.Conn
	ctx     context.Context
	capture *wsCapture
	player  *wsPlayer
	session *tutor.Session
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "connection closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{ws: ws, ctx: ctx}
	c.capture = newWSCapture(c.writeJSON)
	c.player = newWSPlayer(c.writeJSON, c.writeBinary)

	session, err := tutor.New(tutor.Deps{
		Credentials:    s.deps.Credentials,
		Scripts:        s.deps.Scripts,
		Feedback:       s.deps.Feedback,
		Speech:         s.deps.Speech,
		Transcriber:    s.deps.Transcriber,
		Capture:        c.capture,
		Player:         c.player,
		History:        s.deps.History,
		Metrics:        s.deps.Metrics,
		TargetLanguage: s.deps.TargetLanguage,
	})
	if err != nil {
		slog.Error("could not create tutor session", "err", err)
		ws.Close(websocket.StatusInternalError, "session setup failed")
		return
	}
	c.session = session
	defer func() {
		session.Reset()
		c.player.closeAll()
	}()

	slog.Info("learner connected", "remote", r.RemoteAddr)

	go c.pumpSnapshots()
	c.readLoop()

	slog.Info("learner disconnected", "remote", r.RemoteAddr)
	ws.Close(websocket.StatusNormalClosure, "")
}

// pumpSnapshots forwards session state changes to the client.
func (c *wsConn) pumpSnapshots() {
	updates := c.session.Updates()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := c.writeJSON(event{Type: "snapshot", State: &snap}); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// readLoop dispatches client messages until the connection drops.
func (c *wsConn) readLoop() {
	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			c.capture.push(data)
		case websocket.MessageText:
			var ev event
			if err := json.Unmarshal(data, &ev); err != nil {
				c.sendError("malformed event")
				continue
			}
			c.dispatch(ev)
		}
	}
}

func (c *wsConn) dispatch(ev event) {
	var err error
	switch ev.Type {
	case "save_key":
		err = c.session.SetCredential(ev.APIKey)
	case "clear_key":
		err = c.session.ChangeCredential()
	case "submit_topic":
		var d script.Difficulty
		d, err = script.ParseDifficulty(ev.Difficulty)
		if err == nil {
			err = c.session.SubmitTopic(c.ctx, ev.Topic, d)
		}
	case "start_recording":
		// Blocks until the browser confirms the microphone, which arrives as
		// a mic_ready event on this same read loop. Must not run inline.
		go func() {
			if err := c.session.StartRecording(c.ctx); err != nil {
				c.sendError(err.Error())
			}
		}()
	case "stop_recording":
		err = c.session.StopRecording()
	case "skip_turn":
		err = c.session.SkipTurn(c.ctx)
	case "play_hint":
		err = c.session.PlayHint(c.ctx)
	case "end_conversation":
		err = c.session.EndConversation(c.ctx)
	case "reset":
		c.session.Reset()
	case "playback_ended":
		c.player.playbackEnded(ev.PlaybackID)
	case "mic_ready":
		c.capture.micReady()
	case "mic_error":
		c.capture.micError(ev.Code)
	default:
		c.sendError("unknown event type: " + ev.Type)
	}
	if err != nil {
		c.sendError(err.Error())
	}
}

func (c *wsConn) sendError(msg string) {
	if err := c.writeJSON(event{Type: "error", Message: msg}); err != nil {
		slog.Debug("could not deliver error event", "err", err)
	}
}

// writeJSON sends one text message. The websocket library serializes
// concurrent writers internally, so the snapshot pump, player, and dispatch
// paths may all call this.
func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) writeBinary(data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageBinary, data)
}
