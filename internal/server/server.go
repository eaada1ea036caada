package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamchoi/talkmate/internal/config"
	"github.com/hamchoi/talkmate/internal/credential"
	"github.com/hamchoi/talkmate/internal/health"
	"github.com/hamchoi/talkmate/internal/history"
	"github.com/hamchoi/talkmate/internal/observe"
	"github.com/hamchoi/talkmate/internal/tutor"
	"github.com/hamchoi/talkmate/pkg/provider/stt"
	"github.com/hamchoi/talkmate/pkg/provider/tts"
)

const shutdownTimeout = 15 * time.Second

// Deps carries the shared collaborators every learner connection uses. The
// per-connection audio adapters are created by the gateway itself.
type Deps struct {
	Credentials credential.Store
	Scripts     tutor.ScriptGenerator
	Feedback    tutor.FeedbackGenerator
	Speech      tts.Factory
	Transcriber stt.Factory

	// History is optional; nil disables session archiving.
	History tutor.SessionRecorder

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Health serves the liveness and readiness probes. Defaults to a probe
	// with no dependency checks.
	Health *health.Handler

	// TargetLanguage is the translation language for feedback.
	TargetLanguage string
}

// Server is the talkmate HTTP server: WebSocket gateway, metrics, and health
// probes.
type Server struct {
	cfg  config.ServerConfig
	deps Deps
	http *http.Server
}

// New creates a Server. The listener is not opened until [Server.Run].
func New(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Credentials == nil || deps.Scripts == nil || deps.Feedback == nil ||
		deps.Speech == nil || deps.Transcriber == nil {
		return nil, errors.New("server: missing required dependency")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Health == nil {
		deps.Health = health.New()
	}

	s := &Server{cfg: cfg, deps: deps}
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the root HTTP handler. The WebSocket endpoint is mounted
// outside the observability middleware because the hijacked connection
// outlives any request-scoped span.
func (s *Server) Handler() http.Handler {
	instrumented := http.NewServeMux()
	instrumented.Handle("GET /metrics", promhttp.Handler())
	instrumented.HandleFunc("GET /history", s.handleHistory)
	s.deps.Health.Register(instrumented)

	root := http.NewServeMux()
	root.Handle("/", observe.Middleware(s.deps.Metrics)(instrumented))
	root.HandleFunc("GET /ws", s.handleWS)
	return root
}

// SessionLister is implemented by archives that can also serve the learner's
// recent sessions. *history.Store satisfies it; the endpoint answers 404 when
// the configured archive cannot list.
type SessionLister interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// handleHistory serves the most recent finished sessions, newest first. The
// optional limit query parameter caps the result at 1-100 entries.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.deps.History.(SessionLister)
	if !ok {
		http.Error(w, "session archive not configured", http.StatusNotFound)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			http.Error(w, "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := lister.Recent(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("history query failed", "err", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string][]history.Entry{"sessions": entries}); err != nil {
		observe.Logger(r.Context()).Warn("history response write failed", "err", err)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLS != nil {
			err = s.http.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.http.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server listening", "addr", s.cfg.ListenAddr, "tls", s.cfg.TLS != nil)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
