// Command talkmate is the main entry point for the TalkMate conversation
// tutor server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/hamchoi/talkmate/internal/config"
	"github.com/hamchoi/talkmate/internal/credential"
	"github.com/hamchoi/talkmate/internal/feedback"
	"github.com/hamchoi/talkmate/internal/health"
	"github.com/hamchoi/talkmate/internal/history"
	"github.com/hamchoi/talkmate/internal/observe"
	"github.com/hamchoi/talkmate/internal/resilience"
	"github.com/hamchoi/talkmate/internal/script"
	"github.com/hamchoi/talkmate/internal/server"
	"github.com/hamchoi/talkmate/pkg/provider/llm"
	"github.com/hamchoi/talkmate/pkg/provider/llm/anyllm"
	oaillm "github.com/hamchoi/talkmate/pkg/provider/llm/openai"
	"github.com/hamchoi/talkmate/pkg/provider/stt"
	"github.com/hamchoi/talkmate/pkg/provider/stt/deepgram"
	"github.com/hamchoi/talkmate/pkg/provider/stt/geminilive"
	"github.com/hamchoi/talkmate/pkg/provider/tts"
	"github.com/hamchoi/talkmate/pkg/provider/tts/coqui"
	"github.com/hamchoi/talkmate/pkg/provider/tts/elevenlabs"
	geminitts "github.com/hamchoi/talkmate/pkg/provider/tts/gemini"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level is held in a LevelVar so a config reload can adjust it without
	// a restart.
	levelVar := &slog.LevelVar{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	// ── Load configuration (with hot reload) ──────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		d := config.Diff(old, updated)
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if len(d.ProvidersChanged) > 0 || d.TutorChanged || d.HistoryChanged {
			slog.Warn("config sections changed that require a restart to apply",
				"providers", d.ProvidersChanged,
				"tutor", d.TutorChanged,
				"history", d.HistoryChanged,
			)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "talkmate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "talkmate: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	levelVar.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("talkmate starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.SetupTelemetry(ctx, observe.TelemetryConfig{
		ServiceName:    "talkmate",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	scriptFactory, err := buildLLM(reg, cfg.Providers.Script)
	if err != nil {
		slog.Error("failed to build script provider", "name", cfg.Providers.Script.Name, "err", err)
		return 1
	}
	feedbackFactory, err := buildLLM(reg, cfg.Providers.Feedback)
	if err != nil {
		slog.Error("failed to build feedback provider", "name", cfg.Providers.Feedback.Name, "err", err)
		return 1
	}
	speechFactory, err := buildTTS(reg, cfg.Providers.TTS)
	if err != nil {
		slog.Error("failed to build tts provider", "name", cfg.Providers.TTS.Name, "err", err)
		return 1
	}
	transcriberFactory, err := buildSTT(reg, cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to build stt provider", "name", cfg.Providers.STT.Name, "err", err)
		return 1
	}

	scripts, err := script.NewGenerator(scriptFactory, cfg.Tutor.TargetLanguage)
	if err != nil {
		slog.Error("failed to create script generator", "err", err)
		return 1
	}
	feedbackGen, err := feedback.NewGenerator(feedbackFactory)
	if err != nil {
		slog.Error("failed to create feedback generator", "err", err)
		return 1
	}

	// ── Credential store ──────────────────────────────────────────────────────
	creds, err := credential.NewFileStore(cfg.Tutor.CredentialFile)
	if err != nil {
		slog.Error("failed to open credential store", "path", cfg.Tutor.CredentialFile, "err", err)
		return 1
	}

	// ── Session archive (optional) ────────────────────────────────────────────
	var (
		archive  *history.Store
		checkers []health.Checker
	)
	if cfg.History.PostgresDSN != "" {
		archive, err = history.NewStore(ctx, cfg.History.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to the session archive", "err", err)
			return 1
		}
		defer archive.Close()
		checkers = append(checkers, health.Checker{Name: "history", Check: archive.Ping})
		slog.Info("session archive connected")
	}

	printStartupSummary(cfg)

	// ── HTTP server ───────────────────────────────────────────────────────────
	deps := server.Deps{
		Credentials:    creds,
		Scripts:        scripts,
		Feedback:       feedbackGen,
		Speech:         speechFactory,
		Transcriber:    transcriberFactory,
		Metrics:        observe.DefaultMetrics(),
		Health:         health.New(checkers...),
		TargetLanguage: cfg.Tutor.TargetLanguage,
	}
	if archive != nil {
		deps.History = archive
	}

	srv, err := server.New(cfg.Server, deps)
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmProviders are the LLM backends served through any-llm-go. OpenAI gets
// the native SDK instead; ollama is registered separately because it is a
// local server keyed by base URL rather than an API key.
var anyllmProviders = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider builders into reg. Each
// builder captures the config entry and returns a factory that binds the
// learner's API key at runtime.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	for _, providerName := range anyllmProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Factory, error) {
			return func(apiKey string) (llm.Provider, error) {
				opts := []anyllmlib.Option{anyllmlib.WithAPIKey(apiKey)}
				if entry.BaseURL != "" {
					opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
				}
				return anyllm.New(providerName, entry.Model, opts...)
			}, nil
		})
	}

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Factory, error) {
		return func(apiKey string) (llm.Provider, error) {
			var opts []oaillm.Option
			if entry.BaseURL != "" {
				opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
			}
			return oaillm.New(apiKey, entry.Model, opts...)
		}, nil
	})

	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Factory, error) {
		return func(string) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New("ollama", entry.Model, opts...)
		}, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("gemini-live", func(entry config.ProviderEntry) (stt.Factory, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.Factory(opts...), nil
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Factory, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.Factory(opts...), nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("gemini", func(entry config.ProviderEntry) (tts.Factory, error) {
		var opts []geminitts.Option
		if entry.Model != "" {
			opts = append(opts, geminitts.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, geminitts.WithVoice(entry.Voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminitts.WithBaseURL(entry.BaseURL))
		}
		return geminitts.Factory(opts...), nil
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Factory, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, elevenlabs.WithVoice(entry.Voice))
		}
		if format := optString(entry.Options, "output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		return elevenlabs.Factory(opts...), nil
	})

	// Coqui runs locally and needs no API key, only the server address.
	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Factory, error) {
		if entry.BaseURL == "" {
			return nil, errors.New("coqui requires base_url pointing at the TTS server")
		}
		var opts []coqui.Option
		if entry.Voice != "" {
			opts = append(opts, coqui.WithVoice(entry.Voice))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.Factory(entry.BaseURL, opts...), nil
	})
}

// buildLLM resolves entry through the registry, wrapping it in a failover
// chain when a fallback provider is configured. Each learner key gets its own
// chain (and its own circuit breakers) because providers are built per key.
func buildLLM(reg *config.Registry, entry config.ProviderEntry) (llm.Factory, error) {
	primary, err := reg.BuildLLM(entry)
	if err != nil {
		return nil, err
	}
	if entry.Fallback == nil {
		return primary, nil
	}
	secondary, err := reg.BuildLLM(*entry.Fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback %q: %w", entry.Fallback.Name, err)
	}
	slog.Info("llm failover enabled", "primary", entry.Name, "fallback", entry.Fallback.Name)
	return resilience.NewLLMFactory(
		resilience.NamedLLMFactory{Name: entry.Name, Factory: primary},
		resilience.ChainConfig{},
		resilience.NamedLLMFactory{Name: entry.Fallback.Name, Factory: secondary},
	), nil
}

func buildTTS(reg *config.Registry, entry config.ProviderEntry) (tts.Factory, error) {
	primary, err := reg.BuildTTS(entry)
	if err != nil {
		return nil, err
	}
	if entry.Fallback == nil {
		return primary, nil
	}
	secondary, err := reg.BuildTTS(*entry.Fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback %q: %w", entry.Fallback.Name, err)
	}
	slog.Info("tts failover enabled", "primary", entry.Name, "fallback", entry.Fallback.Name)
	return resilience.NewTTSFactory(
		resilience.NamedTTSFactory{Name: entry.Name, Factory: primary},
		resilience.ChainConfig{},
		resilience.NamedTTSFactory{Name: entry.Fallback.Name, Factory: secondary},
	), nil
}

func buildSTT(reg *config.Registry, entry config.ProviderEntry) (stt.Factory, error) {
	primary, err := reg.BuildSTT(entry)
	if err != nil {
		return nil, err
	}
	if entry.Fallback == nil {
		return primary, nil
	}
	secondary, err := reg.BuildSTT(*entry.Fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback %q: %w", entry.Fallback.Name, err)
	}
	slog.Info("stt failover enabled", "primary", entry.Name, "fallback", entry.Fallback.Name)
	return resilience.NewSTTFactory(
		resilience.NamedSTTFactory{Name: entry.Name, Factory: primary},
		resilience.ChainConfig{},
		resilience.NamedSTTFactory{Name: entry.Fallback.Name, Factory: secondary},
	), nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         TalkMate — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Script", cfg.Providers.Script.Name, cfg.Providers.Script.Model)
	printProvider("Feedback", cfg.Providers.Feedback.Name, cfg.Providers.Feedback.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	fmt.Printf("║  Translation     : %-19s║\n", cfg.Tutor.TargetLanguage)
	if cfg.History.PostgresDSN != "" {
		fmt.Printf("║  History         : %-19s║\n", "postgres")
	} else {
		fmt.Printf("║  History         : %-19s║\n", "(disabled)")
	}
	fmt.Printf("║  Listen addr     : %-19s║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
