package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"script":   {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"feedback": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":      {"gemini-live", "deepgram"},
	"tts":      {"gemini", "elevenlabs", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in defaults for fields left empty in the file.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Tutor.TargetLanguage == "" {
		cfg.Tutor.TargetLanguage = "Vietnamese"
	}
	if cfg.Tutor.CredentialFile == "" {
		cfg.Tutor.CredentialFile = "credentials.json"
	}
	if cfg.Providers.Feedback.Name == "" {
		cfg.Providers.Feedback = cfg.Providers.Script
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// A tutor without a script generator, a voice or an ear cannot run a
	// conversation.
	if cfg.Providers.Script.Name == "" {
		errs = append(errs, errors.New("providers.script.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}

	validateProviderName("script", cfg.Providers.Script.Name)
	validateProviderName("feedback", cfg.Providers.Feedback.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	for kind, entry := range map[string]ProviderEntry{
		"script":   cfg.Providers.Script,
		"feedback": cfg.Providers.Feedback,
		"stt":      cfg.Providers.STT,
		"tts":      cfg.Providers.TTS,
	} {
		if entry.Fallback == nil {
			continue
		}
		if entry.Fallback.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallback.name is required when a fallback is configured", kind))
			continue
		}
		validateProviderName(kind, entry.Fallback.Name)
		if entry.Fallback.Fallback != nil {
			slog.Warn("nested provider fallbacks are ignored; only one level is honoured", "kind", kind)
		}
	}

	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; finished sessions will not be archived")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
