package config

import "reflect"

// Diff describes what changed between two configs. The log level can be
// applied without a restart; everything else is reported so the operator can
// be told a restart is needed.
type DiffResult struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ProvidersChanged lists the provider stages whose entries differ
	// ("script", "feedback", "stt", "tts").
	ProvidersChanged []string

	TutorChanged   bool
	HistoryChanged bool
}

// Any reports whether the diff contains any change at all.
func (d DiffResult) Any() bool {
	return d.LogLevelChanged || len(d.ProvidersChanged) > 0 || d.TutorChanged || d.HistoryChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(oldCfg, newCfg *Config) DiffResult {
	d := DiffResult{}

	if oldCfg.Server.LogLevel != newCfg.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = newCfg.Server.LogLevel
	}

	stages := []struct {
		name     string
		old, new ProviderEntry
	}{
		{"script", oldCfg.Providers.Script, newCfg.Providers.Script},
		{"feedback", oldCfg.Providers.Feedback, newCfg.Providers.Feedback},
		{"stt", oldCfg.Providers.STT, newCfg.Providers.STT},
		{"tts", oldCfg.Providers.TTS, newCfg.Providers.TTS},
	}
	for _, s := range stages {
		// Options maps force reflect here; everything else is comparable.
		if !reflect.DeepEqual(s.old, s.new) {
			d.ProvidersChanged = append(d.ProvidersChanged, s.name)
		}
	}

	if oldCfg.Tutor != newCfg.Tutor {
		d.TutorChanged = true
	}
	if oldCfg.History != newCfg.History {
		d.HistoryChanged = true
	}
	return d
}
