package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// network changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AssistantChanged is true if any assistant setting changed.
	// New sessions pick up the new values; live sessions keep their own.
	AssistantChanged bool
	Assistant        AssistantDiff
}

// AssistantDiff pinpoints which assistant settings changed.
type AssistantDiff struct {
	SystemPromptChanged bool

	// SamplingChanged covers max_tokens and temperature.
	SamplingChanged bool

	HistoryWindowChanged bool

	// TurnTakingChanged covers silence_ms.
	TurnTakingChanged bool

	VoiceChanged bool

	DefaultModeChanged bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Assistant block
	ad := diffAssistant(&old.Assistant, &new.Assistant)
	if ad != (AssistantDiff{}) {
		d.AssistantChanged = true
		d.Assistant = ad
	}

	return d
}

// diffAssistant compares two assistant configs field by field.
func diffAssistant(old, new *AssistantConfig) AssistantDiff {
	ad := AssistantDiff{}

	if old.SystemPrompt != new.SystemPrompt {
		ad.SystemPromptChanged = true
	}
	if old.MaxTokens != new.MaxTokens || old.Temperature != new.Temperature {
		ad.SamplingChanged = true
	}
	if old.HistoryWindow != new.HistoryWindow {
		ad.HistoryWindowChanged = true
	}
	if old.SilenceMs != new.SilenceMs {
		ad.TurnTakingChanged = true
	}
	if old.Voice != new.Voice {
		ad.VoiceChanged = true
	}
	if old.DefaultMode != new.DefaultMode {
		ad.DefaultModeChanged = true
	}

	return ad
}
