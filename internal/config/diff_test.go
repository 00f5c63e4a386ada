package config_test

import (
	"testing"

	"github.com/MrBloodrune/RealtimeSTT/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Assistant: config.AssistantConfig{
			SystemPrompt: "Be brief.",
			MaxTokens:    150,
			SilenceMs:    800,
		},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.AssistantChanged {
		t.Error("expected AssistantChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.AssistantChanged {
		t.Error("expected AssistantChanged=false")
	}
}

func TestDiff_SystemPromptChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Assistant: config.AssistantConfig{SystemPrompt: "Be formal."}}
	new := &config.Config{Assistant: config.AssistantConfig{SystemPrompt: "Be casual."}}

	d := config.Diff(old, new)
	if !d.AssistantChanged {
		t.Error("expected AssistantChanged=true")
	}
	if !d.Assistant.SystemPromptChanged {
		t.Error("expected SystemPromptChanged=true")
	}
	if d.Assistant.SamplingChanged {
		t.Error("expected SamplingChanged=false")
	}
}

func TestDiff_SamplingChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Assistant: config.AssistantConfig{MaxTokens: 150, Temperature: 0.7}}
	new := &config.Config{Assistant: config.AssistantConfig{MaxTokens: 300, Temperature: 0.7}}

	d := config.Diff(old, new)
	if !d.Assistant.SamplingChanged {
		t.Error("expected SamplingChanged=true for max_tokens change")
	}

	new2 := &config.Config{Assistant: config.AssistantConfig{MaxTokens: 150, Temperature: 0.3}}
	d = config.Diff(old, new2)
	if !d.Assistant.SamplingChanged {
		t.Error("expected SamplingChanged=true for temperature change")
	}
}

func TestDiff_TurnTakingChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Assistant: config.AssistantConfig{SilenceMs: 800}}
	new := &config.Config{Assistant: config.AssistantConfig{SilenceMs: 1200}}

	d := config.Diff(old, new)
	if !d.AssistantChanged {
		t.Error("expected AssistantChanged=true")
	}
	if !d.Assistant.TurnTakingChanged {
		t.Error("expected TurnTakingChanged=true")
	}
}

func TestDiff_VoiceChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Assistant: config.AssistantConfig{
		Voice: config.VoiceConfig{Provider: "elevenlabs", VoiceID: "rachel-v2"},
	}}
	new := &config.Config{Assistant: config.AssistantConfig{
		Voice: config.VoiceConfig{Provider: "elevenlabs", VoiceID: "adam-v1"},
	}}

	d := config.Diff(old, new)
	if !d.Assistant.VoiceChanged {
		t.Error("expected VoiceChanged=true")
	}
}

func TestDiff_DefaultModeChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Assistant: config.AssistantConfig{DefaultMode: config.ModeAssistant}}
	new := &config.Config{Assistant: config.AssistantConfig{DefaultMode: config.ModeTranscription}}

	d := config.Diff(old, new)
	if !d.Assistant.DefaultModeChanged {
		t.Error("expected DefaultModeChanged=true")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Assistant: config.AssistantConfig{HistoryWindow: 10, SilenceMs: 800},
	}
	new := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogWarn},
		Assistant: config.AssistantConfig{HistoryWindow: 20, SilenceMs: 600},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.Assistant.HistoryWindowChanged {
		t.Error("expected HistoryWindowChanged=true")
	}
	if !d.Assistant.TurnTakingChanged {
		t.Error("expected TurnTakingChanged=true")
	}
}
