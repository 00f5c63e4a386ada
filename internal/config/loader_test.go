package config_test

import (
	"strings"
	"testing"

	"github.com/MrBloodrune/RealtimeSTT/internal/config"
)

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
assistant:
  max_tokens: -10
  default_mode: dictation
audio:
  wire_format: mp3
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "max_tokens") {
		t.Errorf("error should mention max_tokens, got: %v", err)
	}
	if !strings.Contains(errStr, "default_mode") {
		t.Errorf("error should mention default_mode, got: %v", err)
	}
	if !strings.Contains(errStr, "wire_format") {
		t.Errorf("error should mention wire_format, got: %v", err)
	}
}

func TestValidate_FallbackRequiresName(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: anthropic
  llm_fallbacks:
    - model: gpt-4o-mini
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for fallback entry without name, got nil")
	}
	if !strings.Contains(err.Error(), "llm_fallbacks[0]") {
		t.Errorf("error should mention llm_fallbacks[0], got: %v", err)
	}
}

func TestLoadFromReader_ExpandsEnvRefs(t *testing.T) {
	t.Setenv("TEST_VOICE_API_KEY", "sk-from-env")
	yaml := `
providers:
  llm:
    name: openai
    api_key: ${TEST_VOICE_API_KEY}
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-from-env" {
		t.Errorf("api_key: got %q, want %q", cfg.Providers.LLM.APIKey, "sk-from-env")
	}
}

func TestLoadFromReader_UnsetEnvRefExpandsEmpty(t *testing.T) {
	yaml := `
providers:
  llm:
    name: openai
    api_key: ${DEFINITELY_NOT_SET_ANYWHERE_42}
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "" {
		t.Errorf("api_key: got %q, want empty", cfg.Providers.LLM.APIKey)
	}
}

func TestLoadFromReader_BareDollarSurvives(t *testing.T) {
	t.Parallel()
	yaml := `
assistant:
  system_prompt: "Prices are given in $USD."
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Assistant.SystemPrompt != "Prices are given in $USD." {
		t.Errorf("system_prompt: got %q", cfg.Assistant.SystemPrompt)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	// Check that "openai" is in the LLM list.
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
	vadNames := config.ValidProviderNames["vad"]
	if len(vadNames) == 0 || vadNames[0] != "energy" {
		t.Errorf("ValidProviderNames[\"vad\"] should contain \"energy\", got %v", vadNames)
	}
}
