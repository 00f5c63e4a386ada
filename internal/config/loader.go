package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"deepgram", "whisper"},
	"tts":        {"elevenlabs", "openai"},
	"embeddings": {"openai", "ollama"},
	"vad":        {"energy"},
}

// envRef matches ${NAME} environment references. Bare $NAME is left alone so
// literal dollar signs in YAML values survive.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, expands ${ENV} references,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	data = expandEnvRefs(data)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnvRefs substitutes ${NAME} references with the value of the named
// environment variable. Unset variables expand to the empty string with a
// warning, so a missing optional key degrades instead of breaking the parse.
func expandEnvRefs(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(envRef.FindSubmatch(m)[1])
		v, ok := os.LookupEnv(name)
		if !ok {
			slog.Warn("config: referenced environment variable is not set", "name", name)
			return nil
		}
		return []byte(v)
	})
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}

	// Provider availability warnings
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; sessions will only accept typed input")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; assistant mode cannot generate responses")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; assistant responses will be text-only")
	}

	// Embeddings ↔ memory dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}

	// Assistant
	a := cfg.Assistant
	if a.DefaultMode != "" && !a.DefaultMode.IsValid() {
		errs = append(errs, fmt.Errorf("assistant.default_mode %q is invalid; valid values: assistant, transcription", a.DefaultMode))
	}
	if a.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_tokens %d must not be negative", a.MaxTokens))
	}
	if a.Temperature != 0 && (a.Temperature < 0 || a.Temperature > 2.0) {
		errs = append(errs, fmt.Errorf("assistant.temperature %.2f is out of range [0.0, 2.0]", a.Temperature))
	}
	if a.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("assistant.history_window %d must not be negative", a.HistoryWindow))
	}
	if a.SilenceMs < 0 {
		errs = append(errs, fmt.Errorf("assistant.silence_ms %d must not be negative", a.SilenceMs))
	}
	if a.GenerateTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("assistant.generate_timeout_ms %d must not be negative", a.GenerateTimeoutMs))
	}
	if a.Voice.SpeedFactor != 0 {
		if a.Voice.SpeedFactor < 0.5 || a.Voice.SpeedFactor > 2.0 {
			errs = append(errs, fmt.Errorf("assistant.voice.speed_factor %.2f is out of range [0.5, 2.0]", a.Voice.SpeedFactor))
		}
	}
	if a.Voice.Provider != "" && cfg.Providers.TTS.Name != "" && a.Voice.Provider != cfg.Providers.TTS.Name {
		slog.Warn("assistant voice provider does not match configured TTS provider",
			"voice_provider", a.Voice.Provider,
			"tts_provider", cfg.Providers.TTS.Name,
		)
	}

	// Audio
	au := cfg.Audio
	if au.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", au.SampleRate))
	} else if au.SampleRate != 0 && au.SampleRate != 16000 {
		slog.Warn("audio.sample_rate is not 16000; STT providers expect 16kHz input", "sample_rate", au.SampleRate)
	}
	if au.WireFormat != "" && !au.WireFormat.IsValid() {
		errs = append(errs, fmt.Errorf("audio.wire_format %q is invalid; valid values: pcm, opus", au.WireFormat))
	}
	if au.OpusBitrate < 0 {
		errs = append(errs, fmt.Errorf("audio.opus_bitrate %d must not be negative", au.OpusBitrate))
	}
	switch au.LocalSink {
	case "", "oto", "null":
	default:
		errs = append(errs, fmt.Errorf("audio.local_sink %q is invalid; valid values: oto, null", au.LocalSink))
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
