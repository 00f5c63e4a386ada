// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// The API returns 24 kHz mono s16le when asked for raw PCM, so chunks are
// resampled down to the configured pipeline rate before they are emitted.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrBloodrune/RealtimeSTT/pkg/audio"
	"github.com/MrBloodrune/RealtimeSTT/pkg/provider/tts"
	"github.com/MrBloodrune/RealtimeSTT/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"

	// speechSampleRate is the fixed rate of the OpenAI pcm response format.
	speechSampleRate = 24000

	// readChunkBytes is 100ms of 24 kHz mono s16le.
	readChunkBytes = 4800
)

// knownVoices are the voice names the speech API accepts.
var knownVoices = []string{
	"alloy", "ash", "ballad", "coral", "echo",
	"fable", "nova", "onyx", "sage", "shimmer",
}

// Provider implements tts.Provider using the OpenAI speech API.
type Provider struct {
	client     oai.Client
	model      string
	sampleRate int
	speed      float64
}

// config holds optional configuration for the provider.
type config struct {
	model      string
	baseURL    string
	sampleRate int
	speed      float64
	timeout    time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the speech model (e.g., "gpt-4o-mini-tts", "tts-1").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithSampleRate sets the output sample rate audio is resampled to.
func WithSampleRate(rate int) Option {
	return func(c *config) {
		c.sampleRate = rate
	}
}

// WithSpeed sets the speaking speed (0.25 to 4.0, 1.0 is normal).
func WithSpeed(speed float64) Option {
	return func(c *config) {
		c.speed = speed
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{
		model:      defaultModel,
		sampleRate: audio.DefaultFormat.SampleRate,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      cfg.model,
		sampleRate: cfg.sampleRate,
		speed:      cfg.speed,
	}, nil
}

// Synthesize renders text via the speech endpoint and streams resampled PCM
// chunks on the returned channel. voice.ID selects the OpenAI voice name; an
// empty ID falls back to "alloy".
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error) {
	if text == "" {
		return nil, fmt.Errorf("openai: text must not be empty")
	}
	voiceName := voice.ID
	if voiceName == "" {
		voiceName = defaultVoice
	}

	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voiceName),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if p.speed > 0 {
		params.Speed = param.NewOpt(p.speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: speech request: %w", err)
	}

	audioCh := make(chan []byte, 256)

	go func() {
		defer close(audioCh)
		defer resp.Body.Close()

		var carry byte
		hasCarry := false
		buf := make([]byte, readChunkBytes)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, 0, n+1)
				if hasCarry {
					chunk = append(chunk, carry)
					hasCarry = false
				}
				chunk = append(chunk, buf[:n]...)
				// Keep sample alignment across reads.
				if len(chunk)%2 != 0 {
					carry = chunk[len(chunk)-1]
					hasCarry = true
					chunk = chunk[:len(chunk)-1]
				}
				if len(chunk) > 0 {
					out := audio.Resample(chunk, speechSampleRate, p.sampleRate)
					select {
					case audioCh <- out:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return audioCh, nil
}

// ListVoices returns the fixed set of voices the speech API supports. The
// endpoint has no discovery call, so the list is compiled in.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	profiles := make([]types.VoiceProfile, 0, len(knownVoices))
	for _, name := range knownVoices {
		profiles = append(profiles, types.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "openai",
		})
	}
	return profiles, nil
}
