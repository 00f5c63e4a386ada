// Package app wires all subsystems into a running voice assistant server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in reverse-init order.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithLocalSink, WithListener). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/MrBloodrune/RealtimeSTT/internal/command"
	"github.com/MrBloodrune/RealtimeSTT/internal/config"
	"github.com/MrBloodrune/RealtimeSTT/internal/coordinator"
	"github.com/MrBloodrune/RealtimeSTT/internal/gateway"
	"github.com/MrBloodrune/RealtimeSTT/internal/health"
	"github.com/MrBloodrune/RealtimeSTT/internal/observe"
	"github.com/MrBloodrune/RealtimeSTT/internal/recording"
	"github.com/MrBloodrune/RealtimeSTT/internal/store"
	"github.com/MrBloodrune/RealtimeSTT/pkg/audio"
	"github.com/MrBloodrune/RealtimeSTT/pkg/audio/sink"
	"github.com/MrBloodrune/RealtimeSTT/pkg/provider/embeddings"
	"github.com/MrBloodrune/RealtimeSTT/pkg/provider/llm"
	"github.com/MrBloodrune/RealtimeSTT/pkg/provider/stt"
	"github.com/MrBloodrune/RealtimeSTT/pkg/provider/tts"
	"github.com/MrBloodrune/RealtimeSTT/pkg/provider/vad"
	"github.com/MrBloodrune/RealtimeSTT/pkg/types"
)

// defaultListenAddr is used when server.listen_addr is not configured.
const defaultListenAddr = ":9999"

// defaultSystemPrompt is the assistant persona when assistant.system_prompt
// is not configured. Tuned for spoken output.
const defaultSystemPrompt = "You are a helpful personal assistant. " +
	"Keep responses concise and natural for speech. Be friendly and conversational."

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
	VAD        vad.Engine
}

// App owns all subsystem lifetimes and serves the voice assistant gateway.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	metrics   *observe.Metrics
	archive   *store.Store
	localSink sink.Sink
	gateway   *gateway.Server
	server    *http.Server
	listener  net.Listener

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects metrics instruments instead of initialising the OTel
// SDK from config.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLocalSink injects a server-side playback sink instead of creating one
// from audio.local_sink.
func WithLocalSink(s sink.Sink) Option {
	return func(a *App) { a.localSink = s }
}

// WithListener serves on the given listener instead of binding
// server.listen_addr. The App takes ownership and closes it.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry); STT, VAD, TTS, and
// LLM are required.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.checkProviders(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Transcript archive ────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 3. Local playback sink ───────────────────────────────────────────
	if err := a.initLocalSink(); err != nil {
		return nil, fmt.Errorf("app: init local sink: %w", err)
	}

	// ── 4. Gateway + HTTP server ─────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// checkProviders verifies the slots the pipeline cannot run without.
func (a *App) checkProviders() error {
	var missing []string
	if a.providers.STT == nil {
		missing = append(missing, "stt")
	}
	if a.providers.VAD == nil {
		missing = append(missing, "vad")
	}
	if a.providers.TTS == nil {
		missing = append(missing, "tts")
	}
	if a.providers.LLM == nil {
		missing = append(missing, "llm")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required providers not configured: %s", strings.Join(missing, ", "))
	}
	return nil
}

// initTelemetry sets up the OTel SDK and the pipeline instruments unless
// metrics were injected.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "realtimestt",
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initArchive connects the PostgreSQL transcript archive when a DSN is
// configured.
func (a *App) initArchive(ctx context.Context) error {
	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		return nil
	}

	dims := a.cfg.Memory.EmbeddingDimensions
	if dims == 0 {
		dims = 1536 // matches OpenAI text-embedding-3-small
	}

	st, err := store.New(ctx, dsn, dims)
	if err != nil {
		return err
	}
	a.archive = st
	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	slog.Info("transcript archive connected", "dimensions", dims)
	return nil
}

// initLocalSink creates the server-side playback sink named in config unless
// one was injected.
func (a *App) initLocalSink() error {
	if a.localSink != nil {
		return nil
	}

	switch a.cfg.Audio.LocalSink {
	case "":
		return nil
	case "null":
		a.localSink = sink.Null{}
		return nil
	case "oto":
		dev, err := sink.NewDevice(a.pipelineFormat())
		if err != nil {
			return err
		}
		a.localSink = dev
		a.closers = append(a.closers, dev.Close)
		return nil
	default:
		return fmt.Errorf("unknown local sink %q", a.cfg.Audio.LocalSink)
	}
}

// initServer builds the gateway and mounts it with health and metrics
// endpoints on one HTTP server.
func (a *App) initServer() {
	var summariser recording.Summariser
	if a.cfg.Recording.Enabled {
		summariser = recording.NewLLMSummariser(a.providers.LLM)
	}

	a.gateway = gateway.New(gateway.Deps{
		Config:     a.cfg,
		STT:        a.providers.STT,
		VAD:        a.providers.VAD,
		VADConfig:  a.vadSessionConfig(),
		TTS:        a.providers.TTS,
		Generator:  a.newGenerator(),
		Matcher:    command.New(),
		Embeddings: a.providers.Embeddings,
		Store:      a.archive,
		Summariser: summariser,
		Metrics:    a.metrics,
		LocalSink:  a.localSink,
	})
	a.closers = append(a.closers, a.gateway.Close)

	mux := http.NewServeMux()
	mux.Handle("/ws", a.gateway)
	mux.Handle("/metrics", promhttp.Handler())
	health.New(a.healthCheckers()...).Register(mux)

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	a.server = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newGenerator adapts the configured LLM to the coordinator, applying the
// assistant persona and sampling settings.
func (a *App) newGenerator() coordinator.Generator {
	cfg := a.cfg.Assistant
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	provider := a.providers.LLM

	return coordinator.GeneratorFunc(func(ctx context.Context, messages []types.Message) (string, error) {
		resp, err := provider.Complete(ctx, llm.CompletionRequest{
			Messages:     messages,
			SystemPrompt: prompt,
			Temperature:  cfg.Temperature,
			MaxTokens:    cfg.MaxTokens,
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	})
}

// healthCheckers lists readiness probes for the configured dependencies.
func (a *App) healthCheckers() []health.Checker {
	var checkers []health.Checker
	if a.archive != nil {
		checkers = append(checkers, health.Checker{
			Name:  "store",
			Check: a.archive.Ping,
		})
	}
	return checkers
}

// vadSessionConfig carries detection thresholds from the VAD provider entry
// into per-session detector configs. Zero values use the engine defaults;
// sample rate and frame size are set per session by the gateway.
func (a *App) vadSessionConfig() vad.Config {
	opts := a.cfg.Providers.VAD.Options
	return vad.Config{
		SpeechThreshold:  optFloat(opts, "speech_threshold"),
		SilenceThreshold: optFloat(opts, "silence_threshold"),
	}
}

// optFloat extracts a numeric value from a provider Options map. YAML decodes
// whole numbers as int and fractions as float64.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}

// pipelineFormat returns the PCM format shared by the whole pipeline.
func (a *App) pipelineFormat() audio.Format {
	f := audio.DefaultFormat
	if a.cfg.Audio.SampleRate > 0 {
		f.SampleRate = a.cfg.Audio.SampleRate
	}
	return f
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the server fails. When ctx is
// done, Run returns ctx.Err(); call Shutdown to stop the server.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
		a.listener = ln
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Addr reports the bound listen address. Empty until Run has started or a
// listener was injected.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, tears down live sessions, and closes all
// subsystems in reverse-init order. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop accepting connections first; live websockets are torn down
		// by the gateway closer below.
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
