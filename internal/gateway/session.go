package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrBloodrune/RealtimeSTT/internal/command"
	"github.com/MrBloodrune/RealtimeSTT/internal/config"
	"github.com/MrBloodrune/RealtimeSTT/internal/coordinator"
	"github.com/MrBloodrune/RealtimeSTT/internal/playback"
	"github.com/MrBloodrune/RealtimeSTT/internal/recording"
	"github.com/MrBloodrune/RealtimeSTT/internal/store"
	"github.com/MrBloodrune/RealtimeSTT/pkg/audio"
	"github.com/MrBloodrune/RealtimeSTT/pkg/audio/sink"
	"github.com/MrBloodrune/RealtimeSTT/pkg/provider/stt"
	"github.com/MrBloodrune/RealtimeSTT/pkg/provider/vad"
	"github.com/MrBloodrune/RealtimeSTT/pkg/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	// outboundBuf bounds the per-connection outbound frame queue. A client
	// that cannot keep up loses audio frames rather than stalling the
	// pipeline.
	outboundBuf = 256

	// writeTimeout bounds a single websocket write.
	writeTimeout = 5 * time.Second

	// vadFrameMs is the analysis frame duration fed to the VAD session.
	// Inbound chunks of any size are re-sliced to this granularity.
	vadFrameMs = 30

	// embedTimeout bounds the embedding call made when archiving an entry.
	embedTimeout = 5 * time.Second
)

// sessionFeatures is advertised in the connected event so clients can adapt
// to the server's capabilities.
var sessionFeatures = []string{
	"vad",
	"partial_transcripts",
	"interruption",
	"spoken_commands",
	"priority_speech",
}

// conn is the slice of *websocket.Conn the session uses, split out so tests
// can drive a session without a network connection.
type conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// outFrame is one queued outbound websocket frame. Audio frames carry the
// epoch current at enqueue time; bumping the epoch invalidates them without
// touching the queue. packet marks audio that is already Opus-encoded.
type outFrame struct {
	binary bool
	packet bool
	epoch  uint64
	data   []byte
}

// Session serves one connected client: it feeds inbound PCM to the STT stream
// and the VAD session, relays conversation events outbound, and streams
// synthesized speech back as binary frames. Create with newSession; run with
// run; release with Close.
type Session struct {
	id     string
	deps   Deps
	conn   conn
	format audio.Format

	coord    *coordinator.Coordinator
	sttSess  stt.SessionHandle
	vadSess  vad.SessionHandle
	matcher  *command.Matcher
	recorder *recording.Recorder

	out   chan outFrame
	epoch atomic.Uint64
	enc   *opusEncoder

	// vadBuf accumulates inbound PCM until a full analysis frame is
	// available. Touched only by the read loop.
	vadBuf     []byte
	vadFrame   int
	lastStable string

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// newSession builds a fully wired session for one connection. The STT stream
// and VAD session are opened immediately; the playback queue and coordinator
// start their workers.
func newSession(ctx context.Context, deps Deps, c conn, remoteAddr string) (*Session, error) {
	cfg := deps.Config
	format := audio.DefaultFormat
	if cfg.Audio.SampleRate > 0 {
		format = audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: 1}
	}

	s := &Session{
		id:       uuid.NewString(),
		deps:     deps,
		conn:     c,
		format:   format,
		matcher:  deps.Matcher,
		out:      make(chan outFrame, outboundBuf),
		vadFrame: format.SliceBytes(vadFrameMs * time.Millisecond),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	sttSess, err := deps.STT.StartStream(ctx, stt.StreamConfig{
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	})
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("gateway: start stt stream: %w", err)
	}
	s.sttSess = sttSess

	vadCfg := deps.VADConfig
	vadCfg.SampleRate = format.SampleRate
	vadCfg.FrameSizeMs = vadFrameMs
	vadSess, err := deps.VAD.NewSession(vadCfg)
	if err != nil {
		_ = sttSess.Close()
		s.cancel()
		return nil, fmt.Errorf("gateway: start vad session: %w", err)
	}
	s.vadSess = vadSess

	if cfg.Audio.WireFormat == config.WireOpus {
		enc, err := newOpusEncoder(format, cfg.Audio.OpusBitrate)
		if err != nil {
			_ = vadSess.Close()
			_ = sttSess.Close()
			s.cancel()
			return nil, fmt.Errorf("gateway: opus encoder: %w", err)
		}
		s.enc = enc
	}

	if cfg.Recording.Enabled {
		rec, err := recording.New(cfg.Recording.Dir, s.id, format, remoteAddr)
		if err != nil {
			slog.Warn("gateway: recording disabled for session", "session", s.id, "error", err)
		} else {
			s.recorder = rec
		}
	}

	s.coord = coordinator.New(deps.Generator, s.newQueue(), s.coordinatorOptions()...)
	if cfg.Assistant.DefaultMode == config.ModeTranscription {
		s.coord.SetMode(coordinator.ModeTranscription)
	}

	if deps.Store != nil {
		if err := deps.Store.CreateSession(ctx, s.id, s.coord.Mode().String()); err != nil {
			slog.Warn("gateway: archive session create failed", "session", s.id, "error", err)
		}
	}

	return s, nil
}

// newQueue builds the session's playback queue: synthesis through the TTS
// provider, output to the client stream plus the optional shared local sink.
func (s *Session) newQueue() *playback.Queue {
	voice := types.VoiceProfile{
		ID:       s.deps.Config.Assistant.Voice.VoiceID,
		Provider: s.deps.Config.Assistant.Voice.Provider,
	}

	synth := func(ctx context.Context, text string) (<-chan []byte, error) {
		start := time.Now()
		ch, err := s.deps.TTS.Synthesize(ctx, text, voice)
		if err != nil {
			return nil, err
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
		}
		return ch, nil
	}

	var out playback.Sink = &streamSink{s: s}
	if s.deps.LocalSink != nil {
		out = sink.NewMulti(out, noClose{s.deps.LocalSink})
	}
	return playback.New(synth, out, playback.WithFormat(s.format))
}

// coordinatorOptions translates the assistant config block into coordinator
// options, leaving package defaults in place for unset fields.
func (s *Session) coordinatorOptions() []coordinator.Option {
	cfg := s.deps.Config.Assistant
	opts := []coordinator.Option{coordinator.WithMetrics(s.deps.Metrics)}
	if cfg.SilenceMs > 0 {
		opts = append(opts, coordinator.WithSilenceThreshold(time.Duration(cfg.SilenceMs)*time.Millisecond))
	}
	if cfg.HistoryWindow > 0 {
		opts = append(opts, coordinator.WithHistoryWindow(cfg.HistoryWindow))
	}
	if cfg.GenerateTimeoutMs > 0 {
		opts = append(opts, coordinator.WithGenerateTimeout(time.Duration(cfg.GenerateTimeoutMs)*time.Millisecond))
	}
	return opts
}

// ID returns the session identifier sent in the connected event.
func (s *Session) ID() string {
	return s.id
}

// run serves the connection until it drops, the parent context is cancelled,
// or Close is called. It always returns after the session is fully torn down.
func (s *Session) run(ctx context.Context) {
	s.send(event{
		Type:      evtConnected,
		SessionID: s.id,
		Mode:      s.coord.Mode().String(),
		Features:  sessionFeatures,
	})

	s.wg.Add(4)
	go s.writeLoop()
	go s.pumpPartials()
	go s.pumpFinals()
	go s.pumpEvents()

	s.readLoop(ctx)
	s.Close()
}

// Close tears the session down: the STT and VAD sessions close, the
// coordinator shuts its playback queue down, the pumps drain, the recording
// is finalized, and the archive session is closed. Idempotent.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		_ = s.sttSess.Close()
		_ = s.vadSess.Close()
		if err := s.coord.Close(); err != nil {
			slog.Warn("gateway: coordinator close", "session", s.id, "error", err)
		}
		s.wg.Wait()
		s.finalize()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
		slog.Info("gateway: session closed", "session", s.id)
	})
}

// finalize writes the session summary and closes the recording and archive
// entries. Best-effort: failures degrade to warnings.
func (s *Session) finalize() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary := s.summarise(ctx)

	if s.recorder != nil {
		if err := s.recorder.Close(summary); err != nil {
			slog.Warn("gateway: close recording", "session", s.id, "error", err)
		}
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.CloseSession(ctx, s.id, summary); err != nil {
			slog.Warn("gateway: archive session close failed", "session", s.id, "error", err)
		}
	}
}

// summarise produces the end-of-session summary from the conversation
// history. Empty when no summariser is configured or nothing was said.
func (s *Session) summarise(ctx context.Context) string {
	if s.deps.Summariser == nil {
		return ""
	}
	turns := s.coord.History().Turns()
	if len(turns) == 0 {
		return ""
	}
	messages := make([]types.Message, 0, len(turns)*2)
	for _, turn := range turns {
		messages = append(messages, types.Message{Role: types.RoleUser, Content: turn.UserText})
		if turn.AssistantText != "" {
			messages = append(messages, types.Message{Role: types.RoleAssistant, Content: turn.AssistantText})
		}
	}
	summary, err := s.deps.Summariser.Summarise(ctx, messages)
	if err != nil {
		slog.Warn("gateway: summarise session", "session", s.id, "error", err)
		return ""
	}
	return summary
}

// ─── Inbound ─────────────────────────────────────────────────────────────────

// readLoop receives frames from the client until the connection drops or the
// session is closed. Binary frames are PCM audio; text frames are JSON
// controls.
func (s *Session) readLoop(ctx context.Context) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		switch typ {
		case websocket.MessageBinary:
			s.handleAudio(data)
		case websocket.MessageText:
			s.handleControl(data)
		}
	}
}

// handleAudio routes one inbound PCM chunk: into the recording buffer, the
// VAD analysis frames, and the STT stream.
func (s *Session) handleAudio(pcm []byte) {
	if s.recorder != nil {
		s.recorder.AddAudio(pcm)
	}

	s.vadBuf = append(s.vadBuf, pcm...)
	for len(s.vadBuf) >= s.vadFrame {
		frame := s.vadBuf[:s.vadFrame]
		s.vadBuf = s.vadBuf[s.vadFrame:]

		ev, err := s.vadSess.ProcessFrame(frame)
		if err != nil {
			slog.Debug("gateway: vad frame", "session", s.id, "error", err)
			continue
		}
		switch ev.Type {
		case types.VADSpeechStart:
			s.coord.OnVoiceActivityStart()
			s.send(event{Type: evtRecordingStart})
		case types.VADSpeechEnd:
			s.coord.OnVoiceActivityStop()
			s.send(event{Type: evtRecordingStop})
		}
	}

	if err := s.sttSess.SendAudio(pcm); err != nil {
		slog.Debug("gateway: stt send", "session", s.id, "error", err)
	}
}

// handleControl executes one JSON control message.
func (s *Session) handleControl(data []byte) {
	var msg control
	if err := json.Unmarshal(data, &msg); err != nil {
		s.send(event{Type: evtError, Message: "malformed control message"})
		return
	}

	switch msg.Type {
	case ctrlPing:
		s.send(event{Type: evtPong})

	case ctrlInterrupt:
		s.coord.Interrupt(playback.ReasonManual)

	case ctrlSpeak:
		if _, err := s.coord.Speak(msg.Text, msg.Priority, msg.Metadata); err != nil {
			s.send(event{Type: evtError, Message: err.Error()})
		}

	case ctrlStopSpeaking:
		s.coord.StopSpeaking()

	case ctrlClearHistory:
		s.coord.ClearHistory()

	case ctrlSetMode:
		mode, ok := coordinator.ParseMode(msg.Mode)
		if !ok {
			s.send(event{Type: evtError, Message: fmt.Sprintf("unknown mode %q", msg.Mode)})
			return
		}
		s.coord.SetMode(mode)

	default:
		s.send(event{Type: evtError, Message: fmt.Sprintf("unknown control %q", msg.Type)})
	}
}

// ─── Transcript pumps ────────────────────────────────────────────────────────

// pumpPartials relays interim transcripts. A partial repeated verbatim is
// judged unlikely to change further and is promoted to a stabilized update
// once.
func (s *Session) pumpPartials() {
	defer s.wg.Done()

	var lastPartial string
	for t := range s.sttSess.Partials() {
		if t.Text == "" {
			continue
		}
		s.send(event{Type: evtPartialTranscript, Text: t.Text})

		if t.Text == lastPartial && t.Text != s.lastStable {
			s.lastStable = t.Text
			s.send(event{Type: evtStabilizedTranscript, Text: t.Text})
		}
		lastPartial = t.Text
	}
}

// pumpFinals feeds final transcripts through the spoken-command filter and
// into the coordinator.
func (s *Session) pumpFinals() {
	defer s.wg.Done()

	for t := range s.sttSess.Finals() {
		if t.Text == "" {
			continue
		}
		if s.matcher != nil {
			if action, confidence, matched := s.matcher.Match(t.Text); matched {
				slog.Info("gateway: spoken command",
					"session", s.id,
					"action", action.String(),
					"confidence", confidence,
					"text", t.Text,
				)
				s.runCommand(action)
				continue
			}
		}
		s.coord.OnFinalTranscript(t.Text)
	}
}

// runCommand applies a matched spoken command to the session.
func (s *Session) runCommand(action command.Action) {
	switch action {
	case command.ActionAssistantMode:
		s.coord.SetMode(coordinator.ModeAssistant)
	case command.ActionTranscriptionMode:
		s.coord.SetMode(coordinator.ModeTranscription)
	case command.ActionClearHistory:
		s.coord.ClearHistory()
	case command.ActionStopSpeaking:
		s.coord.StopSpeaking()
	}
}

// ─── Conversation event pump ─────────────────────────────────────────────────

// pumpEvents translates coordinator events into outbound frames and archive
// writes. The audio_end marker follows assistant_speaking_stop because the
// queue emits its end event only after the final sink write, so all audio
// frames are already queued ahead of it.
func (s *Session) pumpEvents() {
	defer s.wg.Done()

	for ev := range s.coord.Events() {
		switch ev.Type {
		case coordinator.EventUserMessage:
			s.send(event{Type: evtUserMessage, Text: ev.Text})
			if s.recorder != nil {
				if err := s.recorder.AddUtterance(ev.Text); err != nil {
					slog.Warn("gateway: record utterance", "session", s.id, "error", err)
				}
			}
			s.archive(types.RoleUser, ev.Text)

		case coordinator.EventAssistantMessage:
			s.send(event{Type: evtAssistantMessage, Text: ev.Text})
			if s.recorder != nil {
				if err := s.recorder.AddReply(ev.Text); err != nil {
					slog.Warn("gateway: record reply", "session", s.id, "error", err)
				}
			}
			s.archive(types.RoleAssistant, ev.Text)

		case coordinator.EventSpeakingStart:
			s.send(event{Type: evtSpeakingStart})

		case coordinator.EventSpeakingStop:
			s.flushAudio()
			s.send(event{Type: evtSpeakingStop})
			s.send(event{Type: evtAudioEnd})

		case coordinator.EventInterrupted:
			s.send(event{Type: evtSpeechInterrupted, Reason: ev.Reason})

		case coordinator.EventModeChange:
			s.send(event{Type: evtModeChange, Mode: ev.Mode.String()})

		case coordinator.EventError:
			s.send(event{Type: evtError, Message: ev.Err.Error()})
		}
	}
}

// archive writes one conversation entry to the transcript store with a
// best-effort embedding. Runs in the background so a slow database never
// stalls the event pump.
func (s *Session) archive(role, content string) {
	if s.deps.Store == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), embedTimeout+5*time.Second)
		defer cancel()

		entry := store.Entry{SessionID: s.id, Role: role, Content: content}
		if s.deps.Embeddings != nil {
			embedCtx, embedCancel := context.WithTimeout(ctx, embedTimeout)
			vectors, err := s.deps.Embeddings.Embed(embedCtx, []string{content})
			embedCancel()
			if err != nil {
				slog.Warn("gateway: embed entry", "session", s.id, "error", err)
			} else if len(vectors) == 1 {
				entry.Embedding = vectors[0]
			}
		}
		if err := s.deps.Store.WriteEntry(ctx, entry); err != nil {
			slog.Warn("gateway: archive entry", "session", s.id, "error", err)
		}
	}()
}

// ─── Outbound ────────────────────────────────────────────────────────────────

// send queues one JSON event for delivery. Events are dropped with a warning
// when the client cannot keep up.
func (s *Session) send(ev event) {
	s.enqueue(outFrame{data: ev.encode()})
}

// sendAudio queues one synthesized PCM chunk stamped with the current epoch.
func (s *Session) sendAudio(pcm []byte) {
	// Copy: the playback worker reuses its chunk storage after Write returns.
	data := make([]byte, len(pcm))
	copy(data, pcm)
	s.enqueue(outFrame{binary: true, epoch: s.epoch.Load(), data: data})
}

// enqueue adds one frame to the outbound queue without blocking.
func (s *Session) enqueue(f outFrame) {
	select {
	case s.out <- f:
	default:
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordDroppedEvent(s.ctx, "gateway")
		}
		slog.Warn("gateway: outbound queue full, dropping frame",
			"session", s.id,
			"binary", f.binary,
		)
	}
}

// writeLoop owns the connection for writes. Audio frames whose epoch predates
// the latest interrupt are discarded unsent, so a barge-in cuts the audible
// stream with at most one frame of latency.
func (s *Session) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case f := <-s.out:
			if f.binary && f.epoch < s.epoch.Load() {
				continue
			}
			if err := s.writeFrame(f); err != nil {
				slog.Debug("gateway: write failed", "session", s.id, "error", err)
				s.cancel()
				return
			}
		}
	}
}

// writeFrame delivers one frame, encoding audio to Opus when configured.
func (s *Session) writeFrame(f outFrame) error {
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()

	if !f.binary {
		return s.conn.Write(ctx, websocket.MessageText, f.data)
	}

	if s.enc == nil || f.packet {
		return s.conn.Write(ctx, websocket.MessageBinary, f.data)
	}
	packets, err := s.enc.encode(f.data)
	if err != nil {
		return err
	}
	for _, pkt := range packets {
		if err := s.conn.Write(ctx, websocket.MessageBinary, pkt); err != nil {
			return err
		}
	}
	return nil
}

// flushAudio pushes out the Opus encoder remainder at the end of an
// utterance so the client hears the utterance's last partial frame.
func (s *Session) flushAudio() {
	if s.enc == nil {
		return
	}
	pkt, err := s.enc.flush()
	if err != nil || pkt == nil {
		return
	}
	s.enqueue(outFrame{binary: true, packet: true, epoch: s.epoch.Load(), data: pkt})
}

// ─── Sinks ───────────────────────────────────────────────────────────────────

// streamSink adapts the session's outbound stream to the playback queue's
// sink contract. Reset bumps the epoch so audio queued before an interrupt is
// dropped unsent.
type streamSink struct {
	s *Session
}

var _ playback.Sink = (*streamSink)(nil)

func (ws *streamSink) Write(p []byte) error {
	ws.s.sendAudio(p)
	return nil
}

func (ws *streamSink) Reset() {
	ws.s.epoch.Add(1)
	if ws.s.enc != nil {
		ws.s.enc.reset()
	}
}

func (ws *streamSink) Close() error { return nil }

// noClose shields a sink shared across sessions from per-session shutdown.
type noClose struct {
	sink.Sink
}

func (noClose) Close() error { return nil }
