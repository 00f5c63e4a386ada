// Package coordinator orchestrates one voice conversation: it turns final
// user transcripts into generated replies, schedules the replies for
// interruptible speech playback, and tracks whose turn it is to talk.
//
// Each [Coordinator] owns its [TurnTracker], [History], and playback queue
// for exactly one session. Conversation progress is broadcast on a bounded
// event channel read by a single consumer, typically the session's gateway
// connection.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrBloodrune/RealtimeSTT/internal/observe"
	"github.com/MrBloodrune/RealtimeSTT/internal/playback"
	"github.com/MrBloodrune/RealtimeSTT/pkg/types"
)

// Defaults for conversation pacing and generation.
const (
	DefaultSilenceThreshold = 800 * time.Millisecond
	DefaultHistoryWindow    = 10
	DefaultSpeechPriority   = 1
	DefaultGenerateTimeout  = 30 * time.Second

	// Response hold: a ready reply waits for the user's silence before it
	// is enqueued, polled at holdPoll, bounded by holdMax.
	holdPoll = 50 * time.Millisecond
	holdMax  = 3 * time.Second

	defaultEventBuf = 64
)

// Generator produces an assistant reply from the conversation window.
type Generator interface {
	Generate(ctx context.Context, messages []types.Message) (string, error)
}

// GeneratorFunc adapts a function to the [Generator] interface.
type GeneratorFunc func(ctx context.Context, messages []types.Message) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, messages []types.Message) (string, error) {
	return f(ctx, messages)
}

// speechQueue is the slice of the playback queue the coordinator drives.
type speechQueue interface {
	Enqueue(playback.SpeechTask) (string, error)
	Interrupt(playback.InterruptReason)
	ClearPending()
	Events() <-chan playback.Event
	Shutdown() error
}

// Option configures a [Coordinator] during construction.
type Option func(*Coordinator)

// WithSilenceThreshold sets the base silence duration the assistant waits
// for before speaking. Scaled by the tracker's pace.
func WithSilenceThreshold(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.silenceBase = d
		}
	}
}

// WithHistoryWindow sets how many recent turns are sent to the generator.
func WithHistoryWindow(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.historyWindow = n
		}
	}
}

// WithSpeechPriority sets the playback priority of generated replies.
func WithSpeechPriority(p int) Option {
	return func(c *Coordinator) {
		if p >= 0 {
			c.speechPriority = p
		}
	}
}

// WithGenerateTimeout bounds a single generation call.
func WithGenerateTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.genTimeout = d
		}
	}
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.eventBuf = n
		}
	}
}

// WithMetrics attaches metric instruments. When nil, nothing is recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// Coordinator drives one conversation. Create with [New], release with
// [Coordinator.Close].
type Coordinator struct {
	gen     Generator
	queue   speechQueue
	turns   *TurnTracker
	history *History
	metrics *observe.Metrics

	silenceBase    time.Duration
	historyWindow  int
	speechPriority int
	genTimeout     time.Duration
	eventBuf       int

	mu        sync.Mutex
	mode      Mode
	lastFinal string
	genBusy   bool
	backlog   []string
	closed    bool

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a coordinator that answers transcripts with gen and speaks
// through queue. The coordinator takes ownership of queue and shuts it down
// on Close.
func New(gen Generator, queue speechQueue, opts ...Option) *Coordinator {
	c := &Coordinator{
		gen:            gen,
		queue:          queue,
		history:        NewHistory(),
		silenceBase:    DefaultSilenceThreshold,
		historyWindow:  DefaultHistoryWindow,
		speechPriority: DefaultSpeechPriority,
		genTimeout:     DefaultGenerateTimeout,
		eventBuf:       defaultEventBuf,
		mode:           ModeAssistant,
	}
	for _, o := range opts {
		o(c)
	}
	c.turns = NewTurnTracker(queue)
	c.events = make(chan Event, c.eventBuf)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(1)
	go c.pumpQueueEvents()

	return c
}

// Events returns the conversation event channel. It is closed by
// [Coordinator.Close]. Intended for a single consumer; when the consumer
// falls behind, events are dropped.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// History returns the coordinator's conversation history.
func (c *Coordinator) History() *History {
	return c.history
}

// Mode returns the current session mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the session mode and broadcasts a mode_change event when
// it actually changes.
func (c *Coordinator) SetMode(m Mode) {
	c.mu.Lock()
	if c.mode == m {
		c.mu.Unlock()
		return
	}
	c.mode = m
	c.mu.Unlock()

	c.emit(Event{Type: EventModeChange, Mode: m})
}

// OnVoiceActivityStart forwards the start of user speech to the turn
// tracker, which interrupts any assistant playback.
func (c *Coordinator) OnVoiceActivityStart() {
	c.turns.OnVoiceActivityStart()
}

// OnVoiceActivityStop forwards the end of user speech to the turn tracker.
func (c *Coordinator) OnVoiceActivityStop() {
	c.turns.OnVoiceActivityStop()
}

// Tracker returns the coordinator's turn tracker.
func (c *Coordinator) Tracker() *TurnTracker {
	return c.turns
}

// OnFinalTranscript feeds one final user transcript into the conversation.
//
// Empty transcripts and exact duplicates of the immediately preceding final
// transcript are dropped. In transcription mode nothing is recorded or
// generated. Otherwise the transcript is appended to history, a user_message
// event is emitted, and a reply is generated asynchronously from a bounded
// window of recent turns. At most one generation runs at a time; transcripts
// arriving during one are processed in arrival order afterwards.
func (c *Coordinator) OnFinalTranscript(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.mu.Lock()
	if c.closed || c.mode == ModeTranscription {
		c.mu.Unlock()
		return
	}
	if text == c.lastFinal {
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.RecordDuplicateTranscript(c.ctx)
		}
		slog.Debug("coordinator: duplicate final transcript dropped", "text", text)
		return
	}
	c.lastFinal = text
	mode := c.mode
	if c.genBusy {
		c.backlog = append(c.backlog, text)
		c.mu.Unlock()
		return
	}
	c.genBusy = true
	c.wg.Add(1)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordFinalTranscript(c.ctx, mode.String())
	}
	c.startTurn(text)
}

// startTurn records the user turn and launches its generation. Callers must
// have claimed the generation slot and incremented wg for it under mu, so
// that Close never races the add.
func (c *Coordinator) startTurn(text string) {
	id := c.history.Append(text)
	c.emit(Event{Type: EventUserMessage, Text: text})
	window := c.history.Window(c.historyWindow)

	go c.generate(id, text, window)
}

// generate produces and schedules the reply for one user turn, then hands
// the generation slot to the next backlogged transcript if any.
func (c *Coordinator) generate(turnID, userText string, window []types.Message) {
	defer c.wg.Done()

	start := time.Now()
	ctx, cancel := context.WithTimeout(c.ctx, c.genTimeout)
	reply, err := c.gen.Generate(ctx, window)
	cancel()
	latency := time.Since(start)

	if err != nil {
		c.emit(Event{Type: EventError, Err: fmt.Errorf("coordinator: generate: %w", err)})
		slog.Error("coordinator: generation failed", "error", err, "latency", latency)
		c.finishGeneration()
		return
	}

	c.history.Complete(turnID, userText, reply)
	c.turns.RecordResponseLatency(latency)
	if c.metrics != nil {
		c.metrics.GenerationDuration.Record(c.ctx, latency.Seconds())
	}
	c.emit(Event{Type: EventAssistantMessage, Text: reply, Latency: latency})

	c.holdUntilTurn()

	if _, err := c.queue.Enqueue(playback.SpeechTask{
		Text:     reply,
		Priority: c.speechPriority,
		Metadata: map[string]string{"turn_id": turnID},
	}); err != nil {
		c.emit(Event{Type: EventError, Err: fmt.Errorf("coordinator: enqueue reply: %w", err)})
	} else if c.metrics != nil {
		c.metrics.RecordSpeechTask(c.ctx, "assistant")
		c.metrics.ResponseDuration.Record(c.ctx, time.Since(start).Seconds())
	}

	c.finishGeneration()
}

// holdUntilTurn blocks until the turn tracker allows the assistant to speak,
// bounded by holdMax so a reply is never delayed indefinitely.
func (c *Coordinator) holdUntilTurn() {
	deadline := time.Now().Add(holdMax)
	for time.Now().Before(deadline) {
		if c.turns.ShouldRespond(c.silenceBase) {
			return
		}
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(holdPoll):
		}
	}
}

// finishGeneration releases the generation slot or starts the next
// backlogged transcript.
func (c *Coordinator) finishGeneration() {
	c.mu.Lock()
	if len(c.backlog) > 0 && !c.closed {
		next := c.backlog[0]
		c.backlog = c.backlog[1:]
		c.wg.Add(1)
		c.mu.Unlock()
		c.startTurn(next)
		return
	}
	c.genBusy = false
	c.mu.Unlock()
}

// Speak enqueues text for playback outside the generation flow, for client
// speak controls.
func (c *Coordinator) Speak(text string, priority int, metadata map[string]string) (string, error) {
	id, err := c.queue.Enqueue(playback.SpeechTask{
		Text:     text,
		Priority: priority,
		Metadata: metadata,
	})
	if err != nil {
		return "", err
	}
	if c.metrics != nil {
		c.metrics.RecordSpeechTask(c.ctx, "control")
	}
	return id, nil
}

// Interrupt stops the current assistant utterance for the given reason.
func (c *Coordinator) Interrupt(reason playback.InterruptReason) {
	c.queue.Interrupt(reason)
}

// StopSpeaking stops the current utterance and drops everything queued
// behind it.
func (c *Coordinator) StopSpeaking() {
	c.queue.Interrupt(playback.ReasonManual)
	c.queue.ClearPending()
}

// ClearHistory empties the conversation history. A generation already in
// flight completes normally and its turn is appended afterward.
func (c *Coordinator) ClearHistory() {
	c.history.Clear()
}

// Close shuts the coordinator down: the playback queue is shut down, the
// event pump and any in-flight generation finish, and the event channel is
// closed. Idempotent.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	err := c.queue.Shutdown()
	c.wg.Wait()
	close(c.events)
	return err
}

// pumpQueueEvents translates playback lifecycle events into conversation
// events. An interruption still closes the speaking start/stop pair so
// consumers can rely on the pairing.
func (c *Coordinator) pumpQueueEvents() {
	defer c.wg.Done()

	for ev := range c.queue.Events() {
		switch ev.Type {
		case playback.EventSpeechStart:
			c.emit(Event{Type: EventSpeakingStart})
		case playback.EventSpeechEnd:
			c.emit(Event{Type: EventSpeakingStop})
		case playback.EventSpeechInterrupted:
			if c.metrics != nil {
				c.metrics.RecordInterruption(c.ctx, ev.Reason.String())
			}
			c.emit(Event{Type: EventInterrupted, Reason: ev.Reason.String()})
			c.emit(Event{Type: EventSpeakingStop})
		case playback.EventSynthesisFailed:
			c.emit(Event{Type: EventError, Err: fmt.Errorf("coordinator: synthesis: %w", ev.Err)})
		case playback.EventPlaybackFailed:
			c.emit(Event{Type: EventError, Err: fmt.Errorf("coordinator: playback: %w", ev.Err)})
		}
	}
}

// emit delivers ev without blocking. Events are dropped once the consumer
// falls behind or the coordinator is closed.
func (c *Coordinator) emit(ev Event) {
	ev.At = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		if c.metrics != nil {
			c.metrics.RecordDroppedEvent(c.ctx, "coordinator")
		}
		slog.Warn("coordinator: event channel full, dropping event", "type", ev.Type.String())
	}
}
