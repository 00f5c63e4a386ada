package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrBloodrune/RealtimeSTT/internal/playback"
	"github.com/MrBloodrune/RealtimeSTT/pkg/types"
)

// fakeQueue records speech tasks and interrupts, and lets tests feed
// playback lifecycle events into the coordinator's pump.
type fakeQueue struct {
	mu         sync.Mutex
	tasks      []playback.SpeechTask
	interrupts []playback.InterruptReason
	cleared    int
	enqueueErr error

	events   chan playback.Event
	shutdown sync.Once
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{events: make(chan playback.Event, 16)}
}

func (q *fakeQueue) Enqueue(task playback.SpeechTask) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return "", q.enqueueErr
	}
	q.tasks = append(q.tasks, task)
	return "task-id", nil
}

func (q *fakeQueue) Interrupt(reason playback.InterruptReason) {
	q.mu.Lock()
	q.interrupts = append(q.interrupts, reason)
	q.mu.Unlock()
}

func (q *fakeQueue) ClearPending() {
	q.mu.Lock()
	q.cleared++
	q.mu.Unlock()
}

func (q *fakeQueue) Events() <-chan playback.Event {
	return q.events
}

func (q *fakeQueue) Shutdown() error {
	q.shutdown.Do(func() { close(q.events) })
	return nil
}

func (q *fakeQueue) taskTexts() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.tasks))
	for i, task := range q.tasks {
		out[i] = task.Text
	}
	return out
}

func (q *fakeQueue) interruptCalls() []playback.InterruptReason {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]playback.InterruptReason, len(q.interrupts))
	copy(out, q.interrupts)
	return out
}

// fakeGen echoes the last user message. A non-nil gate makes Generate block
// until the gate is closed; err makes it fail.
type fakeGen struct {
	mu    sync.Mutex
	calls [][]types.Message
	err   error
	gate  chan struct{}
}

func (g *fakeGen) Generate(ctx context.Context, messages []types.Message) (string, error) {
	g.mu.Lock()
	snapshot := make([]types.Message, len(messages))
	copy(snapshot, messages)
	g.calls = append(g.calls, snapshot)
	gate := g.gate
	err := g.err
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return "re:", nil
	}
	return "re: " + messages[len(messages)-1].Content, nil
}

func (g *fakeGen) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGen) call(i int) []types.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[i]
}

// coordLog drains a coordinator's event channel into a slice.
type coordLog struct {
	mu  sync.Mutex
	evs []Event
}

func watchCoordinator(c *Coordinator) *coordLog {
	l := &coordLog{}
	go func() {
		for ev := range c.Events() {
			l.mu.Lock()
			l.evs = append(l.evs, ev)
			l.mu.Unlock()
		}
	}()
	return l
}

func (l *coordLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.evs))
	copy(out, l.evs)
	return out
}

func (l *coordLog) byType(t EventType) []Event {
	var out []Event
	for _, ev := range l.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (l *coordLog) typeNames() string {
	var names []string
	for _, ev := range l.all() {
		names = append(names, ev.Type.String())
	}
	return strings.Join(names, ",")
}

func TestTranscriptProducesSpokenReply(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	fq := newFakeQueue()
	c := New(gen, fq)
	defer c.Close()
	log := watchCoordinator(c)

	c.OnFinalTranscript("hello there")
	time.Sleep(100 * time.Millisecond)

	texts := fq.taskTexts()
	if len(texts) != 1 || texts[0] != "re: hello there" {
		t.Fatalf("enqueued tasks = %v, want [re: hello there]", texts)
	}
	fq.mu.Lock()
	pri := fq.tasks[0].Priority
	fq.mu.Unlock()
	if pri != DefaultSpeechPriority {
		t.Errorf("task priority = %d, want %d", pri, DefaultSpeechPriority)
	}

	// Simulate the playback lifecycle for the enqueued reply.
	fq.events <- playback.Event{Type: playback.EventSpeechStart}
	fq.events <- playback.Event{Type: playback.EventSpeechEnd}
	time.Sleep(50 * time.Millisecond)

	want := "user_message,assistant_message,assistant_speaking_start,assistant_speaking_stop"
	if got := log.typeNames(); got != want {
		t.Errorf("event order = %s, want %s", got, want)
	}

	msgs := log.byType(EventUserMessage)
	if len(msgs) != 1 || msgs[0].Text != "hello there" {
		t.Errorf("user_message events = %+v", msgs)
	}
	replies := log.byType(EventAssistantMessage)
	if len(replies) != 1 || replies[0].Text != "re: hello there" {
		t.Errorf("assistant_message events = %+v", replies)
	}
}

func TestEmptyTranscriptIgnored(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	fq := newFakeQueue()
	c := New(gen, fq)
	defer c.Close()
	log := watchCoordinator(c)

	c.OnFinalTranscript("")
	c.OnFinalTranscript("   ")
	c.OnFinalTranscript("\n")
	time.Sleep(50 * time.Millisecond)

	if gen.callCount() != 0 {
		t.Errorf("generator called %d times for empty transcripts", gen.callCount())
	}
	if evs := log.all(); len(evs) != 0 {
		t.Errorf("got %d events for empty transcripts, want 0", len(evs))
	}
}

func TestDuplicateTranscriptSuppressed(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	fq := newFakeQueue()
	c := New(gen, fq)
	defer c.Close()
	log := watchCoordinator(c)

	c.OnFinalTranscript("hello")
	time.Sleep(50 * time.Millisecond)
	c.OnFinalTranscript("hello") // consecutive duplicate
	time.Sleep(50 * time.Millisecond)
	c.OnFinalTranscript("how are you")
	time.Sleep(50 * time.Millisecond)
	c.OnFinalTranscript("hello") // no longer consecutive, accepted
	time.Sleep(100 * time.Millisecond)

	if got := gen.callCount(); got != 3 {
		t.Errorf("generator called %d times, want 3", got)
	}
	if got := len(log.byType(EventUserMessage)); got != 3 {
		t.Errorf("got %d user_message events, want 3", got)
	}
	if got := c.History().Len(); got != 3 {
		t.Errorf("history has %d turns, want 3", got)
	}
}

func TestGenerationFailure(t *testing.T) {
	t.Parallel()

	genErr := errors.New("model unavailable")
	gen := &fakeGen{err: genErr}
	fq := newFakeQueue()
	c := New(gen, fq)
	defer c.Close()
	log := watchCoordinator(c)

	c.OnFinalTranscript("hello")
	time.Sleep(100 * time.Millisecond)

	errs := log.byType(EventError)
	if len(errs) != 1 {
		t.Fatalf("got %d error events, want 1", len(errs))
	}
	if !errors.Is(errs[0].Err, genErr) {
		t.Errorf("error event err = %v, want %v", errs[0].Err, genErr)
	}
	if len(fq.taskTexts()) != 0 {
		t.Error("a task was enqueued despite generation failure")
	}
	if got := len(log.byType(EventAssistantMessage)); got != 0 {
		t.Errorf("got %d assistant_message events, want 0", got)
	}

	// The turn stays recorded with no assistant text.
	turns := c.History().Turns()
	if len(turns) != 1 || turns[0].AssistantText != "" {
		t.Errorf("turns = %+v, want one turn with empty assistant text", turns)
	}

	// The next transcript generates normally.
	gen.mu.Lock()
	gen.err = nil
	gen.mu.Unlock()
	c.OnFinalTranscript("still there?")
	time.Sleep(100 * time.Millisecond)

	if texts := fq.taskTexts(); len(texts) != 1 || texts[0] != "re: still there?" {
		t.Errorf("enqueued tasks = %v, want [re: still there?]", texts)
	}
}

func TestSerializedGeneration(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	gen := &fakeGen{gate: gate}
	fq := newFakeQueue()
	c := New(gen, fq)
	defer c.Close()

	c.OnFinalTranscript("one")
	time.Sleep(50 * time.Millisecond)

	// These arrive while the first generation is blocked.
	c.OnFinalTranscript("two")
	c.OnFinalTranscript("three")
	time.Sleep(50 * time.Millisecond)

	if got := gen.callCount(); got != 1 {
		t.Fatalf("generator called %d times while first call blocked, want 1", got)
	}

	close(gate)
	time.Sleep(200 * time.Millisecond)

	if got := gen.callCount(); got != 3 {
		t.Fatalf("generator called %d times, want 3", got)
	}

	// Replies were enqueued in transcript arrival order.
	want := []string{"re: one", "re: two", "re: three"}
	got := fq.taskTexts()
	if len(got) != len(want) {
		t.Fatalf("enqueued tasks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("enqueued tasks = %v, want %v", got, want)
		}
	}

	// The second generation saw the completed first exchange in its window.
	second := gen.call(1)
	var sawReply bool
	for _, m := range second {
		if m.Role == types.RoleAssistant && m.Content == "re: one" {
			sawReply = true
		}
	}
	if !sawReply {
		t.Error("second generation window missing the first assistant reply")
	}
}

func TestClearHistoryDuringGeneration(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	gen := &fakeGen{gate: gate}
	fq := newFakeQueue()
	c := New(gen, fq)
	defer c.Close()

	c.OnFinalTranscript("remember this")
	time.Sleep(50 * time.Millisecond)

	c.ClearHistory()
	if got := c.History().Len(); got != 0 {
		t.Fatalf("history has %d turns right after clear, want 0", got)
	}

	close(gate)
	time.Sleep(100 * time.Millisecond)

	// The in-flight generation completed and appended its turn.
	turns := c.History().Turns()
	if len(turns) != 1 {
		t.Fatalf("history has %d turns after generation completed, want 1", len(turns))
	}
	if turns[0].UserText != "remember this" || turns[0].AssistantText != "re: remember this" {
		t.Errorf("turn = %+v, want the completed exchange", turns[0])
	}
}

func TestTranscriptionModeSkipsGeneration(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	fq := newFakeQueue()
	c := New(gen, fq)
	defer c.Close()
	log := watchCoordinator(c)

	c.SetMode(ModeTranscription)
	time.Sleep(20 * time.Millisecond)

	c.OnFinalTranscript("just transcribe me")
	time.Sleep(100 * time.Millisecond)

	if gen.callCount() != 0 {
		t.Error("generator called in transcription mode")
	}
	if len(fq.taskTexts()) != 0 {
		t.Error("task enqueued in transcription mode")
	}

	modes := log.byType(EventModeChange)
	if len(modes) != 1 || modes[0].Mode != ModeTranscription {
		t.Errorf("mode_change events = %+v, want one transcription switch", modes)
	}
	if got := len(log.byType(EventUserMessage)); got != 0 {
		t.Errorf("got %d user_message events in transcription mode, want 0", got)
	}
}

func TestSetModeSameModeNoEvent(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	fq := newFakeQueue()
	c := New(gen, fq)
	defer c.Close()
	log := watchCoordinator(c)

	c.SetMode(ModeAssistant)
	time.Sleep(50 * time.Millisecond)

	if got := len(log.byType(EventModeChange)); got != 0 {
		t.Errorf("got %d mode_change events for a no-op switch, want 0", got)
	}
}

func TestVoiceActivityInterruptsThroughCoordinator(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	fq := newFakeQueue()
	c := New(gen, fq)
	defer c.Close()

	c.OnVoiceActivityStart()

	calls := fq.interruptCalls()
	if len(calls) != 1 || calls[0] != playback.ReasonVoiceActivity {
		t.Errorf("interrupt calls = %v, want [voice_activity_detected]", calls)
	}
}

func TestStopSpeaking(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	fq := newFakeQueue()
	c := New(gen, fq)
	defer c.Close()

	c.StopSpeaking()

	calls := fq.interruptCalls()
	if len(calls) != 1 || calls[0] != playback.ReasonManual {
		t.Errorf("interrupt calls = %v, want [manual]", calls)
	}
	fq.mu.Lock()
	cleared := fq.cleared
	fq.mu.Unlock()
	if cleared != 1 {
		t.Errorf("ClearPending called %d times, want 1", cleared)
	}
}

func TestInterruptedPlaybackForwarded(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	fq := newFakeQueue()
	c := New(gen, fq)
	defer c.Close()
	log := watchCoordinator(c)

	fq.events <- playback.Event{
		Type:   playback.EventSpeechInterrupted,
		Reason: playback.ReasonVoiceActivity,
	}
	time.Sleep(50 * time.Millisecond)

	ints := log.byType(EventInterrupted)
	if len(ints) != 1 {
		t.Fatalf("got %d speech_interrupted events, want 1", len(ints))
	}
	if ints[0].Reason != "voice_activity_detected" {
		t.Errorf("reason = %q, want voice_activity_detected", ints[0].Reason)
	}
	// Interruption still closes the speaking pair.
	if got := len(log.byType(EventSpeakingStop)); got != 1 {
		t.Errorf("got %d assistant_speaking_stop events, want 1", got)
	}
}

func TestSynthesisFailureForwardedAsError(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	fq := newFakeQueue()
	c := New(gen, fq)
	defer c.Close()
	log := watchCoordinator(c)

	synthErr := errors.New("voice gone")
	fq.events <- playback.Event{Type: playback.EventSynthesisFailed, Err: synthErr}
	time.Sleep(50 * time.Millisecond)

	errs := log.byType(EventError)
	if len(errs) != 1 || !errors.Is(errs[0].Err, synthErr) {
		t.Errorf("error events = %+v, want one wrapping the synthesis error", errs)
	}
}

func TestResponseHeldUntilUserSilent(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	gen := &fakeGen{gate: gate}
	fq := newFakeQueue()
	c := New(gen, fq, WithSilenceThreshold(400*time.Millisecond))
	defer c.Close()

	c.OnFinalTranscript("quick question")
	time.Sleep(20 * time.Millisecond)

	// The user starts talking again; only then does the reply become ready.
	c.OnVoiceActivityStart()
	close(gate)

	time.Sleep(150 * time.Millisecond)
	if got := len(fq.taskTexts()); got != 0 {
		t.Fatal("reply enqueued while user was speaking")
	}

	// The reply stays held until the silence threshold passes. The fast
	// response latency scales 400ms down, clamped to the 300ms floor.
	c.OnVoiceActivityStop()
	time.Sleep(150 * time.Millisecond)
	if got := len(fq.taskTexts()); got != 0 {
		t.Fatal("reply enqueued before the silence threshold passed")
	}

	time.Sleep(500 * time.Millisecond)
	if got := fq.taskTexts(); len(got) != 1 {
		t.Fatalf("enqueued tasks = %v, want the held reply", got)
	}
}

func TestEnqueueFailureEmitsError(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	fq := newFakeQueue()
	fq.enqueueErr = playback.ErrClosed
	c := New(gen, fq)
	defer c.Close()
	log := watchCoordinator(c)

	c.OnFinalTranscript("hello")
	time.Sleep(100 * time.Millisecond)

	errs := log.byType(EventError)
	if len(errs) != 1 || !errors.Is(errs[0].Err, playback.ErrClosed) {
		t.Errorf("error events = %+v, want one wrapping ErrClosed", errs)
	}
}

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	fq := newFakeQueue()
	c := New(gen, fq)

	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// The event channel is closed.
	select {
	case _, ok := <-c.Events():
		if ok {
			t.Error("received an event after Close")
		}
	case <-time.After(time.Second):
		t.Error("event channel never closed")
	}
}
