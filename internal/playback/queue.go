// Package playback serializes speech requests into at-most-one concurrent
// playback, honoring priority pre-emption and external interruption.
//
// A [Queue] holds pending [SpeechTask] values ordered by (priority desc,
// arrival asc) and drives a single worker goroutine that synthesizes and
// plays one task at a time. Audio is written to the output sink in small
// slices with an interrupt check before every slice, so a stop request takes
// effect within one slice duration. Lifecycle notifications are delivered on
// a bounded event channel with a single consumer.
//
// All exported methods are safe for concurrent use.
package playback

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrBloodrune/RealtimeSTT/pkg/audio"
	"github.com/google/uuid"
)

const (
	// DefaultSliceDuration bounds interruption latency: playback checks the
	// stop flag before writing each slice of at most this much audio.
	DefaultSliceDuration = 100 * time.Millisecond

	// defaultQueueCap is the initial capacity hint for the pending heap.
	defaultQueueCap = 16

	// defaultEventBuf is the capacity of the event channel.
	defaultEventBuf = 64
)

// SynthesisFunc produces a stream of PCM audio chunks for text. The channel
// is closed when synthesis completes or ctx is cancelled; the caller may stop
// consuming at any point.
type SynthesisFunc func(ctx context.Context, text string) (<-chan []byte, error)

// Sink consumes the synthesized audio slices. Implementations must be safe
// for concurrent use: Reset may be called from an interrupting goroutine
// while the worker is inside Write.
type Sink interface {
	Write(p []byte) error
	Reset()
	Close() error
}

// Option configures a [Queue] during construction.
type Option func(*Queue)

// WithFormat sets the PCM format used to convert the slice duration into a
// byte bound. Defaults to [audio.DefaultFormat].
func WithFormat(f audio.Format) Option {
	return func(q *Queue) {
		q.format = f
	}
}

// WithSliceDuration sets the maximum duration of audio written per slice,
// which bounds how long playback continues after an interrupt is requested.
func WithSliceDuration(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.slice = d
		}
	}
}

// WithQueueCapacity sets the initial capacity hint for the pending heap.
// This does not impose a hard limit — the heap grows as needed.
func WithQueueCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.pending = make(taskHeap, 0, n)
		}
	}
}

// WithEventBuffer sets the capacity of the event channel. When the consumer
// falls behind, further events are dropped with a warning rather than
// blocking the worker.
func WithEventBuffer(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.eventBuf = n
		}
	}
}

// Queue is the interruptible playback queue. Create one per session with
// [New] and release it with [Shutdown].
type Queue struct {
	synth SynthesisFunc
	out   Sink

	format   audio.Format
	slice    time.Duration
	eventBuf int

	mu            sync.Mutex
	pending       taskHeap
	seq           uint64
	state         State
	current       *SpeechTask
	currentPri    int
	cancelCurrent context.CancelFunc
	cancelReason  InterruptReason
	closed        bool

	events  chan Event
	notify  chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// New creates a [Queue] that synthesizes task text with synth and delivers
// the audio to out. The worker goroutine starts immediately; call
// [Queue.Shutdown] to stop it and release the sink.
func New(synth SynthesisFunc, out Sink, opts ...Option) *Queue {
	q := &Queue{
		synth:    synth,
		out:      out,
		format:   audio.DefaultFormat,
		slice:    DefaultSliceDuration,
		eventBuf: defaultEventBuf,
		pending:  make(taskHeap, 0, defaultQueueCap),
		state:    StateIdle,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.events = make(chan Event, q.eventBuf)
	heap.Init(&q.pending)
	go q.dispatch()
	return q
}

// Enqueue schedules task for playback and returns its id. Tasks with empty
// text or negative priority are rejected with [ErrInvalidTask] and never
// enter the queue; after shutdown begins, [ErrClosed] is returned.
//
// If the new task's priority is strictly greater than that of the task
// currently in flight, the in-flight task is interrupted with
// [ReasonHigherPriority] before the new task is considered for dequeue.
// Enqueue never blocks.
func (q *Queue) Enqueue(task SpeechTask) (string, error) {
	if strings.TrimSpace(task.Text) == "" {
		return "", fmt.Errorf("playback: enqueue: empty text: %w", ErrInvalidTask)
	}
	if task.Priority < 0 {
		return "", fmt.Errorf("playback: enqueue: negative priority %d: %w", task.Priority, ErrInvalidTask)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrClosed
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	q.seq++
	heap.Push(&q.pending, taskEntry{task: &task, seq: q.seq})

	// Pre-empt the in-flight task if the new one outranks it.
	if q.current != nil && task.Priority > q.currentPri {
		q.interruptLocked(ReasonHigherPriority)
	}

	// Wake the worker.
	select {
	case q.notify <- struct{}{}:
	default:
	}

	return task.ID, nil
}

// Interrupt stops the task currently being synthesized or played for the
// given reason. Pending tasks are unaffected. No-op when nothing is in
// flight.
func (q *Queue) Interrupt(reason InterruptReason) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.interruptLocked(reason)
}

// ClearPending discards all tasks not yet dequeued. The in-flight task, if
// any, is unaffected.
func (q *Queue) ClearPending() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.clearPendingLocked()
}

// Shutdown interrupts any in-flight task with [ReasonShutdown], discards
// pending tasks, stops the worker, closes the event channel, and releases
// the output sink. No enqueue succeeds after shutdown begins. Idempotent —
// subsequent calls are no-ops and return nil.
func (q *Queue) Shutdown() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.interruptLocked(ReasonShutdown)
	q.clearPendingLocked()
	q.mu.Unlock()

	close(q.done)
	<-q.stopped

	// The worker has exited; nothing else emits events.
	close(q.events)

	q.mu.Lock()
	q.state = StateIdle
	q.mu.Unlock()

	return q.out.Close()
}

// Events returns the queue's lifecycle event channel. It is closed by
// [Queue.Shutdown] after the worker exits. Intended for a single consumer;
// when the consumer falls behind, events are dropped.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// State returns the current worker state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Pending returns the number of tasks waiting to be dequeued.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// interruptLocked cancels the in-flight task with the given reason and drops
// any audio the sink has buffered but not yet delivered. The reason is
// consumed by the worker exactly once. Must be called with q.mu held.
func (q *Queue) interruptLocked(reason InterruptReason) {
	if q.cancelCurrent == nil {
		return
	}
	q.cancelReason = reason
	q.cancelCurrent()
	q.cancelCurrent = nil
	q.current = nil
	q.out.Reset()
}

// clearPendingLocked drops all pending tasks. Must be called with q.mu held.
func (q *Queue) clearPendingLocked() {
	for q.pending.Len() > 0 {
		heap.Pop(&q.pending)
	}
}

// takeReason returns the reason recorded by the most recent interrupt.
func (q *Queue) takeReason() InterruptReason {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelReason
}

// emit delivers ev on the event channel without blocking the worker.
func (q *Queue) emit(ev Event) {
	ev.At = time.Now()
	select {
	case q.events <- ev:
	default:
		slog.Warn("playback: event channel full, dropping event",
			"type", ev.Type.String(),
			"task", ev.Task.ID,
		)
	}
}

// dispatch is the worker goroutine. It pulls tasks from the pending heap one
// at a time and runs each through synthesis and playback until Shutdown.
func (q *Queue) dispatch() {
	defer close(q.stopped)

	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}

		for {
			task, ctx, ok := q.dequeue()
			if !ok {
				break
			}
			q.process(ctx, task)

			select {
			case <-q.done:
				return
			default:
			}
		}
	}
}

// dequeue pops the highest-priority pending task, marks it in flight, and
// transitions to Synthesizing. Returns ok=false when the queue is empty or
// shut down.
func (q *Queue) dequeue() (*SpeechTask, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.pending.Len() == 0 {
		q.state = StateIdle
		return nil, nil, false
	}

	e := heap.Pop(&q.pending).(taskEntry)
	ctx, cancel := context.WithCancel(context.Background())
	q.current = e.task
	q.currentPri = e.task.Priority
	q.cancelCurrent = cancel
	q.state = StateSynthesizing
	return e.task, ctx, true
}

// process runs one task through synthesis and sliced playback. It emits the
// lifecycle events and leaves the queue Idle (directly or through the
// transient Completed/Interrupted states).
func (q *Queue) process(ctx context.Context, task *SpeechTask) {
	audioCh, err := q.synth(ctx, task.Text)
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted during synthesis.
			q.finish(task, StateInterrupted)
			q.emit(Event{Type: EventSpeechInterrupted, Task: *task, Reason: q.takeReason()})
			return
		}
		q.finish(task, StateIdle)
		q.emit(Event{Type: EventSynthesisFailed, Task: *task, Err: err})
		return
	}

	// The interrupt may have landed between the synthesis return and here.
	if ctx.Err() != nil {
		go audio.Drain(audioCh)
		q.finish(task, StateInterrupted)
		q.emit(Event{Type: EventSpeechInterrupted, Task: *task, Reason: q.takeReason()})
		return
	}

	q.setState(StatePlaying)
	q.emit(Event{Type: EventSpeechStart, Task: *task})

	maxSlice := q.format.SliceBytes(q.slice)

	for {
		select {
		case <-q.done:
			go audio.Drain(audioCh)
			q.finish(task, StateInterrupted)
			q.emit(Event{Type: EventSpeechInterrupted, Task: *task, Reason: ReasonShutdown})
			return

		case <-ctx.Done():
			go audio.Drain(audioCh)
			q.finish(task, StateInterrupted)
			q.emit(Event{Type: EventSpeechInterrupted, Task: *task, Reason: q.takeReason()})
			return

		case chunk, ok := <-audioCh:
			if !ok {
				q.finish(task, StateCompleted)
				q.emit(Event{Type: EventSpeechEnd, Task: *task})
				return
			}

			// Write in bounded slices, checking the stop flag before each
			// one so interruption latency stays within one slice.
			for len(chunk) > 0 {
				if ctx.Err() != nil {
					go audio.Drain(audioCh)
					q.finish(task, StateInterrupted)
					q.emit(Event{Type: EventSpeechInterrupted, Task: *task, Reason: q.takeReason()})
					return
				}
				n := min(maxSlice, len(chunk))
				if err := q.out.Write(chunk[:n]); err != nil {
					go audio.Drain(audioCh)
					q.finish(task, StateIdle)
					q.emit(Event{Type: EventPlaybackFailed, Task: *task, Err: err})
					return
				}
				chunk = chunk[n:]
			}
		}
	}
}

// setState updates the worker state.
func (q *Queue) setState(s State) {
	q.mu.Lock()
	q.state = s
	q.mu.Unlock()
}

// finish clears the in-flight slot and records the task's end state. The
// next dequeue transitions back to Idle.
func (q *Queue) finish(task *SpeechTask, end State) {
	q.mu.Lock()
	if q.current == task {
		q.current = nil
		q.cancelCurrent = nil
	}
	q.state = end
	q.mu.Unlock()
}
