package playback

import (
	"errors"
	"time"
)

// SpeechTask is a unit of speech submitted to the [Queue] for synthesis and
// playback.
type SpeechTask struct {
	// ID uniquely identifies the task. Generated on enqueue when empty.
	ID string

	// Text is the content to speak. Must be non-empty.
	Text string

	// Priority controls scheduling. Higher values pre-empt lower ones; a
	// strictly greater priority interrupts the task currently playing.
	// Equal-priority tasks play in arrival order. Must not be negative.
	Priority int

	// Metadata is an opaque key-value map carried through unchanged for
	// caller bookkeeping.
	Metadata map[string]string
}

// ErrInvalidTask is returned by [Queue.Enqueue] for tasks with empty text or a
// negative priority. The task never enters the queue.
var ErrInvalidTask = errors.New("playback: invalid task")

// ErrClosed is returned by [Queue.Enqueue] after [Queue.Shutdown] has begun.
var ErrClosed = errors.New("playback: queue is closed")

// InterruptReason identifies why an in-flight speech task was cut short.
// Each interruption consumes exactly one reason.
type InterruptReason int

const (
	// ReasonManual indicates an explicit stop request from a client or
	// operator.
	ReasonManual InterruptReason = iota

	// ReasonVoiceActivity indicates the user started speaking while the
	// assistant was talking. This interrupt applies regardless of the
	// in-flight task's priority.
	ReasonVoiceActivity

	// ReasonHigherPriority indicates a strictly higher-priority task arrived
	// and pre-empted the in-flight one.
	ReasonHigherPriority

	// ReasonShutdown indicates the queue is shutting down.
	ReasonShutdown
)

// String returns the wire-format name of the interrupt reason.
func (r InterruptReason) String() string {
	switch r {
	case ReasonManual:
		return "manual"
	case ReasonVoiceActivity:
		return "voice_activity_detected"
	case ReasonHigherPriority:
		return "higher_priority_arrival"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// State is the mutually exclusive machine state of the queue worker.
// Completed and Interrupted are transient: the worker passes through them on
// the way back to Idle and reports them via [Event] values.
type State int

const (
	StateIdle State = iota
	StateSynthesizing
	StatePlaying
	StateCompleted
	StateInterrupted
)

// String returns the wire-format name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSynthesizing:
		return "synthesizing"
	case StatePlaying:
		return "playing"
	case StateCompleted:
		return "completed"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// EventType classifies playback lifecycle events.
type EventType int

const (
	// EventSpeechStart is emitted when playback of a task begins, after
	// synthesis has succeeded.
	EventSpeechStart EventType = iota

	// EventSpeechEnd is emitted when a task plays to natural completion.
	EventSpeechEnd

	// EventSpeechInterrupted is emitted when an in-flight task is stopped.
	// Event.Reason carries the interrupt reason.
	EventSpeechInterrupted

	// EventSynthesisFailed is emitted when synthesis fails for a task. The
	// worker proceeds to the next pending task.
	EventSynthesisFailed

	// EventPlaybackFailed is emitted when the output sink rejects a write.
	// Fatal to the current task only.
	EventPlaybackFailed
)

// String returns the wire-format name of the event type.
func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	case EventSpeechInterrupted:
		return "speech_interrupted"
	case EventSynthesisFailed:
		return "synthesis_failed"
	case EventPlaybackFailed:
		return "playback_failed"
	default:
		return "unknown"
	}
}

// Event is a playback lifecycle notification delivered on the queue's bounded
// event channel.
type Event struct {
	Type EventType

	// Task is a copy of the task the event refers to.
	Task SpeechTask

	// Reason is set for EventSpeechInterrupted.
	Reason InterruptReason

	// Err is set for EventSynthesisFailed and EventPlaybackFailed.
	Err error

	// At is when the event occurred.
	At time.Time
}
