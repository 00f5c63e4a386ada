package coordinator

import "time"

// Mode selects how much of the pipeline a session runs. In assistant mode
// final transcripts drive generation and speech; in transcription mode the
// session only reports transcripts.
type Mode int

const (
	ModeAssistant Mode = iota
	ModeTranscription
)

func (m Mode) String() string {
	switch m {
	case ModeTranscription:
		return "transcription"
	default:
		return "assistant"
	}
}

// ParseMode converts a wire-format mode name.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "assistant":
		return ModeAssistant, true
	case "transcription":
		return ModeTranscription, true
	default:
		return ModeAssistant, false
	}
}

// EventType enumerates the conversation events a coordinator broadcasts.
type EventType int

const (
	// EventUserMessage reports an accepted final user transcript.
	EventUserMessage EventType = iota

	// EventAssistantMessage reports a generated assistant reply.
	EventAssistantMessage

	// EventSpeakingStart reports that assistant speech playback began.
	EventSpeakingStart

	// EventSpeakingStop reports that assistant speech playback ended,
	// whether completed or interrupted.
	EventSpeakingStop

	// EventInterrupted reports an interrupted assistant utterance and why.
	EventInterrupted

	// EventModeChange reports a session mode switch.
	EventModeChange

	// EventError reports a pipeline failure (generation, synthesis, or
	// playback device).
	EventError
)

// String returns the wire-format event name.
func (t EventType) String() string {
	switch t {
	case EventUserMessage:
		return "user_message"
	case EventAssistantMessage:
		return "assistant_message"
	case EventSpeakingStart:
		return "assistant_speaking_start"
	case EventSpeakingStop:
		return "assistant_speaking_stop"
	case EventInterrupted:
		return "speech_interrupted"
	case EventModeChange:
		return "mode_change"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one conversation event. Only the fields relevant to the type are
// set.
type Event struct {
	Type EventType

	// Text carries the message content for user and assistant messages.
	Text string

	// Reason names the interrupt cause for EventInterrupted.
	Reason string

	// Mode carries the new mode for EventModeChange.
	Mode Mode

	// Err carries the failure for EventError.
	Err error

	// Latency is the generation latency for EventAssistantMessage.
	Latency time.Duration

	// At is when the event was emitted.
	At time.Time
}
