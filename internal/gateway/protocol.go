package gateway

import "encoding/json"

// Inbound control message types accepted on text frames.
const (
	ctrlPing         = "ping"
	ctrlInterrupt    = "interrupt"
	ctrlSpeak        = "speak"
	ctrlStopSpeaking = "stop_speaking"
	ctrlClearHistory = "clear_history"
	ctrlSetMode      = "set_mode"
)

// Outbound event types sent on text frames.
const (
	evtConnected            = "connected"
	evtPong                 = "pong"
	evtPartialTranscript    = "partial_transcript"
	evtStabilizedTranscript = "stabilized_transcript"
	evtUserMessage          = "user_message"
	evtAssistantMessage     = "assistant_message"
	evtSpeakingStart        = "assistant_speaking_start"
	evtSpeakingStop         = "assistant_speaking_stop"
	evtSpeechInterrupted    = "speech_interrupted"
	evtModeChange           = "mode_change"
	evtError                = "error"
	evtRecordingStart       = "recording_start"
	evtRecordingStop        = "recording_stop"
	evtAudioEnd             = "audio_end"
)

// control is the envelope for inbound text frames. Fields beyond Type are
// populated only for the message types that use them.
type control struct {
	Type string `json:"type"`

	// Speak fields.
	Text     string            `json:"text,omitempty"`
	Priority int               `json:"priority,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// SetMode field.
	Mode string `json:"mode,omitempty"`
}

// event is the envelope for outbound text frames.
type event struct {
	Type string `json:"type"`

	// Connected fields.
	SessionID string   `json:"session_id,omitempty"`
	Features  []string `json:"features,omitempty"`

	// Transcript and message content.
	Text string `json:"text,omitempty"`

	// Speech interruption reason.
	Reason string `json:"reason,omitempty"`

	// Mode for connected and mode_change.
	Mode string `json:"mode,omitempty"`

	// Error detail.
	Message string `json:"message,omitempty"`
}

// encode marshals ev for the wire. Marshalling an event cannot fail — every
// field is a string or string slice — so encode panics on the impossible.
func (ev event) encode() []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		panic("gateway: marshal event: " + err.Error())
	}
	return data
}
